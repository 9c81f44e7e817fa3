// Package media validates uploads and request parameters before any model runs.
package media

import (
	"errors"

	apperrors "subtitle-server-go/internal/platform/errors"
)

var (
	// ErrMissingParameter 缺少必填参数
	ErrMissingParameter = errors.New("missing parameter")
	// ErrInvalidParameter 参数取值非法
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrMalformedUpload 上传内容为空、截断或无法读取
	ErrMalformedUpload = errors.New("malformed upload")
	// ErrUnsupportedMedia 不是音频或视频
	ErrUnsupportedMedia = errors.New("unsupported media type")
	// ErrTooLarge 超出上传大小限制
	ErrTooLarge = errors.New("upload too large")
)

func invalid(op, message string, marker, cause error) error {
	return apperrors.Mark(apperrors.KindValidation, op, message, marker, cause)
}
