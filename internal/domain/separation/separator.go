// Package separation isolates the vocal stem of an audio track before transcription.
package separation

import (
	"context"
	"errors"

	apperrors "subtitle-server-go/internal/platform/errors"
)

// ErrSeparationFailed 人声分离失败
var ErrSeparationFailed = errors.New("vocal separation failed")

// Separator 人声分离适配器。outDir 属于当前请求的工作区，返回的人声轨道路径位于其中。
type Separator interface {
	Name() string
	Separate(ctx context.Context, audioPath, outDir string) (string, error)
}

// Fail wraps cause as a processing error tagged with ErrSeparationFailed.
func Fail(op string, cause error) error {
	return apperrors.Mark(apperrors.KindProcessing, op, "vocal separation failed", ErrSeparationFailed, cause)
}
