package transcription

import (
	"context"
	"errors"

	apperrors "subtitle-server-go/internal/platform/errors"
)

var (
	// ErrUnsupportedAudio 音频损坏或格式不受支持
	ErrUnsupportedAudio = errors.New("unsupported or corrupt audio")
	// ErrModelLoad 模型不可用
	ErrModelLoad = errors.New("transcription model failed to load")
	// ErrTimeout 转录超过时限
	ErrTimeout = errors.New("transcription timed out")
	// ErrFailed 其他转录失败
	ErrFailed = errors.New("transcription failed")
)

// Fail builds a processing error tagged with marker. Context deadline errors
// are always reported as ErrTimeout.
func Fail(op string, marker, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		marker = ErrTimeout
	}
	if marker == nil {
		marker = ErrFailed
	}
	return apperrors.Mark(apperrors.KindProcessing, op, marker.Error(), marker, cause)
}
