package transcription

import (
	"context"
)

// Options 单次转录参数
type Options struct {
	// Language 为空时由模型自动检测
	Language string
}

// Transcriber 语音识别适配器。实现必须返回经过 Normalize 的分段，
// 失败时返回带 ErrUnsupportedAudio / ErrModelLoad / ErrTimeout / ErrFailed 标记的错误。
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Transcript, error)
}

// Loader 由需要预热模型的适配器实现
type Loader interface {
	Load(ctx context.Context) error
}
