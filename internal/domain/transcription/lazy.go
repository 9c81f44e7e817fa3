package transcription

import (
	"context"
	"io"
	"sync"
)

// Lazy defers constructing a Transcriber until first use and shares the
// instance between callers. A failed construction is retried on the next call.
type Lazy struct {
	name  string
	build func(ctx context.Context) (Transcriber, error)

	mu   sync.Mutex
	inst Transcriber
}

func NewLazy(name string, build func(ctx context.Context) (Transcriber, error)) *Lazy {
	return &Lazy{name: name, build: build}
}

func (l *Lazy) Name() string { return l.name }

// Load constructs the underlying transcriber if needed.
func (l *Lazy) Load(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

// Loaded reports whether the underlying transcriber is ready.
func (l *Lazy) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inst != nil
}

func (l *Lazy) get(ctx context.Context) (Transcriber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inst != nil {
		return l.inst, nil
	}

	inst, err := l.build(ctx)
	if err != nil {
		return nil, Fail("transcription.load", ErrModelLoad, err)
	}
	if loader, ok := inst.(Loader); ok {
		if err := loader.Load(ctx); err != nil {
			return nil, Fail("transcription.load", ErrModelLoad, err)
		}
	}
	l.inst = inst
	return inst, nil
}

func (l *Lazy) Transcribe(ctx context.Context, audioPath string, opts Options) (*Transcript, error) {
	inst, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return inst.Transcribe(ctx, audioPath, opts)
}

// Close releases the underlying transcriber when it holds resources. A later
// call to Transcribe builds a fresh instance.
func (l *Lazy) Close() error {
	l.mu.Lock()
	inst := l.inst
	l.inst = nil
	l.mu.Unlock()

	if closer, ok := inst.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
