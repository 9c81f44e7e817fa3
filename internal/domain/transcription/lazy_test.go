package transcription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "subtitle-server-go/internal/platform/errors"
)

type stubTranscriber struct {
	loads int32
}

func (s *stubTranscriber) Name() string { return "stub" }

func (s *stubTranscriber) Load(context.Context) error {
	atomic.AddInt32(&s.loads, 1)
	return nil
}

func (s *stubTranscriber) Transcribe(context.Context, string, Options) (*Transcript, error) {
	return &Transcript{Language: "en"}, nil
}

func TestLazyBuildsOnceUnderConcurrency(t *testing.T) {
	var builds int32
	stub := &stubTranscriber{}
	lazy := NewLazy("stub", func(context.Context) (Transcriber, error) {
		atomic.AddInt32(&builds, 1)
		return stub, nil
	})
	assert.False(t, lazy.Loaded())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := lazy.Transcribe(context.Background(), "a.wav", Options{})
			assert.NoError(t, err)
			assert.Equal(t, "en", tr.Language)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.loads))
	assert.True(t, lazy.Loaded())
}

func TestLazyReportsModelLoadAndRetries(t *testing.T) {
	attempts := 0
	lazy := NewLazy("flaky", func(context.Context) (Transcriber, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("weights missing")
		}
		return &stubTranscriber{}, nil
	})

	_, err := lazy.Transcribe(context.Background(), "a.wav", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProcessing))

	require.NoError(t, lazy.Load(context.Background()))
	assert.Equal(t, 2, attempts)
}

func TestFailMapsDeadlineToTimeout(t *testing.T) {
	err := Fail("op", ErrFailed, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrFailed)

	err = Fail("op", nil, errors.New("x"))
	assert.ErrorIs(t, err, ErrFailed)
}

type closingTranscriber struct {
	stubTranscriber
	closed bool
}

func (c *closingTranscriber) Close() error {
	c.closed = true
	return nil
}

func TestLazyCloseReleasesInstance(t *testing.T) {
	inst := &closingTranscriber{}
	lazy := NewLazy("closing", func(context.Context) (Transcriber, error) { return inst, nil })

	require.NoError(t, lazy.Close())
	require.NoError(t, lazy.Load(context.Background()))
	assert.True(t, lazy.Loaded())

	require.NoError(t, lazy.Close())
	assert.True(t, inst.closed)
	assert.False(t, lazy.Loaded())
}
