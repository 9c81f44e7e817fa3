package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtitle-server-go/internal/domain/capacity"
	"subtitle-server-go/internal/domain/eventbus"
	"subtitle-server-go/internal/domain/media"
	"subtitle-server-go/internal/domain/separation"
	"subtitle-server-go/internal/domain/transcription"
	"subtitle-server-go/internal/domain/workspace"
	"subtitle-server-go/internal/platform/config"
	apperrors "subtitle-server-go/internal/platform/errors"
	"subtitle-server-go/internal/platform/observability"
	platformtesting "subtitle-server-go/internal/platform/testing"
)

type stubTranscriber struct {
	mu       sync.Mutex
	segments []transcription.Segment
	err      error
	panicMsg string
	block    bool
	calls    []string
	langs    []string
}

func (s *stubTranscriber) Name() string { return "stub" }

func (s *stubTranscriber) Transcribe(ctx context.Context, path string, opts transcription.Options) (*transcription.Transcript, error) {
	s.mu.Lock()
	s.calls = append(s.calls, path)
	s.langs = append(s.langs, opts.Language)
	s.mu.Unlock()

	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.block {
		<-ctx.Done()
		return nil, transcription.Fail("stub.transcribe", nil, ctx.Err())
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &transcription.Transcript{Language: "en", Segments: s.segments}, nil
}

func (s *stubTranscriber) lastCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	return s.calls[len(s.calls)-1]
}

type stubSeparator struct {
	err error
}

func (s *stubSeparator) Name() string { return "stub-separator" }

func (s *stubSeparator) Separate(_ context.Context, audioPath, outDir string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", err
	}
	stem := filepath.Join(outDir, "upload_(Vocals).wav")
	return stem, os.WriteFile(stem, data, 0o600)
}

type fixture struct {
	root        string
	pipeline    *Pipeline
	transcriber *stubTranscriber
	limiter     *capacity.Limiter
	bus         *eventbus.Bus

	mu     sync.Mutex
	stages []eventbus.Stage
}

func newFixture(t *testing.T, cfg config.PipelineConfig, sep separation.Separator) *fixture {
	t.Helper()
	logger := platformtesting.SetupTestLogger(t)
	root := filepath.Join(t.TempDir(), "ws")

	ws, err := workspace.NewManager(config.WorkspaceConfig{Root: root}, logger)
	require.NoError(t, err)

	f := &fixture{
		root: ws.Root(),
		transcriber: &stubTranscriber{segments: []transcription.Segment{
			{Start: 0, End: 1500 * time.Millisecond, Text: "hello"},
			{Start: 1500 * time.Millisecond, End: 3 * time.Second, Text: "world"},
		}},
		limiter: capacity.NewLimiter(config.CapacityConfig{MaxConcurrent: 1}, "cpu", logger),
		bus:     eventbus.New(64),
	}
	require.NoError(t, f.bus.Subscribe(func(ev eventbus.JobEvent) {
		f.mu.Lock()
		f.stages = append(f.stages, ev.Stage)
		f.mu.Unlock()
	}))
	t.Cleanup(f.bus.Close)

	p, err := New(cfg, Dependencies{
		Workspaces:  ws,
		Inspector:   media.NewInspector(10<<20, nil),
		Limiter:     f.limiter,
		Transcriber: f.transcriber,
		Separator:   sep,
		Bus:         f.bus,
		Logger:      logger,
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func (f *fixture) recorded() []eventbus.Stage {
	f.bus.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eventbus.Stage(nil), f.stages...)
}

func wavRequest(name string, separate *bool) Request {
	return Request{
		JobID:          "job-1",
		FileName:       name,
		Body:           bytes.NewReader(platformtesting.SilentWAV(2*time.Second, 16000)),
		SeparateVocals: separate,
	}
}

func boolPtr(v bool) *bool { return &v }

func TestRunSuccessDeliversAndCleansUp(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, nil)

	var delivered *Result
	var onDisk string
	err := f.pipeline.Run(context.Background(), wavRequest("movie.clip.wav", nil), func(r *Result) error {
		delivered = r
		data, err := os.ReadFile(r.SRTPath)
		onDisk = string(data)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, delivered)

	assert.Equal(t, "job-1", delivered.JobID)
	assert.Equal(t, "movie.clip.srt", delivered.DownloadName())
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,500\nhello\n\n2\n00:00:01,500 --> 00:00:03,000\nworld\n\n", delivered.SRT)
	assert.Equal(t, delivered.SRT, onDisk)
	assert.False(t, delivered.SeparationRequested)
	assert.False(t, delivered.SeparationUsed)
	assert.Equal(t, "audio/wav", delivered.Info.MIME)
	assert.Equal(t, 2*time.Second, delivered.Info.Duration)

	platformtesting.AssertDirEmpty(t, f.root)
	assert.Equal(t, []eventbus.Stage{
		eventbus.StageReceived,
		eventbus.StageWorkspaceAcquired,
		eventbus.StageSeparationSkipped,
		eventbus.StageTranscribed,
		eventbus.StageFormatted,
		eventbus.StageResponded,
	}, f.recorded())
	assert.Zero(t, f.limiter.Snapshot().InUse)
}

func TestRunSilentAudioYieldsEmptyDocument(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, nil)
	f.transcriber.segments = nil

	req := Request{
		FileName:       "silence.wav",
		Body:           bytes.NewReader(platformtesting.SilentWAV(10*time.Second, 16000)),
		SeparateVocals: boolPtr(false),
	}
	var res *Result
	require.NoError(t, f.pipeline.Run(context.Background(), req, func(r *Result) error {
		res = r
		return nil
	}))
	assert.Empty(t, res.SRT)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, 10*time.Second, res.Info.Duration)
	platformtesting.AssertDirEmpty(t, f.root)
}

func TestRunValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		marker error
	}{
		{"missing file name", Request{Body: strings.NewReader("x")}, media.ErrMissingParameter},
		{"bad language", Request{FileName: "a.wav", Body: strings.NewReader("x"), Language: "!!"}, media.ErrInvalidParameter},
		{"not media", Request{FileName: "notes.wav", Body: strings.NewReader("just some text, not audio at all")}, media.ErrUnsupportedMedia},
		{"empty upload", Request{FileName: "a.wav", Body: strings.NewReader("")}, media.ErrMalformedUpload},
		{"nil body", Request{FileName: "a.wav"}, media.ErrMalformedUpload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.PipelineConfig{}, nil)
			called := false
			err := f.pipeline.Run(context.Background(), tt.req, func(*Result) error {
				called = true
				return nil
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.marker)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
			assert.False(t, called)
			assert.Empty(t, f.transcriber.calls)
			platformtesting.AssertDirEmpty(t, f.root)

			stages := f.recorded()
			require.NotEmpty(t, stages)
			assert.Equal(t, eventbus.StageErrored, stages[len(stages)-1])
		})
	}
}

func TestRunSeparation(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, &stubSeparator{})

	var res *Result
	require.NoError(t, f.pipeline.Run(context.Background(), wavRequest("song.wav", boolPtr(true)), func(r *Result) error {
		res = r
		return nil
	}))
	assert.True(t, res.SeparationRequested)
	assert.True(t, res.SeparationUsed)
	assert.Equal(t, "upload_(Vocals).wav", filepath.Base(f.transcriber.lastCall()))
	assert.Contains(t, f.recorded(), eventbus.StageSeparated)
	platformtesting.AssertDirEmpty(t, f.root)
}

func TestRunSeparationDefaultFromConfig(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{SeparateVocals: true}, &stubSeparator{})

	require.NoError(t, f.pipeline.Run(context.Background(), wavRequest("song.wav", nil), func(r *Result) error {
		assert.True(t, r.SeparationUsed)
		return nil
	}))

	require.NoError(t, f.pipeline.Run(context.Background(), wavRequest("song.wav", boolPtr(false)), func(r *Result) error {
		assert.False(t, r.SeparationRequested)
		return nil
	}))
}

func TestRunSeparationFallbackOriginal(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{SeparationFallback: config.FallbackOriginal},
		&stubSeparator{err: errors.New("onnx runtime missing")})

	var res *Result
	require.NoError(t, f.pipeline.Run(context.Background(), wavRequest("song.wav", boolPtr(true)), func(r *Result) error {
		res = r
		return nil
	}))
	assert.True(t, res.SeparationRequested)
	assert.False(t, res.SeparationUsed)
	assert.Equal(t, "upload.wav", filepath.Base(f.transcriber.lastCall()))
	assert.Contains(t, f.recorded(), eventbus.StageSeparationFallback)
	platformtesting.AssertDirEmpty(t, f.root)
}

func TestRunSeparationFallbackAbort(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{SeparationFallback: config.FallbackAbort},
		&stubSeparator{err: errors.New("onnx runtime missing")})

	err := f.pipeline.Run(context.Background(), wavRequest("song.wav", boolPtr(true)), func(*Result) error {
		t.Fatal("deliver must not run")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, separation.ErrSeparationFailed)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProcessing))
	assert.Contains(t, err.Error(), "onnx runtime missing")
	assert.Empty(t, f.transcriber.calls)
	platformtesting.AssertDirEmpty(t, f.root)
}

func TestRunWithoutSeparatorFallsBack(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, nil)
	require.NoError(t, f.pipeline.Run(context.Background(), wavRequest("song.wav", boolPtr(true)), func(r *Result) error {
		assert.False(t, r.SeparationUsed)
		return nil
	}))
}

func TestRunTranscriptionErrors(t *testing.T) {
	t.Run("typed error passes through", func(t *testing.T) {
		f := newFixture(t, config.PipelineConfig{}, nil)
		f.transcriber.err = transcription.Fail("stub", transcription.ErrUnsupportedAudio, errors.New("bad header"))
		err := f.pipeline.Run(context.Background(), wavRequest("a.wav", nil), func(*Result) error { return nil })
		assert.ErrorIs(t, err, transcription.ErrUnsupportedAudio)
		platformtesting.AssertDirEmpty(t, f.root)
	})

	t.Run("untyped error is classified", func(t *testing.T) {
		f := newFixture(t, config.PipelineConfig{}, nil)
		f.transcriber.err = errors.New("segfault")
		err := f.pipeline.Run(context.Background(), wavRequest("a.wav", nil), func(*Result) error { return nil })
		assert.ErrorIs(t, err, transcription.ErrFailed)
		assert.True(t, apperrors.IsKind(err, apperrors.KindProcessing))
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t, config.PipelineConfig{TranscribeTimeout: 20 * time.Millisecond}, nil)
		f.transcriber.block = true
		err := f.pipeline.Run(context.Background(), wavRequest("a.wav", nil), func(*Result) error { return nil })
		assert.ErrorIs(t, err, transcription.ErrTimeout)
		platformtesting.AssertDirEmpty(t, f.root)
		assert.Zero(t, f.limiter.Snapshot().InUse)
	})
}

func TestRunPanicReleasesWorkspace(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, nil)
	f.transcriber.panicMsg = "model exploded"

	assert.PanicsWithValue(t, "model exploded", func() {
		_ = f.pipeline.Run(context.Background(), wavRequest("a.wav", nil), func(*Result) error { return nil })
	})
	platformtesting.AssertDirEmpty(t, f.root)
	assert.Zero(t, f.limiter.Snapshot().InUse)

	stages := f.recorded()
	assert.Equal(t, eventbus.StageErrored, stages[len(stages)-1])
}

func TestRunDeliverErrorCleansUp(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, nil)
	err := f.pipeline.Run(context.Background(), wavRequest("a.wav", nil), func(*Result) error {
		return errors.New("client went away")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client went away")
	platformtesting.AssertDirEmpty(t, f.root)
}

func TestRunCapacitySaturated(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, nil)

	hold, err := f.limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer hold()

	err = f.pipeline.Run(context.Background(), wavRequest("a.wav", nil), func(*Result) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, capacity.ErrSaturated)
	assert.True(t, apperrors.IsKind(err, apperrors.KindCapacity))
	assert.Empty(t, f.transcriber.calls)
	platformtesting.AssertDirEmpty(t, f.root)
}

func TestRunCancelledRequest(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, nil)
	f.transcriber.block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.pipeline.Run(ctx, wavRequest("a.wav", nil), func(*Result) error { return nil })
	}()

	require.Eventually(t, func() bool { return f.transcriber.lastCall() != "" }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}
	platformtesting.AssertDirEmpty(t, f.root)
}

func TestRunConcurrentRequestsUseDistinctWorkspaces(t *testing.T) {
	f := newFixture(t, config.PipelineConfig{}, nil)
	f.pipeline.limiter = capacity.NewLimiter(config.CapacityConfig{MaxConcurrent: 4, QueueTimeout: time.Second}, "cpu", nil)

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.pipeline.Run(context.Background(), Request{
				FileName: "a.wav",
				Body:     bytes.NewReader(platformtesting.SilentWAV(time.Second, 8000)),
			}, func(r *Result) error {
				mu.Lock()
				seen[filepath.Dir(r.SRTPath)] = true
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4)
	platformtesting.AssertDirEmpty(t, f.root)
}

func TestSubtitleName(t *testing.T) {
	assert.Equal(t, "episode.srt", SubtitleName("episode.mkv"))
	assert.Equal(t, "a.b.srt", SubtitleName("a.b.mp3"))
	assert.Equal(t, "clip.srt", SubtitleName(`C:\Users\me\clip.mp4`))
	assert.Equal(t, "noext.srt", SubtitleName("noext"))
	assert.Equal(t, "subtitle.srt", SubtitleName(".wav"))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.PipelineConfig{}, Dependencies{})
	assert.Error(t, err)
}

func TestSeparateWorkspaceErrorEndsSpanWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	shutdown, err := observability.Setup(context.Background(), observability.Config{Enabled: true, Component: "subtitle"}, logger)
	require.NoError(t, err)
	defer shutdown(context.Background())

	f := newFixture(t, config.PipelineConfig{SeparationFallback: config.FallbackOriginal}, &stubSeparator{})
	h, err := f.pipeline.workspaces.Acquire(context.Background())
	require.NoError(t, err)
	defer f.pipeline.workspaces.Release(h)
	// 分离目录位置被普通文件占用
	require.NoError(t, os.WriteFile(h.Path(separationDir), []byte("x"), 0o600))

	_, used, err := f.pipeline.separate(context.Background(), "job-1", h, h.Path("upload.wav"))
	require.Error(t, err)
	assert.False(t, used)
	assert.True(t, apperrors.IsKind(err, apperrors.KindResource))

	out := buf.String()
	assert.Contains(t, out, `"metric":"pipeline.separate.duration_ms"`)
	assert.Contains(t, out, `"outcome":"error"`)
	assert.Contains(t, out, "failed to create separation directory")
}
