package subtitle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtitle-server-go/internal/domain/capacity"
	"subtitle-server-go/internal/domain/media"
	"subtitle-server-go/internal/domain/pipeline"
	"subtitle-server-go/internal/domain/srt"
	"subtitle-server-go/internal/domain/transcription"
	"subtitle-server-go/internal/domain/workspace"
	"subtitle-server-go/internal/platform/config"
	platformtesting "subtitle-server-go/internal/platform/testing"
	httptransport "subtitle-server-go/internal/transport/http"
)

type fakeTranscriber struct {
	segments []transcription.Segment
	err      error
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(context.Context, string, transcription.Options) (*transcription.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &transcription.Transcript{
		Language:            "en",
		LanguageProbability: 0.98,
		Duration:            3 * time.Second,
		Segments:            f.segments,
	}, nil
}

type harness struct {
	engine  *gin.Engine
	root    string
	limiter *capacity.Limiter
	fake    *fakeTranscriber
}

func newHarness(t *testing.T, maxBytes int64) *harness {
	t.Helper()
	cfg := platformtesting.SetupTestConfig(t)
	logger := platformtesting.SetupTestLogger(t)

	ws, err := workspace.NewManager(cfg.Workspace, logger)
	require.NoError(t, err)
	limiter := capacity.NewLimiter(config.CapacityConfig{MaxConcurrent: 1}, "cpu", logger)
	fake := &fakeTranscriber{segments: []transcription.Segment{
		{Start: 0, End: 1200 * time.Millisecond, Text: "hello", Words: []transcription.Word{
			{Start: 0, End: 500 * time.Millisecond, Text: "hel", Probability: 0.9},
			{Start: 500 * time.Millisecond, End: 1200 * time.Millisecond, Text: "lo", Probability: 0.8},
		}},
		{Start: 1200 * time.Millisecond, End: 2500 * time.Millisecond, Text: "world"},
	}}

	p, err := pipeline.New(cfg.Pipeline, pipeline.Dependencies{
		Workspaces:  ws,
		Inspector:   media.NewInspector(maxBytes, nil),
		Limiter:     limiter,
		Transcriber: fake,
		Logger:      logger,
	})
	require.NoError(t, err)

	router, err := httptransport.Build(httptransport.Options{Config: cfg, Logger: logger})
	require.NoError(t, err)
	svc, err := NewService(p, maxBytes, logger)
	require.NoError(t, err)
	require.NoError(t, svc.Register(context.Background(), router.Secured, router.LegacySecured))

	return &harness{engine: router.Engine, root: ws.Root(), limiter: limiter, fake: fake}
}

func multipartBody(t *testing.T, fileName string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (h *harness) post(t *testing.T, path, fileName string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fileName, content, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, body io.Reader) (httptransport.APIResponse, map[string]interface{}) {
	t.Helper()
	var resp httptransport.APIResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	data, _ := resp.Data.(map[string]interface{})
	return resp, data
}

func wav() []byte {
	return platformtesting.SilentWAV(3*time.Second, 16000)
}

func TestGenerateReturnsSRT(t *testing.T) {
	h := newHarness(t, 0)

	w := h.post(t, "/api/subtitle", "holiday video.wav", wav(), map[string]string{"language": "en"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, srt.ContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="holiday video.srt"`, w.Header().Get("Content-Disposition"))
	_, err := uuid.Parse(w.Header().Get(httptransport.HeaderJobID))
	assert.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,200\nhello\n\n2\n00:00:01,200 --> 00:00:02,500\nworld\n\n", w.Body.String())

	platformtesting.AssertDirEmpty(t, h.root)
}

func TestGenerateSilentAudioReturnsEmptySRT(t *testing.T) {
	h := newHarness(t, 0)
	h.fake.segments = nil

	w := h.post(t, "/api/subtitle", "silence.wav", platformtesting.SilentWAV(10*time.Second, 16000),
		map[string]string{"separate_vocals": "false"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, w.Body.String())
	assert.Equal(t, `attachment; filename=silence.srt`, w.Header().Get("Content-Disposition"))
	platformtesting.AssertDirEmpty(t, h.root)
}

func TestGenerateUsesClientJobID(t *testing.T) {
	h := newHarness(t, 0)
	id := uuid.NewString()

	body, contentType := multipartBody(t, "a.wav", wav(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/subtitle", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(httptransport.HeaderJobID, id)
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, w.Header().Get(httptransport.HeaderJobID))
}

func TestGenerateJSONFormat(t *testing.T) {
	h := newHarness(t, 0)

	w := h.post(t, "/api/subtitle", "clip.wav", wav(), map[string]string{"format": "json"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp, data := decodeEnvelope(t, w.Body)
	assert.True(t, resp.Success)
	assert.Equal(t, "en", data["language"])
	assert.Equal(t, 0.98, data["language_probability"])
	assert.Equal(t, 3.0, data["duration"])
	assert.Equal(t, false, data["vocal_separation_used"])
	assert.Contains(t, data["srt_content"], "00:00:01,200 --> 00:00:02,500")

	segments := data["segments"].([]interface{})
	require.Len(t, segments, 2)
	first := segments[0].(map[string]interface{})
	assert.Equal(t, 1.2, first["end"])
	assert.Len(t, first["words"], 2)

	info := data["processing_info"].(map[string]interface{})
	assert.Equal(t, "direct", info["mode"])
	assert.Equal(t, "clip.wav", info["file_name"])
	assert.NotEmpty(t, info["file_size"])
}

func TestGenerateAcceptHeaderSelectsJSON(t *testing.T) {
	h := newHarness(t, 0)
	body, contentType := multipartBody(t, "clip.wav", wav(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/subtitle", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestLegacyGenerateReturnsBareJSON(t *testing.T) {
	h := newHarness(t, 0)

	w := h.post(t, "/whisper/generate_subtitle", "clip.wav", wav(), map[string]string{"enable_vocal_separation": "false"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data DetailedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	assert.Len(t, data.Segments, 2)
	assert.False(t, data.ProcessingInfo.VocalSeparationEnabled)
	assert.NotEmpty(t, data.SRTContent)
	assert.NotEmpty(t, data.JobID)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		content  []byte
		fields   map[string]string
		want     int
	}{
		{"missing file", "", nil, map[string]string{"language": "en"}, http.StatusUnprocessableEntity},
		{"invalid language", "a.wav", wav(), map[string]string{"language": "!!"}, http.StatusUnprocessableEntity},
		{"invalid boolean", "a.wav", wav(), map[string]string{"separate_vocals": "maybe"}, http.StatusUnprocessableEntity},
		{"invalid format", "a.wav", wav(), map[string]string{"format": "vtt"}, http.StatusUnprocessableEntity},
		{"not media", "notes.wav", []byte("this is plain text pretending to be audio"), nil, http.StatusBadRequest},
		{"empty file", "a.wav", []byte{}, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			w := h.post(t, "/api/subtitle", tt.fileName, tt.content, tt.fields)
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			resp, data := decodeEnvelope(t, w.Body)
			assert.False(t, resp.Success)
			assert.Equal(t, "validation", data["kind"])
			assert.NotEmpty(t, data["job_id"])
			platformtesting.AssertDirEmpty(t, h.root)
		})
	}
}

func TestGenerateNotMultipart(t *testing.T) {
	h := newHarness(t, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/subtitle", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateTooLarge(t *testing.T) {
	h := newHarness(t, 1024)
	w := h.post(t, "/api/subtitle", "big.wav", wav(), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	platformtesting.AssertDirEmpty(t, h.root)
}

func TestGenerateCapacityExhausted(t *testing.T) {
	h := newHarness(t, 0)
	release, err := h.limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	w := h.post(t, "/api/subtitle", "a.wav", wav(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	_, data := decodeEnvelope(t, w.Body)
	assert.Equal(t, "capacity", data["kind"])
	platformtesting.AssertDirEmpty(t, h.root)
}

func TestGenerateProcessingErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"model load", transcription.Fail("fake", transcription.ErrModelLoad, io.ErrUnexpectedEOF), http.StatusServiceUnavailable},
		{"timeout", transcription.Fail("fake", transcription.ErrTimeout, nil), http.StatusGatewayTimeout},
		{"generic", transcription.Fail("fake", nil, io.ErrClosedPipe), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			h.fake.err = tt.err
			w := h.post(t, "/api/subtitle", "a.wav", wav(), nil)
			assert.Equal(t, tt.want, w.Code)
			resp, data := decodeEnvelope(t, w.Body)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, "processing", data["kind"])
			platformtesting.AssertDirEmpty(t, h.root)
		})
	}
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, 0, platformtesting.SetupTestLogger(t))
	assert.Error(t, err)
	_, err = NewService(&stubRunner{}, 0, nil)
	assert.Error(t, err)
}

type stubRunner struct{}

func (stubRunner) Run(context.Context, pipeline.Request, func(*pipeline.Result) error) error {
	return nil
}

func TestSubtitleNameMatchesDownload(t *testing.T) {
	assert.Equal(t, "x.srt", pipeline.SubtitleName(filepath.Join("dir", "x.mp4")))
}
