// Package openai transcribes through an OpenAI-compatible /audio/transcriptions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"subtitle-server-go/internal/domain/transcription"
	"subtitle-server-go/internal/platform/config"
	"subtitle-server-go/internal/platform/logging"
)

// TypeName 配置中 transcribers.*.type 对应的取值
const TypeName = "openai"

// Provider OpenAI Whisper 转录适配器
type Provider struct {
	name   string
	cfg    config.TranscriberConfig
	client *openai.Client
	logger *logging.Logger
}

// New 创建适配器。BaseURL 可指向任意兼容服务（如自建的 whisper 网关）
func New(name string, cfg config.TranscriberConfig, logger *logging.Logger) (*Provider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai transcriber requires api_key or url")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &Provider{
		name:   name,
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts transcription.Options) (*transcription.Transcript, error) {
	const op = "transcription.openai"

	req := openai.AudioRequest{
		Model:    p.cfg.Model,
		FilePath: audioPath,
		Prompt:   p.cfg.InitialPrompt,
		Language: opts.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	}
	if p.cfg.WordTimestamps {
		req.TimestampGranularities = append(req.TimestampGranularities, openai.TranscriptionTimestampGranularityWord)
	}

	resp, err := p.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, transcription.Fail(op, classify(err), err)
	}

	raw := make([]transcription.RawSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		raw = append(raw, transcription.RawSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	// 单词时间戳在响应顶层，按时间归入所属分段
	for _, w := range resp.Words {
		for i := range raw {
			if w.Start >= raw[i].Start && w.Start < raw[i].End {
				raw[i].Words = append(raw[i].Words, transcription.RawWord{Start: w.Start, End: w.End, Word: w.Word})
				break
			}
		}
	}
	if len(raw) == 0 && resp.Text != "" && resp.Duration > 0 {
		raw = append(raw, transcription.RawSegment{Start: 0, End: resp.Duration, Text: resp.Text})
	}

	p.logger.DebugTag("转录", "openai 返回 %d 个分段, language=%s", len(raw), resp.Language)

	return &transcription.Transcript{
		Language:            resp.Language,
		LanguageProbability: 1,
		Duration:            transcription.SecondsToDuration(resp.Duration),
		Segments:            transcription.Normalize(raw),
	}, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	status := 0
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType:
		return transcription.ErrUnsupportedAudio
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		status == http.StatusNotFound || status == http.StatusServiceUnavailable:
		return transcription.ErrModelLoad
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return transcription.ErrTimeout
	case status == 0 && isTimeout(err):
		return transcription.ErrTimeout
	default:
		return transcription.ErrFailed
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (p *Provider) String() string {
	return fmt.Sprintf("openai(%s)", p.cfg.Model)
}
