// Package fasterwhisper runs faster-whisper through an embedded Python helper
// that stays resident and keeps the model loaded between requests.
package fasterwhisper

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"

	"subtitle-server-go/internal/domain/transcription"
	"subtitle-server-go/internal/platform/config"
	"subtitle-server-go/internal/platform/logging"
	"subtitle-server-go/internal/platform/process"
)

// TypeName 配置中 transcribers.*.type 对应的取值
const TypeName = "fasterwhisper"

// 辅助进程加载模型失败时的退出码
const exitModelLoad = 3

// 辅助进程返回的错误码
const codeUnsupportedAudio = "unsupported_audio"

//go:embed assets/faster_whisper.py
var helperScript []byte

type helperOutput struct {
	Language            string                     `json:"language"`
	LanguageProbability float64                    `json:"language_probability"`
	Duration            float64                    `json:"duration"`
	DurationAfterVAD    float64                    `json:"duration_after_vad"`
	Segments            []transcription.RawSegment `json:"segments"`
}

// Provider faster-whisper 转录适配器。同一时间只有一个请求使用辅助进程。
type Provider struct {
	name    string
	cfg     config.TranscriberConfig
	starter process.Starter
	logger  *logging.Logger

	scriptOnce sync.Once
	scriptDir  string
	scriptPath string
	scriptErr  error

	mu     sync.Mutex
	helper *helper
	seq    uint64
}

// New 创建适配器；starter 为 nil 时使用 os/exec
func New(name string, cfg config.TranscriberConfig, starter process.Starter, logger *logging.Logger) *Provider {
	if starter == nil {
		starter = process.NewStarter("PYTHONUNBUFFERED=1")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Model == "" {
		cfg.Model = "large-v2"
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if cfg.BeamSize <= 0 {
		cfg.BeamSize = 5
	}
	return &Provider{name: name, cfg: cfg, starter: starter, logger: logger}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) script() (string, error) {
	p.scriptOnce.Do(func() {
		dir, err := os.MkdirTemp("", "subtitle-fw-")
		if err != nil {
			p.scriptErr = fmt.Errorf("create helper dir: %w", err)
			return
		}
		path := filepath.Join(dir, "faster_whisper.py")
		if err := os.WriteFile(path, helperScript, 0o755); err != nil {
			p.scriptErr = fmt.Errorf("write helper script: %w", err)
			return
		}
		p.scriptDir, p.scriptPath = dir, path
	})
	return p.scriptPath, p.scriptErr
}

// Load starts the resident helper and waits until the model is loaded. The
// first run also downloads the weights.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.ensureHelper(ctx)
	return err
}

func (p *Provider) ensureHelper(ctx context.Context) (*helper, error) {
	if p.helper != nil {
		return p.helper, nil
	}
	script, err := p.script()
	if err != nil {
		return nil, err
	}
	args := []string{script, "--model", p.cfg.Model, "--device", p.cfg.Device}
	if p.cfg.ComputeType != "" {
		args = append(args, "--compute-type", p.cfg.ComputeType)
	}

	p.logger.InfoTag("转录", "加载 faster-whisper 模型 %s (device=%s)", p.cfg.Model, p.cfg.Device)
	proc, err := p.starter.Start(p.cfg.Python, args...)
	if err != nil {
		return nil, err
	}
	h := newHelper(proc)

	line, err := h.next(ctx)
	if err != nil {
		h.kill()
		return nil, err
	}
	var ready helperResponse
	if err := sonic.Unmarshal(line, &ready); err != nil || !ready.Ready {
		h.kill()
		return nil, fmt.Errorf("unexpected helper handshake: %q", truncate(line))
	}

	p.helper = h
	p.logger.InfoTag("转录", "faster-whisper 模型就绪")
	return h, nil
}

// dropHelper 丢弃状态未知的辅助进程，下一个请求会重新启动
func (p *Provider) dropHelper() {
	if p.helper == nil {
		return
	}
	p.helper.kill()
	p.helper = nil
	p.logger.WarnTag("转录", "faster-whisper 辅助进程已停止，下次请求时重新加载模型")
}

func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts transcription.Options) (*transcription.Transcript, error) {
	const op = "transcription.fasterwhisper"

	p.mu.Lock()
	defer p.mu.Unlock()

	h, err := p.ensureHelper(ctx)
	if err != nil {
		return nil, transcription.Fail(op, classify(err), err)
	}

	p.seq++
	req := helperRequest{
		ID:             strconv.FormatUint(p.seq, 10),
		Audio:          audioPath,
		Language:       opts.Language,
		BeamSize:       p.cfg.BeamSize,
		VAD:            p.cfg.VADFilter,
		MinSilenceMS:   p.cfg.MinSilenceMS,
		WordTimestamps: p.cfg.WordTimestamps,
		InitialPrompt:  p.cfg.InitialPrompt,
	}
	data, err := sonic.Marshal(req)
	if err != nil {
		return nil, transcription.Fail(op, transcription.ErrFailed, err)
	}
	if err := h.send(data); err != nil {
		p.dropHelper()
		return nil, transcription.Fail(op, transcription.ErrFailed, err)
	}

	line, err := h.next(ctx)
	if err != nil {
		// 取消或崩溃后无法确认辅助进程状态
		p.dropHelper()
		return nil, transcription.Fail(op, classify(err), err)
	}

	var resp helperResponse
	if err := sonic.Unmarshal(line, &resp); err != nil {
		p.dropHelper()
		return nil, transcription.Fail(op, transcription.ErrFailed, fmt.Errorf("parse helper output: %w", err))
	}
	if resp.ID != req.ID {
		p.dropHelper()
		return nil, transcription.Fail(op, transcription.ErrFailed,
			fmt.Errorf("helper answered request %q, expected %q", resp.ID, req.ID))
	}
	if !resp.OK {
		marker := transcription.ErrFailed
		if resp.Code == codeUnsupportedAudio {
			marker = transcription.ErrUnsupportedAudio
		}
		return nil, transcription.Fail(op, marker, errors.New(resp.Error))
	}

	out := resp.Result
	if out == nil {
		out = &helperOutput{}
	}
	return &transcription.Transcript{
		Language:            out.Language,
		LanguageProbability: out.LanguageProbability,
		Duration:            transcription.SecondsToDuration(out.Duration),
		DurationAfterVAD:    transcription.SecondsToDuration(out.DurationAfterVAD),
		Segments:            transcription.Normalize(out.Segments),
	}, nil
}

func classify(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return transcription.ErrModelLoad
	}
	if code, ok := process.ExitCode(err); ok && code == exitModelLoad {
		return transcription.ErrModelLoad
	}
	return transcription.ErrFailed
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

// Close stops the resident helper and removes the extracted script.
func (p *Provider) Close() error {
	p.mu.Lock()
	h := p.helper
	p.helper = nil
	p.mu.Unlock()

	var err error
	if h != nil {
		err = h.stop()
	}
	if p.scriptDir != "" {
		err = errors.Join(err, os.RemoveAll(p.scriptDir))
	}
	return err
}
