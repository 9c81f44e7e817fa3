// Package pipeline runs one subtitle request from upload to SRT, releasing
// its workspace on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"subtitle-server-go/internal/domain/capacity"
	"subtitle-server-go/internal/domain/eventbus"
	"subtitle-server-go/internal/domain/media"
	"subtitle-server-go/internal/domain/separation"
	"subtitle-server-go/internal/domain/srt"
	"subtitle-server-go/internal/domain/transcription"
	"subtitle-server-go/internal/domain/workspace"
	"subtitle-server-go/internal/platform/config"
	apperrors "subtitle-server-go/internal/platform/errors"
	"subtitle-server-go/internal/platform/logging"
	"subtitle-server-go/internal/platform/observability"
)

const (
	uploadPrefix   = "upload"
	separationDir  = "separation"
	subtitleFile   = "subtitle.srt"
	componentLabel = "pipeline"
)

// Dependencies 流水线的协作者。Separator 与 Bus 可以为空。
type Dependencies struct {
	Workspaces  *workspace.Manager
	Inspector   *media.Inspector
	Limiter     *capacity.Limiter
	Transcriber transcription.Transcriber
	Separator   separation.Separator
	Bus         *eventbus.Bus
	Logger      *logging.Logger
}

// Pipeline 处理字幕生成请求
type Pipeline struct {
	cfg         config.PipelineConfig
	workspaces  *workspace.Manager
	inspector   *media.Inspector
	limiter     *capacity.Limiter
	transcriber transcription.Transcriber
	separator   separation.Separator
	bus         *eventbus.Bus
	logger      *logging.Logger
	now         func() time.Time
}

// Request 一次字幕生成请求
type Request struct {
	// JobID 为空时自动生成
	JobID    string
	FileName string
	Body     io.Reader
	// Language 原始语言提示，空表示自动检测
	Language string
	// SeparateVocals 为 nil 时使用配置的默认值
	SeparateVocals *bool
}

// Result 交付给调用方的结果。SRTPath 指向工作区内的文件，仅在 deliver 回调期间有效。
type Result struct {
	JobID               string
	FileName            string
	Info                *media.Info
	Language            string
	Transcript          *transcription.Transcript
	SRT                 string
	SRTPath             string
	SeparationRequested bool
	SeparationUsed      bool
	ProcessingTime      time.Duration
}

// DownloadName 返回字幕下载文件名：输入文件名去掉扩展名后加 .srt
func (r *Result) DownloadName() string {
	return SubtitleName(r.FileName)
}

// SubtitleName derives "<base>.srt" from an uploaded file name.
func SubtitleName(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "subtitle"
	}
	return base + ".srt"
}

// New 创建流水线
func New(cfg config.PipelineConfig, deps Dependencies) (*Pipeline, error) {
	if deps.Workspaces == nil || deps.Inspector == nil || deps.Limiter == nil || deps.Transcriber == nil {
		return nil, apperrors.New(apperrors.KindBootstrap, "pipeline.new", "workspace manager, inspector, limiter and transcriber are required")
	}
	switch cfg.SeparationFallback {
	case "":
		cfg.SeparationFallback = config.FallbackOriginal
	case config.FallbackOriginal, config.FallbackAbort:
	default:
		return nil, apperrors.New(apperrors.KindConfig, "pipeline.new",
			fmt.Sprintf("unknown separation fallback %q", cfg.SeparationFallback))
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		cfg:         cfg,
		workspaces:  deps.Workspaces,
		inspector:   deps.Inspector,
		limiter:     deps.Limiter,
		transcriber: deps.Transcriber,
		separator:   deps.Separator,
		bus:         deps.Bus,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// SeparatorName 当前配置的分离器名称，未配置时为空
func (p *Pipeline) SeparatorName() string {
	if p.separator == nil {
		return ""
	}
	return p.separator.Name()
}

// TranscriberName 当前转录器名称
func (p *Pipeline) TranscriberName() string {
	return p.transcriber.Name()
}

func (p *Pipeline) publish(jobID string, stage eventbus.Stage, message string, details map[string]interface{}) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.JobEvent{
		JobID:   jobID,
		Stage:   stage,
		Message: message,
		Details: details,
		Time:    p.now(),
	})
}

func (p *Pipeline) publishError(jobID string, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.JobEvent{
		JobID:   jobID,
		Stage:   eventbus.StageErrored,
		Error:   err.Error(),
		Details: map[string]interface{}{"error_kind": string(apperrors.KindOf(err))},
		Time:    p.now(),
	})
}

// Run executes the request. deliver is called with the finished result while
// the workspace still exists; its error fails the request. The workspace is
// released before Run returns, including when a stage panics.
func (p *Pipeline) Run(ctx context.Context, req Request, deliver func(*Result) error) (err error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	started := p.now()
	jobID := req.JobID

	ctx, endSpan := observability.StartSpan(ctx, componentLabel, "run", slog.String("job_id", jobID))
	defer func() { endSpan(err) }()

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorTag("流水线", "任务 %s 发生 panic: %v", jobID, r)
			p.publishError(jobID, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	separate := p.cfg.SeparateVocals
	if req.SeparateVocals != nil {
		separate = *req.SeparateVocals
	}
	p.publish(jobID, eventbus.StageReceived, "", map[string]interface{}{
		"file_name":       req.FileName,
		"language":        req.Language,
		"separate_vocals": separate,
	})

	defer func() {
		if err != nil {
			p.publishError(jobID, err)
			p.logger.WarnTag("流水线", "任务 %s 失败: %v", jobID, err)
		}
	}()

	if err := media.RequireFileName(req.FileName); err != nil {
		return err
	}
	language, err := media.ParseLanguage(req.Language)
	if err != nil {
		return err
	}
	if req.Body == nil {
		return apperrors.Mark(apperrors.KindValidation, "pipeline.run", "upload body is missing", media.ErrMalformedUpload, nil)
	}

	h, err := p.workspaces.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.workspaces.Release(h)

	info, inputPath, err := p.stage(h, req)
	if err != nil {
		return err
	}
	p.publish(jobID, eventbus.StageWorkspaceAcquired, "", map[string]interface{}{
		"workspace": h.ID,
		"file_size": info.Size,
		"mime":      info.MIME,
	})
	p.logger.InfoTag("流水线", "任务 %s 已接收 %s (%s, %s)", jobID, req.FileName, info.MIME, info.HumanSize())

	release, err := p.limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	audioPath := inputPath
	separationUsed := false
	if separate {
		audioPath, separationUsed, err = p.separate(ctx, jobID, h, inputPath)
		if err != nil {
			return err
		}
	} else {
		p.publish(jobID, eventbus.StageSeparationSkipped, "", nil)
	}

	transcript, err := p.transcribe(ctx, audioPath, language)
	if err != nil {
		return err
	}
	release()
	p.publish(jobID, eventbus.StageTranscribed, "", map[string]interface{}{
		"segments":          len(transcript.Segments),
		"detected_language": transcript.Language,
	})

	text := srt.Format(transcript.Segments)
	srtPath := h.Path(subtitleFile)
	if err := os.WriteFile(srtPath, []byte(text), 0o600); err != nil {
		return apperrors.Wrap(apperrors.KindResource, "pipeline.format", "failed to write subtitle file", err)
	}
	p.publish(jobID, eventbus.StageFormatted, "", map[string]interface{}{"bytes": len(text)})

	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.KindProcessing, "pipeline.run", "request cancelled", err)
	}

	result := &Result{
		JobID:               jobID,
		FileName:            req.FileName,
		Info:                info,
		Language:            language,
		Transcript:          transcript,
		SRT:                 text,
		SRTPath:             srtPath,
		SeparationRequested: separate,
		SeparationUsed:      separationUsed,
		ProcessingTime:      p.now().Sub(started),
	}
	if err := deliver(result); err != nil {
		return apperrors.Wrap(apperrors.KindProcessing, "pipeline.deliver", "failed to deliver subtitle", err)
	}

	p.publish(jobID, eventbus.StageResponded, "", map[string]interface{}{
		"processing_ms": result.ProcessingTime.Milliseconds(),
	})
	p.logger.InfoTag("流水线", "任务 %s 完成: %d 条字幕, 耗时 %s", jobID, len(transcript.Segments), result.ProcessingTime.Round(time.Millisecond))
	return nil
}

func (p *Pipeline) stage(h *workspace.Handle, req Request) (*media.Info, string, error) {
	ext := strings.ToLower(filepath.Ext(req.FileName))
	inputPath := h.Path(uploadPrefix + ext)

	if _, err := p.inspector.Stage(req.Body, inputPath); err != nil {
		return nil, "", err
	}
	info, err := p.inspector.Inspect(inputPath, req.FileName)
	if err != nil {
		return nil, "", err
	}
	return info, inputPath, nil
}

// separate returns the path to transcribe and whether the vocal stem is used.
func (p *Pipeline) separate(ctx context.Context, jobID string, h *workspace.Handle, inputPath string) (string, bool, error) {
	var err error
	ctx, endSpan := observability.StartSpan(ctx, componentLabel, "separate", slog.String("job_id", jobID))
	defer func() { endSpan(err) }()

	var stem string
	if p.separator == nil {
		err = separation.Fail("pipeline.separate", errors.New("no separator configured"))
	} else {
		outDir := h.Path(separationDir)
		if mkErr := os.MkdirAll(outDir, 0o700); mkErr != nil {
			err = apperrors.Wrap(apperrors.KindResource, "pipeline.separate", "failed to create separation directory", mkErr)
			return "", false, err
		}
		sepCtx := ctx
		if p.cfg.SeparationTimeout > 0 {
			var cancel context.CancelFunc
			sepCtx, cancel = context.WithTimeout(ctx, p.cfg.SeparationTimeout)
			defer cancel()
		}
		stem, err = p.separator.Separate(sepCtx, inputPath, outDir)
		if err != nil && !errors.Is(err, separation.ErrSeparationFailed) {
			err = separation.Fail("pipeline.separate", err)
		}
	}

	if err == nil {
		p.publish(jobID, eventbus.StageSeparated, "", map[string]interface{}{
			"separation_used": true,
			"stem":            filepath.Base(stem),
		})
		return stem, true, nil
	}

	// 请求已取消时不走回退
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", false, err
	}
	if p.cfg.SeparationFallback == config.FallbackAbort {
		return "", false, err
	}

	p.logger.WarnTag("分离", "任务 %s 人声分离失败，使用原始音频继续: %v", jobID, err)
	p.publish(jobID, eventbus.StageSeparationFallback, err.Error(), map[string]interface{}{"separation_used": false})
	return inputPath, false, nil
}

func (p *Pipeline) transcribe(ctx context.Context, audioPath, language string) (*transcription.Transcript, error) {
	var err error
	ctx, endSpan := observability.StartSpan(ctx, componentLabel, "transcribe", slog.String("transcriber", p.transcriber.Name()))
	defer func() { endSpan(err) }()

	if p.cfg.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
		defer cancel()
	}

	var transcript *transcription.Transcript
	transcript, err = p.transcriber.Transcribe(ctx, audioPath, transcription.Options{Language: language})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = transcription.Fail("pipeline.transcribe", nil, err)
		}
		return nil, err
	}
	if transcript == nil {
		transcript = &transcription.Transcript{}
	}
	return transcript, nil
}
