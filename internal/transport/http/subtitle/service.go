// Package subtitle exposes the subtitle generation endpoints.
package subtitle

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"subtitle-server-go/internal/domain/media"
	"subtitle-server-go/internal/domain/pipeline"
	"subtitle-server-go/internal/domain/srt"
	apperrors "subtitle-server-go/internal/platform/errors"
	"subtitle-server-go/internal/platform/logging"
	httptransport "subtitle-server-go/internal/transport/http"
)

const (
	formatSRT  = "srt"
	formatJSON = "json"

	// multipart 头部与其他字段的余量
	formOverhead = 1 << 20
	formMemory   = 32 << 20
)

// Runner 执行字幕流水线
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, deliver func(*pipeline.Result) error) error
}

// Service 字幕生成接口
type Service struct {
	logger   *logging.Logger
	runner   Runner
	maxBytes int64
}

// NewService 创建字幕服务；maxBytes 为 0 表示不限制请求体
func NewService(runner Runner, maxBytes int64, logger *logging.Logger) (*Service, error) {
	if runner == nil {
		return nil, apperrors.New(apperrors.KindConfig, "subtitle.new", "pipeline is required")
	}
	if logger == nil {
		return nil, apperrors.New(apperrors.KindConfig, "subtitle.new", "logger is required")
	}
	return &Service{logger: logger, runner: runner, maxBytes: maxBytes}, nil
}

// Register 注册字幕路由。legacy 为 /whisper 分组，为空时跳过。
func (s *Service) Register(_ context.Context, api *gin.RouterGroup, legacy *gin.RouterGroup) error {
	api.POST("/subtitle", s.handleGenerate)
	if legacy != nil {
		legacy.POST("/generate_subtitle", s.handleLegacyGenerate)
	}
	s.logger.InfoTag("HTTP", "字幕服务路由注册完成")
	return nil
}

type formInput struct {
	language string
	separate *bool
	format   string
}

// handleGenerate 生成字幕
// @Summary 上传音视频生成 SRT 字幕
// @Description 默认返回 SRT 文件；format=json 返回包含分段与词级时间戳的详细结果
// @Tags Subtitle
// @Accept multipart/form-data
// @Produce application/x-subrip
// @Produce json
// @Param file formData file true "音频或视频文件"
// @Param language formData string false "ISO 语言代码，留空自动检测"
// @Param separate_vocals formData bool false "是否先进行人声分离"
// @Param format formData string false "srt 或 json"
// @Success 200 {string} string "SRT 字幕"
// @Failure 400 {object} httptransport.APIResponse
// @Failure 413 {object} httptransport.APIResponse
// @Failure 422 {object} httptransport.APIResponse
// @Failure 500 {object} httptransport.APIResponse
// @Failure 503 {object} httptransport.APIResponse
// @Router /api/subtitle [post]
func (s *Service) handleGenerate(c *gin.Context) {
	s.generate(c, formatSRT, false)
}

// handleLegacyGenerate 兼容旧接口，默认返回详细 JSON
// @Summary 生成字幕（兼容接口）
// @Tags Subtitle
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "音频或视频文件"
// @Param enable_vocal_separation formData bool false "是否启用人声分离"
// @Success 200 {object} DetailedResponse
// @Router /whisper/generate_subtitle [post]
func (s *Service) handleLegacyGenerate(c *gin.Context) {
	s.generate(c, formatJSON, true)
}

func (s *Service) generate(c *gin.Context, defaultFormat string, bare bool) {
	// 客户端可自带 UUID 形式的任务 ID，以便上传前订阅进度
	jobID := c.GetHeader(httptransport.HeaderJobID)
	if _, err := uuid.Parse(jobID); err != nil {
		jobID = uuid.NewString()
	}
	c.Header(httptransport.HeaderJobID, jobID)

	if s.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBytes+formOverhead)
	}

	input, err := s.parseForm(c, defaultFormat)
	if err != nil {
		httptransport.RespondAppError(c, err, jobID)
		return
	}

	file, name, err := s.openUpload(c)
	if err != nil {
		httptransport.RespondAppError(c, err, jobID)
		return
	}
	defer file.Close()

	req := pipeline.Request{
		JobID:          jobID,
		FileName:       name,
		Body:           file,
		Language:       input.language,
		SeparateVocals: input.separate,
	}
	err = s.runner.Run(c.Request.Context(), req, func(r *pipeline.Result) error {
		if input.format == formatJSON {
			data := newDetailedResponse(r)
			if bare {
				c.JSON(http.StatusOK, data)
			} else {
				httptransport.RespondSuccess(c, http.StatusOK, data, "")
			}
			return nil
		}
		return streamSRT(c, r)
	})
	if err != nil {
		if c.Writer.Written() {
			s.logger.WarnTag("HTTP", "任务 %s 响应写出中断: %v", jobID, err)
			return
		}
		httptransport.RespondAppError(c, err, jobID)
	}
}

func (s *Service) parseForm(c *gin.Context, defaultFormat string) (*formInput, error) {
	const op = "subtitle.form"

	if err := c.Request.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Mark(apperrors.KindValidation, op,
				fmt.Sprintf("request exceeds %d bytes", tooLarge.Limit), media.ErrTooLarge, nil)
		}
		return nil, apperrors.Mark(apperrors.KindValidation, op, "request is not a valid multipart form", media.ErrMalformedUpload, err)
	}

	input := &formInput{language: c.PostForm("language")}

	name, raw := "separate_vocals", c.PostForm("separate_vocals")
	if raw == "" {
		name, raw = "enable_vocal_separation", c.PostForm("enable_vocal_separation")
	}
	separate, err := media.ParseOptionalBool(name, raw)
	if err != nil {
		return nil, err
	}
	input.separate = separate

	format := strings.ToLower(strings.TrimSpace(c.PostForm("format")))
	if format == "" {
		format = strings.ToLower(c.Query("format"))
	}
	if format == "" && strings.Contains(c.GetHeader("Accept"), "application/json") {
		format = formatJSON
	}
	switch format {
	case "":
		input.format = defaultFormat
	case formatSRT, formatJSON:
		input.format = format
	default:
		return nil, apperrors.Mark(apperrors.KindValidation, op,
			fmt.Sprintf("format must be srt or json, got %q", format), media.ErrInvalidParameter, nil)
	}
	return input, nil
}

func (s *Service) openUpload(c *gin.Context) (multipart.File, string, error) {
	const op = "subtitle.upload"

	header, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", apperrors.Mark(apperrors.KindValidation, op, "file is required", media.ErrMissingParameter, nil)
		}
		return nil, "", apperrors.Mark(apperrors.KindValidation, op, "failed to read upload", media.ErrMalformedUpload, err)
	}
	if s.maxBytes > 0 && header.Size > s.maxBytes {
		return nil, "", apperrors.Mark(apperrors.KindValidation, op,
			fmt.Sprintf("upload exceeds %d bytes", s.maxBytes), media.ErrTooLarge, nil)
	}
	file, err := header.Open()
	if err != nil {
		return nil, "", apperrors.Mark(apperrors.KindValidation, op, "failed to open upload", media.ErrMalformedUpload, err)
	}
	return file, header.Filename, nil
}

func streamSRT(c *gin.Context, r *pipeline.Result) error {
	f, err := os.Open(r.SRTPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": r.DownloadName()})
	c.DataFromReader(http.StatusOK, st.Size(), srt.ContentType, f, map[string]string{
		"Content-Disposition": disposition,
	})
	return nil
}
