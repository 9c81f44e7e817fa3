// Package system exposes service status and health endpoints.
package system

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"

	"subtitle-server-go/internal/domain/capacity"
	"subtitle-server-go/internal/platform/logging"
	httptransport "subtitle-server-go/internal/transport/http"
)

// ServiceName 对外展示的服务名称
const ServiceName = "智能字幕生成服务"

// CapacityReporter 推理槽位信息
type CapacityReporter interface {
	Snapshot() capacity.Snapshot
}

// WorkspaceReporter 工作区信息
type WorkspaceReporter interface {
	Root() string
	FreeBytes() (uint64, error)
	Active() int
}

// ModelStatus 模型加载状态
type ModelStatus interface {
	Name() string
	Loaded() bool
}

// Options 系统服务依赖
type Options struct {
	Version     string
	Capacity    CapacityReporter
	Workspaces  WorkspaceReporter
	Transcriber ModelStatus
	// Separator 未配置人声分离时为空
	Separator ModelStatus
	Logger      *logging.Logger
	// VirtualMemory 可在测试中替换
	VirtualMemory func() (*mem.VirtualMemoryStat, error)
}

// Service 状态与健康检查接口
type Service struct {
	opts    Options
	started time.Time
}

// StatusResponse GET /whisper/ 的响应
type StatusResponse struct {
	Service   string   `json:"service"`
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Features  []string `json:"features"`
	Timestamp string   `json:"timestamp"`
}

// HealthResponse GET /api/health 的响应数据
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Uptime    string         `json:"uptime"`
	Capacity  CapacityInfo   `json:"capacity"`
	Workspace WorkspaceInfo  `json:"workspace"`
	Memory    *MemoryInfo    `json:"memory,omitempty"`
	Providers []ProviderInfo `json:"providers"`
}

type CapacityInfo struct {
	Slots   int64 `json:"slots"`
	InUse   int64 `json:"in_use"`
	Waiting int64 `json:"waiting"`
}

type WorkspaceInfo struct {
	Root      string `json:"root"`
	Active    int    `json:"active"`
	FreeBytes uint64 `json:"free_bytes"`
	Free      string `json:"free"`
	Error     string `json:"error,omitempty"`
}

type MemoryInfo struct {
	Total       string  `json:"total"`
	Available   string  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

type ProviderInfo struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Loaded bool   `json:"loaded"`
}

// NewService 创建系统服务
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.VirtualMemory == nil {
		opts.VirtualMemory = mem.VirtualMemory
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Service{opts: opts, started: time.Now()}
}

// Register 注册路由。legacy 为 /whisper 分组，为空时跳过。
func (s *Service) Register(_ context.Context, api *gin.RouterGroup, legacy *gin.RouterGroup) error {
	api.GET("/health", s.handleHealth)
	if legacy != nil {
		legacy.GET("/", s.handleStatus)
	}
	s.opts.Logger.InfoTag("HTTP", "系统服务路由注册完成")
	return nil
}

func (s *Service) features() []string {
	features := []string{"SRT字幕生成", "词级时间戳"}
	if s.opts.Separator != nil {
		features = append(features, "人声分离预处理")
	}
	return features
}

// handleStatus 服务状态
// @Summary 服务状态检查
// @Tags System
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /whisper/ [get]
func (s *Service) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Service:   ServiceName,
		Status:    "运行中",
		Version:   s.opts.Version,
		Features:  s.features(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleHealth 健康检查
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} httptransport.APIResponse
// @Failure 503 {object} httptransport.APIResponse
// @Router /api/health [get]
func (s *Service) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   s.opts.Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Providers: []ProviderInfo{},
	}

	if s.opts.Capacity != nil {
		snap := s.opts.Capacity.Snapshot()
		resp.Capacity = CapacityInfo{Slots: snap.Slots, InUse: snap.InUse, Waiting: snap.Waiting}
	}

	if s.opts.Workspaces != nil {
		resp.Workspace.Root = s.opts.Workspaces.Root()
		resp.Workspace.Active = s.opts.Workspaces.Active()
		free, err := s.opts.Workspaces.FreeBytes()
		if err != nil {
			resp.Status = "degraded"
			resp.Workspace.Error = err.Error()
		} else {
			resp.Workspace.FreeBytes = free
			resp.Workspace.Free = humanize.Bytes(free)
		}
	}

	if vm, err := s.opts.VirtualMemory(); err == nil && vm != nil {
		resp.Memory = &MemoryInfo{
			Total:       humanize.Bytes(vm.Total),
			Available:   humanize.Bytes(vm.Available),
			UsedPercent: vm.UsedPercent,
		}
	} else if err != nil {
		s.opts.Logger.DebugTag("HTTP", "读取内存信息失败: %v", err)
	}

	if s.opts.Transcriber != nil {
		resp.Providers = append(resp.Providers, ProviderInfo{
			Kind:   "transcriber",
			Name:   s.opts.Transcriber.Name(),
			Loaded: s.opts.Transcriber.Loaded(),
		})
	}
	if s.opts.Separator != nil {
		resp.Providers = append(resp.Providers, ProviderInfo{
			Kind:   "separator",
			Name:   s.opts.Separator.Name(),
			Loaded: s.opts.Separator.Loaded(),
		})
	}

	if resp.Status != "ok" {
		httptransport.RespondError(c, http.StatusServiceUnavailable, resp.Status, resp)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, resp, resp.Status)
}
