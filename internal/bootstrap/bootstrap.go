// Package bootstrap wires configuration, providers and transports into a
// running subtitle service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"subtitle-server-go/internal/domain/capacity"
	"subtitle-server-go/internal/domain/eventbus"
	"subtitle-server-go/internal/domain/jobs"
	"subtitle-server-go/internal/domain/media"
	"subtitle-server-go/internal/domain/pipeline"
	"subtitle-server-go/internal/domain/separation"
	separationadapters "subtitle-server-go/internal/domain/separation/adapters"
	"subtitle-server-go/internal/domain/transcription"
	transcriptionadapters "subtitle-server-go/internal/domain/transcription/adapters"
	"subtitle-server-go/internal/domain/workspace"
	platformconfig "subtitle-server-go/internal/platform/config"
	platformerrors "subtitle-server-go/internal/platform/errors"
	platformlogging "subtitle-server-go/internal/platform/logging"
	platformobservability "subtitle-server-go/internal/platform/observability"
	"subtitle-server-go/internal/platform/process"
	platformstorage "subtitle-server-go/internal/platform/storage"
	httptransport "subtitle-server-go/internal/transport/http"
	httpdocs "subtitle-server-go/internal/transport/http/docs"
	httpjobs "subtitle-server-go/internal/transport/http/jobs"
	httpsubtitle "subtitle-server-go/internal/transport/http/subtitle"
	httpsystem "subtitle-server-go/internal/transport/http/system"
)

const (
	eventBuffer       = 1024
	jobCleanupPeriod  = time.Hour
	shutdownWaitLimit = 15 * time.Second
)

// Options 控制启动行为
type Options struct {
	ConfigPath string
	Version    string
	// LookupEnv 为空时读取进程环境变量
	LookupEnv func(string) (string, bool)
	// DisableDotEnv 跳过 .env 加载
	DisableDotEnv bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts                  Options
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	bus                   *eventbus.Bus
	jobStore              jobs.Store
	recorder              *jobs.Recorder
	tracker               *jobs.Tracker
	workspaces            *workspace.Manager
	transcriber           *transcription.Lazy
	separator             separation.Separator
	limiter               *capacity.Limiter
	pipeline              *pipeline.Pipeline
}

// App 完成初始化的服务实例
type App struct {
	state *appState
	steps []initStep
}

// New 执行初始化依赖图。失败时已创建的资源会被释放。
func New(ctx context.Context, opts Options) (*App, error) {
	state := &appState{opts: opts}
	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		(&App{state: state}).Close()
		return nil, err
	}
	logBootstrapGraph(steps, state.logger)
	return &App{state: state, steps: steps}, nil
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, opts Options) error {
	app, err := New(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Serve(ctx)
}

func (a *App) Config() *platformconfig.Config    { return a.state.config }
func (a *App) Logger() *platformlogging.Logger    { return a.state.logger }
func (a *App) Pipeline() *pipeline.Pipeline       { return a.state.pipeline }
func (a *App) Workspaces() *workspace.Manager     { return a.state.workspaces }
func (a *App) Transcriber() *transcription.Lazy   { return a.state.transcriber }
func (a *App) JobStore() jobs.Store               { return a.state.jobStore }
func (a *App) Separator() separation.Separator    { return a.state.separator }
func (a *App) Limiter() *capacity.Limiter         { return a.state.limiter }
func (a *App) version() string                    { return a.state.opts.Version }

// Close 按依赖逆序释放资源，可重复调用
func (a *App) Close() {
	s := a.state
	if s == nil {
		return
	}
	a.state = nil

	logger := s.logger
	if s.bus != nil {
		s.bus.Close()
	}
	if s.jobStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.jobStore.Close(ctx); err != nil {
			logger.WarnTag("任务", "任务存储未正常关闭: %v", err)
		}
		cancel()
	}
	if s.transcriber != nil {
		if err := s.transcriber.Close(); err != nil {
			logger.WarnTag("转录", "转录器未正常关闭: %v", err)
		}
	}
	if shutdown := s.observabilityShutdown; shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := shutdown(ctx); err != nil {
			logger.WarnTag("引导", "可观测性未正常关闭: %v", err)
		}
		cancel()
	}
	if logger != nil {
		_ = logger.Close()
	}
}

// Handler 构建 HTTP 路由
func (a *App) Handler(ctx context.Context) (http.Handler, error) {
	s := a.state
	cfg := s.config

	opts := httptransport.Options{Config: cfg, Logger: s.logger}
	if cfg.Server.Auth.Enabled {
		opts.AuthMiddleware = httptransport.AuthMiddleware(cfg.Server.Auth)
	}
	router, err := httptransport.Build(opts)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build router", err)
	}

	subtitleService, err := httpsubtitle.NewService(s.pipeline, cfg.Upload.MaxBytes, s.logger)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "subtitle:new-service", "failed to create subtitle service", err)
	}
	jobsService, err := httpjobs.NewService(s.jobStore, s.tracker, s.logger)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "jobs:new-service", "failed to create jobs service", err)
	}

	sysOpts := httpsystem.Options{
		Version:     a.version(),
		Capacity:    s.limiter,
		Workspaces:  s.workspaces,
		Transcriber: s.transcriber,
		Logger:      s.logger,
	}
	if status, ok := s.separator.(httpsystem.ModelStatus); ok {
		sysOpts.Separator = status
	}
	systemService := httpsystem.NewService(sysOpts)

	if err := subtitleService.Register(ctx, router.Secured, router.LegacySecured); err != nil {
		return nil, err
	}
	if err := jobsService.Register(ctx, router.Secured); err != nil {
		return nil, err
	}
	if err := systemService.Register(ctx, router.API, router.Legacy); err != nil {
		return nil, err
	}
	httpdocs.Register(router.Engine, a.version(), s.logger)

	return router.Engine, nil
}

// Serve 启动 HTTP 服务与后台任务，直到收到系统信号或 ctx 结束
func (a *App) Serve(ctx context.Context) error {
	s := a.state
	logger := s.logger

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	handler, err := a.Handler(groupCtx)
	if err != nil {
		return err
	}
	if err := startHTTPServer(s.config, logger, handler, group, groupCtx); err != nil {
		return err
	}

	group.Go(func() error {
		return s.workspaces.RunSweeper(groupCtx, s.config.Workspace.SweepInterval)
	})
	group.Go(func() error {
		return s.recorder.RunCleanup(groupCtx, jobCleanupPeriod)
	})

	logger.InfoTag("引导", "服务已成功启动")
	return waitForShutdown(signalCtx, cancel, logger, group)
}

func startHTTPServer(
	config *platformconfig.Config,
	logger *platformlogging.Logger,
	handler http.Handler,
	g *errgroup.Group,
	groupCtx context.Context,
) error {
	addr := net.JoinHostPort(config.Server.IP, strconv.Itoa(config.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "http:listen", "failed to listen on "+addr, err)
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 http://%s", listener.Addr())
		logger.InfoTag("HTTP", "字幕接口: POST http://%s/api/subtitle", listener.Addr())
		logger.InfoTag("HTTP", "在线文档入口: http://%s/docs", listener.Addr())

		go func() {
			<-groupCtx.Done()
			timeout := config.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", err)
			return err
		}
		return nil
	})
	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		// 后台任务提前退出
		cancel()
		if err != nil {
			logger.ErrorTag("引导", "服务异常退出: %v", err)
		}
		return err
	case <-ctx.Done():
	}

	logger.InfoTag("引导", "收到系统信号 %v，正在进行资源清理", context.Cause(ctx))
	cancel()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(shutdownWaitLimit):
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")
	for _, step := range steps {
		deps := "-"
		if len(step.DependsOn) > 0 {
			deps = strings.Join(step.DependsOn, ", ")
		}
		logger.InfoTag("引导", "%s (%s) <- %s", step.ID, step.Title, deps)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-job-store",
			Title:     "Initialise job history store",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initJobStoreStep,
		},
		{
			ID:        "workspace:init-manager",
			Title:     "Initialise workspace manager",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindResource,
			Execute:   initWorkspaceStep,
		},
		{
			ID:        "models:init-providers",
			Title:     "Initialise transcription and separation providers",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initProvidersStep,
		},
		{
			ID:        "pipeline:init",
			Title:     "Initialise subtitle pipeline",
			DependsOn: []string{"storage:init-job-store", "workspace:init-manager", "models:init-providers"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initPipelineStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader().
		WithDotEnv(!state.opts.DisableDotEnv).
		WithPath(state.opts.ConfigPath).
		WithEnv(state.opts.LookupEnv)

	result, err := loader.Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "defaults"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger

	logger.InfoTag("引导", "日志模块就绪 [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state.logger == nil || state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "observability:setup-hooks", "config/logger not initialised")
	}

	cfg := platformobservability.Config{
		Enabled:   state.config.Log.Observability || strings.EqualFold(state.config.Log.Level, "debug"),
		Component: "subtitle-server",
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initJobStoreStep(_ context.Context, state *appState) error {
	cfg := state.config.Jobs

	var deps jobs.Dependencies
	if cfg.Driver == platformconfig.JobStoreSQLite {
		db, err := platformstorage.OpenSQLite(cfg.SQLite.DSN)
		if err != nil {
			return err
		}
		state.db = db
		deps.SQLiteDB = db
	}

	store, err := jobs.New(cfg, deps)
	if err != nil {
		if state.db != nil {
			_ = platformstorage.Close(state.db)
		}
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-job-store", "failed to create job store", err)
	}
	state.jobStore = store

	state.bus = eventbus.New(eventBuffer)
	state.tracker = jobs.NewTracker(0)
	state.recorder = jobs.NewRecorder(store, cfg.Retention, state.logger)
	if err := state.recorder.Attach(state.bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-job-store", "failed to subscribe recorder", err)
	}
	if err := state.tracker.Attach(state.bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-job-store", "failed to subscribe tracker", err)
	}

	state.logger.InfoTag("任务", "任务历史存储就绪 driver=%s retention=%s", driverName(cfg.Driver), cfg.Retention)
	return nil
}

func initWorkspaceStep(_ context.Context, state *appState) error {
	manager, err := workspace.NewManager(state.config.Workspace, state.logger)
	if err != nil {
		return err
	}
	state.workspaces = manager

	// 回收上次异常退出遗留的工作区
	if removed := manager.Sweep(time.Now()); removed > 0 {
		state.logger.InfoTag("工作区", "启动时清理了 %d 个遗留工作区", removed)
	}
	state.logger.InfoTag("工作区", "工作区根目录 %s", manager.Root())
	return nil
}

func initProvidersStep(ctx context.Context, state *appState) error {
	cfg := state.config
	runner := process.NewCmdRunner()

	name, tc, ok := cfg.SelectedTranscriber()
	if !ok {
		return platformerrors.New(platformerrors.KindConfig, "models:init-providers",
			fmt.Sprintf("selected transcriber %q is not configured", name))
	}
	registry := transcriptionadapters.NewRegistry()
	lazy, err := registry.Build(name, tc, transcriptionadapters.Deps{
		Starter: process.NewStarter("PYTHONUNBUFFERED=1"),
		Logger:  state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "models:init-providers", "failed to build transcriber", err)
	}
	state.transcriber = lazy
	state.logger.InfoTag("转录", "转录器 %s (type=%s, model=%s)", name, tc.Type, tc.Model)

	if cfg.Selected.Separator != "" {
		sepName, sc, ok := cfg.SelectedSeparator()
		if !ok {
			return platformerrors.New(platformerrors.KindConfig, "models:init-providers",
				fmt.Sprintf("selected separator %q is not configured", sepName))
		}
		sep, err := separationadapters.Build(sepName, sc, runner, state.logger)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindConfig, "models:init-providers", "failed to build separator", err)
		}
		state.separator = sep
		state.logger.InfoTag("分离", "人声分离器 %s (model=%s)", sepName, sc.Model)
	}

	if !cfg.Selected.Preload {
		return nil
	}
	state.logger.InfoTag("引导", "预加载模型")
	if err := lazy.Load(ctx); err != nil {
		return err
	}
	if loader, ok := state.separator.(transcription.Loader); ok {
		if err := loader.Load(ctx); err != nil {
			// 分离器不可用时仍可按回退策略继续服务
			state.logger.WarnTag("分离", "人声分离器预加载失败: %v", err)
		}
	}
	return nil
}

func initPipelineStep(_ context.Context, state *appState) error {
	cfg := state.config
	_, tc, _ := cfg.SelectedTranscriber()
	state.limiter = capacity.NewLimiter(cfg.Capacity, tc.Device, state.logger)

	p, err := pipeline.New(cfg.Pipeline, pipeline.Dependencies{
		Workspaces:  state.workspaces,
		Inspector:   media.NewInspector(cfg.Upload.MaxBytes, cfg.Upload.AllowedExtensions),
		Limiter:     state.limiter,
		Transcriber: state.transcriber,
		Separator:   state.separator,
		Bus:         state.bus,
		Logger:      state.logger,
	})
	if err != nil {
		return err
	}
	state.pipeline = p
	state.logger.InfoTag("流水线", "字幕流水线就绪 (默认人声分离=%t, 回退策略=%s)",
		cfg.Pipeline.SeparateVocals, cfg.Pipeline.SeparationFallback)
	return nil
}

func driverName(driver string) string {
	if driver == "" {
		return platformconfig.JobStoreMemory
	}
	return driver
}
