package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath 未指定时查找的配置文件
const DefaultPath = "config.yaml"

// Loader reads the YAML config, applies environment overrides and validates it.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading DefaultPath with .env support enabled.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      DefaultPath,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the configuration file path.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// WithEnv overrides the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	// Path is empty when the file was absent and defaults were used.
	Path string
}

// Load merges the YAML file over DefaultConfig, then applies SUBTITLE_* overrides.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("加载 .env 失败: %w", err)
		}
	}

	cfg := DefaultConfig()
	path := l.path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		path = ""
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv("SUBTITLE_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SUBTITLE_PORT 不是有效端口: %q", v)
		}
		cfg.Server.Port = port
	}
	if v, ok := l.lookupEnv("SUBTITLE_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := l.lookupEnv("SUBTITLE_WORKSPACE_ROOT"); ok && v != "" {
		cfg.Workspace.Root = v
	}
	if v, ok := l.lookupEnv("SUBTITLE_JWT_SECRET"); ok && v != "" {
		cfg.Server.Auth.Secret = v
	}
	if v, ok := l.lookupEnv("SUBTITLE_OPENAI_API_KEY"); ok && v != "" {
		for name, tc := range cfg.Transcribers {
			if tc.Type == "openai" && tc.APIKey == "" {
				tc.APIKey = v
				cfg.Transcribers[name] = tc
			}
		}
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	var problems []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port 超出范围: %d", cfg.Server.Port))
	}

	switch cfg.Pipeline.SeparationFallback {
	case FallbackOriginal, FallbackAbort:
	default:
		problems = append(problems, fmt.Sprintf("pipeline.separation_fallback 只能是 %s 或 %s: %q",
			FallbackOriginal, FallbackAbort, cfg.Pipeline.SeparationFallback))
	}

	if cfg.Capacity.MaxConcurrent < 0 {
		problems = append(problems, "capacity.max_concurrent 不能为负数")
	}
	if cfg.Capacity.QueueTimeout < 0 {
		problems = append(problems, "capacity.queue_timeout 不能为负数")
	}
	if cfg.Upload.MaxBytes < 0 {
		problems = append(problems, "upload.max_bytes 不能为负数")
	}
	if strings.TrimSpace(cfg.Workspace.Root) == "" {
		problems = append(problems, "workspace.root 不能为空")
	}

	if _, _, ok := cfg.SelectedTranscriber(); !ok {
		problems = append(problems, fmt.Sprintf("selected_module.transcriber 未在 transcribers 中定义: %q", cfg.Selected.Transcriber))
	}
	if cfg.Selected.Separator != "" {
		if _, _, ok := cfg.SelectedSeparator(); !ok {
			problems = append(problems, fmt.Sprintf("selected_module.separator 未在 separators 中定义: %q", cfg.Selected.Separator))
		}
	}

	switch cfg.Jobs.Driver {
	case JobStoreMemory, JobStoreSQLite, JobStoreRedis:
	default:
		problems = append(problems, fmt.Sprintf("jobs.driver 不支持: %q", cfg.Jobs.Driver))
	}

	if cfg.Server.Auth.Enabled && cfg.Server.Auth.Secret == "" {
		problems = append(problems, "server.auth.enabled 时必须配置 secret")
	}

	if len(problems) > 0 {
		return fmt.Errorf("配置校验失败: %s", strings.Join(problems, "; "))
	}
	return nil
}
