package config

import (
	"time"
)

type Config struct {
	Server       ServerConfig                 `yaml:"server" mapstructure:"server"`
	Log          LogConfig                    `yaml:"log" mapstructure:"log"`
	Workspace    WorkspaceConfig              `yaml:"workspace" mapstructure:"workspace"`
	Upload       UploadConfig                 `yaml:"upload" mapstructure:"upload"`
	Pipeline     PipelineConfig               `yaml:"pipeline" mapstructure:"pipeline"`
	Capacity     CapacityConfig               `yaml:"capacity" mapstructure:"capacity"`
	Selected     SelectedConfig               `yaml:"selected_module" mapstructure:"selected_module"`
	Transcribers map[string]TranscriberConfig `yaml:"transcribers" mapstructure:"transcribers"`
	Separators   map[string]SeparatorConfig   `yaml:"separators" mapstructure:"separators"`
	Jobs         JobsConfig                   `yaml:"jobs" mapstructure:"jobs"`
}

type ServerConfig struct {
	IP              string        `yaml:"ip" mapstructure:"ip"`
	Port            int           `yaml:"port" mapstructure:"port"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Auth            AuthConfig    `yaml:"auth" mapstructure:"auth"`
}

// AuthConfig 控制 /api 下接口的 Bearer JWT 校验
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Secret  string `yaml:"secret" mapstructure:"secret"`
	Issuer  string `yaml:"issuer,omitempty" mapstructure:"issuer"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
	// 打开后输出 span 与指标的调试日志
	Observability bool `yaml:"observability" mapstructure:"observability"`
}

type WorkspaceConfig struct {
	Root          string        `yaml:"root" mapstructure:"root"`
	MinFreeBytes  uint64        `yaml:"min_free_bytes" mapstructure:"min_free_bytes"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	MaxAge        time.Duration `yaml:"max_age" mapstructure:"max_age"`
}

type UploadConfig struct {
	MaxBytes          int64    `yaml:"max_bytes" mapstructure:"max_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
}

// Separation fallback policies.
const (
	FallbackOriginal = "original"
	FallbackAbort    = "abort"
)

type PipelineConfig struct {
	SeparateVocals     bool          `yaml:"separate_vocals" mapstructure:"separate_vocals"`
	SeparationFallback string        `yaml:"separation_fallback" mapstructure:"separation_fallback"`
	SeparationTimeout  time.Duration `yaml:"separation_timeout" mapstructure:"separation_timeout"`
	TranscribeTimeout  time.Duration `yaml:"transcribe_timeout" mapstructure:"transcribe_timeout"`
}

type CapacityConfig struct {
	// MaxConcurrent 为 0 时按设备自动推算
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `yaml:"queue_timeout" mapstructure:"queue_timeout"`
}

type SelectedConfig struct {
	Transcriber string `yaml:"transcriber" mapstructure:"transcriber"`
	Separator   string `yaml:"separator" mapstructure:"separator"`
	Preload     bool   `yaml:"preload" mapstructure:"preload"`
}

type TranscriberConfig struct {
	Type           string        `yaml:"type" mapstructure:"type"`
	Model          string        `yaml:"model" mapstructure:"model"`
	Device         string        `yaml:"device" mapstructure:"device"`
	ComputeType    string        `yaml:"compute_type,omitempty" mapstructure:"compute_type"`
	Python         string        `yaml:"python,omitempty" mapstructure:"python"`
	BeamSize       int           `yaml:"beam_size" mapstructure:"beam_size"`
	VADFilter      bool          `yaml:"vad_filter" mapstructure:"vad_filter"`
	MinSilenceMS   int           `yaml:"min_silence_ms" mapstructure:"min_silence_ms"`
	WordTimestamps bool          `yaml:"word_timestamps" mapstructure:"word_timestamps"`
	InitialPrompt  string        `yaml:"initial_prompt,omitempty" mapstructure:"initial_prompt"`
	BaseURL        string        `yaml:"url,omitempty" mapstructure:"url"`
	APIKey         string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty" mapstructure:"request_timeout"`
}

type SeparatorConfig struct {
	Type      string `yaml:"type" mapstructure:"type"`
	Binary    string `yaml:"binary,omitempty" mapstructure:"binary"`
	Model     string `yaml:"model" mapstructure:"model"`
	ModelDir  string `yaml:"model_dir" mapstructure:"model_dir"`
	StemLabel string `yaml:"stem_label" mapstructure:"stem_label"`
}

// Job store drivers.
const (
	JobStoreMemory = "memory"
	JobStoreSQLite = "sqlite"
	JobStoreRedis  = "redis"
)

type JobsConfig struct {
	Driver    string        `yaml:"driver" mapstructure:"driver"`
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`
	SQLite    SQLiteConfig  `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Redis     RedisConfig   `yaml:"redis,omitempty" mapstructure:"redis"`
}

type SQLiteConfig struct {
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// SelectedTranscriber returns the configuration entry named by selected_module.
func (c *Config) SelectedTranscriber() (string, TranscriberConfig, bool) {
	name := c.Selected.Transcriber
	tc, ok := c.Transcribers[name]
	return name, tc, ok
}

// SelectedSeparator returns the configuration entry named by selected_module.
func (c *Config) SelectedSeparator() (string, SeparatorConfig, bool) {
	name := c.Selected.Separator
	sc, ok := c.Separators[name]
	return name, sc, ok
}
