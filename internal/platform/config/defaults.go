package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:              "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Workspace: WorkspaceConfig{
			Root:          "data/workspaces",
			MinFreeBytes:  512 << 20,
			SweepInterval: 10 * time.Minute,
			MaxAge:        24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxBytes: 2 << 30,
		},
		Pipeline: PipelineConfig{
			SeparateVocals:     false,
			SeparationFallback: FallbackOriginal,
			SeparationTimeout:  30 * time.Minute,
			TranscribeTimeout:  60 * time.Minute,
		},
		Capacity: CapacityConfig{
			QueueTimeout: 30 * time.Second,
		},
		Selected: SelectedConfig{
			Transcriber: "FasterWhisper",
			Separator:   "AudioSeparator",
		},
		Transcribers: map[string]TranscriberConfig{
			"FasterWhisper": {
				Type:           "fasterwhisper",
				Model:          "large-v2",
				Device:         "auto",
				Python:         "python3",
				BeamSize:       5,
				VADFilter:      true,
				MinSilenceMS:   500,
				WordTimestamps: true,
				InitialPrompt:  "Add punctuation after end of each line. 就比如说，我要先去吃饭。Segment at end of each sentence.",
			},
			"OpenAIWhisper": {
				Type:           "openai",
				Model:          "whisper-1",
				BaseURL:        "https://api.openai.com/v1",
				WordTimestamps: true,
				RequestTimeout: 10 * time.Minute,
			},
		},
		Separators: map[string]SeparatorConfig{
			"AudioSeparator": {
				Type:      "audioseparator",
				Binary:    "audio-separator",
				Model:     "Kim_Vocal_2.onnx",
				ModelDir:  "models",
				StemLabel: "Vocals",
			},
		},
		Jobs: JobsConfig{
			Driver:    JobStoreMemory,
			Retention: 24 * time.Hour,
			SQLite: SQLiteConfig{
				DSN: "data/jobs.db",
			},
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "subtitle:jobs",
			},
		},
	}
}
