// Package audioseparator drives the python-audio-separator CLI.
package audioseparator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"subtitle-server-go/internal/domain/separation"
	"subtitle-server-go/internal/platform/config"
	"subtitle-server-go/internal/platform/logging"
	"subtitle-server-go/internal/platform/process"
)

// TypeName 配置中 separators.*.type 对应的取值
const TypeName = "audioseparator"

// Provider audio-separator 适配器，进程内共享一个实例
type Provider struct {
	name   string
	cfg    config.SeparatorConfig
	runner process.CmdRunner
	logger *logging.Logger

	mu     sync.Mutex
	loaded bool
}

func New(name string, cfg config.SeparatorConfig, runner process.CmdRunner, logger *logging.Logger) *Provider {
	if runner == nil {
		runner = process.NewCmdRunner()
	}
	if cfg.Binary == "" {
		cfg.Binary = "audio-separator"
	}
	if cfg.Model == "" {
		cfg.Model = "Kim_Vocal_2.onnx"
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = "models"
	}
	if cfg.StemLabel == "" {
		cfg.StemLabel = "Vocals"
	}
	return &Provider{name: name, cfg: cfg, runner: runner, logger: logger}
}

func (p *Provider) Name() string { return p.name }

// Loaded reports whether the CLI has been verified.
func (p *Provider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Load verifies the CLI is installed. It succeeds at most once.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	if _, err := p.runner.Run(ctx, p.cfg.Binary, "--version"); err != nil {
		return separation.Fail("separation.load", fmt.Errorf("%s unavailable: %w", p.cfg.Binary, err))
	}
	p.loaded = true
	p.logger.InfoTag("分离", "audio-separator 就绪 (model=%s)", p.cfg.Model)
	return nil
}

func (p *Provider) Separate(ctx context.Context, audioPath, outDir string) (string, error) {
	const op = "separation.audioseparator"

	if err := p.Load(ctx); err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", separation.Fail(op, err)
	}

	start := time.Now()
	_, err := p.runner.Run(ctx, p.cfg.Binary, audioPath,
		"--model_filename", p.cfg.Model,
		"--output_single_stem", p.cfg.StemLabel,
		"--output_dir", outDir,
		"--model_file_dir", p.cfg.ModelDir,
	)
	if err != nil {
		return "", separation.Fail(op, err)
	}

	stem, err := findStem(outDir, p.cfg.StemLabel)
	if err != nil {
		return "", separation.Fail(op, err)
	}

	if info, statErr := os.Stat(stem); statErr == nil {
		p.logger.InfoTag("分离", "人声分离完成: %s (%s, 耗时 %s)",
			filepath.Base(stem), humanize.Bytes(uint64(info.Size())), time.Since(start).Round(time.Millisecond))
	}
	return stem, nil
}

// findStem picks the output file whose name carries the stem label.
func findStem(dir, label string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var matches []string
	needle := strings.ToLower(label)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.Contains(strings.ToLower(e.Name()), needle) {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	if len(matches) == 0 {
		return "", errors.New("no " + label + " stem produced")
	}
	sort.Strings(matches)
	return matches[0], nil
}
