// Package workspace owns the per-request temporary directories.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"subtitle-server-go/internal/platform/config"
	apperrors "subtitle-server-go/internal/platform/errors"
	"subtitle-server-go/internal/platform/logging"
)

const dirPrefix = "ws-"

// Handle 一个请求独占的工作区
type Handle struct {
	ID      string
	Dir     string
	Created time.Time

	once sync.Once
}

// Path 返回工作区内的文件路径
func (h *Handle) Path(name string) string {
	return filepath.Join(h.Dir, filepath.Base(name))
}

// Manager 创建、释放并清扫工作区
type Manager struct {
	root     string
	minFree  uint64
	maxAge   time.Duration
	logger   *logging.Logger
	diskFree func(path string) (uint64, error)
	removeFn func(path string) error

	mu     sync.Mutex
	active map[string]*Handle
}

// Option customises a Manager.
type Option func(*Manager)

// WithDiskFree overrides the free-space probe.
func WithDiskFree(fn func(path string) (uint64, error)) Option {
	return func(m *Manager) { m.diskFree = fn }
}

// WithRemove overrides directory removal.
func WithRemove(fn func(path string) error) Option {
	return func(m *Manager) { m.removeFn = fn }
}

func gopsutilFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// NewManager 确保根目录存在并返回管理器
func NewManager(cfg config.WorkspaceConfig, logger *logging.Logger, opts ...Option) (*Manager, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindResource, "workspace.init", "resolve root", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.KindResource, "workspace.init", "create root", err)
	}

	m := &Manager{
		root:     root,
		minFree:  cfg.MinFreeBytes,
		maxAge:   cfg.MaxAge,
		logger:   logger,
		diskFree: gopsutilFree,
		removeFn: os.RemoveAll,
		active:   make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root 返回工作区根目录
func (m *Manager) Root() string { return m.root }

// FreeBytes 返回根目录所在磁盘的可用空间
func (m *Manager) FreeBytes() (uint64, error) {
	return m.diskFree(m.root)
}

// Active 当前未释放的工作区数量
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Acquire creates a uniquely named directory. Failures are resource errors.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	const op = "workspace.acquire"

	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindResource, op, "request cancelled", err)
	}

	if m.minFree > 0 {
		free, err := m.diskFree(m.root)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindResource, op, "probe free disk", err)
		}
		if free < m.minFree {
			return nil, apperrors.New(apperrors.KindResource, op,
				fmt.Sprintf("insufficient disk space: %s free, %s required",
					humanize.Bytes(free), humanize.Bytes(m.minFree)))
		}
	}

	id := uuid.NewString()
	dir := filepath.Join(m.root, dirPrefix+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, apperrors.Wrap(apperrors.KindResource, op, "create workspace", err)
	}

	h := &Handle{ID: id, Dir: dir, Created: time.Now()}
	m.mu.Lock()
	m.active[id] = h
	m.mu.Unlock()

	m.logger.DebugTag("工作区", "已创建 %s", dir)
	return h, nil
}

// Release deletes the workspace. It is idempotent, and a deletion failure is
// logged rather than returned; the sweeper retries later.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		m.mu.Lock()
		delete(m.active, h.ID)
		m.mu.Unlock()

		if err := m.removeFn(h.Dir); err != nil {
			m.logger.WarnTag("工作区", "删除工作区失败 %s: %v", h.Dir, err)
			return
		}
		m.logger.DebugTag("工作区", "已释放 %s", h.Dir)
	})
}

// Sweep removes workspace directories older than maxAge that no request holds.
func (m *Manager) Sweep(now time.Time) int {
	if m.maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.logger.WarnTag("工作区", "读取工作区根目录失败: %v", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		id := strings.TrimPrefix(e.Name(), dirPrefix)
		m.mu.Lock()
		_, held := m.active[id]
		m.mu.Unlock()
		if held {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < m.maxAge {
			continue
		}
		path := filepath.Join(m.root, e.Name())
		if err := m.removeFn(path); err != nil {
			m.logger.WarnTag("工作区", "清理过期工作区失败 %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.InfoTag("工作区", "已清理 %d 个过期工作区", removed)
	}
	return removed
}

// RunSweeper sweeps on every tick until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || m.maxAge <= 0 {
		<-ctx.Done()
		return nil
	}
	m.Sweep(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}
