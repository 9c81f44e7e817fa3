package jobs

import (
	"context"
	"sync"
	"time"

	"subtitle-server-go/internal/domain/eventbus"
	"subtitle-server-go/internal/platform/logging"
)

// Recorder 订阅阶段事件并写入任务历史
type Recorder struct {
	store     Store
	logger    *logging.Logger
	retention time.Duration

	mu     sync.Mutex
	active map[string]*Record
}

// NewRecorder 创建记录器，需调用 Attach 订阅总线
func NewRecorder(store Store, retention time.Duration, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{
		store:     store,
		logger:    logger,
		retention: retention,
		active:    make(map[string]*Record),
	}
}

// Attach 订阅事件总线
func (r *Recorder) Attach(bus *eventbus.Bus) error {
	return bus.Subscribe(r.handle)
}

// Store 返回底层存储
func (r *Recorder) Store() Store {
	return r.store
}

func (r *Recorder) handle(ev eventbus.JobEvent) {
	if ev.JobID == "" {
		return
	}

	r.mu.Lock()
	rec, ok := r.active[ev.JobID]
	if !ok {
		rec = &Record{}
		r.active[ev.JobID] = rec
	}
	rec.Apply(ev)
	snapshot := clone(rec)
	if ev.Stage.Terminal() {
		delete(r.active, ev.JobID)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, snapshot); err != nil {
		r.logger.WarnTag("任务", "保存任务记录失败 job=%s stage=%s: %v", ev.JobID, ev.Stage, err)
	}
}

// Cleanup 删除超出保留期的记录
func (r *Recorder) Cleanup(ctx context.Context, now time.Time) (int, error) {
	if r.retention <= 0 {
		return 0, nil
	}
	return r.store.Cleanup(ctx, now.Add(-r.retention))
}

// RunCleanup 周期性清理历史记录，直到 ctx 结束
func (r *Recorder) RunCleanup(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || r.retention <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := r.Cleanup(ctx, now)
			if err != nil {
				r.logger.WarnTag("任务", "清理任务记录失败: %v", err)
				continue
			}
			if n > 0 {
				r.logger.InfoTag("任务", "已清理 %d 条过期任务记录", n)
			}
		}
	}
}
