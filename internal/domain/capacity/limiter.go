// Package capacity bounds how many inference calls share the compute device.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/semaphore"

	"subtitle-server-go/internal/platform/config"
	apperrors "subtitle-server-go/internal/platform/errors"
	"subtitle-server-go/internal/platform/logging"
)

// ErrSaturated 所有推理槽位都被占用且排队超时
var ErrSaturated = errors.New("inference capacity exhausted")

// Snapshot 当前容量状态
type Snapshot struct {
	Slots   int64 `json:"slots"`
	InUse   int64 `json:"in_use"`
	Waiting int64 `json:"waiting"`
}

// Limiter 基于加权信号量的推理并发限制器
type Limiter struct {
	sem          *semaphore.Weighted
	slots        int64
	queueTimeout time.Duration
	inUse        atomic.Int64
	waiting      atomic.Int64
	logger       *logging.Logger
}

// AutoSlots derives a slot count from the device: a GPU serialises inference,
// a CPU gets half of its logical cores.
func AutoSlots(device string) int {
	if strings.HasPrefix(strings.ToLower(device), "cuda") {
		return 1
	}
	n, err := cpu.Counts(true)
	if err != nil || n < 2 {
		return 1
	}
	return n / 2
}

// NewLimiter 创建限制器；cfg.MaxConcurrent 为 0 时按 device 自动推算
func NewLimiter(cfg config.CapacityConfig, device string, logger *logging.Logger) *Limiter {
	slots := cfg.MaxConcurrent
	if slots <= 0 {
		slots = AutoSlots(device)
	}
	logger.InfoTag("容量", "推理槽位 %d, 排队超时 %s", slots, cfg.QueueTimeout)
	return &Limiter{
		sem:          semaphore.NewWeighted(int64(slots)),
		slots:        int64(slots),
		queueTimeout: cfg.QueueTimeout,
		logger:       logger,
	}
}

// Acquire takes one slot, waiting at most the queue timeout. The returned
// release func is safe to call more than once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	const op = "capacity.acquire"

	if l.queueTimeout <= 0 {
		if !l.sem.TryAcquire(1) {
			return nil, apperrors.Mark(apperrors.KindCapacity, op, "no free inference slot", ErrSaturated, nil)
		}
		return l.granted(), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.queueTimeout)
	defer cancel()

	l.waiting.Add(1)
	err := l.sem.Acquire(waitCtx, 1)
	l.waiting.Add(-1)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.Wrap(apperrors.KindProcessing, op, "request cancelled while queued", ctxErr)
		}
		l.logger.WarnTag("容量", "排队 %s 后仍无空闲槽位", l.queueTimeout)
		return nil, apperrors.Mark(apperrors.KindCapacity, op,
			fmt.Sprintf("no free inference slot within %s", l.queueTimeout), ErrSaturated, nil)
	}
	return l.granted(), nil
}

func (l *Limiter) granted() func() {
	l.inUse.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.inUse.Add(-1)
			l.sem.Release(1)
		})
	}
}

// Snapshot 返回当前槽位占用情况
func (l *Limiter) Snapshot() Snapshot {
	return Snapshot{
		Slots:   l.slots,
		InUse:   l.inUse.Load(),
		Waiting: l.waiting.Load(),
	}
}
