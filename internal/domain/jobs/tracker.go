package jobs

import (
	"sync"

	"subtitle-server-go/internal/domain/eventbus"
)

// Tracker 将阶段事件分发给按任务 ID 订阅的观察者
type Tracker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan eventbus.JobEvent
	buffer int
}

// NewTracker buffer 为每个订阅者的通道容量
func NewTracker(buffer int) *Tracker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Tracker{
		subs:   make(map[string]map[int]chan eventbus.JobEvent),
		buffer: buffer,
	}
}

// Attach 订阅事件总线
func (t *Tracker) Attach(bus *eventbus.Bus) error {
	return bus.Subscribe(t.handle)
}

// Watch 订阅一个任务的后续事件。任务到达终止阶段后通道关闭；cancel 可重复调用。
func (t *Tracker) Watch(jobID string) (<-chan eventbus.JobEvent, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	ch := make(chan eventbus.JobEvent, t.buffer)
	if t.subs[jobID] == nil {
		t.subs[jobID] = make(map[int]chan eventbus.JobEvent)
	}
	t.subs[jobID][id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if set, ok := t.subs[jobID]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
			if len(set) == 0 {
				delete(t.subs, jobID)
			}
		}
	}
	return ch, cancel
}

// Watchers 当前订阅某任务的观察者数量
func (t *Tracker) Watchers(jobID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[jobID])
}

func (t *Tracker) handle(ev eventbus.JobEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.subs[ev.JobID]
	for _, ch := range set {
		// 慢消费者丢弃中间事件，不阻塞总线
		select {
		case ch <- ev:
		default:
		}
	}
	if ev.Stage.Terminal() {
		for id, ch := range set {
			close(ch)
			delete(set, id)
		}
		delete(t.subs, ev.JobID)
	}
}
