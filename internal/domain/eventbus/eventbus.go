package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

// Bus 任务事件总线。发布方不等待订阅方：事件进入队列后由单个 worker 按顺序分发。
type Bus struct {
	bus      evbus.Bus
	queue    chan JobEvent
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	dropped  atomic.Int64
}

// New 创建事件总线并启动分发 worker；buffer 为队列容量
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1000
	}
	b := &Bus{
		bus:    evbus.New(),
		queue:  make(chan JobEvent, buffer),
		stopCh: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.stopCh:
			// 退出前分发剩余事件
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev JobEvent) {
	defer func() { _ = recover() }()
	b.bus.Publish(TopicJob, ev)
}

// Publish 入队一个事件；队列已满时丢弃并计数
func (b *Bus) Publish(ev JobEvent) {
	select {
	case <-b.stopCh:
		return
	default:
	}
	select {
	case b.queue <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe 注册任务事件处理函数
func (b *Bus) Subscribe(fn func(JobEvent)) error {
	return b.bus.Subscribe(TopicJob, fn)
}

// Dropped 因队列满而丢弃的事件数
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 停止 worker，已入队的事件会先分发完
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
	})
}
