package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"cross-maker-go/event"
)

// Dispatcher 单一调度队列：传输回调、定时器与热更新都投递到同一个通道，
// 由一个协程串行执行，引擎状态只在该协程内访问。
type Dispatcher struct {
	engine *Engine
	logger *zap.Logger

	jobs     chan func()
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once

	// 通道满时追加到 overflow，保证调度协程自身投递（REST 同步回调）不会阻塞。
	mu       sync.Mutex
	overflow []func()
	wake     chan struct{}
}

// NewDispatcher 创建调度器，buffer 为队列长度。
func NewDispatcher(e *Engine, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		engine:   e,
		logger:   logger.Named("dispatcher"),
		jobs:     make(chan func(), buffer),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Post 投递一个事件，满足 event.Handler；调度器停止后返回 false。
func (d *Dispatcher) Post(ev event.Event) bool {
	return d.Do(func(e *Engine) { e.ProcessEvent(ev) })
}

// Do 在调度协程内按投递顺序执行 fn，不阻塞。
func (d *Dispatcher) Do(fn func(e *Engine)) bool {
	select {
	case <-d.stopChan:
		return false
	default:
	}
	job := func() { fn(d.engine) }
	d.mu.Lock()
	if len(d.overflow) == 0 {
		select {
		case d.jobs <- job:
			d.mu.Unlock()
			return true
		default:
		}
	}
	d.overflow = append(d.overflow, job)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// drainOverflow 先执行通道中较早的任务，再执行溢出任务。
func (d *Dispatcher) drainOverflow() {
	for {
		select {
		case job := <-d.jobs:
			job()
			continue
		default:
		}
		d.mu.Lock()
		batch := d.overflow
		d.overflow = nil
		d.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, job := range batch {
			job()
		}
	}
}

// Run 主循环，ctx 结束、Stop 或引擎停止时返回。
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.doneChan)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("context done, dispatcher exiting")
			return
		case <-d.stopChan:
			d.logger.Info("stop signal received")
			return
		case <-d.engine.Done():
			d.logger.Info("engine stopped, dispatcher exiting")
			return
		case job := <-d.jobs:
			job()
		case <-d.wake:
			d.drainOverflow()
		}
	}
}

// Stop 停止调度并等待主循环退出。
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	select {
	case <-d.doneChan:
	case <-time.After(10 * time.Second):
		d.logger.Warn("timeout waiting for dispatcher to stop")
	}
}

// Pending 队列中待执行的任务数。
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs) + len(d.overflow)
}
