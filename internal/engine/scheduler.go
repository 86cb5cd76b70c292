package engine

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cross-maker-go/event"
)

// Scheduler 实盘与纸面交易时按墙钟向调度队列注入 TIMER 事件。
type Scheduler struct {
	c      *cron.Cron
	logger *zap.Logger
}

// NewScheduler 注册锁兜底清理与账户刷新两个定时任务。
func NewScheduler(post event.Handler, lockSweep, accountRefresh time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{c: cron.New(), logger: logger.Named("scheduler")}
	s.every(lockSweep, event.MsgLockSweep, post)
	s.every(accountRefresh, event.MsgAccountRefresh, post)
	return s
}

func (s *Scheduler) every(d time.Duration, mt event.MessageType, post event.Handler) {
	if d <= 0 {
		return
	}
	s.c.Schedule(cron.Every(d), cron.FuncJob(func() {
		ev := event.Single(event.TypeTimer, event.Message{Type: mt, Time: time.Now().UTC()})
		if !post(ev) {
			s.logger.Debug("timer dropped, dispatcher stopped", zap.String("timer", string(mt)))
		}
	}))
	s.logger.Info("timer scheduled", zap.String("timer", string(mt)), zap.Duration("every", d))
}

// Func 注册一个不经过调度队列的周期任务，fn 不得访问引擎状态。
func (s *Scheduler) Func(name string, d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	s.c.Schedule(cron.Every(d), cron.FuncJob(fn))
	s.logger.Info("job scheduled", zap.String("job", name), zap.Duration("every", d))
}

// Start 启动定时器。
func (s *Scheduler) Start() { s.c.Start() }

// Stop 停止定时器并等待正在执行的任务结束。
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// Entries 已注册的任务数。
func (s *Scheduler) Entries() int { return len(s.c.Entries()) }
