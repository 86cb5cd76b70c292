// Package execution 将引擎产生的请求路由到传输层（REST 或 websocket），并记录限流预算。
package execution

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

// Transport 交易所传输层协作者。事件通过构造时注册的 event.Handler 回调投递。
type Transport interface {
	Subscribe(subs []event.Subscription) error
	SendRequest(req event.Request) error
	SendRequestByWebsocket(req event.Request) error
	Stop() error
}

// RateLimiter 非阻塞的限流预算检查。
type RateLimiter interface {
	Allow() bool
}

// Recorder 请求指标，monitor.Monitor 满足该接口。
type Recorder interface {
	RecordRequest(leg, operation, channel string, err error)
	RecordRateLimited(leg string)
}

// Config 路由配置。
type Config struct {
	UseWebsocket [2]bool
	Limiters     [2]RateLimiter
	Logger       *zap.Logger
	Recorder     Recorder
}

// Stats 每条腿按操作统计的请求数。
type Stats struct {
	Sent        [2]map[event.Operation]int64
	Failed      [2]int64
	RateLimited [2]int64
}

// Router 执行路由器。data 负责订阅，orders 负责请求；纸面交易时 orders 为模拟交易所。
type Router struct {
	data   Transport
	orders Transport
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewRouter 创建路由器。
func NewRouter(data, orders Transport, cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &Router{data: data, orders: orders, cfg: cfg, logger: cfg.Logger}
	for i := range r.stats.Sent {
		r.stats.Sent[i] = make(map[event.Operation]int64)
	}
	return r
}

// Subscribe 发起订阅。
func (r *Router) Subscribe(subs []event.Subscription) error {
	if r.data == nil {
		return errors.New("no data transport")
	}
	return r.data.Subscribe(subs)
}

// Execute 按顺序发送请求；单条失败不影响后续请求，错误合并返回。
func (r *Router) Execute(reqs ...event.Request) error {
	var errs []error
	for _, req := range reqs {
		if err := r.send(req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) send(req event.Request) error {
	if req.CorrelationID.IsZero() {
		return fmt.Errorf("request %s has no correlation id", req.Operation)
	}
	l := req.Leg()
	if r.orders == nil {
		return errors.New("no order transport")
	}
	if req.IsOrderFlow() && r.cfg.Limiters[l] != nil && !r.cfg.Limiters[l].Allow() {
		r.mu.Lock()
		r.stats.RateLimited[l]++
		r.mu.Unlock()
		r.logger.Warn("order flow over rate budget",
			zap.String("leg", l.String()), zap.String("correlationId", req.CorrelationID.String()))
		if r.cfg.Recorder != nil {
			r.cfg.Recorder.RecordRateLimited(l.String())
		}
	}

	channel := "rest"
	var err error
	if r.cfg.UseWebsocket[l] && req.IsOrderFlow() {
		channel = "websocket"
		err = r.orders.SendRequestByWebsocket(req)
	} else {
		err = r.orders.SendRequest(req)
	}

	r.mu.Lock()
	r.stats.Sent[l][req.Operation]++
	if err != nil {
		r.stats.Failed[l]++
	}
	r.mu.Unlock()
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.RecordRequest(l.String(), string(req.Operation), channel, err)
	}
	if err != nil {
		r.logger.Error("send request failed",
			zap.String("correlationId", req.CorrelationID.String()), zap.String("channel", channel), zap.Error(err))
		return fmt.Errorf("%s: %w", req.CorrelationID, err)
	}
	r.logger.Debug("request sent",
		zap.String("correlationId", req.CorrelationID.String()),
		zap.String("channel", channel),
		zap.String("side", string(req.Side)),
		zap.Float64("qty", req.Quantity),
		zap.Float64("price", req.LimitPrice))
	return nil
}

// Stats 返回统计副本。
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stats
	for i := range out.Sent {
		out.Sent[i] = make(map[event.Operation]int64, len(r.stats.Sent[i]))
		for k, v := range r.stats.Sent[i] {
			out.Sent[i][k] = v
		}
	}
	return out
}

// Total 某腿发送的请求总数。
func (s Stats) Total(l leg.ID) int64 {
	var n int64
	for _, v := range s.Sent[l] {
		n += v
	}
	return n
}

// Stop 停止传输层；data 与 orders 相同时只停一次。
func (r *Router) Stop() error {
	var errs []error
	if r.orders != nil {
		errs = append(errs, r.orders.Stop())
	}
	if r.data != nil && r.data != r.orders {
		errs = append(errs, r.data.Stop())
	}
	return errors.Join(errs...)
}
