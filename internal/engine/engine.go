// Package engine 事件处理器：接收传输层事件，驱动定价、订单生命周期与风控，
// 所有状态只在调度协程内访问。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cross-maker-go/event"
	"cross-maker-go/leg"
	"cross-maker-go/ledger"
	"cross-maker-go/market"
	"cross-maker-go/order"
	"cross-maker-go/pricing"
	"cross-maker-go/risk"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateStarting 等待合约、订阅与账户信息
	StateStarting EngineState = iota
	// StateRunning 正常报价
	StateRunning
	// StateHalted 止损触发后只处理回报，不再报价
	StateHalted
	// StateStopped 已结束
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateHalted:
		return "HALTED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// DefaultMaxDrain 单个外部事件后最多处理的合成事件数
const DefaultMaxDrain = 10000

var (
	ErrNotReady   = errors.New("engine not ready")
	ErrNoRouter   = errors.New("engine requires a request router")
	ErrNoPricing  = errors.New("engine requires a pricing engine")
	ErrNoLedgers  = errors.New("engine requires both ledgers")
	ErrDrainLimit = errors.New("synthetic event drain limit reached")
)

// Router 请求出口，execution.Router 满足该接口。
type Router interface {
	Subscribe(subs []event.Subscription) error
	Execute(reqs ...event.Request) error
}

// Simulator 模拟交易所在行情更新时撮合挂单。
type Simulator interface {
	SetTime(t time.Time)
	OnDepth(l leg.ID)
}

// Sink 成交与订单流水输出。
type Sink interface {
	RecordFill(ts time.Time, l leg.ID, f event.Fill) error
	RecordOrder(ts time.Time, l leg.ID, u event.OrderUpdate) error
}

// StateSaver 持久化重启所需状态。
type StateSaver interface {
	Save(ctx context.Context, s Snapshot) error
}

// Snapshot 重启续跑所需的状态。
type Snapshot struct {
	Pricing pricing.State      `json:"pricing"`
	Peak    float64            `json:"peak"`
	Ledgers [2]ledger.Snapshot `json:"ledgers"`
	SavedAt time.Time          `json:"savedAt"`
}

// Config 引擎配置
type Config struct {
	Instruments        [2]leg.Instrument
	UseGetAccounts     [2]bool
	EnableMarketMaking bool

	// Backtest 为 true 时定时器按事件时间触发，实时模式由调度器注入 TIMER 事件
	Backtest               bool
	LockSweepInterval      time.Duration
	AccountRefreshInterval time.Duration
	MaxDrain               int

	Startup StartupAction

	// Replay 回测时在启动完成后同步回放历史行情
	Replay func(handler event.Handler) error
}

// Components 引擎依赖组件
type Components struct {
	Pricing   *pricing.Engine
	Lifecycle *order.Lifecycle
	Risk      *risk.Manager
	Books     *market.Cache
	Ledgers   [2]*ledger.Ledger
	Router    Router
	Queue     EventQueue
	Simulator Simulator
	Metrics   Metrics
	Sink      Sink
	Store     StateSaver
	Alerts    risk.AlertClient
	Logger    *zap.Logger
}

// EventQueue 合成事件队列，sim.Queue 满足该接口。
type EventQueue interface {
	Pop() (event.Event, bool)
	Len() int
	Clear()
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime      time.Time
	LastEventTime  time.Time
	Events         int64
	MarketUpdates  int64
	PublicTrades   int64
	Fills          [2]int64
	MakerFills     [2]int64
	Requotes       [2]int64
	Hedges         [2]int64
	Rebalances     int64
	Sweeps         int64
	ResponseErrors int64
	DrainOverflows int64
}

// Engine 事件处理器
type Engine struct {
	cfg    Config
	c      Components
	logger *zap.Logger
	inst   [2]leg.Instrument

	state        EngineState
	subscribed   map[string]bool
	subsExpected int
	resolved     [2]bool
	balancesSeen [2]bool
	positionSeen [2]bool
	startupDone  bool
	replayed     bool
	reported     [2]float64

	outbox []event.Request

	// startupOrdersPending 首个完整盘口时发送启动吃单
	startupOrdersPending bool
	// takerPending 在途的启动吃单，订单号到腿
	takerPending     map[string]leg.ID
	rebalancePending string
	lastSweep        time.Time
	lastRefresh      time.Time
	now              time.Time

	stats Statistics
	done  chan struct{}
}

// New 创建事件处理器
func New(cfg Config, c Components) (*Engine, error) {
	if c.Router == nil {
		return nil, ErrNoRouter
	}
	if c.Pricing == nil {
		return nil, ErrNoPricing
	}
	if c.Ledgers[leg.A] == nil || c.Ledgers[leg.B] == nil {
		return nil, ErrNoLedgers
	}
	if c.Lifecycle == nil || c.Risk == nil || c.Books == nil {
		return nil, fmt.Errorf("invalid components: lifecycle, risk and books are required")
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	if cfg.MaxDrain <= 0 {
		cfg.MaxDrain = DefaultMaxDrain
	}
	if cfg.LockSweepInterval <= 0 {
		cfg.LockSweepInterval = 180 * time.Second
	}
	if cfg.AccountRefreshInterval <= 0 {
		cfg.AccountRefreshInterval = 6 * time.Hour
	}
	return &Engine{
		cfg:          cfg,
		c:            c,
		logger:       c.Logger.Named("engine"),
		inst:         cfg.Instruments,
		state:        StateStarting,
		subscribed:   make(map[string]bool),
		takerPending: make(map[string]leg.ID),
		done:         make(chan struct{}),
	}, nil
}

// State 当前状态
func (e *Engine) State() EngineState { return e.state }

// Stats 统计副本
func (e *Engine) Stats() Statistics { return e.stats }

// Done 回测结束或清仓启动动作完成后关闭
func (e *Engine) Done() <-chan struct{} { return e.done }

// Instrument 当前生效的合约元数据
func (e *Engine) Instrument(l leg.ID) leg.Instrument { return e.inst[l] }

// Restore 恢复持久化状态，须在 Start 之前调用
func (e *Engine) Restore(s Snapshot) {
	e.c.Pricing.Restore(s.Pricing)
	e.c.Risk.RestorePeak(s.Peak)
	for _, l := range leg.All {
		e.c.Ledgers[l].Restore(s.Ledgers[l])
	}
	e.logger.Info("state restored",
		zap.Float64("theo", s.Pricing.TheoreticalPrice),
		zap.Float64("peak", s.Peak),
		zap.Float64("positionA", s.Ledgers[leg.A].Position),
		zap.Float64("positionB", s.Ledgers[leg.B].Position),
		zap.Time("savedAt", s.SavedAt))
}

// Snapshot 导出需要持久化的状态
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Pricing: e.c.Pricing.State(),
		Peak:    e.c.Risk.Peak(),
		Ledgers: [2]ledger.Snapshot{e.c.Ledgers[leg.A].Snapshot(), e.c.Ledgers[leg.B].Snapshot()},
		SavedAt: e.clock(),
	}
}

// Start 发起订阅与启动查询；回报通过 ProcessEvent 进入。
// 回测时模拟交易所同步应答，Start 直接完成整个回放。
func (e *Engine) Start() error {
	e.stats.StartTime = time.Now()
	subs := make([]event.Subscription, 0, 8)
	for _, l := range leg.All {
		inst := e.inst[l]
		for _, a := range []event.Action{event.ActionMarketDepth, event.ActionTrade, event.ActionPrivateTrade, event.ActionOrderUpdate} {
			subs = append(subs, event.Subscription{
				Exchange:      inst.Exchange,
				Symbol:        inst.StreamSymbol(),
				Field:         a,
				CorrelationID: event.NewCorrelationID(a, l),
			})
		}
	}
	e.subsExpected = len(subs)
	e.logger.Info("engine starting",
		zap.String("exchangeA", e.inst[leg.A].Exchange), zap.String("symbolA", e.inst[leg.A].Symbol),
		zap.String("exchangeB", e.inst[leg.B].Exchange), zap.String("symbolB", e.inst[leg.B].Symbol),
		zap.String("startup", e.cfg.Startup.Kind.String()),
		zap.Bool("backtest", e.cfg.Backtest))
	if err := e.c.Router.Subscribe(subs); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for _, l := range leg.All {
		inst := e.inst[l]
		e.outbox = append(e.outbox, event.Request{
			Operation:     event.OpGetInstrument,
			Exchange:      inst.Exchange,
			Symbol:        inst.Symbol,
			CorrelationID: event.NewCorrelationID(event.ActionGetInstrument, l),
		})
	}
	e.queueAccountQueries()
	e.flush()
	e.drain()
	e.maybeReplay()
	return nil
}

func (e *Engine) queueAccountQueries() {
	for _, l := range leg.All {
		inst := e.inst[l]
		op := event.OpGetAccountBalances
		if e.cfg.UseGetAccounts[l] {
			op = event.OpGetAccounts
		}
		e.outbox = append(e.outbox,
			event.Request{
				Operation:     op,
				Exchange:      inst.Exchange,
				Symbol:        inst.Symbol,
				CorrelationID: event.NewCorrelationID(event.ActionGetAccountBalances, l),
			},
			event.Request{
				Operation:     event.OpGetAccountPositions,
				Exchange:      inst.Exchange,
				Symbol:        inst.Symbol,
				CorrelationID: event.NewCorrelationID(event.ActionGetAccountPositions, l),
			})
	}
}

// ProcessEvent 唯一的传输层回调。处理事件、发送产生的请求并排空合成事件队列。
// 返回 false 表示引擎已停止。
func (e *Engine) ProcessEvent(ev event.Event) bool {
	if e.state == StateStopped {
		return false
	}
	e.handle(ev)
	e.flush()
	e.drain()
	e.maybeReplay()
	return e.state != StateStopped
}

// maybeReplay 回测启动完成后同步回放历史行情，结束后生成汇总。
func (e *Engine) maybeReplay() {
	if !e.cfg.Backtest || e.cfg.Replay == nil || !e.startupDone || e.replayed || e.state == StateStopped {
		return
	}
	e.replayed = true
	if err := e.cfg.Replay(e.ProcessEvent); err != nil {
		e.logger.Error("historical replay failed", zap.Error(err))
	}
	e.Finish()
}

// drain 处理模拟交易所产生的合成事件，直到队列为空或达到上限。
func (e *Engine) drain() {
	if e.c.Queue == nil {
		return
	}
	for n := 0; e.c.Queue.Len() > 0; n++ {
		if e.state == StateStopped {
			e.c.Queue.Clear()
			return
		}
		if n >= e.cfg.MaxDrain {
			e.stats.DrainOverflows++
			e.logger.Error("synthetic event chain too long, dropping remainder",
				zap.Int("dropped", e.c.Queue.Len()), zap.Error(ErrDrainLimit))
			e.c.Queue.Clear()
			return
		}
		ev, ok := e.c.Queue.Pop()
		if !ok {
			return
		}
		e.handle(ev)
		e.flush()
	}
}

// flush 发送本轮累积的请求。
func (e *Engine) flush() {
	if len(e.outbox) == 0 {
		return
	}
	reqs := e.outbox
	e.outbox = nil
	if err := e.c.Router.Execute(reqs...); err != nil {
		e.logger.Error("execute requests", zap.Int("count", len(reqs)), zap.Error(err))
	}
}

func (e *Engine) handle(ev event.Event) {
	e.stats.Events++
	e.c.Metrics.RecordEvent(string(ev.Type))
	for _, m := range ev.Messages {
		if !m.Time.IsZero() {
			e.now = m.Time
			e.stats.LastEventTime = m.Time
		}
	}
	if e.c.Simulator != nil && !e.now.IsZero() {
		e.c.Simulator.SetTime(e.now)
	}

	switch ev.Type {
	case event.TypeSubscriptionStatus:
		for _, m := range ev.Messages {
			e.onSubscriptionStatus(m)
		}
	case event.TypeSessionStatus:
		for _, m := range ev.Messages {
			e.onSessionStatus(m)
		}
	case event.TypeResponse:
		for _, m := range ev.Messages {
			e.onResponse(m)
		}
	case event.TypeSubscriptionData:
		for _, m := range ev.Messages {
			e.onData(m)
		}
	case event.TypeTimer:
		for _, m := range ev.Messages {
			e.onTimer(m)
		}
	default:
		e.logger.Debug("unhandled event type", zap.String("type", string(ev.Type)))
	}

	if e.cfg.Backtest {
		e.checkEventTimers()
	}
}

// clock 回测使用事件时间，实时模式使用墙钟。
func (e *Engine) clock() time.Time {
	if e.cfg.Backtest && !e.now.IsZero() {
		return e.now
	}
	return time.Now().UTC()
}

func (e *Engine) newClientID(p order.Purpose) string { return order.NewClientID(p) }

// Finish 结束运行：保存状态并关闭 Done。
func (e *Engine) Finish() {
	if e.state == StateStopped {
		return
	}
	e.persist()
	e.state = StateStopped
	s := e.Summary()
	e.logger.Info("engine finished",
		zap.Int64("events", s.Events),
		zap.Float64("totalValue", s.TotalValue),
		zap.Float64("peak", s.Peak),
		zap.Bool("stopLoss", s.StopLossTriggered),
		zap.Int64("fillsA", s.Fills[leg.A]),
		zap.Int64("fillsB", s.Fills[leg.B]))
	close(e.done)
}

func (e *Engine) persist() {
	if e.c.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.c.Store.Save(ctx, e.Snapshot()); err != nil {
		e.logger.Error("persist state failed", zap.Error(err))
	}
}
