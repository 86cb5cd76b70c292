package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cross-maker-go/config"
	"cross-maker-go/event"
	"cross-maker-go/execution"
	"cross-maker-go/gateway"
	"cross-maker-go/infrastructure/alert"
	"cross-maker-go/infrastructure/logger"
	"cross-maker-go/infrastructure/monitor"
	"cross-maker-go/internal/backtest"
	"cross-maker-go/internal/engine"
	"cross-maker-go/internal/store"
	"cross-maker-go/leg"
	"cross-maker-go/ledger"
	"cross-maker-go/market"
	"cross-maker-go/order"
	"cross-maker-go/pricing"
	"cross-maker-go/risk"
	"cross-maker-go/sim"
)

// Options 进程级参数。
type Options struct {
	ConfigPath string
	EnvFile    string
	Startup    engine.StartupAction
	RunID      string
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg  *config.AppConfig
	opts Options

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 传输
	bridge *gateway.BridgeTransport
	simx   *sim.Exchange
	queue  *sim.Queue
	router *execution.Router

	// 核心
	books     *market.Cache
	ledgers   [2]*ledger.Ledger
	pricing   *pricing.Engine
	lifecycle *order.Lifecycle
	risk      *risk.Manager
	engine    *engine.Engine

	// 调度
	dispatcher *engine.Dispatcher
	scheduler  *engine.Scheduler
	watcher    *config.Watcher
	replayer   *backtest.Replayer

	// 持久化
	sink  *store.CSVSink
	redis *redis.Client
	state *store.StateStore
	pnl   *store.PnLExporter

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	components *LifecycleManager
}

// New 加载配置并创建 Container
func New(opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, opts), nil
}

// NewWithConfig 使用已加载的配置创建 Container
func NewWithConfig(cfg config.AppConfig, opts Options) *Container {
	if opts.RunID == "" {
		opts.RunID = time.Now().UTC().Format("20060102T150405")
	}
	return &Container{
		cfg:        &cfg,
		opts:       opts,
		components: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildStores(); err != nil {
		return fmt.Errorf("build stores failed: %w", err)
	}
	if err := c.buildCore(); err != nil {
		return fmt.Errorf("build core failed: %w", err)
	}
	if err := c.buildTransport(); err != nil {
		return fmt.Errorf("build transport failed: %w", err)
	}
	if err := c.buildEngine(); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built",
		zap.String("mode", c.cfg.Mode),
		zap.String("runId", c.opts.RunID),
		zap.String("startup", c.opts.Startup.Kind.String()))
	return nil
}

func (c *Container) backtest() bool { return c.cfg.Mode == config.ModeBacktest }

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger.Logger)}
	if c.cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", c.cfg.Alert.WebhookURL, 5*time.Second))
	}
	var opts []alert.Option
	if c.backtest() {
		opts = append(opts, alert.WithClock(c.eventClock().Now))
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.Throttle, opts...)

	c.logger.Info("infrastructure built", zap.Strings("alertChannels", c.alerts.Channels()))
	return nil
}

func (c *Container) buildStores() error {
	if c.cfg.Results.Directory != "" && !c.cfg.Results.OnlyFinalSummary {
		sink, err := store.NewCSVSink(c.cfg.Results.Directory, c.cfg.Results.Prefix)
		if err != nil {
			return err
		}
		c.sink = sink
	}
	if c.cfg.Redis.Addr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
		})
		c.state = store.NewStateStore(c.redis, c.cfg.Redis.Key, 0)
	}
	if c.cfg.Database.Driver != "" {
		db, err := store.OpenDB(c.cfg.Database.Driver, c.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		c.pnl, err = store.NewPnLExporter(db, c.opts.RunID, c.cfg.Mode)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) buildCore() error {
	insts := [2]leg.Instrument{c.cfg.Legs.A.Instrument(), c.cfg.Legs.B.Instrument()}
	s := c.cfg.Strategy

	c.books = market.NewCache()
	for _, l := range leg.All {
		lc := c.cfg.Legs.Leg(l)
		c.ledgers[l] = ledger.New(insts[l], lc.InitialBase, lc.InitialQuote)
	}

	var err error
	c.pricing, err = pricing.New(pricing.Params{
		SignalVector:     s.SignalVector,
		TradingVector:    s.TradingVector,
		Margin:           s.Margin,
		Stepback:         s.Stepback,
		Epsilon:          s.Epsilon,
		TypicalOrderSize: s.TypicalOrderSize,
	}, insts[leg.A], insts[leg.B])
	if err != nil {
		return fmt.Errorf("create pricing engine: %w", err)
	}

	lcCfg := order.Config{
		Instruments:   insts,
		TradingVector: s.TradingVector,
		PostOnly:      s.PostOnly,
		Logger:        c.logger.Component("order"),
	}
	riskCfg := risk.Config{
		Instruments:           insts,
		TradingVector:         s.TradingVector,
		TypicalOrderSize:      s.TypicalOrderSize,
		NC2L:                  c.cfg.Risk.NC2L,
		KillSwitchMaxDrawdown: c.cfg.Risk.KillSwitchMaxDrawdown,
		Notifier:              risk.NewNotifier(c.alerts, c.logger.Component("risk")),
		Logger:                c.logger.Component("risk"),
	}
	if c.backtest() {
		clk := c.eventClock()
		lcCfg.Now = clk.Now
		riskCfg.Clock = clk
	}
	c.lifecycle = order.NewLifecycle(lcCfg)
	c.risk, err = risk.NewManager(riskCfg)
	if err != nil {
		return fmt.Errorf("create risk manager: %w", err)
	}
	return nil
}

// buildTransport 按模式组装行情与下单通道：
// live 均走桥接，paper 行情走桥接、下单走模拟交易所，backtest 均为模拟交易所。
func (c *Container) buildTransport() error {
	var data, orders execution.Transport
	if c.cfg.Mode != config.ModeLive {
		c.queue = sim.NewQueue()
		c.simx = sim.NewExchange(sim.Config{
			Instruments: [2]leg.Instrument{c.cfg.Legs.A.Instrument(), c.cfg.Legs.B.Instrument()},
			Fees:        [2]ledger.FeeSchedule{c.cfg.Legs.A.Fees.Schedule(), c.cfg.Legs.B.Fees.Schedule()},
			MarketImpactFactor: [2]float64{
				c.cfg.Legs.A.MarketImpactFactor,
				c.cfg.Legs.B.MarketImpactFactor,
			},
			Logger: c.logger.Component("sim"),
		}, c.books, c.ledgers, c.queue)
		data, orders = c.simx, c.simx
	}
	if !c.backtest() {
		c.bridge = gateway.NewBridgeTransport(gateway.BridgeConfig{
			WebsocketURL: c.cfg.Gateway.WebsocketURL,
			RestURL:      c.cfg.Gateway.RestURL,
			APIKey:       c.cfg.Gateway.APIKey,
			RateLimit:    c.cfg.Legs.A.RateLimit + c.cfg.Legs.B.RateLimit,
			Burst:        c.cfg.Legs.A.Burst + c.cfg.Legs.B.Burst,
			Logger:       c.logger.Logger,
		}, c.post)
		data = c.bridge
		if c.cfg.Mode == config.ModeLive {
			orders = c.bridge
		}
	}

	rcfg := execution.Config{Logger: c.logger.Component("router"), Recorder: c.monitor}
	for _, l := range leg.All {
		lc := c.cfg.Legs.Leg(l)
		rcfg.UseWebsocket[l] = lc.UseWebsocketOrders
		rcfg.Limiters[l] = gateway.NewTokenBucketLimiter(lc.RateLimit, lc.Burst)
	}
	c.router = execution.NewRouter(data, orders, rcfg)
	return nil
}

// post 传输层回调，投递到调度队列。
func (c *Container) post(ev event.Event) bool {
	if c.dispatcher == nil {
		return false
	}
	return c.dispatcher.Post(ev)
}

func (c *Container) buildEngine() error {
	ecfg := engine.Config{
		Instruments:            [2]leg.Instrument{c.cfg.Legs.A.Instrument(), c.cfg.Legs.B.Instrument()},
		UseGetAccounts:         [2]bool{c.cfg.Legs.A.UseGetAccounts, c.cfg.Legs.B.UseGetAccounts},
		EnableMarketMaking:     c.cfg.Strategy.EnableMarketMaking,
		Backtest:               c.backtest(),
		LockSweepInterval:      c.cfg.Timers.LockSweep,
		AccountRefreshInterval: c.cfg.Timers.AccountRefresh,
		Startup:                c.opts.Startup,
	}
	if c.backtest() {
		bc, err := backtest.ConfigFrom(c.cfg.Backtest, c.cfg.Legs)
		if err != nil {
			return err
		}
		c.replayer = backtest.New(bc, c.logger.Logger)
		ecfg.Replay = c.replayer.Replay
	}

	comps := engine.Components{
		Pricing:   c.pricing,
		Lifecycle: c.lifecycle,
		Risk:      c.risk,
		Books:     c.books,
		Ledgers:   c.ledgers,
		Router:    c.router,
		Metrics:   c.monitor,
		Alerts:    c.alerts,
		Logger:    c.logger.Logger,
	}
	if c.simx != nil {
		comps.Queue = c.queue
		comps.Simulator = c.simx
	}
	comps.Sink = &journal{csv: c.sink, logger: c.logger}
	if c.state != nil {
		comps.Store = c.state
	}

	var err error
	c.engine, err = engine.New(ecfg, comps)
	if err != nil {
		return err
	}
	if !c.backtest() {
		c.dispatcher = engine.NewDispatcher(c.engine, 4096, c.logger.Logger)
		c.scheduler = engine.NewScheduler(c.post, c.cfg.Timers.LockSweep, c.cfg.Timers.AccountRefresh, c.logger.Logger)
		if c.pnl != nil {
			c.scheduler.Func("pnl_export", c.cfg.Database.ExportInterval, c.exportPnL)
		}
	}
	return nil
}

// restoreState restart 启动时从 Redis 恢复上次的定价与账本状态。
func (c *Container) restoreState(ctx context.Context) error {
	if c.state == nil {
		return nil
	}
	if c.opts.Startup.Kind.ResetsState() {
		if err := c.state.Clear(ctx); err != nil {
			return err
		}
		c.logger.Info("persisted state cleared", zap.String("startup", c.opts.Startup.Kind.String()))
		return nil
	}
	snap, ok, err := c.state.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Info("no persisted state, starting fresh")
		return nil
	}
	c.engine.Restore(snap)
	c.logger.Info("state restored",
		zap.Time("savedAt", snap.SavedAt),
		zap.Float64("theo", snap.Pricing.TheoreticalPrice),
		zap.Float64("peak", snap.Peak))
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.MetricsAddr != "" {
		c.components.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.MetricsAddr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	if c.backtest() {
		c.components.Register(&funcComponent{name: "engine", start: func(context.Context) error { return c.engine.Start() }})
		return
	}
	c.components.Register(&dispatcherComponent{d: c.dispatcher, e: c.engine})
	c.components.Register(&funcComponent{name: "bridge", start: func(context.Context) error { return c.bridge.Start() }, stop: c.bridge.Stop})
	c.components.Register(&funcComponent{
		name:  "engine",
		start: func(context.Context) error { return c.startEngine() },
		stop:  c.finishEngine,
	})
	c.components.Register(&funcComponent{
		name:  "scheduler",
		start: func(context.Context) error { c.scheduler.Start(); return nil },
		stop:  func() error { c.scheduler.Stop(); return nil },
	})
	if c.opts.ConfigPath != "" {
		c.components.Register(&funcComponent{name: "config_watcher", start: c.startWatcher, stop: c.stopWatcher})
	}
}

// startEngine 在调度协程内启动引擎。
func (c *Container) startEngine() error {
	errCh := make(chan error, 1)
	if !c.dispatcher.Do(func(e *engine.Engine) { errCh <- e.Start() }) {
		return engine.ErrNotReady
	}
	select {
	case err := <-errCh:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("engine start timed out")
	}
}

// finishEngine 停止前保存状态。
func (c *Container) finishEngine() error {
	select {
	case <-c.engine.Done():
		return nil
	default:
	}
	done := make(chan struct{})
	if !c.dispatcher.Do(func(e *engine.Engine) { e.Finish(); close(done) }) {
		return nil
	}
	select {
	case <-done:
	case <-c.engine.Done():
	case <-time.After(10 * time.Second):
		c.logger.Warn("timeout waiting for engine to finish")
	}
	return nil
}

func (c *Container) startWatcher(ctx context.Context) error {
	w, err := config.NewWatcher(c.opts.ConfigPath, c.opts.EnvFile, time.Second, c.cfg.Reloadable(), c.logger.Logger,
		func(r config.Reloadable) {
			lim := engine.Limits{
				TypicalOrderSize:      r.TypicalOrderSize,
				NC2L:                  r.NC2L,
				KillSwitchMaxDrawdown: r.KillSwitchMaxDrawdown,
			}
			if !c.dispatcher.Do(func(e *engine.Engine) { e.ApplyLimits(lim) }) {
				c.logger.Warn("limits update dropped, dispatcher stopped")
			}
		})
	if err != nil {
		return err
	}
	c.watcher = w
	return w.Start(ctx)
}

func (c *Container) stopWatcher() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Stop()
}

// Start 恢复状态并按顺序启动组件；回测时在此同步完成整个回放。
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.restoreState(ctx); err != nil {
		return fmt.Errorf("restore state failed: %w", err)
	}
	if err := c.components.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Done 引擎结束（回测完成或清仓启动动作完成）时关闭。
func (c *Container) Done() <-chan struct{} { return c.engine.Done() }

// Summary 读取运行汇总；实时模式经由调度协程读取。
func (c *Container) Summary() (engine.Summary, error) {
	if c.dispatcher == nil {
		return c.engine.Summary(), nil
	}
	select {
	case <-c.engine.Done():
		return c.engine.Summary(), nil
	default:
	}
	ch := make(chan engine.Summary, 1)
	if !c.dispatcher.Do(func(e *engine.Engine) { ch <- e.Summary() }) {
		return c.engine.Summary(), nil
	}
	select {
	case s := <-ch:
		return s, nil
	case <-c.engine.Done():
		return c.engine.Summary(), nil
	case <-time.After(5 * time.Second):
		return engine.Summary{}, fmt.Errorf("summary timed out")
	}
}

// ReplayStats 回测回放统计。
func (c *Container) ReplayStats() backtest.Stats {
	if c.replayer == nil {
		return backtest.Stats{}
	}
	return c.replayer.Stats()
}

// Config 当前配置副本。
func (c *Container) Config() config.AppConfig { return *c.cfg }

// RunID 本次运行标识。
func (c *Container) RunID() string { return c.opts.RunID }

// Logger 容器日志器。
func (c *Container) Logger() *logger.Logger { return c.logger }

func (c *Container) exportPnL() {
	s, err := c.Summary()
	if err != nil {
		c.logger.Warn("pnl export skipped", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.pnl.Export(ctx, s); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "pnl_export"})
	}
}

// Stop 逆序停止组件，写出最终汇总并关闭存储。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	var errs []error
	if err := c.components.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		errs = append(errs, err)
	}
	if c.pnl != nil {
		c.exportPnL()
		errs = append(errs, c.pnl.Close())
	}
	if c.sink != nil {
		errs = append(errs, c.sink.Close())
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.router != nil {
		st := c.router.Stats()
		c.logger.Info("request totals",
			zap.Int64("prodA", st.Total(leg.A)), zap.Int64("prodB", st.Total(leg.B)),
			zap.Int64("rateLimitedA", st.RateLimited[leg.A]), zap.Int64("rateLimitedB", st.RateLimited[leg.B]))
	}
	c.logger.Close()
	return errors.Join(errs...)
}

func (c *Container) HealthCheck() error {
	return c.components.CheckHealth()
}

// eventClock 回测时以最近一次事件时间作为各组件的时钟。
func (c *Container) eventClock() eventClock { return eventClock{c: c} }

type eventClock struct{ c *Container }

func (k eventClock) Now() time.Time {
	if k.c.engine != nil {
		if t := k.c.engine.Stats().LastEventTime; !t.IsZero() {
			return t
		}
	}
	return time.Now().UTC()
}

// journal 成交与订单流水：写结构化日志，配置了结果目录时同时写 CSV。
type journal struct {
	csv    *store.CSVSink
	logger *logger.Logger
}

func (j *journal) RecordFill(ts time.Time, l leg.ID, f event.Fill) error {
	j.logger.LogTrade(l.String(), string(f.Side), f.Price, f.Quantity, f.Fee, f.FeeAsset, f.IsMaker, ts)
	if j.csv == nil {
		return nil
	}
	return j.csv.RecordFill(ts, l, f)
}

func (j *journal) RecordOrder(ts time.Time, l leg.ID, u event.OrderUpdate) error {
	j.logger.LogOrder(string(u.Status), l.String(), u.OrderID, ts, map[string]interface{}{
		"clientOrderId":    u.ClientOrderID,
		"side":             string(u.Side),
		"limitPrice":       u.LimitPrice,
		"quantity":         u.Quantity,
		"cumulativeFilled": u.CumulativeFilled,
	})
	if j.csv == nil {
		return nil
	}
	return j.csv.RecordOrder(ts, l, u)
}
