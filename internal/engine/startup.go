package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cross-maker-go/event"
	"cross-maker-go/leg"
	"cross-maker-go/order"
)

// StartupKind 启动动作
type StartupKind int

const (
	// StartupRestart 使用持久化状态续跑
	StartupRestart StartupKind = iota
	// StartupReinit 重置定价状态、采用交易所仓位并吃单平仓后继续报价
	StartupReinit
	// StartupLiquidation 两条腿清仓后退出
	StartupLiquidation
	// StartupInitOrder 报价前按美元金额下初始吃单
	StartupInitOrder
	// StartupTarget 不重置状态，吃单调整到目标美元仓位
	StartupTarget
	// StartupLiquidationOrder 不重置状态，按美元金额部分平仓
	StartupLiquidationOrder
	// StartupReinitOrder 同 reinit 重置状态，但不平仓，改为按美元金额下初始吃单
	StartupReinitOrder
)

func (k StartupKind) String() string {
	switch k {
	case StartupReinit:
		return "reinit"
	case StartupLiquidation:
		return "liquidation"
	case StartupInitOrder:
		return "initorder"
	case StartupTarget:
		return "target"
	case StartupLiquidationOrder:
		return "liquidationorder"
	case StartupReinitOrder:
		return "reinitorder"
	default:
		return "restart"
	}
}

// ResetsState 是否丢弃持久化状态、重置定价并以交易所仓位为准。
func (k StartupKind) ResetsState() bool {
	return k == StartupReinit || k == StartupReinitOrder || k == StartupLiquidation
}

// StartupAction 启动动作及参数。
// USD 含义随动作不同：initorder/reinitorder 为带符号下单金额（正数买入），
// target 为目标仓位的美元价值，liquidationorder 为每条腿最多平掉的美元金额。
type StartupAction struct {
	Kind StartupKind
	USD  [2]float64
}

// ParseStartupAction 解析命令行参数：
//
//	restart | reinit | liquidation
//	initorder <usdA> <usdB> | reinitorder <usdA> <usdB>
//	target <posA> <posB> | liquidationorder <usdA> <usdB>
func ParseStartupAction(args []string) (StartupAction, error) {
	if len(args) == 0 {
		return StartupAction{Kind: StartupRestart}, nil
	}
	name := strings.ToLower(args[0])
	var kind StartupKind
	switch name {
	case "", "restart":
		return StartupAction{Kind: StartupRestart}, nil
	case "reinit":
		return StartupAction{Kind: StartupReinit}, nil
	case "liquidation":
		return StartupAction{Kind: StartupLiquidation}, nil
	case "initorder":
		kind = StartupInitOrder
	case "target":
		kind = StartupTarget
	case "liquidationorder":
		kind = StartupLiquidationOrder
	case "reinitorder":
		kind = StartupReinitOrder
	default:
		return StartupAction{}, fmt.Errorf("unknown startup action %q", args[0])
	}
	if len(args) != 3 {
		return StartupAction{}, fmt.Errorf("%s requires two USD amounts, got %d args", name, len(args)-1)
	}
	a := StartupAction{Kind: kind}
	for i, s := range args[1:] {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return StartupAction{}, fmt.Errorf("%s amount %q: %w", name, s, err)
		}
		if kind == StartupLiquidationOrder && v < 0 {
			return StartupAction{}, fmt.Errorf("liquidationorder amount %q must not be negative", s)
		}
		a.USD[i] = v
	}
	return a, nil
}

// ready 合约、订阅与仓位回报都已就绪。
func (e *Engine) ready() bool {
	return e.resolved[leg.A] && e.resolved[leg.B] &&
		len(e.subscribed) >= e.subsExpected &&
		e.positionSeen[leg.A] && e.positionSeen[leg.B]
}

// maybeCompleteStartup 就绪后执行一次启动动作并进入运行状态。
func (e *Engine) maybeCompleteStartup() {
	if e.startupDone || e.state != StateStarting || !e.ready() {
		return
	}
	e.startupDone = true
	e.lastSweep, e.lastRefresh = e.now, e.now

	switch e.cfg.Startup.Kind {
	case StartupLiquidation:
		positions := e.reported
		e.logger.Warn("startup liquidation",
			zap.Float64("positionA", positions[leg.A]), zap.Float64("positionB", positions[leg.B]))
		e.c.Lifecycle.Reset()
		e.outbox = append(e.outbox, e.stamp(e.c.Risk.LiquidationPlan(positions), order.PurposeLiquidation)...)
		e.flush()
		e.drain()
		e.Finish()
		return
	case StartupReinit, StartupReinitOrder:
		e.c.Pricing.Reset()
		for _, l := range leg.All {
			e.c.Ledgers[l].SetPosition(e.reported[l])
			e.c.Metrics.UpdateMismatch(l.String(), false)
		}
		e.c.Risk.ClearMismatch()
		e.logger.Info("reinitialized from exchange positions",
			zap.Float64("positionA", e.c.Ledgers[leg.A].Position()),
			zap.Float64("positionB", e.c.Ledgers[leg.B].Position()))
		e.startupOrdersPending = true
	case StartupInitOrder, StartupTarget, StartupLiquidationOrder:
		e.startupOrdersPending = true
	}

	e.state = StateRunning
	e.logger.Info("engine running",
		zap.String("startup", e.cfg.Startup.Kind.String()),
		zap.Float64("priceIncrementA", e.inst[leg.A].PriceIncrement),
		zap.Float64("priceIncrementB", e.inst[leg.B].PriceIncrement))
	e.onMarketUpdate()
}

// queueStartupOrders 首次拿到完整盘口后生成启动吃单，之后照常报价。
func (e *Engine) queueStartupOrders(mids [2]float64) {
	a := e.cfg.Startup
	var reqs []event.Request
	switch a.Kind {
	case StartupReinit:
		reqs = e.stamp(e.c.Risk.FlattenOrders(e.positions()), order.PurposeLiquidation)
	case StartupInitOrder, StartupReinitOrder:
		for _, l := range leg.All {
			if req, ok := e.usdOrder(l, a.USD[l], mids[l], order.PurposeInit); ok {
				reqs = append(reqs, req)
			}
		}
	case StartupTarget:
		for _, l := range leg.All {
			delta := a.USD[l] - e.inst[l].Notional(e.c.Ledgers[l].Position(), mids[l])
			if req, ok := e.usdOrder(l, delta, mids[l], order.PurposeInit); ok {
				reqs = append(reqs, req)
			}
		}
	case StartupLiquidationOrder:
		for _, l := range leg.All {
			if req, ok := e.reduceOrder(l, a.USD[l], mids[l]); ok {
				reqs = append(reqs, req)
			}
		}
	}
	for _, req := range reqs {
		e.takerPending[req.ClientOrderID] = req.Leg()
		e.logger.Info("startup order queued",
			zap.String("startup", a.Kind.String()), zap.String("leg", req.Leg().String()),
			zap.String("side", string(req.Side)), zap.Float64("qty", req.Quantity),
			zap.String("clientOrderId", req.ClientOrderID))
	}
	e.outbox = append(e.outbox, reqs...)
}

// usdOrder 按带符号美元金额生成吃单，取整后为零则跳过。
func (e *Engine) usdOrder(l leg.ID, usd, mid float64, p order.Purpose) (event.Request, bool) {
	if usd == 0 || mid <= 0 {
		return event.Request{}, false
	}
	inst := e.inst[l]
	qty := inst.RoundQuantityDown(inst.QuantityForNotional(math.Abs(usd), mid))
	if qty <= 0 {
		e.logger.Warn("startup order rounds to zero", zap.String("leg", l.String()), zap.Float64("usd", usd))
		return event.Request{}, false
	}
	return e.takerRequest(l, leg.SideForDelta(usd), qty, p), true
}

// reduceOrder 减仓方向吃单，数量不超过当前仓位。
func (e *Engine) reduceOrder(l leg.ID, usd, mid float64) (event.Request, bool) {
	pos := e.c.Ledgers[l].Position()
	if pos == 0 || usd <= 0 || mid <= 0 {
		return event.Request{}, false
	}
	inst := e.inst[l]
	qty := inst.RoundQuantityDown(math.Min(math.Abs(pos), inst.QuantityForNotional(usd, mid)))
	if qty <= 0 {
		return event.Request{}, false
	}
	return e.takerRequest(l, leg.SideForDelta(-pos), qty, order.PurposeLiquidation), true
}

func (e *Engine) takerRequest(l leg.ID, side leg.Side, qty float64, p order.Purpose) event.Request {
	inst := e.inst[l]
	return event.Request{
		Operation:     event.OpCreateOrder,
		Exchange:      inst.Exchange,
		Symbol:        inst.Symbol,
		CorrelationID: event.NewCorrelationID(event.CreateAction(side), l),
		Side:          side,
		Quantity:      qty,
		ClientOrderID: e.newClientID(p),
	}
}

// stamp 为没有订单号的下单请求补上指定用途的订单号。
func (e *Engine) stamp(reqs []event.Request, p order.Purpose) []event.Request {
	for i := range reqs {
		if reqs[i].Operation == event.OpCreateOrder && reqs[i].ClientOrderID == "" {
			reqs[i].ClientOrderID = e.newClientID(p)
		}
	}
	return reqs
}
