package engine

import (
	"go.uber.org/zap"

	"cross-maker-go/leg"
	"cross-maker-go/order"
	"cross-maker-go/pricing"
	"cross-maker-go/risk"
)

// onMarketUpdate 盘口变化后依次检查止损、重新定价、库存墙、重新报价与再平衡。
func (e *Engine) onMarketUpdate() {
	if e.state != StateRunning {
		return
	}
	q := e.c.Books.Quotes()
	if !q.Complete() {
		return
	}
	mids := [2]float64{q.Mid(leg.A), q.Mid(leg.B)}
	if e.startupOrdersPending {
		e.startupOrdersPending = false
		e.queueStartupOrders(mids)
	}
	positions := e.positions()
	total := e.totalValue(mids)
	e.c.Metrics.UpdateTotalValue(total)
	if e.c.Risk.CheckDrawdown(total) {
		e.liquidate(positions)
		return
	}
	e.c.Metrics.UpdateRisk(e.c.Risk.Drawdown(), e.c.Risk.StopLossTriggered())

	res, fresh := e.c.Pricing.OnTick(q)
	if fresh {
		st := e.c.Pricing.State()
		e.c.Metrics.UpdatePricing(st.TheoreticalPrice, st.SkewUpper, st.SkewLower, st.RelativeTargetPosition)
		if res.Crossing != pricing.NoCrossing {
			e.c.Metrics.RecordCrossing(res.Crossing.String())
			e.logger.Info("theoretical price crossed",
				zap.String("direction", res.Crossing.String()),
				zap.Float64("theo", st.TheoreticalPrice),
				zap.Float64("signal0", res.Signal[0]), zap.Float64("signal1", res.Signal[1]),
				zap.Float64("skewUpper", st.SkewUpper), zap.Float64("skewLower", st.SkewLower),
				zap.Int("relativeTarget", st.RelativeTargetPosition))
		}
	}
	if res.Amounts == ([2]float64{}) {
		return
	}

	walls := e.c.Risk.EvaluateWalls(positions, mids, res.Amounts)
	e.c.Metrics.UpdateWalls(
		walls.UpperLimitReached[leg.A] || walls.UpperLimitReached[leg.B],
		walls.LowerLimitReached[leg.A] || walls.LowerLimitReached[leg.B])

	if e.cfg.EnableMarketMaking {
		for _, l := range leg.All {
			levels := res.Levels.Pair(l)
			if !e.c.Lifecycle.NeedsRequote(l, levels, walls.Allow(l)) {
				continue
			}
			if req, ok := e.c.Lifecycle.RequestRequote(l); ok {
				e.stats.Requotes[l]++
				e.outbox = append(e.outbox, req)
			}
		}
	}
	e.maybeRebalance(positions, mids)
	e.updateLockMetrics()
}

// placeQuotes 全撤确认后按最新报价重挂。
func (e *Engine) placeQuotes(l leg.ID) {
	if e.state != StateRunning {
		return
	}
	res := e.c.Pricing.Last()
	levels := res.Levels.Pair(l)
	allow := e.wallsNow(res.Amounts).Allow(l)
	reqs := e.c.Lifecycle.PrepareCreates(l, levels, res.Amounts[l], allow)
	e.outbox = append(e.outbox, reqs...)
	e.c.Metrics.UpdateQuoteLevel(l.String(), "buy", levels[0])
	e.c.Metrics.UpdateQuoteLevel(l.String(), "sell", levels[1])
	e.logger.Debug("quotes placed",
		zap.String("leg", l.String()), zap.Float64("buy", levels[0]), zap.Float64("sell", levels[1]),
		zap.Float64("amount", res.Amounts[l]), zap.Bools("allow", allow[:]), zap.Int("orders", len(reqs)))
}

// wallsNow 按当前仓位与中间价重新计算库存墙；盘口不完整时沿用上次结果。
func (e *Engine) wallsNow(amounts [2]float64) risk.Walls {
	mids := [2]float64{e.c.Books.Mid(leg.A), e.c.Books.Mid(leg.B)}
	if mids[leg.A] <= 0 || mids[leg.B] <= 0 {
		return e.c.Risk.Walls()
	}
	return e.c.Risk.EvaluateWalls(e.positions(), mids, amounts)
}

// maybeRebalance 无锁且没有在途的再平衡单与启动吃单时检查跨腿残差。
func (e *Engine) maybeRebalance(positions, mids [2]float64) {
	if e.rebalancePending != "" || len(e.takerPending) > 0 || e.c.Lifecycle.AnyLockHeld() {
		return
	}
	req, ok := e.c.Risk.Rebalance(positions, mids)
	if !ok {
		return
	}
	req.ClientOrderID = e.newClientID(order.PurposeRebalance)
	e.rebalancePending = req.ClientOrderID
	e.stats.Rebalances++
	e.outbox = append(e.outbox, req)
	e.logger.Info("rebalance order",
		zap.String("leg", req.Leg().String()), zap.String("side", string(req.Side)),
		zap.Float64("qty", req.Quantity),
		zap.Float64("positionA", positions[leg.A]), zap.Float64("positionB", positions[leg.B]))
}

// liquidate 止损：丢弃未发送的请求，撤掉所有挂单并吃单平仓，之后不再报价。
func (e *Engine) liquidate(positions [2]float64) {
	e.outbox = nil
	e.rebalancePending = ""
	e.takerPending = make(map[string]leg.ID)
	e.c.Lifecycle.Reset()
	e.outbox = append(e.outbox, e.stamp(e.c.Risk.LiquidationPlan(positions), order.PurposeLiquidation)...)
	e.state = StateHalted
	e.c.Metrics.UpdateRisk(e.c.Risk.Drawdown(), true)
	e.logger.Error("stop-loss liquidation",
		zap.Float64("peak", e.c.Risk.Peak()), zap.Float64("drawdown", e.c.Risk.Drawdown()),
		zap.Float64("positionA", positions[leg.A]), zap.Float64("positionB", positions[leg.B]),
		zap.Int("requests", len(e.outbox)))
	e.persist()
}

func (e *Engine) positions() [2]float64 {
	return [2]float64{e.c.Ledgers[leg.A].Position(), e.c.Ledgers[leg.B].Position()}
}

func (e *Engine) totalValue(mids [2]float64) float64 {
	return e.c.Ledgers[leg.A].TotalValue(mids[leg.A]) + e.c.Ledgers[leg.B].TotalValue(mids[leg.B])
}

// Limits 可热更新的风控与规模参数。
type Limits struct {
	TypicalOrderSize      float64
	NC2L                  float64
	KillSwitchMaxDrawdown float64
}

// ApplyLimits 热更新；须在调度协程内调用。
func (e *Engine) ApplyLimits(lim Limits) {
	e.c.Pricing.SetTypicalOrderSize(lim.TypicalOrderSize)
	e.c.Risk.UpdateLimits(lim.TypicalOrderSize, lim.NC2L, lim.KillSwitchMaxDrawdown)
	e.logger.Info("limits updated",
		zap.Float64("typicalOrderSize", lim.TypicalOrderSize),
		zap.Float64("nc2l", lim.NC2L),
		zap.Float64("killSwitchMaxDrawdown", lim.KillSwitchMaxDrawdown))
}
