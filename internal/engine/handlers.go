package engine

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"cross-maker-go/event"
	"cross-maker-go/leg"
	"cross-maker-go/order"
)

// benignCancelErrors 全撤时交易所返回的“没有挂单”类错误，视为撤单成功。
var benignCancelErrors = []string{
	"no open order",
	"no orders",
	"order does not exist",
	"no need to cancel",
}

func isBenignCancelError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range benignCancelErrors {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func (e *Engine) onSubscriptionStatus(m event.Message) {
	switch m.Type {
	case event.MsgSubscriptionStarted:
		key := m.CorrelationID.String()
		if !e.subscribed[key] {
			e.subscribed[key] = true
			e.logger.Debug("subscription started", zap.String("correlationId", key),
				zap.Int("started", len(e.subscribed)), zap.Int("expected", e.subsExpected))
		}
		e.maybeCompleteStartup()
	case event.MsgSubscriptionFailure:
		e.logger.Error("subscription failed",
			zap.String("correlationId", m.CorrelationID.String()), zap.String("error", m.Error))
		e.alert(false, "subscription failed", map[string]interface{}{
			"correlationId": m.CorrelationID.String(), "error": m.Error,
		})
	}
}

func (e *Engine) onSessionStatus(m event.Message) {
	switch m.Type {
	case event.MsgSessionUp:
		e.logger.Info("session connected")
		// 重连后重新同步账户
		if e.startupDone {
			e.queueAccountQueries()
		}
	case event.MsgSessionDown:
		e.logger.Warn("session disconnected")
	default:
		e.logger.Debug("session status", zap.String("type", string(m.Type)))
	}
}

func (e *Engine) onResponse(m event.Message) {
	l := m.CorrelationID.Leg
	if !l.Valid() {
		e.logger.Warn("response without leg", zap.String("type", string(m.Type)))
		return
	}
	switch m.Type {
	case event.MsgResponseError:
		e.onResponseError(m)
	case event.MsgGetInstrument:
		e.onInstrument(l, m.Instrument)
	case event.MsgGetAccountBalances, event.MsgGetAccounts:
		e.onBalances(l, m.Balances)
	case event.MsgGetAccountPositions:
		e.onPositions(l, m.Positions)
	case event.MsgCreateOrder:
		e.onCreateResponse(m)
	case event.MsgCancelOpenOrders:
		e.onCancelAllConfirmed(l)
	case event.MsgCancelOrder:
		e.logger.Debug("cancel order acknowledged", zap.String("correlationId", m.CorrelationID.String()))
	default:
		e.logger.Debug("unhandled response", zap.String("type", string(m.Type)))
	}
	e.updateLockMetrics()
}

// clientOrderID 回报中的客户端订单号，优先取订单快照。
func clientOrderID(m event.Message) string {
	if m.Order != nil && m.Order.ClientOrderID != "" {
		return m.Order.ClientOrderID
	}
	return m.ClientOrderID
}

func (e *Engine) onResponseError(m event.Message) {
	e.stats.ResponseErrors++
	cid := m.CorrelationID
	l := cid.Leg
	fields := []zap.Field{zap.String("correlationId", cid.String()), zap.String("error", m.Error)}

	switch cid.Action {
	case event.ActionCreateOrderBuy, event.ActionCreateOrderSell:
		id := clientOrderID(m)
		if p := order.PurposeOf(id); p.Taker() {
			e.onTakerRejected(l, p, id, m.Error, fields)
			return
		}
		side, _ := cid.Action.Side()
		e.c.Lifecycle.OnCreateFailed(l, side)
		e.c.Metrics.RecordOrderRejected(l.String())
		e.logger.Warn("create order rejected", fields...)
	case event.ActionCancelAllOrders:
		if isBenignCancelError(m.Error) {
			e.logger.Debug("cancel-all found no open orders", fields...)
			e.onCancelAllConfirmed(l)
			return
		}
		// 锁保持到兜底清理
		e.logger.Error("cancel-all failed", fields...)
	case event.ActionCancelBuyOrder, event.ActionCancelSellOrder:
		e.logger.Info("cancel order failed", fields...)
	case event.ActionGetInstrument:
		e.logger.Error("instrument query failed", fields...)
		e.alert(true, "instrument query failed", map[string]interface{}{"leg": l.String(), "error": m.Error})
	default:
		e.logger.Warn("request failed", fields...)
	}
}

// onTakerRejected 吃单被拒，按订单号前缀区分用途。
func (e *Engine) onTakerRejected(l leg.ID, p order.Purpose, id, reason string, fields []zap.Field) {
	fields = append(fields, zap.String("clientOrderId", id))
	delete(e.takerPending, id)
	switch p {
	case order.PurposeHedge:
		e.c.Lifecycle.OnHedgeFailed(l)
		e.logger.Error("hedge order rejected", fields...)
		e.alert(true, "hedge order rejected", map[string]interface{}{"leg": l.String(), "error": reason})
	case order.PurposeRebalance:
		if id == e.rebalancePending {
			e.rebalancePending = ""
		}
		e.logger.Warn("rebalance order rejected", fields...)
	case order.PurposeLiquidation:
		e.logger.Error("liquidation order rejected", fields...)
		e.alert(true, "liquidation order rejected", map[string]interface{}{"leg": l.String(), "error": reason})
	default:
		e.logger.Warn("startup order rejected", fields...)
	}
}

func (e *Engine) onCreateResponse(m event.Message) {
	cid := m.CorrelationID
	l := cid.Leg
	side, _ := cid.Action.Side()
	if id := clientOrderID(m); order.PurposeOf(id).Taker() {
		e.logger.Info("taker order accepted",
			zap.String("correlationId", cid.String()), zap.String("clientOrderId", id),
			zap.String("purpose", string(order.PurposeOf(id))))
		return
	}
	o := order.Order{Side: side}
	if m.Order != nil {
		o = order.FromUpdate(l, *m.Order, e.clock())
		if o.Side == "" {
			o.Side = side
		}
	}
	e.confirmCreate(l, o)
}

// confirmCreate 下单确认；只有等待确认的槽位才计入下单指标。
func (e *Engine) confirmCreate(l leg.ID, o order.Order) {
	if e.c.Lifecycle.Slot(l, o.Side).Kind() == order.SlotPendingCreate {
		e.c.Metrics.RecordOrderPlaced(l.String())
	}
	e.c.Lifecycle.OnCreateConfirmed(l, o)
}

func (e *Engine) onCancelAllConfirmed(l leg.ID) {
	if !e.c.Lifecycle.Locks(l).CancelPending() {
		e.logger.Debug("cancel-all confirmation without pending requote", zap.String("leg", l.String()))
		return
	}
	e.c.Lifecycle.OnCancelAllConfirmed(l)
	e.placeQuotes(l)
}

// mergeInstrument 配置中的非零值优先，其余取交易所返回。
func mergeInstrument(cfg leg.Instrument, info event.InstrumentInfo) leg.Instrument {
	out := cfg
	if out.BaseAsset == "" {
		out.BaseAsset = info.BaseAsset
	}
	if out.QuoteAsset == "" {
		out.QuoteAsset = info.QuoteAsset
	}
	if out.PriceIncrement <= 0 {
		out.PriceIncrement = info.PriceIncrement
	}
	if out.QuantityIncrement <= 0 {
		out.QuantityIncrement = info.QuantityIncrement
	}
	if out.ContractSize <= 0 {
		out.ContractSize = info.ContractSize
	}
	return out
}

type instrumentSetter interface {
	SetInstrument(l leg.ID, inst leg.Instrument)
}

func (e *Engine) onInstrument(l leg.ID, info *event.InstrumentInfo) {
	if info == nil {
		e.logger.Error("instrument response without payload", zap.String("leg", l.String()))
		return
	}
	inst := mergeInstrument(e.inst[l], *info)
	if !inst.Resolved() {
		e.logger.Error("instrument increments unresolved",
			zap.String("leg", l.String()), zap.String("symbol", inst.Symbol),
			zap.Float64("priceIncrement", inst.PriceIncrement),
			zap.Float64("quantityIncrement", inst.QuantityIncrement))
		return
	}
	e.inst[l] = inst
	e.c.Pricing.SetInstrument(l, inst)
	e.c.Lifecycle.SetInstrument(l, inst)
	e.c.Risk.SetInstrument(l, inst)
	e.c.Ledgers[l].SetInstrument(inst)
	if s, ok := e.c.Simulator.(instrumentSetter); ok {
		s.SetInstrument(l, inst)
	}
	e.resolved[l] = true
	e.logger.Info("instrument resolved",
		zap.String("leg", l.String()), zap.String("symbol", inst.Symbol),
		zap.String("base", inst.BaseAsset), zap.String("quote", inst.QuoteAsset),
		zap.Float64("priceIncrement", inst.PriceIncrement),
		zap.Float64("quantityIncrement", inst.QuantityIncrement))
	e.maybeCompleteStartup()
}

func (e *Engine) onBalances(l leg.ID, balances []event.Balance) {
	inst := e.inst[l]
	s := e.c.Ledgers[l].Snapshot()
	base, quote := s.Base, s.Quote
	for _, b := range balances {
		switch b.Asset {
		case inst.BaseAsset:
			base = b.Quantity
		case inst.QuoteAsset:
			quote = b.Quantity
		}
		e.c.Metrics.UpdateBalance(l.String(), b.Asset, b.Quantity)
	}
	e.c.Ledgers[l].SetBalances(base, quote)
	e.balancesSeen[l] = true
	e.logger.Debug("balances updated",
		zap.String("leg", l.String()), zap.Float64("base", base), zap.Float64("quote", quote))
}

func (e *Engine) onPositions(l leg.ID, positions []event.Position) {
	inst := e.inst[l]
	var reported float64
	for _, p := range positions {
		if p.Symbol == "" || p.Symbol == inst.Symbol || p.Symbol == inst.StreamSymbol() {
			reported += p.Quantity
		}
	}
	e.reported[l] = reported
	e.positionSeen[l] = true

	// reinit/清仓以交易所仓位为准，启动前不做对账
	adopt := !e.startupDone && e.cfg.Startup.Kind.ResetsState()
	if !adopt {
		mismatch := e.c.Risk.Reconcile(l, reported, e.c.Ledgers[l].Position())
		e.c.Metrics.UpdateMismatch(l.String(), mismatch)
	}
	e.maybeCompleteStartup()
}

func (e *Engine) onData(m event.Message) {
	l := m.CorrelationID.Leg
	if !l.Valid() {
		return
	}
	switch m.Type {
	case event.MsgMarketDepth:
		if m.Depth == nil {
			return
		}
		e.stats.MarketUpdates++
		e.c.Books.Apply(l, *m.Depth, m.Time)
		bid, ask := e.c.Books.Book(l).Best()
		e.c.Metrics.UpdateBidAsk(l.String(), bid, ask)
		if e.c.Simulator != nil {
			e.c.Simulator.OnDepth(l)
		}
		e.onMarketUpdate()
	case event.MsgTrade:
		e.stats.PublicTrades += int64(len(m.Trades))
	case event.MsgPrivateTrade:
		for _, f := range m.Fills {
			e.onFill(l, f, m.Time)
		}
	case event.MsgOrderUpdate:
		if m.Order != nil {
			e.onOrderUpdate(l, *m.Order, m.Time)
		}
	}
	e.updateLockMetrics()
}

func (e *Engine) onFill(l leg.ID, f event.Fill, ts time.Time) {
	if ts.IsZero() {
		ts = e.clock()
	}
	e.stats.Fills[l]++
	if err := e.c.Ledgers[l].ApplyFill(f.Side, f.Quantity, f.Price, f.Fee, f.FeeAsset); err != nil {
		e.logger.Error("apply fill", zap.String("leg", l.String()), zap.String("tradeId", f.TradeID), zap.Error(err))
	}
	if e.c.Sink != nil {
		if err := e.c.Sink.RecordFill(ts, l, f); err != nil {
			e.logger.Warn("record fill", zap.Error(err))
		}
	}
	e.c.Metrics.RecordFill(l.String(), strings.ToLower(string(f.Side)), f.Quantity, f.IsMaker)
	e.c.Metrics.UpdatePosition(l.String(), e.c.Ledgers[l].Position())
	e.logger.Info("fill",
		zap.String("leg", l.String()), zap.String("side", string(f.Side)),
		zap.Float64("price", f.Price), zap.Float64("qty", f.Quantity),
		zap.Bool("maker", f.IsMaker), zap.String("clientOrderId", f.ClientOrderID))

	if !f.IsMaker {
		if e.c.Lifecycle.OnHedgeFill(l, f.ClientOrderID, f.Quantity) {
			e.logger.Debug("hedge filled", zap.String("leg", l.String()),
				zap.Int("outstanding", e.c.Lifecycle.HedgeOutstanding(l)))
		}
		if f.ClientOrderID != "" && f.ClientOrderID == e.rebalancePending {
			e.rebalancePending = ""
		}
		delete(e.takerPending, f.ClientOrderID)
		return
	}

	e.stats.MakerFills[l]++
	if o, ok := e.c.Lifecycle.OnFill(l, f.Side, f.OrderID, f.ClientOrderID, f.Quantity); ok && o.Status == order.StatusFilled {
		e.c.Metrics.RecordOrderFilled(l.String())
	}
	// 已被提前撤单的挂单成交同样需要对冲
	if e.state != StateRunning {
		return
	}
	other := l.Other()
	mid := e.c.Books.Mid(other)
	if mid <= 0 {
		e.logger.Warn("hedge skipped, no market on other leg", zap.String("leg", other.String()))
		return
	}
	req, ok := e.c.Lifecycle.OnMakerFill(l, f.Side, f.Quantity, f.Price, mid)
	if !ok {
		return
	}
	e.stats.Hedges[other]++
	e.outbox = append(e.outbox, req)
}

func (e *Engine) onOrderUpdate(l leg.ID, u event.OrderUpdate, ts time.Time) {
	if ts.IsZero() {
		ts = e.clock()
	}
	if e.c.Sink != nil {
		if err := e.c.Sink.RecordOrder(ts, l, u); err != nil {
			e.logger.Warn("record order", zap.Error(err))
		}
	}
	switch u.Status {
	case event.OrderCanceled:
		e.c.Lifecycle.OnCancelOrderConfirmed(l, u.Side, u.OrderID)
		e.c.Metrics.RecordOrderCanceled(l.String())
	case event.OrderNew:
		slot := e.c.Lifecycle.Slot(l, u.Side)
		if slot.Kind() != order.SlotPendingCreate {
			return
		}
		if o, _ := slot.Order(); o.ClientID == u.ClientOrderID {
			e.confirmCreate(l, order.FromUpdate(l, u, ts))
		}
	}
}

func (e *Engine) onTimer(m event.Message) {
	switch m.Type {
	case event.MsgLockSweep:
		e.sweep()
	case event.MsgAccountRefresh:
		e.refreshAccounts()
	}
}

// sweep 兜底释放锁，防止丢失的确认永久阻塞报价。
func (e *Engine) sweep() {
	e.stats.Sweeps++
	e.lastSweep = e.clock()
	released := e.c.Lifecycle.Sweep()
	if e.rebalancePending != "" {
		e.logger.Warn("rebalance confirmation lost", zap.String("clientOrderId", e.rebalancePending))
		e.rebalancePending = ""
	}
	if len(e.takerPending) > 0 {
		e.logger.Warn("startup order confirmation lost", zap.Int("outstanding", len(e.takerPending)))
		e.takerPending = make(map[string]leg.ID)
	}
	e.updateLockMetrics()
	if released {
		e.onMarketUpdate()
	}
}

func (e *Engine) refreshAccounts() {
	e.lastRefresh = e.clock()
	if !e.startupDone {
		return
	}
	e.queueAccountQueries()
	e.persist()
}

// checkEventTimers 回测时按事件时间触发定时任务。
func (e *Engine) checkEventTimers() {
	if !e.startupDone || e.state == StateStopped || e.now.IsZero() {
		return
	}
	if e.lastSweep.IsZero() {
		e.lastSweep, e.lastRefresh = e.now, e.now
		return
	}
	if e.now.Sub(e.lastSweep) >= e.cfg.LockSweepInterval {
		e.sweep()
	}
	if e.now.Sub(e.lastRefresh) >= e.cfg.AccountRefreshInterval {
		e.refreshAccounts()
	}
}

func (e *Engine) alert(critical bool, msg string, fields map[string]interface{}) {
	if e.c.Alerts == nil {
		return
	}
	var err error
	if critical {
		err = e.c.Alerts.SendCritical(msg, fields)
	} else {
		err = e.c.Alerts.SendWarning(msg, fields)
	}
	if err != nil {
		e.logger.Warn("send alert", zap.String("message", msg), zap.Error(err))
	}
}

func (e *Engine) updateLockMetrics() {
	for _, l := range leg.All {
		e.c.Metrics.UpdateLockState(l.String(), int(e.c.Lifecycle.Locks(l).State()))
	}
}
