package order

import (
	"math"
	"time"

	"go.uber.org/zap"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

// Config 生命周期管理器配置。
type Config struct {
	Instruments   [2]leg.Instrument
	TradingVector [2]float64
	Logger        *zap.Logger
	// Now 可替换的时钟，回测时使用事件时间。
	Now func() time.Time
	// NewClientID 可替换的客户端订单号生成器。
	NewClientID func(Purpose) string
	// PostOnly 报价单带 post-only 标志，穿越盘口时由交易所拒绝而不是立即成交。
	PostOnly bool
}

// Lifecycle 维护两条腿、每个方向最多一笔挂单，以及撤单/下单/对冲锁。
// 只在调度协程内调用。
type Lifecycle struct {
	inst   [2]leg.Instrument
	tv     [2]float64
	slots  [2][2]Slot
	locks  [2]LegLocks
	sm     *StateMachine
	logger *zap.Logger
	now    func() time.Time
	newID  func(Purpose) string
	post   bool

	creating       [2]map[string]leg.Side // clientID -> 方向
	pendingCancels [2]map[string]struct{}
	hedges         [2]map[string]float64 // clientID -> 剩余数量
	lastSent       [2][2]float64
	sent           [2]bool
}

// NewLifecycle 创建生命周期管理器。
func NewLifecycle(cfg Config) *Lifecycle {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewClientID == nil {
		cfg.NewClientID = NewClientID
	}
	lc := &Lifecycle{
		inst:   cfg.Instruments,
		tv:     cfg.TradingVector,
		sm:     NewStateMachine(),
		logger: cfg.Logger,
		now:    cfg.Now,
		newID:  cfg.NewClientID,
		post:   cfg.PostOnly,
	}
	for i := range lc.pendingCancels {
		lc.pendingCancels[i] = make(map[string]struct{})
		lc.hedges[i] = make(map[string]float64)
		lc.creating[i] = make(map[string]leg.Side)
	}
	return lc
}

// SetInstrument 更新合约元数据。
func (lc *Lifecycle) SetInstrument(l leg.ID, inst leg.Instrument) { lc.inst[l] = inst }

// Slot 返回槽位副本。
func (lc *Lifecycle) Slot(l leg.ID, side leg.Side) Slot { return lc.slots[l][sideIndex(side)] }

// Locks 返回锁副本。
func (lc *Lifecycle) Locks(l leg.ID) LegLocks { return lc.locks[l] }

// AnyLockHeld 任意一条腿持有锁。
func (lc *Lifecycle) AnyLockHeld() bool {
	return lc.locks[leg.A].Held() || lc.locks[leg.B].Held()
}

// RequestRequote 发起撤单-重挂周期：腿上持有任意锁时为 no-op。
// 槽位会被提前清空，原订单号记入待撤集合以便吸收迟到的撤单确认。
func (lc *Lifecycle) RequestRequote(l leg.ID) (event.Request, bool) {
	if lc.locks[l].Held() {
		return event.Request{}, false
	}
	lc.locks[l].Phase = PhaseAwaitingCancel
	lc.locks[l].PhaseSince = lc.now()
	lc.pendingCancels[l] = make(map[string]struct{})
	for i := range lc.slots[l] {
		if o, ok := lc.slots[l][i].Order(); ok && o.ID != "" {
			lc.pendingCancels[l][o.ID] = struct{}{}
		}
		lc.slots[l][i] = Slot{}
	}
	inst := lc.inst[l]
	return event.Request{
		Operation:     event.OpCancelOpenOrders,
		Exchange:      inst.Exchange,
		Symbol:        inst.Symbol,
		CorrelationID: event.NewCorrelationID(event.ActionCancelAllOrders, l),
	}, true
}

// OnCancelAllConfirmed 全撤确认，释放撤单锁；调用方随后调用 PrepareCreates。
func (lc *Lifecycle) OnCancelAllConfirmed(l leg.ID) {
	if lc.locks[l].Phase == PhaseAwaitingCancel {
		lc.locks[l].Phase = PhaseIdle
	}
}

// PrepareCreates 为允许的方向生成限价报价单，levels 为 (buy, sell)。
func (lc *Lifecycle) PrepareCreates(l leg.ID, levels [2]float64, amount float64, allow [2]bool) []event.Request {
	inst := lc.inst[l]
	var reqs []event.Request
	for i, side := range sides {
		price := levels[i]
		if !allow[i] || amount <= 0 || price <= 0 {
			continue
		}
		if !lc.slots[l][i].IsEmpty() {
			continue
		}
		clientID := lc.newID(PurposeQuote)
		lc.slots[l][i] = Slot{kind: SlotPendingCreate, order: Order{
			ClientID: clientID,
			Leg:      l,
			Side:     side,
			Price:    price,
			Quantity: amount,
			Status:   StatusPendingCreate,
		}}
		lc.creating[l][clientID] = side
		reqs = append(reqs, event.Request{
			Operation:     event.OpCreateOrder,
			Exchange:      inst.Exchange,
			Symbol:        inst.Symbol,
			CorrelationID: event.NewCorrelationID(event.CreateAction(side), l),
			Side:          side,
			Quantity:      amount,
			LimitPrice:    price,
			PostOnly:      lc.post,
			ClientOrderID: clientID,
		})
	}
	lc.lastSent[l] = levels
	lc.sent[l] = true
	if len(lc.creating[l]) > 0 {
		lc.locks[l].Phase = PhaseAwaitingCreate
		lc.locks[l].PhaseSince = lc.now()
	} else if lc.locks[l].Phase == PhaseAwaitingCreate {
		lc.locks[l].Phase = PhaseIdle
	}
	return reqs
}

// OnCreateConfirmed 下单确认，订单进入挂单状态；所有下单确认后释放下单锁。
// 槽位已被清空（确认前已完全成交或已被兜底释放）时只释放锁。
func (lc *Lifecycle) OnCreateConfirmed(l leg.ID, o Order) {
	i := sideIndex(o.Side)
	lc.releaseCreate(l, o.ClientID, o.Side)
	slot := lc.slots[l][i]
	switch {
	case slot.kind == SlotPendingCreate && (o.ClientID == "" || slot.order.ClientID == o.ClientID):
	case slot.kind == SlotResting && slot.order.ID == o.ID:
		if slot.order.CumFilled > o.CumFilled {
			o.CumFilled = slot.order.CumFilled
			o.Status = slot.order.Status
		}
	default:
		lc.logger.Debug("create confirmation for untracked slot",
			zap.String("leg", l.String()), zap.String("side", string(o.Side)), zap.String("orderId", o.ID))
		return
	}
	if o.Quantity == 0 {
		o.Quantity = slot.order.Quantity
	}
	if o.ClientID == "" {
		o.ClientID = slot.order.ClientID
	}
	o.Leg = l
	if o.Status == "" || o.Status == StatusPendingCreate {
		o.Status = StatusNew
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = lc.now()
	}
	if lc.sm.IsFinalState(o.Status) {
		lc.slots[l][i] = Slot{}
		return
	}
	lc.slots[l][i] = Slot{kind: SlotResting, order: o}
}

// OnCreateFailed 下单失败，清空等待中的槽位。
func (lc *Lifecycle) OnCreateFailed(l leg.ID, side leg.Side) {
	i := sideIndex(side)
	clientID := ""
	if lc.slots[l][i].kind == SlotPendingCreate {
		clientID = lc.slots[l][i].order.ClientID
		lc.slots[l][i] = Slot{}
	}
	lc.releaseCreate(l, clientID, side)
}

func (lc *Lifecycle) releaseCreate(l leg.ID, clientID string, side leg.Side) {
	if _, ok := lc.creating[l][clientID]; ok && clientID != "" {
		delete(lc.creating[l], clientID)
	} else {
		for id, s := range lc.creating[l] {
			if s == side {
				delete(lc.creating[l], id)
				break
			}
		}
	}
	if len(lc.creating[l]) == 0 && lc.locks[l].Phase == PhaseAwaitingCreate {
		lc.locks[l].Phase = PhaseIdle
	}
}

// OnCancelOrderConfirmed 单笔撤单确认；仅当订单号与槽位一致时清空槽位。
func (lc *Lifecycle) OnCancelOrderConfirmed(l leg.ID, side leg.Side, orderID string) bool {
	i := sideIndex(side)
	slot := lc.slots[l][i]
	if slot.kind == SlotResting && slot.order.ID == orderID {
		lc.slots[l][i] = Slot{}
		return true
	}
	if _, ok := lc.pendingCancels[l][orderID]; ok {
		delete(lc.pendingCancels[l], orderID)
		return false
	}
	lc.logger.Info("stale cancel confirmation ignored",
		zap.String("leg", l.String()), zap.String("side", string(side)), zap.String("orderId", orderID))
	return false
}

// OnFill 记录挂单成交；完全成交时清空槽位。未跟踪的订单返回 false。
func (lc *Lifecycle) OnFill(l leg.ID, side leg.Side, orderID, clientID string, qty float64) (Order, bool) {
	i := sideIndex(side)
	slot := &lc.slots[l][i]
	if !slot.matches(orderID, clientID) {
		return Order{}, false
	}
	if slot.order.ID == "" {
		slot.order.ID = orderID
	}
	slot.order.applyFill(qty, lc.sm)
	slot.order.UpdatedAt = lc.now()
	o := slot.order
	// 确认尚未到达时下单锁保持，由 OnCreateConfirmed 释放
	if o.Status == StatusFilled {
		*slot = Slot{}
	} else if slot.kind == SlotPendingCreate {
		slot.kind = SlotResting
	}
	return o, true
}

// OnMakerFill 挂单成交后在另一条腿生成吃单对冲，并对该腿加对冲锁。
// midOther 为对冲腿的中间价，用于名义价值换算。
func (lc *Lifecycle) OnMakerFill(l leg.ID, side leg.Side, qty, price, midOther float64) (event.Request, bool) {
	other := l.Other()
	if lc.tv[l] == 0 {
		return event.Request{}, false
	}
	usd := math.Abs(lc.inst[l].Notional(qty, price)) * math.Abs(lc.tv[other]/lc.tv[l])
	hedgeQty := lc.inst[other].RoundQuantityDown(lc.inst[other].QuantityForNotional(usd, midOther))
	if hedgeQty <= 0 {
		lc.logger.Warn("hedge quantity rounds to zero",
			zap.String("leg", other.String()), zap.Float64("makerQty", qty), zap.Float64("usd", usd))
		return event.Request{}, false
	}
	hedgeSide := side
	if lc.tv[l]*lc.tv[other] < 0 {
		hedgeSide = side.Opposite()
	}
	clientID := lc.newID(PurposeHedge)
	lc.hedges[other][clientID] = hedgeQty
	if !lc.locks[other].Hedge {
		lc.locks[other].Hedge = true
		lc.locks[other].HedgeSince = lc.now()
	}
	inst := lc.inst[other]
	return event.Request{
		Operation:     event.OpCreateOrder,
		Exchange:      inst.Exchange,
		Symbol:        inst.Symbol,
		CorrelationID: event.NewCorrelationID(event.CreateAction(hedgeSide), other),
		Side:          hedgeSide,
		Quantity:      hedgeQty,
		ClientOrderID: clientID,
	}, true
}

// OnHedgeFill 对冲单成交；返回 true 表示成交属于对冲单。全部对冲完成后释放对冲锁。
// clientID 为空时（部分交易所不回传）按任意吃单成交处理。
func (lc *Lifecycle) OnHedgeFill(l leg.ID, clientID string, qty float64) bool {
	hedges := lc.hedges[l]
	if len(hedges) == 0 {
		return false
	}
	if clientID == "" {
		for id := range hedges {
			clientID = id
			break
		}
	} else if _, ok := hedges[clientID]; !ok {
		return false
	}
	hedges[clientID] -= qty
	if hedges[clientID] <= 1e-12 {
		delete(hedges, clientID)
	}
	if len(hedges) == 0 {
		lc.locks[l].Hedge = false
	}
	return true
}

// OnHedgeFailed 对冲单被拒，释放该腿对冲锁，剩余敞口由再平衡处理。
func (lc *Lifecycle) OnHedgeFailed(l leg.ID) {
	lc.hedges[l] = make(map[string]float64)
	lc.locks[l].Hedge = false
}

// HedgeOutstanding 该腿未完成的对冲单数量。
func (lc *Lifecycle) HedgeOutstanding(l leg.ID) int { return len(lc.hedges[l]) }

// NeedsRequote 报价变化或某个允许的方向没有挂单时需要重新报价。
func (lc *Lifecycle) NeedsRequote(l leg.ID, levels [2]float64, allow [2]bool) bool {
	if !lc.sent[l] || lc.lastSent[l] != levels {
		return true
	}
	for i := range sides {
		if allow[i] && lc.slots[l][i].IsEmpty() {
			return true
		}
	}
	return false
}

// LastSent 最近一次下发的报价 (buy, sell)。
func (lc *Lifecycle) LastSent(l leg.ID) ([2]float64, bool) { return lc.lastSent[l], lc.sent[l] }

// Sweep 兜底：无条件释放两条腿的所有锁，返回是否有锁被释放。
func (lc *Lifecycle) Sweep() bool {
	released := false
	for _, l := range leg.All {
		if lc.locks[l].Held() {
			released = true
			lc.logger.Warn("failsafe releasing lock",
				zap.String("leg", l.String()),
				zap.String("state", lc.locks[l].State().String()),
				zap.Time("phaseSince", lc.locks[l].PhaseSince))
		}
		lc.locks[l] = LegLocks{}
		lc.creating[l] = make(map[string]leg.Side)
		lc.hedges[l] = make(map[string]float64)
		for i := range lc.slots[l] {
			if lc.slots[l][i].kind == SlotPendingCreate {
				lc.slots[l][i] = Slot{}
			}
		}
	}
	return released
}

// Reset 清空所有槽位与锁（止损或重新初始化时使用）。
func (lc *Lifecycle) Reset() {
	for _, l := range leg.All {
		lc.slots[l] = [2]Slot{}
		lc.locks[l] = LegLocks{}
		lc.creating[l] = make(map[string]leg.Side)
		lc.pendingCancels[l] = make(map[string]struct{})
		lc.hedges[l] = make(map[string]float64)
		lc.sent[l] = false
	}
}
