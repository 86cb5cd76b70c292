package risk

import (
	"math"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

// Rebalance 两条腿的美元敞口应与交易向量成比例；残差超过阈值时，
// 对敞口（按交易向量归一）较大的一腿下市价单使其回到比例上。
// 仓位不一致或止损已触发时不做再平衡，锁状态由调用方检查。
func (m *Manager) Rebalance(positions, mids [2]float64) (event.Request, bool) {
	if m.triggered || m.AnyMismatch() {
		return event.Request{}, false
	}
	t0, t1 := m.cfg.TradingVector[0], m.cfg.TradingVector[1]
	if t0 == 0 || t1 == 0 || mids[0] <= 0 || mids[1] <= 0 {
		return event.Request{}, false
	}
	instA, instB := m.cfg.Instruments[leg.A], m.cfg.Instruments[leg.B]
	eA := instA.Notional(positions[leg.A], mids[leg.A])
	eB := instB.Notional(positions[leg.B], mids[leg.B])

	residual := eB - eA*t1/t0
	if math.Abs(residual) < RebalanceTriggerRatio*m.cfg.TypicalOrderSize*math.Abs(t1) {
		return event.Request{}, false
	}

	target, delta := leg.B, -residual
	if math.Abs(eA)/math.Abs(t0) > math.Abs(eB)/math.Abs(t1) {
		target, delta = leg.A, eB*t0/t1-eA
	}
	inst := m.cfg.Instruments[target]
	qty := inst.RoundQuantityDown(math.Abs(inst.QuantityForNotional(delta, mids[target])))
	if qty <= 0 {
		return event.Request{}, false
	}
	side := leg.SideForDelta(delta)
	return event.Request{
		Operation:     event.OpCreateOrder,
		Exchange:      inst.Exchange,
		Symbol:        inst.Symbol,
		CorrelationID: event.NewCorrelationID(event.CreateAction(side), target),
		Side:          side,
		Quantity:      qty,
	}, true
}
