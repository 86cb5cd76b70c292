// Package order 管理两条腿上的挂单槽位、撤单/对冲锁以及订单生命周期。
package order

import (
	"time"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

// Status represents order lifecycle.
type Status string

const (
	StatusPendingCreate Status = "PENDING_CREATE"
	StatusNew           Status = "NEW"
	StatusPartial       Status = "PARTIALLY_FILLED"
	StatusFilled        Status = "FILLED"
	StatusCanceled      Status = "CANCELED"
	StatusRejected      Status = "REJECTED"
)

// StatusFromEvent 将回报状态映射为内部状态。
func StatusFromEvent(s event.OrderStatus) Status {
	switch s {
	case event.OrderPartiallyFilled:
		return StatusPartial
	case event.OrderFilled:
		return StatusFilled
	case event.OrderCanceled:
		return StatusCanceled
	default:
		return StatusNew
	}
}

// Order 一条腿上的一笔订单。
type Order struct {
	ID        string
	ClientID  string
	Leg       leg.ID
	Side      leg.Side
	Price     float64
	Quantity  float64
	CumFilled float64
	Status    Status
	UpdatedAt time.Time
}

// Remaining 剩余未成交数量，恒不小于 0。
func (o Order) Remaining() float64 {
	r := o.Quantity - o.CumFilled
	if r < 0 {
		return 0
	}
	return r
}

// FromUpdate 由订单回报构造订单。
func FromUpdate(l leg.ID, u event.OrderUpdate, ts time.Time) Order {
	return Order{
		ID:        u.OrderID,
		ClientID:  u.ClientOrderID,
		Leg:       l,
		Side:      u.Side,
		Price:     u.LimitPrice,
		Quantity:  u.Quantity,
		CumFilled: u.CumulativeFilled,
		Status:    StatusFromEvent(u.Status),
		UpdatedAt: ts,
	}
}

// applyFill 累加成交；累计成交不会超过下单数量。
func (o *Order) applyFill(qty float64, sm *StateMachine) {
	o.CumFilled += qty
	if o.CumFilled > o.Quantity {
		o.CumFilled = o.Quantity
	}
	next := StatusPartial
	if o.Remaining() <= 1e-12 {
		next = StatusFilled
	}
	if sm.ValidateTransition(o.Status, next) == nil {
		o.Status = next
	}
}
