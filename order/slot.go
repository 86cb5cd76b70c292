package order

import "cross-maker-go/leg"

// SlotKind 槽位状态。
type SlotKind int

const (
	SlotEmpty SlotKind = iota
	SlotPendingCreate
	SlotResting
)

func (k SlotKind) String() string {
	switch k {
	case SlotPendingCreate:
		return "pending_create"
	case SlotResting:
		return "resting"
	default:
		return "empty"
	}
}

// Slot 某腿某方向上唯一的挂单位置：空、等待下单确认或挂单中。
type Slot struct {
	kind  SlotKind
	order Order
}

// Kind 槽位状态。
func (s Slot) Kind() SlotKind { return s.kind }

// IsEmpty 是否为空。
func (s Slot) IsEmpty() bool { return s.kind == SlotEmpty }

// Order 返回槽位中的订单；空槽返回 false。
func (s Slot) Order() (Order, bool) {
	if s.kind == SlotEmpty {
		return Order{}, false
	}
	return s.order, true
}

func (s Slot) matches(orderID, clientID string) bool {
	if s.kind == SlotEmpty {
		return false
	}
	if orderID != "" && s.order.ID == orderID {
		return true
	}
	return clientID != "" && s.order.ClientID == clientID
}

func sideIndex(s leg.Side) int {
	if s == leg.Buy {
		return 0
	}
	return 1
}

var sides = [2]leg.Side{leg.Buy, leg.Sell}
