package event

import "cross-maker-go/leg"

// Operation 请求类型。
type Operation string

const (
	OpCreateOrder         Operation = "CREATE_ORDER"
	OpCancelOrder         Operation = "CANCEL_ORDER"
	OpCancelOpenOrders    Operation = "CANCEL_OPEN_ORDERS"
	OpGetAccountBalances  Operation = "GET_ACCOUNT_BALANCES"
	OpGetAccounts         Operation = "GET_ACCOUNTS"
	OpGetAccountPositions Operation = "GET_ACCOUNT_POSITIONS"
	OpGetInstrument       Operation = "GET_INSTRUMENT"
)

// Request 发往交易所（或模拟器）的请求。
type Request struct {
	Operation     Operation     `json:"operation"`
	Exchange      string        `json:"exchange"`
	Symbol        string        `json:"symbol"`
	CorrelationID CorrelationID `json:"correlationId"`
	Side          leg.Side      `json:"side,omitempty"`
	Quantity      float64       `json:"quantity,omitempty"`
	// LimitPrice 为 0 表示市价单。
	LimitPrice    float64 `json:"limitPrice,omitempty"`
	PostOnly      bool    `json:"postOnly,omitempty"`
	OrderID       string  `json:"orderId,omitempty"`
	ClientOrderID string  `json:"clientOrderId,omitempty"`
}

// Leg 请求所属的腿。
func (r Request) Leg() leg.ID { return r.CorrelationID.Leg }

// IsMarket 是否为市价单。
func (r Request) IsMarket() bool {
	return r.Operation == OpCreateOrder && r.LimitPrice == 0
}

// IsOrderFlow 下单/撤单类请求（需要限流与路由）。
func (r Request) IsOrderFlow() bool {
	switch r.Operation {
	case OpCreateOrder, OpCancelOrder, OpCancelOpenOrders:
		return true
	}
	return false
}
