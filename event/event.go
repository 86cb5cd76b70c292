// Package event 定义传输层与引擎之间的类型化事件、消息与请求。
package event

import (
	"time"

	"cross-maker-go/leg"
)

// Type 事件类型。
type Type string

const (
	TypeSubscriptionStatus Type = "SUBSCRIPTION_STATUS"
	TypeSubscriptionData   Type = "SUBSCRIPTION_DATA"
	TypeResponse           Type = "RESPONSE"
	TypeSessionStatus      Type = "SESSION_STATUS"
	// TypeTimer 由调度器注入的定时事件，只在进程内流转。
	TypeTimer Type = "TIMER"
)

// MessageType 消息类型。
type MessageType string

const (
	MsgSubscriptionStarted MessageType = "SUBSCRIPTION_STARTED"
	MsgSubscriptionFailure MessageType = "SUBSCRIPTION_FAILURE"
	MsgMarketDepth         MessageType = "MARKET_DEPTH"
	MsgTrade               MessageType = "TRADE"
	MsgPrivateTrade        MessageType = "PRIVATE_TRADE"
	MsgOrderUpdate         MessageType = "ORDER_UPDATE"
	MsgCreateOrder         MessageType = "CREATE_ORDER"
	MsgCancelOrder         MessageType = "CANCEL_ORDER"
	MsgCancelOpenOrders    MessageType = "CANCEL_OPEN_ORDERS"
	MsgGetAccountBalances  MessageType = "GET_ACCOUNT_BALANCES"
	MsgGetAccounts         MessageType = "GET_ACCOUNTS"
	MsgGetAccountPositions MessageType = "GET_ACCOUNT_POSITIONS"
	MsgGetInstrument       MessageType = "GET_INSTRUMENT"
	MsgResponseError       MessageType = "RESPONSE_ERROR"
	MsgSessionUp           MessageType = "SESSION_CONNECTION_UP"
	MsgSessionDown         MessageType = "SESSION_CONNECTION_DOWN"
	MsgLockSweep           MessageType = "LOCK_SWEEP"
	MsgAccountRefresh      MessageType = "ACCOUNT_REFRESH"
)

// OrderStatus 交易所回报的订单状态。
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
)

// Level 一档深度。
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Depth 深度（买盘降序，卖盘升序）。Incremental 为 true 时是增量，Size 为 0 表示删除该档。
type Depth struct {
	Bids        []Level `json:"bids"`
	Asks        []Level `json:"asks"`
	Incremental bool    `json:"incremental,omitempty"`
}

// PublicTrade 公共成交。
type PublicTrade struct {
	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	IsBuyerMaker bool    `json:"isBuyerMaker"`
}

// Fill 私有成交。
type Fill struct {
	TradeID       string   `json:"tradeId"`
	OrderID       string   `json:"orderId"`
	ClientOrderID string   `json:"clientOrderId"`
	Side          leg.Side `json:"side"`
	Price         float64  `json:"price"`
	Quantity      float64  `json:"quantity"`
	Fee           float64  `json:"fee"`
	FeeAsset      string   `json:"feeAsset"`
	IsMaker       bool     `json:"isMaker"`
}

// OrderUpdate 订单回报。
type OrderUpdate struct {
	OrderID          string      `json:"orderId"`
	ClientOrderID    string      `json:"clientOrderId"`
	Side             leg.Side    `json:"side"`
	LimitPrice       float64     `json:"limitPrice"`
	Quantity         float64     `json:"quantity"`
	CumulativeFilled float64     `json:"cumulativeFilled"`
	Status           OrderStatus `json:"status"`
}

// Balance 账户余额。
type Balance struct {
	Asset    string  `json:"asset"`
	Quantity float64 `json:"quantity"`
}

// Position 持仓。
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}

// InstrumentInfo GET_INSTRUMENT 的返回。
type InstrumentInfo struct {
	Symbol            string  `json:"symbol"`
	BaseAsset         string  `json:"baseAsset"`
	QuoteAsset        string  `json:"quoteAsset"`
	PriceIncrement    float64 `json:"priceIncrement"`
	QuantityIncrement float64 `json:"quantityIncrement"`
	ContractSize      float64 `json:"contractSize,omitempty"`
}

// Message 事件中的一条消息；按 Type 只填充对应的负载字段。
type Message struct {
	Type          MessageType     `json:"type"`
	CorrelationID CorrelationID   `json:"correlationId"`
	Time          time.Time       `json:"time"`
	Depth         *Depth          `json:"depth,omitempty"`
	Trades        []PublicTrade   `json:"trades,omitempty"`
	Fills         []Fill          `json:"fills,omitempty"`
	Order         *OrderUpdate    `json:"order,omitempty"`
	Balances      []Balance       `json:"balances,omitempty"`
	Positions     []Position      `json:"positions,omitempty"`
	Instrument    *InstrumentInfo `json:"instrument,omitempty"`
	Error         string          `json:"error,omitempty"`
	// ClientOrderID 回报对应请求的客户端订单号（RESPONSE / RESPONSE_ERROR）。
	ClientOrderID string `json:"clientOrderId,omitempty"`
}

// Event 传输层投递给引擎的事件。
type Event struct {
	Type     Type      `json:"type"`
	Messages []Message `json:"messages"`
}

// Single 构造只含一条消息的事件。
func Single(t Type, m Message) Event {
	return Event{Type: t, Messages: []Message{m}}
}

// Handler 传输回调；返回 false 表示停止投递。
type Handler func(Event) bool

// Subscription 行情/私有数据订阅。
type Subscription struct {
	Exchange      string        `json:"exchange"`
	Symbol        string        `json:"symbol"`
	Field         Action        `json:"field"`
	CorrelationID CorrelationID `json:"correlationId"`
}
