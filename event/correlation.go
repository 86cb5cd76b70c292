package event

import (
	"errors"
	"fmt"
	"strings"

	"cross-maker-go/leg"
)

// Action 关联 ID 中的动作部分，取值为固定集合；
// 吃单（对冲、平仓、再平衡、初始单）同样使用 CREATE_ORDER_BUY/SELL，用途由客户端订单号区分。
type Action string

const (
	ActionMarketDepth         Action = "MARKET_DEPTH"
	ActionTrade               Action = "TRADE"
	ActionPrivateTrade        Action = "PRIVATE_TRADE"
	ActionOrderUpdate         Action = "ORDER_UPDATE"
	ActionCreateOrderBuy      Action = "CREATE_ORDER_BUY"
	ActionCreateOrderSell     Action = "CREATE_ORDER_SELL"
	ActionCancelBuyOrder      Action = "CANCEL_BUY_ORDER"
	ActionCancelSellOrder     Action = "CANCEL_SELL_ORDER"
	ActionCancelAllOrders     Action = "CANCEL_ALL_ORDERS"
	ActionGetAccountBalances  Action = "GET_ACCOUNT_BALANCES"
	ActionGetAccountPositions Action = "GET_ACCOUNT_POSITIONS"
	ActionGetInstrument       Action = "GET_INSTRUMENT"
)

var knownActions = map[Action]bool{
	ActionMarketDepth: true, ActionTrade: true, ActionPrivateTrade: true, ActionOrderUpdate: true,
	ActionCreateOrderBuy: true, ActionCreateOrderSell: true,
	ActionCancelBuyOrder: true, ActionCancelSellOrder: true, ActionCancelAllOrders: true,
	ActionGetAccountBalances: true, ActionGetAccountPositions: true, ActionGetInstrument: true,
}

// CreateAction 返回指定方向的下单动作。
func CreateAction(side leg.Side) Action {
	if side == leg.Buy {
		return ActionCreateOrderBuy
	}
	return ActionCreateOrderSell
}

// Side 对带方向的动作返回方向。
func (a Action) Side() (leg.Side, bool) {
	switch a {
	case ActionCreateOrderBuy, ActionCancelBuyOrder:
		return leg.Buy, true
	case ActionCreateOrderSell, ActionCancelSellOrder:
		return leg.Sell, true
	}
	return "", false
}

// ErrBadCorrelationID 关联 ID 格式错误。
var ErrBadCorrelationID = errors.New("bad correlation id")

// CorrelationID 形如 ACTION#prodA，在传输边界解析一次。
type CorrelationID struct {
	Action Action
	Leg    leg.ID
}

// NewCorrelationID 构造关联 ID。
func NewCorrelationID(a Action, l leg.ID) CorrelationID {
	return CorrelationID{Action: a, Leg: l}
}

func (c CorrelationID) String() string {
	return string(c.Action) + "#" + c.Leg.String()
}

// IsZero 未设置。
func (c CorrelationID) IsZero() bool { return c.Action == "" }

// ParseCorrelationID 解析 ACTION#prodX。
func ParseCorrelationID(s string) (CorrelationID, error) {
	action, product, ok := strings.Cut(s, "#")
	if !ok {
		return CorrelationID{}, fmt.Errorf("%w: %q", ErrBadCorrelationID, s)
	}
	a := Action(action)
	if !knownActions[a] {
		return CorrelationID{}, fmt.Errorf("%w: unknown action %q", ErrBadCorrelationID, action)
	}
	l, err := leg.Parse(product)
	if err != nil {
		return CorrelationID{}, fmt.Errorf("%w: %v", ErrBadCorrelationID, err)
	}
	return CorrelationID{Action: a, Leg: l}, nil
}

func (c CorrelationID) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return []byte{}, nil
	}
	return []byte(c.String()), nil
}

func (c *CorrelationID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = CorrelationID{}
		return nil
	}
	v, err := ParseCorrelationID(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
