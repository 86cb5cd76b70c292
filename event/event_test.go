package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cross-maker-go/leg"
)

func TestParseCorrelationID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    CorrelationID
		wantErr bool
	}{
		{"下单买", "CREATE_ORDER_BUY#prodA", CorrelationID{ActionCreateOrderBuy, leg.A}, false},
		{"全撤", "CANCEL_ALL_ORDERS#prodB", CorrelationID{ActionCancelAllOrders, leg.B}, false},
		{"缺少分隔符", "CREATE_ORDER_BUY", CorrelationID{}, true},
		{"未知动作", "FOO#prodA", CorrelationID{}, true},
		{"动作集合之外", "HEDGE_ORDER#prodB", CorrelationID{}, true},
		{"未知腿", "MARKET_DEPTH#prodC", CorrelationID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCorrelationID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadCorrelationID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestActionSide(t *testing.T) {
	s, ok := CreateAction(leg.Sell).Side()
	assert.True(t, ok)
	assert.Equal(t, leg.Sell, s)
	_, ok = ActionCancelAllOrders.Side()
	assert.False(t, ok)
}

func TestActionSetIsClosed(t *testing.T) {
	want := []Action{
		ActionMarketDepth, ActionTrade, ActionPrivateTrade, ActionOrderUpdate,
		ActionCreateOrderBuy, ActionCreateOrderSell,
		ActionCancelBuyOrder, ActionCancelSellOrder, ActionCancelAllOrders,
		ActionGetAccountBalances, ActionGetAccountPositions, ActionGetInstrument,
	}
	assert.Len(t, knownActions, len(want))
	for _, a := range want {
		for _, l := range leg.All {
			id := NewCorrelationID(a, l)
			back, err := ParseCorrelationID(id.String())
			require.NoError(t, err, id.String())
			assert.Equal(t, id, back)
		}
	}
}

func TestEventJSONCorrelationID(t *testing.T) {
	ev := Single(TypeResponse, Message{
		Type:          MsgCancelOpenOrders,
		CorrelationID: NewCorrelationID(ActionCancelAllOrders, leg.B),
	})
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"correlationId":"CANCEL_ALL_ORDERS#prodB"`)

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, leg.B, back.Messages[0].CorrelationID.Leg)
	assert.Equal(t, ActionCancelAllOrders, back.Messages[0].CorrelationID.Action)
}

func TestRequestHelpers(t *testing.T) {
	r := Request{Operation: OpCreateOrder, CorrelationID: NewCorrelationID(ActionCreateOrderBuy, leg.A)}
	assert.True(t, r.IsMarket())
	assert.True(t, r.IsOrderFlow())
	assert.Equal(t, leg.A, r.Leg())
	assert.False(t, Request{Operation: OpGetInstrument}.IsOrderFlow())
}
