package sim

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cross-maker-go/event"
	"cross-maker-go/leg"
	"cross-maker-go/ledger"
	"cross-maker-go/market"
)

type fixture struct {
	x     *Exchange
	books *market.Cache
	queue *Queue
	led   [2]*ledger.Ledger
}

func newFixture() *fixture {
	inst := leg.Instrument{Exchange: "okx", Symbol: "BTC-USDT", BaseAsset: "BTC", QuoteAsset: "USDT", PriceIncrement: 0.1, QuantityIncrement: 0.001}
	instB := inst
	instB.Exchange, instB.Symbol = "binance", "BTCUSDT"
	books := market.NewCache()
	q := NewQueue()
	led := [2]*ledger.Ledger{ledger.New(inst, 1, 10000), ledger.New(instB, 2, 5000)}
	n := 0
	x := NewExchange(Config{
		Instruments: [2]leg.Instrument{inst, instB},
		Fees: [2]ledger.FeeSchedule{
			{MakerRate: 0.0001, TakerRate: 0.001, MakerBuyerAsset: "BTC", TakerBuyerAsset: "USDT", TakerSellerAsset: "USDT", MakerSellerAsset: "USDT"},
			{},
		},
		MarketImpactFactor: [2]float64{0.01, 0},
		NewOrderID: func() string {
			n++
			return fmt.Sprintf("o%d", n)
		},
	}, books, led, q)
	x.SetTime(time.Unix(1700000000, 0))
	books.Apply(leg.A, event.Depth{
		Bids: []event.Level{{Price: 100, Size: 3}, {Price: 99, Size: 4}},
		Asks: []event.Level{{Price: 101, Size: 5}, {Price: 102, Size: 10}},
	}, time.Time{})
	return &fixture{x: x, books: books, queue: q, led: led}
}

func drain(q *Queue) []event.Message {
	var out []event.Message
	for {
		ev, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, ev.Messages...)
	}
}

func types(msgs []event.Message) []event.MessageType {
	out := make([]event.MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func createReq(side leg.Side, qty, price float64, postOnly bool) event.Request {
	return event.Request{
		Operation:     event.OpCreateOrder,
		CorrelationID: event.NewCorrelationID(event.CreateAction(side), leg.A),
		Side:          side,
		Quantity:      qty,
		LimitPrice:    price,
		PostOnly:      postOnly,
		ClientOrderID: "c1",
	}
}

func TestCrossingOrderFillsAtFirstLevel(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.x.SendRequest(createReq(leg.Buy, 5, 102, false)))

	msgs := drain(f.queue)
	require.Equal(t, []event.MessageType{
		event.MsgCreateOrder, event.MsgOrderUpdate, event.MsgPrivateTrade, event.MsgOrderUpdate,
	}, types(msgs))

	fill := msgs[2].Fills[0]
	assert.Equal(t, 101.0, fill.Price)
	assert.Equal(t, 5.0, fill.Quantity)
	assert.False(t, fill.IsMaker)
	assert.Equal(t, "USDT", fill.FeeAsset)
	assert.InDelta(t, 0.505, fill.Fee, 1e-9)
	assert.Equal(t, "c1", fill.ClientOrderID)
	assert.Equal(t, event.OrderFilled, msgs[3].Order.Status)
	assert.Equal(t, 0, f.x.OpenOrders(leg.A))
}

func TestThinBookStillFillsEntireOrder(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.x.SendRequest(createReq(leg.Buy, 8, 102, false)))
	msgs := drain(f.queue)
	require.Len(t, msgs, 4)
	assert.Equal(t, 8.0, msgs[2].Fills[0].Quantity)
	assert.Equal(t, 101.0, msgs[2].Fills[0].Price)
}

func TestPostOnlyCrossingRejected(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.x.SendRequest(createReq(leg.Sell, 1, 99.5, true)))
	msgs := drain(f.queue)
	require.Len(t, msgs, 1)
	assert.Equal(t, event.MsgResponseError, msgs[0].Type)
	assert.Contains(t, msgs[0].Error, "post-only")
	assert.Equal(t, "CREATE_ORDER_SELL#prodA", msgs[0].CorrelationID.String())
	assert.Equal(t, "c1", msgs[0].ClientOrderID, "拒单回报带回客户端订单号")
}

func TestCrossingQuoteWithoutPostOnly(t *testing.T) {
	cases := []struct {
		name  string
		side  leg.Side
		price float64
		fill  float64
	}{
		{"卖单穿越买一", leg.Sell, 99.5, 100},
		{"买单穿越卖一", leg.Buy, 101.5, 101},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			require.NoError(t, f.x.SendRequest(createReq(tc.side, 1, tc.price, false)))
			msgs := drain(f.queue)
			require.Equal(t, []event.MessageType{
				event.MsgCreateOrder, event.MsgOrderUpdate, event.MsgPrivateTrade, event.MsgOrderUpdate,
			}, types(msgs))
			fill := msgs[2].Fills[0]
			assert.Equal(t, tc.fill, fill.Price)
			assert.False(t, fill.IsMaker)
			assert.Equal(t, event.OrderFilled, msgs[3].Order.Status)
			assert.Equal(t, 0, f.x.OpenOrders(leg.A))
		})
	}
}

func TestRestingOrderFillsOnDepthUpdate(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.x.SendRequest(createReq(leg.Buy, 2, 100.5, true)))
	msgs := drain(f.queue)
	require.Equal(t, []event.MessageType{event.MsgCreateOrder, event.MsgOrderUpdate}, types(msgs))
	assert.Equal(t, 1, f.x.OpenOrders(leg.A))

	f.x.OnDepth(leg.A)
	assert.Empty(t, drain(f.queue), "未被穿越")

	f.books.Apply(leg.A, event.Depth{
		Bids: []event.Level{{Price: 99.8, Size: 1}},
		Asks: []event.Level{{Price: 100.4, Size: 1}},
	}, time.Time{})
	f.x.OnDepth(leg.A)
	msgs = drain(f.queue)
	require.Equal(t, []event.MessageType{event.MsgPrivateTrade, event.MsgOrderUpdate}, types(msgs))
	fill := msgs[0].Fills[0]
	assert.True(t, fill.IsMaker)
	assert.Equal(t, 100.5, fill.Price)
	assert.Equal(t, "BTC", fill.FeeAsset)
	assert.InDelta(t, 0.0002, fill.Fee, 1e-12)
	assert.Equal(t, 0, f.x.OpenOrders(leg.A))
}

func TestMarketOrderImpactAndEmptyBook(t *testing.T) {
	f := newFixture()
	req := createReq(leg.Buy, 1, 0, false)
	req.CorrelationID = event.NewCorrelationID(event.ActionCreateOrderBuy, leg.A)
	require.NoError(t, f.x.SendRequest(req))
	msgs := drain(f.queue)
	require.Len(t, msgs, 4)
	assert.InDelta(t, 102.1, msgs[2].Fills[0].Price, 1e-9)

	req.CorrelationID = event.NewCorrelationID(event.ActionCreateOrderBuy, leg.B)
	require.NoError(t, f.x.SendRequest(req))
	msgs = drain(f.queue)
	require.Len(t, msgs, 1)
	assert.Equal(t, event.MsgResponseError, msgs[0].Type)
}

func TestCancelAll(t *testing.T) {
	f := newFixture()
	cancel := event.Request{Operation: event.OpCancelOpenOrders, CorrelationID: event.NewCorrelationID(event.ActionCancelAllOrders, leg.A)}

	require.NoError(t, f.x.SendRequest(cancel))
	msgs := drain(f.queue)
	require.Equal(t, []event.MessageType{event.MsgCancelOpenOrders}, types(msgs), "无挂单时也确认")

	require.NoError(t, f.x.SendRequest(createReq(leg.Buy, 1, 99.5, true)))
	require.NoError(t, f.x.SendRequest(createReq(leg.Sell, 1, 101.5, true)))
	drain(f.queue)
	require.NoError(t, f.x.SendRequest(cancel))
	msgs = drain(f.queue)
	require.Equal(t, []event.MessageType{event.MsgOrderUpdate, event.MsgOrderUpdate, event.MsgCancelOpenOrders}, types(msgs))
	assert.Equal(t, event.OrderCanceled, msgs[0].Order.Status)
	assert.Equal(t, 0, f.x.OpenOrders(leg.A))
}

func TestCancelOne(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.x.SendRequest(createReq(leg.Buy, 1, 99.5, true)))
	msgs := drain(f.queue)
	id := msgs[0].Order.OrderID

	req := event.Request{Operation: event.OpCancelOrder, CorrelationID: event.NewCorrelationID(event.ActionCancelBuyOrder, leg.A), OrderID: id}
	require.NoError(t, f.x.SendRequest(req))
	msgs = drain(f.queue)
	require.Equal(t, []event.MessageType{event.MsgOrderUpdate, event.MsgCancelOrder}, types(msgs))

	require.NoError(t, f.x.SendRequest(req))
	msgs = drain(f.queue)
	require.Len(t, msgs, 1)
	assert.Equal(t, event.MsgResponseError, msgs[0].Type)
}

func TestAccountQueries(t *testing.T) {
	f := newFixture()
	for _, op := range []event.Operation{event.OpGetAccountBalances, event.OpGetAccountPositions, event.OpGetInstrument, event.OpGetAccounts} {
		require.NoError(t, f.x.SendRequest(event.Request{Operation: op, CorrelationID: event.NewCorrelationID(event.ActionGetAccountBalances, leg.B)}))
	}
	msgs := drain(f.queue)
	require.Len(t, msgs, 4)
	assert.Equal(t, []event.Balance{{Asset: "BTC", Quantity: 2}, {Asset: "USDT", Quantity: 5000}}, msgs[0].Balances)
	assert.Equal(t, "BTCUSDT", msgs[1].Positions[0].Symbol)
	assert.Equal(t, 0.1, msgs[2].Instrument.PriceIncrement)
	assert.Equal(t, event.MsgGetAccounts, msgs[3].Type)
}

func TestSubscribeAcknowledges(t *testing.T) {
	f := newFixture()
	subs := []event.Subscription{
		{CorrelationID: event.NewCorrelationID(event.ActionMarketDepth, leg.A)},
		{CorrelationID: event.NewCorrelationID(event.ActionMarketDepth, leg.B)},
	}
	require.NoError(t, f.x.Subscribe(subs))
	ev, ok := f.queue.Pop()
	require.True(t, ok)
	assert.Equal(t, event.TypeSubscriptionStatus, ev.Type)
	assert.Len(t, ev.Messages, 2)
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 3; i++ {
		q.Push(event.Event{Type: event.Type(fmt.Sprint(i))})
	}
	ev, _ := q.Pop()
	assert.Equal(t, event.Type("0"), ev.Type)
	q.Push(event.Event{Type: "3"})
	assert.Equal(t, 3, q.Len())
	var got []event.Type
	for {
		ev, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, ev.Type)
	}
	assert.Equal(t, []event.Type{"1", "2", "3"}, got)
	q.Push(event.Event{})
	q.Clear()
	assert.Equal(t, 0, q.Len())
}
