package execution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

type mockTransport struct {
	rest, ws []event.Request
	subs     []event.Subscription
	err      error
	stopped  int
}

func (m *mockTransport) Subscribe(subs []event.Subscription) error {
	m.subs = append(m.subs, subs...)
	return nil
}

func (m *mockTransport) SendRequest(req event.Request) error {
	m.rest = append(m.rest, req)
	return m.err
}

func (m *mockTransport) SendRequestByWebsocket(req event.Request) error {
	m.ws = append(m.ws, req)
	return m.err
}

func (m *mockTransport) Stop() error {
	m.stopped++
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow() bool { return false }

type mockRecorder struct {
	channels []string
	limited  int
}

func (m *mockRecorder) RecordRequest(_, _, channel string, _ error) {
	m.channels = append(m.channels, channel)
}

func (m *mockRecorder) RecordRateLimited(string) { m.limited++ }

func TestRouterChoosesChannel(t *testing.T) {
	tr := &mockTransport{}
	rec := &mockRecorder{}
	r := NewRouter(tr, tr, Config{UseWebsocket: [2]bool{false, true}, Recorder: rec})

	create := event.Request{Operation: event.OpCreateOrder, CorrelationID: event.NewCorrelationID(event.ActionCreateOrderBuy, leg.B)}
	balances := event.Request{Operation: event.OpGetAccountBalances, CorrelationID: event.NewCorrelationID(event.ActionGetAccountBalances, leg.B)}
	cancelA := event.Request{Operation: event.OpCancelOpenOrders, CorrelationID: event.NewCorrelationID(event.ActionCancelAllOrders, leg.A)}

	require.NoError(t, r.Execute(create, balances, cancelA))
	assert.Len(t, tr.ws, 1)
	assert.Len(t, tr.rest, 2)
	assert.Equal(t, []string{"websocket", "rest", "rest"}, rec.channels)

	st := r.Stats()
	assert.Equal(t, int64(2), st.Total(leg.B))
	assert.Equal(t, int64(1), st.Sent[leg.A][event.OpCancelOpenOrders])

	require.NoError(t, r.Stop())
	assert.Equal(t, 1, tr.stopped)
}

func TestRouterRateBudgetDoesNotDrop(t *testing.T) {
	tr := &mockTransport{}
	rec := &mockRecorder{}
	r := NewRouter(tr, tr, Config{Limiters: [2]RateLimiter{denyLimiter{}, nil}, Recorder: rec})
	req := event.Request{Operation: event.OpCancelOpenOrders, CorrelationID: event.NewCorrelationID(event.ActionCancelAllOrders, leg.A)}
	require.NoError(t, r.Execute(req))
	assert.Len(t, tr.rest, 1)
	assert.Equal(t, 1, rec.limited)
	assert.Equal(t, int64(1), r.Stats().RateLimited[leg.A])
}

func TestRouterErrors(t *testing.T) {
	tr := &mockTransport{err: errors.New("boom")}
	r := NewRouter(tr, tr, Config{})
	err := r.Execute(
		event.Request{Operation: event.OpGetInstrument, CorrelationID: event.NewCorrelationID(event.ActionGetInstrument, leg.A)},
		event.Request{Operation: event.OpGetInstrument},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET_INSTRUMENT#prodA")
	assert.Contains(t, err.Error(), "has no correlation id")
	assert.Equal(t, int64(1), r.Stats().Failed[leg.A])
}

func TestRouterSplitTransports(t *testing.T) {
	data, orders := &mockTransport{}, &mockTransport{}
	r := NewRouter(data, orders, Config{})
	require.NoError(t, r.Subscribe([]event.Subscription{{Symbol: "BTCUSDT"}}))
	assert.Len(t, data.subs, 1)
	require.NoError(t, r.Stop())
	assert.Equal(t, 1, data.stopped)
	assert.Equal(t, 1, orders.stopped)
}
