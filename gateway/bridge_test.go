package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

type eventSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *eventSink) handle(ev event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *eventSink) find(mt event.MessageType) (event.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		for _, m := range ev.Messages {
			if m.Type == mt {
				return m, true
			}
		}
	}
	return event.Message{}, false
}

// fakeBridge 回应订阅与 websocket 下单请求的桥接进程
func fakeBridge(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			var reply event.Event
			switch env.Kind {
			case KindSubscribe:
				msgs := make([]event.Message, 0, len(env.Subscriptions))
				for _, s := range env.Subscriptions {
					msgs = append(msgs, event.Message{Type: event.MsgSubscriptionStarted, CorrelationID: s.CorrelationID})
				}
				reply = event.Event{Type: event.TypeSubscriptionStatus, Messages: msgs}
			case KindRequest:
				reply = event.Single(event.TypeResponse, event.Message{
					Type:          event.MsgCreateOrder,
					CorrelationID: env.Request.CorrelationID,
					Order:         &event.OrderUpdate{OrderID: "ws-1", ClientOrderID: env.Request.ClientOrderID, Status: event.OrderNew},
				})
			}
			if err := conn.WriteJSON(Envelope{Kind: KindEvent, Event: &reply}); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/request", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		var req event.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Operation == event.OpCancelOrder {
			http.Error(w, "unknown order", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(event.Single(event.TypeResponse, event.Message{
			Type:          event.MsgGetAccountBalances,
			CorrelationID: req.CorrelationID,
			Balances:      []event.Balance{{Asset: "USDT", Quantity: 1000}},
		}))
	})
	return httptest.NewServer(mux)
}

func newTestBridge(t *testing.T, srv *httptest.Server, sink *eventSink) *BridgeTransport {
	b := NewBridgeTransport(BridgeConfig{
		WebsocketURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		RestURL:      srv.URL,
		APIKey:       "secret",
		RateLimit:    100,
		Burst:        10,
	}, sink.handle)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func TestBridgeSubscribeAndWebsocketRequest(t *testing.T) {
	srv := fakeBridge(t)
	defer srv.Close()
	sink := &eventSink{}
	b := newTestBridge(t, srv, sink)

	_, up := sink.find(event.MsgSessionUp)
	assert.True(t, up, "连接成功后推送 SESSION_CONNECTION_UP")

	cid := event.NewCorrelationID(event.ActionMarketDepth, leg.A)
	require.NoError(t, b.Subscribe([]event.Subscription{{Exchange: "okx", Symbol: "BTC-USDT", Field: event.ActionMarketDepth, CorrelationID: cid}}))
	require.Eventually(t, func() bool {
		m, ok := sink.find(event.MsgSubscriptionStarted)
		return ok && m.CorrelationID == cid
	}, 2*time.Second, 10*time.Millisecond)

	req := event.Request{
		Operation:     event.OpCreateOrder,
		CorrelationID: event.NewCorrelationID(event.ActionCreateOrderBuy, leg.B),
		Side:          leg.Buy,
		Quantity:      1,
		LimitPrice:    100,
		ClientOrderID: "c-1",
	}
	require.NoError(t, b.SendRequestByWebsocket(req))
	require.Eventually(t, func() bool {
		m, ok := sink.find(event.MsgCreateOrder)
		return ok && m.Order != nil && m.Order.ClientOrderID == "c-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeRestRequest(t *testing.T) {
	srv := fakeBridge(t)
	defer srv.Close()
	sink := &eventSink{}
	b := newTestBridge(t, srv, sink)

	cid := event.NewCorrelationID(event.ActionGetAccountBalances, leg.A)
	require.NoError(t, b.SendRequest(event.Request{Operation: event.OpGetAccountBalances, CorrelationID: cid}))

	m, ok := sink.find(event.MsgGetAccountBalances)
	require.True(t, ok, "REST 响应在返回前回调")
	assert.Equal(t, cid, m.CorrelationID)
	assert.Equal(t, 1000.0, m.Balances[0].Quantity)

	err := b.SendRequest(event.Request{Operation: event.OpCancelOrder, CorrelationID: event.NewCorrelationID(event.ActionCancelBuyOrder, leg.A)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestBridgeStoppedRejectsRequests(t *testing.T) {
	srv := fakeBridge(t)
	defer srv.Close()
	sink := &eventSink{}
	b := newTestBridge(t, srv, sink)

	require.NoError(t, b.Stop())
	assert.ErrorIs(t, b.SendRequest(event.Request{Operation: event.OpGetAccounts}), ErrStopped)
	assert.ErrorIs(t, b.SendRequestByWebsocket(event.Request{Operation: event.OpCreateOrder}), ErrStopped)
}
