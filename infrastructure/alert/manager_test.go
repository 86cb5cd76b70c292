package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSendAlertLevels(t *testing.T) {
	tests := []struct {
		name   string
		sendFn func(*Manager) error
		want   Level
	}{
		{"信息", func(m *Manager) error { return m.SendInfo("msg", nil) }, LevelInfo},
		{"警告", func(m *Manager) error { return m.SendWarning("msg", nil) }, LevelWarning},
		{"错误", func(m *Manager) error { return m.SendError("msg", nil) }, LevelError},
		{"严重", func(m *Manager) error { return m.SendCritical("msg", nil) }, LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChannel("mock")
			mgr := NewManager([]Channel{mock}, time.Minute)

			require.NoError(t, tt.sendFn(mgr))
			require.Equal(t, 1, mock.Count())
			assert.Equal(t, tt.want, mock.Alerts()[0].Level)
			assert.False(t, mock.Alerts()[0].Timestamp.IsZero())
		})
	}
}

func TestThrottleUsesInjectedClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute, WithClock(clock))

	require.NoError(t, mgr.SendWarning("position mismatch", nil))
	require.NoError(t, mgr.SendWarning("position mismatch", nil))
	assert.Equal(t, 1, mock.Count())

	// 不同消息不受限流影响
	require.NoError(t, mgr.SendWarning("other", nil))
	assert.Equal(t, 2, mock.Count())

	now = now.Add(time.Minute)
	require.NoError(t, mgr.SendWarning("position mismatch", nil))
	assert.Equal(t, 3, mock.Count())
	assert.Equal(t, now, mock.Alerts()[2].Timestamp)
}

func TestSendAlertChannelFailures(t *testing.T) {
	ok := NewMockChannel("ok")
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)

	mgr := NewManager([]Channel{bad, ok}, time.Minute)
	assert.NoError(t, mgr.SendCritical("partial", nil), "部分通道成功时不返回错误")
	assert.Equal(t, 1, ok.Count())

	only := NewManager([]Channel{bad}, time.Minute)
	err := only.SendCritical("all failed", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel bad failed")
}

func TestResetThrottle(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	require.NoError(t, mgr.SendInfo("x", nil))
	require.NoError(t, mgr.SendInfo("x", nil))
	mgr.ResetThrottle()
	require.NoError(t, mgr.SendInfo("x", nil))
	assert.Equal(t, 2, mock.Count())
}

func TestAddChannel(t *testing.T) {
	mgr := NewManager(nil, time.Minute)
	mgr.AddChannel(NewMockChannel("a"))
	mgr.AddChannel(NewLogChannel("log", nil))
	assert.Equal(t, []string{"a", "log"}, mgr.Channels())
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ch := NewLogChannel("log", zap.New(core))

	require.NoError(t, ch.Send(Alert{Level: LevelCritical, Message: "stop-loss triggered", Fields: map[string]interface{}{"peak": 100.0}}))
	require.NoError(t, ch.Send(Alert{Level: LevelWarning, Message: "position mismatch"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, 100.0, entries[0].ContextMap()["peak"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestWebhookChannel(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL, time.Second)
	require.NoError(t, ch.Send(Alert{Level: LevelCritical, Message: "stop-loss triggered", Fields: map[string]interface{}{"leg": "prodA"}}))
	assert.Equal(t, LevelCritical, got.Level)
	assert.Equal(t, "prodA", got.Fields["leg"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	assert.Error(t, NewWebhookChannel("hook", failing.URL, time.Second).Send(Alert{Level: LevelInfo, Message: "x"}))
}
