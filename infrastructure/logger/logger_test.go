package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Outputs = []string{"file"}
	cfg.OutputFile = filepath.Join(dir, "trader.log")
	cfg.ErrorFile = filepath.Join(dir, "error.log")

	l, err := New(cfg)
	require.NoError(t, err)
	ts := time.Unix(1700000000, 0).UTC()
	l.LogOrder("create_confirmed", "prodA", "X", ts, map[string]interface{}{"price": 100.5})
	l.LogTrade("prodB", "SELL", 100, 0.1, 0.01, "USDT", false, ts)
	l.LogError(errors.New("boom"), map[string]interface{}{"leg": "prodA"})
	l.Component("engine").Info("named")
	_ = l.Close()

	raw, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"order_id":"X"`)
	assert.Contains(t, string(raw), `"fee_asset":"USDT"`)
	assert.Contains(t, string(raw), `"logger":"engine"`)

	errRaw, err := os.ReadFile(cfg.ErrorFile)
	require.NoError(t, err)
	assert.Contains(t, string(errRaw), "boom")
	assert.NotContains(t, string(errRaw), "trade_event")
}

func TestNop(t *testing.T) {
	l := Nop()
	l.LogTrade("prodA", "BUY", 1, 1, 0, "USDT", true, time.Now())
	assert.NoError(t, l.Close())
}
