package backtest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cross-maker-go/config"
	"cross-maker-go/event"
	"cross-maker-go/leg"
)

// 2024-03-01 00:00:00 UTC
const day0 = 1709251200

func testConfig(dir string) Config {
	d, _ := time.Parse(dateLayout, "2024-03-01")
	return Config{
		Directory:   dir,
		FilePrefix:  "md__",
		Exchanges:   [2]string{"okx", "binance"},
		Instruments: [2]string{"BTC-USDT", "BTCUSDT"},
		StartDate:   d,
		EndDate:     d.AddDate(0, 0, 1),
	}
}

func writeDay(t *testing.T, r *Replayer, day string, rows ...string) {
	t.Helper()
	d, err := time.Parse(dateLayout, day)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.FileName(d), []byte(strings.Join(rows, "\n")+"\n"), 0o644))
}

func collect(r *Replayer) ([]event.Event, error) {
	var out []event.Event
	err := r.Replay(func(ev event.Event) bool {
		out = append(out, ev)
		return true
	})
	return out, err
}

func TestFileName(t *testing.T) {
	cfg := testConfig("/data")
	cfg.FileSuffix = "_depth5"
	r := New(cfg, nil)
	assert.Equal(t, "/data/md__okx__binance__BTC-USDT__BTCUSDT__2024-03-01_depth5.csv", r.FileName(cfg.StartDate))
}

func TestReplayEmitsDepthThenTrades(t *testing.T) {
	dir := t.TempDir()
	r := New(testConfig(dir), nil)
	writeDay(t, r, "2024-03-01",
		"1709251200,100_1|99.5_2,101_3,NA,NA,NA,200_1,201_1,200.5,0.3,true",
		"1709251201,NA,NA,100.5,0.1,0,NA,NA,NA,NA,NA",
	)

	events, err := collect(r)
	require.NoError(t, err)
	require.Len(t, events, 4)

	m := events[0].Messages[0]
	assert.Equal(t, event.TypeSubscriptionData, events[0].Type)
	assert.Equal(t, event.MsgMarketDepth, m.Type)
	assert.Equal(t, event.NewCorrelationID(event.ActionMarketDepth, leg.A), m.CorrelationID)
	assert.Equal(t, time.Unix(day0, 0).UTC(), m.Time)
	assert.Equal(t, []event.Level{{Price: 100, Size: 1}, {Price: 99.5, Size: 2}}, m.Depth.Bids)
	assert.Equal(t, []event.Level{{Price: 101, Size: 3}}, m.Depth.Asks)

	m = events[1].Messages[0]
	assert.Equal(t, event.NewCorrelationID(event.ActionMarketDepth, leg.B), m.CorrelationID)

	m = events[2].Messages[0]
	assert.Equal(t, event.MsgTrade, m.Type)
	assert.Equal(t, event.NewCorrelationID(event.ActionTrade, leg.B), m.CorrelationID)
	assert.Equal(t, []event.PublicTrade{{Price: 200.5, Size: 0.3, IsBuyerMaker: true}}, m.Trades)

	m = events[3].Messages[0]
	assert.Equal(t, event.NewCorrelationID(event.ActionTrade, leg.A), m.CorrelationID)
	assert.False(t, m.Trades[0].IsBuyerMaker)

	st := r.Stats()
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, 1, st.MissingFiles)
	assert.Equal(t, int64(2), st.Rows)
	assert.Equal(t, int64(4), st.Events)
}

func TestReplayWindow(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.EndDate = cfg.StartDate
	cfg.StartTime = 10 * time.Second
	cfg.Duration = 5 * time.Second
	r := New(cfg, nil)
	writeDay(t, r, "2024-03-01",
		"1709251205,100_1,101_1,NA,NA,NA,NA,NA,NA,NA,NA",
		"1709251210,100_1,101_1,NA,NA,NA,NA,NA,NA,NA,NA",
		"1709251214,100_1,101_1,NA,NA,NA,NA,NA,NA,NA,NA",
		"1709251215,100_1,101_1,NA,NA,NA,NA,NA,NA,NA,NA",
	)

	events, err := collect(r)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, time.Unix(day0+10, 0).UTC(), events[0].Messages[0].Time)
	assert.Equal(t, time.Unix(day0+14, 0).UTC(), events[1].Messages[0].Time)
	assert.Equal(t, int64(2), r.Stats().Skipped)
}

func TestReplayHandlerStops(t *testing.T) {
	dir := t.TempDir()
	r := New(testConfig(dir), nil)
	writeDay(t, r, "2024-03-01", "1709251200,100_1,101_1,NA,NA,NA,200_1,201_1,NA,NA,NA")
	writeDay(t, r, "2024-03-02", "1709337600,100_1,101_1,NA,NA,NA,NA,NA,NA,NA,NA")

	n := 0
	err := r.Replay(func(event.Event) bool {
		n++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.Stats().Files)
}

func TestReplayErrors(t *testing.T) {
	tests := []struct {
		name string
		rows []string
		want error
	}{
		{"列数不足", []string{"1709251200,100_1,101_1"}, ErrMalformedRow},
		{"档位缺少分隔符", []string{"1709251200,100,101_1,NA,NA,NA,NA,NA,NA,NA,NA"}, ErrMalformedRow},
		{"时间戳非法", []string{"abc,100_1,101_1,NA,NA,NA,NA,NA,NA,NA,NA"}, ErrMalformedRow},
		{"主动方标记非法", []string{"1709251200,NA,NA,100,1,maybe,NA,NA,NA,NA,NA"}, ErrMalformedRow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := testConfig(dir)
			cfg.EndDate = cfg.StartDate
			r := New(cfg, nil)
			writeDay(t, r, "2024-03-01", tt.rows...)
			_, err := collect(r)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReplayNoFiles(t *testing.T) {
	r := New(testConfig(t.TempDir()), nil)
	_, err := collect(r)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 2, r.Stats().MissingFiles)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"整秒", "1709251200", time.Unix(day0, 0).UTC()},
		{"毫秒", "1709251200.250", time.Unix(day0, 250_000_000).UTC()},
		{"超过纳秒截断", "1709251200.0000000019", time.Unix(day0, 1).UTC()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigFrom(t *testing.T) {
	legs := config.LegsConfig{
		A: config.LegConfig{Exchange: "okx", Symbol: "BTC-USDT"},
		B: config.LegConfig{Exchange: "binance", Symbol: "BTCUSDT"},
	}
	cfg, err := ConfigFrom(config.BacktestConfig{StartDate: "2024-03-01", EndDate: "2024-03-03", Directory: "data"}, legs)
	require.NoError(t, err)
	assert.Equal(t, [2]string{"okx", "binance"}, cfg.Exchanges)
	assert.Equal(t, filepath.Join("data", "okx__binance__BTC-USDT__BTCUSDT__2024-03-03.csv"), New(cfg, nil).FileName(cfg.EndDate))

	_, err = ConfigFrom(config.BacktestConfig{StartDate: "2024-03-03", EndDate: "2024-03-01"}, legs)
	assert.Error(t, err)
	_, err = ConfigFrom(config.BacktestConfig{StartDate: "03/01/2024", EndDate: "2024-03-01"}, legs)
	assert.Error(t, err)
}
