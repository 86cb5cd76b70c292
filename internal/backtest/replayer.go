// Package backtest 按天回放两条腿合并录制的历史行情文件。
//
// 文件名：{dir}/{prefix}{exA}__{exB}__{instA}__{instB}__{YYYY-MM-DD}{suffix}.csv
// 每行 11 列：
//
//	ts, bidsA, asksA, tradePriceA, tradeSizeA, buyerMakerA, bidsB, asksB, tradePriceB, tradeSizeB, buyerMakerB
//
// 深度列形如 "价格_数量|价格_数量"，NA 表示该列本行无数据。
package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"cross-maker-go/config"
	"cross-maker-go/event"
	"cross-maker-go/leg"
)

const (
	dateLayout = "2006-01-02"
	notAvail   = "NA"
	numColumns = 11
)

var (
	ErrMalformedRow = errors.New("malformed market data row")
	ErrNoData       = errors.New("no market data file found")
)

// 每条腿在行内的列偏移：深度 bids/asks 与成交 price/size/buyerMaker。
var columns = [2]struct{ bids, asks, price, size, maker int }{
	leg.A: {1, 2, 3, 4, 5},
	leg.B: {6, 7, 8, 9, 10},
}

// Config 回放参数。
type Config struct {
	Directory   string
	FilePrefix  string
	FileSuffix  string
	Exchanges   [2]string
	Instruments [2]string
	StartDate   time.Time
	EndDate     time.Time
	// StartTime 每日起始偏移，Duration 为 0 表示到当日结束
	StartTime time.Duration
	Duration  time.Duration
}

// ConfigFrom 从应用配置构造回放参数。
func ConfigFrom(bc config.BacktestConfig, legs config.LegsConfig) (Config, error) {
	start, err := time.Parse(dateLayout, bc.StartDate)
	if err != nil {
		return Config{}, fmt.Errorf("parse backtest.startDate: %w", err)
	}
	end, err := time.Parse(dateLayout, bc.EndDate)
	if err != nil {
		return Config{}, fmt.Errorf("parse backtest.endDate: %w", err)
	}
	if end.Before(start) {
		return Config{}, fmt.Errorf("backtest.endDate %s before startDate %s", bc.EndDate, bc.StartDate)
	}
	return Config{
		Directory:   bc.Directory,
		FilePrefix:  bc.FilePrefix,
		FileSuffix:  bc.FileSuffix,
		Exchanges:   [2]string{legs.A.Exchange, legs.B.Exchange},
		Instruments: [2]string{legs.A.Symbol, legs.B.Symbol},
		StartDate:   start,
		EndDate:     end,
		StartTime:   bc.StartTime,
		Duration:    bc.Duration,
	}, nil
}

// Stats 回放统计。
type Stats struct {
	Files        int
	MissingFiles int
	Rows         int64
	Skipped      int64
	Events       int64
}

// Replayer 历史行情回放器。
type Replayer struct {
	cfg    Config
	logger *zap.Logger
	stats  Stats
}

// New 创建回放器。
func New(cfg Config, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{cfg: cfg, logger: logger.Named("replayer")}
}

// Stats 返回统计副本。
func (r *Replayer) Stats() Stats { return r.stats }

// FileName 某一天的文件路径。
func (r *Replayer) FileName(day time.Time) string {
	name := r.cfg.FilePrefix +
		r.cfg.Exchanges[leg.A] + "__" + r.cfg.Exchanges[leg.B] + "__" +
		r.cfg.Instruments[leg.A] + "__" + r.cfg.Instruments[leg.B] + "__" +
		day.Format(dateLayout) + r.cfg.FileSuffix + ".csv"
	return filepath.Join(r.cfg.Directory, name)
}

// Replay 逐日逐行生成 MARKET_DEPTH 与 TRADE 事件交给 handler，handler 返回 false 时提前结束。
// 缺失的日期文件跳过，全部缺失时返回 ErrNoData。
func (r *Replayer) Replay(handler event.Handler) error {
	for day := r.cfg.StartDate; !day.After(r.cfg.EndDate); day = day.AddDate(0, 0, 1) {
		path := r.FileName(day)
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				r.stats.MissingFiles++
				r.logger.Warn("market data file missing", zap.String("file", path))
				continue
			}
			return fmt.Errorf("open %s: %w", path, err)
		}
		r.stats.Files++
		r.logger.Info("replaying market data", zap.String("file", path))
		from, to := r.window(day)
		more, err := r.replayFile(f, from, to, handler)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if !more {
			r.logger.Info("replay stopped by handler", zap.Int64("events", r.stats.Events))
			return nil
		}
	}
	if r.stats.Files == 0 {
		return ErrNoData
	}
	r.logger.Info("replay finished",
		zap.Int("files", r.stats.Files), zap.Int("missing", r.stats.MissingFiles),
		zap.Int64("rows", r.stats.Rows), zap.Int64("events", r.stats.Events))
	return nil
}

// window 当日回放区间 [from, to)，to 为零值表示不限。
func (r *Replayer) window(day time.Time) (time.Time, time.Time) {
	from := day.Add(r.cfg.StartTime)
	if r.cfg.Duration <= 0 {
		return from, time.Time{}
	}
	return from, from.Add(r.cfg.Duration)
}

func (r *Replayer) replayFile(src io.Reader, from, to time.Time, handler event.Handler) (bool, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return true, nil
		}
		line++
		if err != nil {
			return false, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		r.stats.Rows++
		ts, err := ParseTimestamp(row[0])
		if err != nil {
			return false, fmt.Errorf("line %d: %w", line, err)
		}
		if ts.Before(from) || (!to.IsZero() && !ts.Before(to)) {
			r.stats.Skipped++
			continue
		}
		events, err := ParseRow(row, ts)
		if err != nil {
			return false, fmt.Errorf("line %d: %w", line, err)
		}
		for _, ev := range events {
			r.stats.Events++
			if !handler(ev) {
				return false, nil
			}
		}
	}
}

// ParseRow 把一行拆成事件，顺序为 A 深度、B 深度、A 成交、B 成交。
func ParseRow(row []string, ts time.Time) ([]event.Event, error) {
	if len(row) < numColumns {
		return nil, fmt.Errorf("%w: %d columns", ErrMalformedRow, len(row))
	}
	var out []event.Event
	for _, l := range leg.All {
		c := columns[l]
		if row[c.bids] == notAvail {
			continue
		}
		depth, err := ParseDepth(row[c.bids], row[c.asks])
		if err != nil {
			return nil, fmt.Errorf("%s depth: %w", l, err)
		}
		out = append(out, event.Single(event.TypeSubscriptionData, event.Message{
			Type:          event.MsgMarketDepth,
			CorrelationID: event.NewCorrelationID(event.ActionMarketDepth, l),
			Time:          ts,
			Depth:         depth,
		}))
	}
	for _, l := range leg.All {
		c := columns[l]
		if row[c.price] == notAvail {
			continue
		}
		trade, err := parseTrade(row[c.price], row[c.size], row[c.maker])
		if err != nil {
			return nil, fmt.Errorf("%s trade: %w", l, err)
		}
		out = append(out, event.Single(event.TypeSubscriptionData, event.Message{
			Type:          event.MsgTrade,
			CorrelationID: event.NewCorrelationID(event.ActionTrade, l),
			Time:          ts,
			Trades:        []event.PublicTrade{trade},
		}))
	}
	return out, nil
}

// ParseDepth 解析 "价格_数量|价格_数量" 形式的买卖盘。
func ParseDepth(bids, asks string) (*event.Depth, error) {
	b, err := parseLevels(bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	a, err := parseLevels(asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return &event.Depth{Bids: b, Asks: a}, nil
}

func parseLevels(s string) ([]event.Level, error) {
	if s == "" || s == notAvail {
		return nil, nil
	}
	parts := strings.Split(s, "|")
	out := make([]event.Level, 0, len(parts))
	for _, p := range parts {
		price, size, ok := strings.Cut(p, "_")
		if !ok {
			return nil, fmt.Errorf("%w: level %q", ErrMalformedRow, p)
		}
		px, err := strconv.ParseFloat(price, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: price %q", ErrMalformedRow, price)
		}
		sz, err := strconv.ParseFloat(size, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: size %q", ErrMalformedRow, size)
		}
		out = append(out, event.Level{Price: px, Size: sz})
	}
	return out, nil
}

func parseTrade(price, size, maker string) (event.PublicTrade, error) {
	px, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return event.PublicTrade{}, fmt.Errorf("%w: price %q", ErrMalformedRow, price)
	}
	sz, err := strconv.ParseFloat(size, 64)
	if err != nil {
		return event.PublicTrade{}, fmt.Errorf("%w: size %q", ErrMalformedRow, size)
	}
	bm, err := strconv.ParseBool(maker)
	if err != nil {
		return event.PublicTrade{}, fmt.Errorf("%w: buyer maker %q", ErrMalformedRow, maker)
	}
	return event.PublicTrade{Price: px, Size: sz, IsBuyerMaker: bm}, nil
}

// ParseTimestamp 解析 Unix 秒，允许小数部分（最多纳秒精度）。
func ParseTimestamp(s string) (time.Time, error) {
	sec, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRow, s)
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedRow, s)
		}
	}
	return time.Unix(n, nanos).UTC(), nil
}
