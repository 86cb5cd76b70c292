// Package store 持久化：成交/订单流水 CSV、Redis 重启状态与 SQL 盈亏导出。
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

var ErrSinkClosed = errors.New("sink closed")

var (
	fillHeader  = []string{"time", "leg", "tradeId", "orderId", "clientOrderId", "side", "price", "quantity", "fee", "feeAsset", "maker"}
	orderHeader = []string{"time", "leg", "orderId", "clientOrderId", "side", "limitPrice", "quantity", "cumulativeFilled", "status"}
)

// CSVSink 把私有成交与订单回报逐行写入两个 CSV 文件。
type CSVSink struct {
	mu     sync.Mutex
	files  []*os.File
	fills  *csv.Writer
	orders *csv.Writer
	closed bool
}

// NewCSVSink 在 dir 下创建 {prefix}fills.csv 与 {prefix}orders.csv。
func NewCSVSink(dir, prefix string) (*CSVSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	s := &CSVSink{}
	var err error
	if s.fills, err = s.open(filepath.Join(dir, prefix+"fills.csv"), fillHeader); err != nil {
		s.Close()
		return nil, err
	}
	if s.orders, err = s.open(filepath.Join(dir, prefix+"orders.csv"), orderHeader); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *CSVSink) open(path string, header []string) (*csv.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	s.files = append(s.files, f)
	w := csv.NewWriter(f)
	if err := writeRow(w, header); err != nil {
		return nil, fmt.Errorf("write header %s: %w", path, err)
	}
	return w, nil
}

// RecordFill 写入一笔私有成交。
func (s *CSVSink) RecordFill(ts time.Time, l leg.ID, f event.Fill) error {
	return s.write(func() error {
		return writeRow(s.fills, []string{
			ts.UTC().Format(time.RFC3339Nano),
			l.String(),
			f.TradeID,
			f.OrderID,
			f.ClientOrderID,
			string(f.Side),
			formatFloat(f.Price),
			formatFloat(f.Quantity),
			formatFloat(f.Fee),
			f.FeeAsset,
			strconv.FormatBool(f.IsMaker),
		})
	})
}

// RecordOrder 写入一条订单回报。
func (s *CSVSink) RecordOrder(ts time.Time, l leg.ID, u event.OrderUpdate) error {
	return s.write(func() error {
		return writeRow(s.orders, []string{
			ts.UTC().Format(time.RFC3339Nano),
			l.String(),
			u.OrderID,
			u.ClientOrderID,
			string(u.Side),
			formatFloat(u.LimitPrice),
			formatFloat(u.Quantity),
			formatFloat(u.CumulativeFilled),
			string(u.Status),
		})
	})
}

func (s *CSVSink) write(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	return fn()
}

// Close 刷新并关闭文件，可重复调用。
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, w := range []*csv.Writer{s.fills, s.orders} {
		if w != nil {
			w.Flush()
			errs = append(errs, w.Error())
		}
	}
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
