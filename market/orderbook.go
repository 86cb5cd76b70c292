package market

import (
	"time"

	"github.com/tidwall/btree"

	"cross-maker-go/event"
)

// DepthSide 深度方向。
type DepthSide int

const (
	DepthSideBid DepthSide = iota
	DepthSideAsk
)

// OrderBook 按价格有序维护一条腿的完整深度（price -> size）。
// 只在调度协程内读写，不加锁。
type OrderBook struct {
	bids    *btree.Map[float64, float64]
	asks    *btree.Map[float64, float64]
	updated time.Time
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: btree.NewMap[float64, float64](32),
		asks: btree.NewMap[float64, float64](32),
	}
}

// ApplySnapshot 用快照整体替换深度。
func (ob *OrderBook) ApplySnapshot(d event.Depth, ts time.Time) {
	ob.bids = btree.NewMap[float64, float64](32)
	ob.asks = btree.NewMap[float64, float64](32)
	ob.ApplyDelta(d, ts)
}

// ApplyDelta 应用增量更新，Size 为 0 表示删除该档。
func (ob *OrderBook) ApplyDelta(d event.Depth, ts time.Time) {
	apply(ob.bids, d.Bids)
	apply(ob.asks, d.Asks)
	ob.updated = ts
}

func apply(side *btree.Map[float64, float64], levels []event.Level) {
	for _, lv := range levels {
		switch {
		case lv.Price <= 0:
		case lv.Size > 0:
			side.Set(lv.Price, lv.Size)
		default:
			side.Delete(lv.Price)
		}
	}
}

// Best 返回最好买/卖价；若不存在则为 0。
func (ob *OrderBook) Best() (bestBid float64, bestAsk float64) {
	if p, _, ok := ob.bids.Max(); ok {
		bestBid = p
	}
	if p, _, ok := ob.asks.Min(); ok {
		bestAsk = p
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (ob *OrderBook) Mid() float64 {
	bid, ask := ob.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// UpdatedAt 最近一次更新时间。
func (ob *OrderBook) UpdatedAt() time.Time { return ob.updated }

// Walk 从最优价开始遍历一侧深度（买盘降序、卖盘升序），fn 返回 false 停止。
func (ob *OrderBook) Walk(side DepthSide, fn func(price, size float64) bool) {
	if side == DepthSideBid {
		ob.bids.Reverse(fn)
		return
	}
	ob.asks.Scan(fn)
}
