// Package market 维护两条腿的盘口缓存。
package market

import (
	"time"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

// Quotes 两条腿的最优买卖价。
type Quotes struct {
	BidA, AskA float64
	BidB, AskB float64
}

// Complete 四个价格都非空。
func (q Quotes) Complete() bool {
	return q.BidA > 0 && q.AskA > 0 && q.BidB > 0 && q.AskB > 0
}

// Mid 返回指定腿的中间价。
func (q Quotes) Mid(l leg.ID) float64 {
	if l == leg.A {
		return (q.BidA + q.AskA) / 2
	}
	return (q.BidB + q.AskB) / 2
}

// Cache 两条腿的订单簿缓存。
type Cache struct {
	books [2]*OrderBook
}

func NewCache() *Cache {
	return &Cache{books: [2]*OrderBook{NewOrderBook(), NewOrderBook()}}
}

// Book 返回指定腿的订单簿。
func (c *Cache) Book(l leg.ID) *OrderBook { return c.books[l] }

// Apply 写入一条腿的深度；Incremental 为 true 时按增量合并，否则整体替换。
func (c *Cache) Apply(l leg.ID, d event.Depth, ts time.Time) {
	if d.Incremental {
		c.books[l].ApplyDelta(d, ts)
		return
	}
	c.books[l].ApplySnapshot(d, ts)
}

// Quotes 当前最优价。
func (c *Cache) Quotes() Quotes {
	var q Quotes
	q.BidA, q.AskA = c.books[leg.A].Best()
	q.BidB, q.AskB = c.books[leg.B].Best()
	return q
}

// Mid 指定腿中间价；缺一侧时为 0。
func (c *Cache) Mid(l leg.ID) float64 { return c.books[l].Mid() }
