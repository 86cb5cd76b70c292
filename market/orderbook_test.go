package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

func levels(pq ...float64) []event.Level {
	out := make([]event.Level, 0, len(pq)/2)
	for i := 0; i+1 < len(pq); i += 2 {
		out = append(out, event.Level{Price: pq[i], Size: pq[i+1]})
	}
	return out
}

func TestOrderBookApplyAndMid(t *testing.T) {
	ob := NewOrderBook()
	ob.ApplyDelta(event.Depth{Bids: levels(100, 1, 99.5, 2), Asks: levels(101, 1.5, 102, 3)}, time.Time{})
	bid, ask := ob.Best()
	if bid != 100 || ask != 101 {
		t.Fatalf("unexpected best bid/ask: %f/%f", bid, ask)
	}
	if mid := ob.Mid(); mid != 100.5 {
		t.Fatalf("unexpected mid %f", mid)
	}
	// 删除一档
	ob.ApplyDelta(event.Depth{Bids: levels(100, 0)}, time.Time{})
	bid, _ = ob.Best()
	if bid != 99.5 {
		t.Fatalf("expected best bid 99.5 got %f", bid)
	}
}

func TestSnapshotReplacesDepth(t *testing.T) {
	ob := NewOrderBook()
	ob.ApplyDelta(event.Depth{Bids: levels(90, 1), Asks: levels(110, 1)}, time.Time{})
	ts := time.Unix(1700000000, 0)
	ob.ApplySnapshot(event.Depth{
		Bids: []event.Level{{Price: 100, Size: 1}, {Price: 0, Size: 1}},
		Asks: []event.Level{{Price: 101, Size: 5}, {Price: 102, Size: 0}},
	}, ts)
	bid, ask := ob.Best()
	assert.Equal(t, 100.0, bid)
	assert.Equal(t, 101.0, ask)
	assert.Equal(t, ts, ob.UpdatedAt())

	var asks []float64
	ob.Walk(DepthSideAsk, func(p, _ float64) bool { asks = append(asks, p); return true })
	assert.Equal(t, []float64{101}, asks)
}

func TestCacheApplyIncremental(t *testing.T) {
	tests := []struct {
		name    string
		update  event.Depth
		wantBid float64
		wantAsk float64
	}{
		{"快照整体替换", event.Depth{Bids: levels(98, 1), Asks: levels(99, 1)}, 98, 99},
		{"增量新增更优档", event.Depth{Incremental: true, Bids: levels(100.2, 1)}, 100.2, 101},
		{"增量删除最优档", event.Depth{Incremental: true, Asks: levels(101, 0)}, 100, 102},
		{"增量修改数量不改变最优价", event.Depth{Incremental: true, Bids: levels(100, 7)}, 100, 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache()
			c.Apply(leg.A, event.Depth{Bids: levels(100, 1, 99, 2), Asks: levels(101, 1, 102, 2)}, time.Time{})
			ts := time.Unix(1700000000, 0)
			c.Apply(leg.A, tt.update, ts)
			bid, ask := c.Book(leg.A).Best()
			assert.Equal(t, tt.wantBid, bid)
			assert.Equal(t, tt.wantAsk, ask)
			assert.Equal(t, ts, c.Book(leg.A).UpdatedAt())
		})
	}
}

func TestCacheQuotes(t *testing.T) {
	c := NewCache()
	assert.False(t, c.Quotes().Complete())
	c.Apply(leg.A, event.Depth{Bids: []event.Level{{Price: 100, Size: 1}}, Asks: []event.Level{{Price: 101, Size: 1}}}, time.Time{})
	c.Apply(leg.B, event.Depth{Bids: []event.Level{{Price: 50, Size: 1}}, Asks: []event.Level{{Price: 51, Size: 1}}}, time.Time{})
	q := c.Quotes()
	assert.True(t, q.Complete())
	assert.Equal(t, 100.5, q.Mid(leg.A))
	assert.Equal(t, 50.5, c.Mid(leg.B))
}
