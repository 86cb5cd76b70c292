package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cross-maker-go/leg"
	"cross-maker-go/market"
)

func instruments() (leg.Instrument, leg.Instrument) {
	a := leg.Instrument{Symbol: "BTC-USDT", PriceIncrement: 0.01, QuantityIncrement: 0.001}
	b := leg.Instrument{Symbol: "BTCUSDT", PriceIncrement: 0.01, QuantityIncrement: 0.001}
	return a, b
}

func newEngine(t *testing.T, p Params) *Engine {
	t.Helper()
	a, b := instruments()
	e, err := New(p, a, b)
	require.NoError(t, err)
	return e
}

func spreadParams() Params {
	s := math.Sqrt(0.5)
	return Params{
		SignalVector:     [2]float64{s, -s},
		TradingVector:    [2]float64{1, -1},
		Margin:           1,
		Stepback:         0.5,
		TypicalOrderSize: 1000,
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"信号向量为零", func(p *Params) { p.SignalVector[1] = 0 }},
		{"margin 为零", func(p *Params) { p.Margin = 0 }},
		{"stepback 为零", func(p *Params) { p.Stepback = 0 }},
		{"下单规模为零", func(p *Params) { p.TypicalOrderSize = 0 }},
		{"交易向量为零", func(p *Params) { p.TradingVector[0] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := spreadParams()
			tt.mutate(&p)
			a, b := instruments()
			_, err := New(p, a, b)
			assert.Error(t, err)
		})
	}
}

func TestFirstTickSeedsTheoreticalPrice(t *testing.T) {
	p := spreadParams()
	p.SignalVector = [2]float64{0.5, 0.5}
	e := newEngine(t, p)

	res, ok := e.OnTick(market.Quotes{BidA: 100, AskA: 101, BidB: 50, AskB: 51})
	require.True(t, ok)
	assert.InDelta(t, 75.5, e.State().TheoreticalPrice, 1e-12)
	assert.Equal(t, NoCrossing, res.Crossing)
	assert.Equal(t, 0, e.State().RelativeTargetPosition)
}

func TestIncompleteOrUnchangedTickSkipped(t *testing.T) {
	e := newEngine(t, spreadParams())
	_, ok := e.OnTick(market.Quotes{BidA: 100, AskA: 101, BidB: 0, AskB: 51})
	assert.False(t, ok)
	assert.False(t, e.State().Seeded)

	q := market.Quotes{BidA: 100, AskA: 100.1, BidB: 99.9, AskB: 100.2}
	_, ok = e.OnTick(q)
	require.True(t, ok)
	before := e.State()
	_, ok = e.OnTick(q)
	assert.False(t, ok)
	assert.Equal(t, before, e.State())
}

func TestUpwardCrossingMovesTheoreticalPrice(t *testing.T) {
	p := spreadParams()
	p.SignalVector = [2]float64{1, -1}
	e := newEngine(t, p)
	e.Restore(State{TheoreticalPrice: 100, Seeded: true})

	// sp0 = 201.2 - 100 = 101.2, sp1 = 201.3 - 99.9 = 101.4
	res, ok := e.OnTick(market.Quotes{BidA: 201.2, AskA: 201.3, BidB: 99.9, AskB: 100})
	require.True(t, ok)
	assert.Equal(t, CrossUp, res.Crossing)
	assert.InDelta(t, 100.5, e.State().TheoreticalPrice, 1e-9)
	assert.Equal(t, 1, e.State().RelativeTargetPosition)
	assert.Equal(t, int64(0), e.State().TicksSinceUp)
}

func TestDownwardCrossingMovesTheoreticalPrice(t *testing.T) {
	p := spreadParams()
	p.SignalVector = [2]float64{1, -1}
	e := newEngine(t, p)
	e.Restore(State{TheoreticalPrice: 100, Seeded: true})

	// sp0 = 198.6 - 100 = 98.6, sp1 = 198.8 - 99.9 = 98.9
	res, ok := e.OnTick(market.Quotes{BidA: 198.6, AskA: 198.8, BidB: 99.9, AskB: 100})
	require.True(t, ok)
	assert.Equal(t, CrossDown, res.Crossing)
	// ceil((100-98.9-1+1e-5)/0.5)*0.5 = 0.5
	assert.InDelta(t, 99.5, e.State().TheoreticalPrice, 1e-9)
	assert.Equal(t, -1, e.State().RelativeTargetPosition)
}

func TestNoCrossingInsideBand(t *testing.T) {
	p := spreadParams()
	p.SignalVector = [2]float64{1, -1}
	e := newEngine(t, p)
	e.Restore(State{TheoreticalPrice: 100, Seeded: true})

	quotes := []market.Quotes{
		{BidA: 200.5, AskA: 200.6, BidB: 99.9, AskB: 100},
		{BidA: 199.5, AskA: 199.6, BidB: 99.9, AskB: 100},
		{BidA: 200.9, AskA: 200.95, BidB: 100, AskB: 100.01},
	}
	for _, q := range quotes {
		res, ok := e.OnTick(q)
		require.True(t, ok)
		assert.Equal(t, NoCrossing, res.Crossing)
	}
	assert.InDelta(t, 100.0, e.State().TheoreticalPrice, 1e-12)
	assert.Equal(t, 0, e.State().RelativeTargetPosition)
}

func TestRepeatedCrossingsSkew(t *testing.T) {
	p := spreadParams()
	p.SignalVector = [2]float64{1, -1}
	e := newEngine(t, p)
	e.Restore(State{TheoreticalPrice: 100, Seeded: true})

	_, _ = e.OnTick(market.Quotes{BidA: 201.2, AskA: 201.3, BidB: 99.9, AskB: 100})
	assert.Equal(t, 1.0, e.State().SkewUpper)

	// 第二次上穿紧随其后：偏斜进入最高档
	res, _ := e.OnTick(market.Quotes{BidA: 202.6, AskA: 202.7, BidB: 99.9, AskB: 100})
	assert.Equal(t, CrossUp, res.Crossing)
	assert.Equal(t, 4.0, e.State().SkewUpper)
	assert.Equal(t, 2, e.State().RelativeTargetPosition)

	// 下穿使上偏斜向 1 衰减
	theo := e.State().TheoreticalPrice
	res, _ = e.OnTick(market.Quotes{BidA: theo + 100 - 3, AskA: theo + 100 - 2.5, BidB: 99.9, AskB: 100})
	assert.Equal(t, CrossDown, res.Crossing)
	assert.Equal(t, 2.5, e.State().SkewUpper)
	assert.Equal(t, 1, e.State().RelativeTargetPosition)
}

func TestQuoteLevelsAndAmounts(t *testing.T) {
	e := newEngine(t, spreadParams())
	e.Restore(State{TheoreticalPrice: 0, Seeded: true})

	res, ok := e.OnTick(market.Quotes{BidA: 100, AskA: 100.1, BidB: 99.9, AskB: 100.2})
	require.True(t, ok)
	require.Equal(t, NoCrossing, res.Crossing)

	assert.InDelta(t, 101.62, res.Levels.SellA, 1e-9)
	assert.InDelta(t, 98.48, res.Levels.BuyA, 1e-9)
	assert.InDelta(t, 101.52, res.Levels.SellB, 1e-9)
	assert.InDelta(t, 98.58, res.Levels.BuyB, 1e-9)
	assert.Equal(t, res.Levels.SellA, res.Levels.For(leg.A, leg.Sell))
	assert.Equal(t, [2]float64{res.Levels.BuyB, res.Levels.SellB}, res.Levels.Pair(leg.B))

	assert.InDelta(t, 9.995, res.Amounts[leg.A], 1e-9)
	assert.InDelta(t, 9.995, res.Amounts[leg.B], 1e-9)
	assert.GreaterOrEqual(t, res.Amounts[leg.A], 0.0)
}

func TestContractDenominatedAmount(t *testing.T) {
	a, b := instruments()
	b = leg.Instrument{Inverse: true, ContractDenominated: true, ContractSize: 100, PriceIncrement: 0.5, QuantityIncrement: 1}
	e, err := New(spreadParams(), a, b)
	require.NoError(t, err)
	e.Restore(State{Seeded: true})
	res, ok := e.OnTick(market.Quotes{BidA: 100, AskA: 100.1, BidB: 99.5, AskB: 100.5})
	require.True(t, ok)
	// 1000 美元 / 100 美元每张
	assert.InDelta(t, 10.0, res.Amounts[leg.B], 1e-9)
}

func TestResetReseeds(t *testing.T) {
	e := newEngine(t, spreadParams())
	e.Restore(State{TheoreticalPrice: 5, Seeded: true})
	e.Reset()
	assert.False(t, e.State().Seeded)
	assert.Equal(t, 1.0, e.State().SkewLower)
}

func TestSkewBucket(t *testing.T) {
	tests := []struct {
		name     string
		ticks    int64
		previous int64
		want     float64
	}{
		{"首次穿越不偏斜", 1, 0, 1},
		{"首次穿越即使很久也不偏斜", 500, 0, 1},
		{"30 tick 内", 30, 1, 4},
		{"60 tick 内", 31, 2, 3},
		{"90 tick 内", 90, 3, 2},
		{"超过 90 tick", 91, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, skewBucket(tt.ticks, tt.previous))
		})
	}
}

func TestFirstCrossingInEachDirectionNotSkewed(t *testing.T) {
	p := spreadParams()
	p.SignalVector = [2]float64{1, -1}
	e := newEngine(t, p)
	e.Restore(State{TheoreticalPrice: 100, Seeded: true})

	// 首次下穿发生在第 1 个 tick，没有此前的下穿可比较
	res, _ := e.OnTick(market.Quotes{BidA: 198.6, AskA: 198.8, BidB: 99.9, AskB: 100})
	require.Equal(t, CrossDown, res.Crossing)
	assert.Equal(t, 1.0, e.State().SkewLower)

	// 首次上穿同样不偏斜，即使与上次下穿只隔 1 个 tick
	theo := e.State().TheoreticalPrice
	res, _ = e.OnTick(market.Quotes{BidA: theo + 101.2, AskA: theo + 101.3, BidB: 99.9, AskB: 100})
	require.Equal(t, CrossUp, res.Crossing)
	assert.Equal(t, 1.0, e.State().SkewUpper)
	assert.Equal(t, int64(1), e.State().UpCrossings)
	assert.Equal(t, int64(1), e.State().DownCrossings)
}
