package engine

import (
	"time"

	"cross-maker-go/leg"
	"cross-maker-go/ledger"
)

// Summary 运行结束（或任意时刻）的汇总。
type Summary struct {
	Start             time.Time
	End               time.Time
	Events            int64
	MarketUpdates     int64
	Ledgers           [2]ledger.Snapshot
	Mids              [2]float64
	UnrealizedPnL     [2]float64
	TotalValue        float64
	Peak              float64
	Drawdown          float64
	StopLossTriggered bool
	TheoreticalPrice  float64
	UpCrossings       int64
	DownCrossings     int64
	Fills             [2]int64
	MakerFills        [2]int64
	Hedges            [2]int64
	Requotes          [2]int64
	Rebalances        int64
	Sweeps            int64
	ResponseErrors    int64
}

// Summary 汇总账本、定价与统计信息。
func (e *Engine) Summary() Summary {
	mids := [2]float64{e.c.Books.Mid(leg.A), e.c.Books.Mid(leg.B)}
	st := e.c.Pricing.State()
	s := Summary{
		Start:             e.stats.StartTime,
		End:               e.stats.LastEventTime,
		Events:            e.stats.Events,
		MarketUpdates:     e.stats.MarketUpdates,
		Mids:              mids,
		TotalValue:        e.totalValue(mids),
		Peak:              e.c.Risk.Peak(),
		Drawdown:          e.c.Risk.Drawdown(),
		StopLossTriggered: e.c.Risk.StopLossTriggered(),
		TheoreticalPrice:  st.TheoreticalPrice,
		UpCrossings:       st.UpCrossings,
		DownCrossings:     st.DownCrossings,
		Fills:             e.stats.Fills,
		MakerFills:        e.stats.MakerFills,
		Hedges:            e.stats.Hedges,
		Requotes:          e.stats.Requotes,
		Rebalances:        e.stats.Rebalances,
		Sweeps:            e.stats.Sweeps,
		ResponseErrors:    e.stats.ResponseErrors,
	}
	for _, l := range leg.All {
		s.Ledgers[l] = e.c.Ledgers[l].Snapshot()
		s.UnrealizedPnL[l] = e.c.Ledgers[l].UnrealizedPnL(mids[l])
	}
	return s
}

