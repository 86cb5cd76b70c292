package engine

// Metrics 引擎上报的指标，monitor.Monitor 满足该接口。
type Metrics interface {
	RecordEvent(eventType string)
	RecordOrderPlaced(leg string)
	RecordOrderCanceled(leg string)
	RecordOrderFilled(leg string)
	RecordOrderRejected(leg string)
	RecordFill(leg, side string, qty float64, maker bool)
	RecordCrossing(direction string)
	UpdatePricing(theo, skewUpper, skewLower float64, relativeTarget int)
	UpdateQuoteLevel(leg, side string, price float64)
	UpdateBidAsk(leg string, bid, ask float64)
	UpdateBalance(leg, asset string, value float64)
	UpdatePosition(leg string, value float64)
	UpdateTotalValue(value float64)
	UpdateLockState(leg string, state int)
	UpdateMismatch(leg string, mismatch bool)
	UpdateRisk(drawdown float64, stopLoss bool)
	UpdateWalls(upper, lower bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordEvent(string)                           {}
func (nopMetrics) RecordOrderPlaced(string)                     {}
func (nopMetrics) RecordOrderCanceled(string)                   {}
func (nopMetrics) RecordOrderFilled(string)                     {}
func (nopMetrics) RecordOrderRejected(string)                   {}
func (nopMetrics) RecordFill(string, string, float64, bool)     {}
func (nopMetrics) RecordCrossing(string)                        {}
func (nopMetrics) UpdatePricing(float64, float64, float64, int) {}
func (nopMetrics) UpdateQuoteLevel(string, string, float64)     {}
func (nopMetrics) UpdateBidAsk(string, float64, float64)        {}
func (nopMetrics) UpdateBalance(string, string, float64)        {}
func (nopMetrics) UpdatePosition(string, float64)               {}
func (nopMetrics) UpdateTotalValue(float64)                     {}
func (nopMetrics) UpdateLockState(string, int)                  {}
func (nopMetrics) UpdateMismatch(string, bool)                  {}
func (nopMetrics) UpdateRisk(float64, bool)                     {}
func (nopMetrics) UpdateWalls(bool, bool)                       {}
