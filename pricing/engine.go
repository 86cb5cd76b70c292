// Package pricing 实现双腿信号价格的穿越模型：理论价、偏斜、报价档位与下单数量。
package pricing

import (
	"errors"
	"fmt"
	"math"

	"cross-maker-go/leg"
	"cross-maker-go/market"
)

// DefaultEpsilon 穿越判定的容差。
const DefaultEpsilon = 1e-5

var (
	ErrZeroSignalWeight = errors.New("signal vector components must be non-zero")
	ErrInvalidParams    = errors.New("invalid pricing params")
)

// Params 定价参数。
type Params struct {
	SignalVector     [2]float64
	TradingVector    [2]float64
	Margin           float64
	Stepback         float64
	Epsilon          float64
	TypicalOrderSize float64 // 美元
}

// Validate 除数类参数为 0 时拒绝启动。
func (p Params) Validate() error {
	if p.SignalVector[0] == 0 || p.SignalVector[1] == 0 {
		return ErrZeroSignalWeight
	}
	if p.Margin <= 0 {
		return fmt.Errorf("%w: margin must be > 0", ErrInvalidParams)
	}
	if p.Stepback <= 0 {
		return fmt.Errorf("%w: stepback must be > 0", ErrInvalidParams)
	}
	if p.TypicalOrderSize <= 0 {
		return fmt.Errorf("%w: typicalOrderSize must be > 0", ErrInvalidParams)
	}
	if p.TradingVector[0] == 0 || p.TradingVector[1] == 0 {
		return fmt.Errorf("%w: trading vector components must be non-zero", ErrInvalidParams)
	}
	if p.Epsilon < 0 || p.Epsilon >= 1 {
		return fmt.Errorf("%w: epsilon must be in [0,1)", ErrInvalidParams)
	}
	return nil
}

// Crossing 本次 tick 的穿越方向。
type Crossing int

const (
	NoCrossing Crossing = iota
	CrossUp
	CrossDown
)

func (c Crossing) String() string {
	switch c {
	case CrossUp:
		return "up"
	case CrossDown:
		return "down"
	default:
		return "none"
	}
}

// QuoteLevels 两条腿的买卖报价。
type QuoteLevels struct {
	BuyA, SellA float64
	BuyB, SellB float64
}

// For 返回指定腿、方向的报价。
func (q QuoteLevels) For(l leg.ID, side leg.Side) float64 {
	switch {
	case l == leg.A && side == leg.Buy:
		return q.BuyA
	case l == leg.A:
		return q.SellA
	case side == leg.Buy:
		return q.BuyB
	default:
		return q.SellB
	}
}

// Pair 返回指定腿的 (buy, sell)。
func (q QuoteLevels) Pair(l leg.ID) [2]float64 {
	return [2]float64{q.For(l, leg.Buy), q.For(l, leg.Sell)}
}

// State 可持久化的定价状态。
type State struct {
	TheoreticalPrice       float64 `json:"theoreticalPrice"`
	SkewUpper              float64 `json:"skewUpper"`
	SkewLower              float64 `json:"skewLower"`
	TicksSinceUp           int64   `json:"ticksSinceUp"`
	TicksSinceDown         int64   `json:"ticksSinceDown"`
	RelativeTargetPosition int     `json:"relativeTargetPosition"`
	Seeded                 bool    `json:"seeded"`
	UpCrossings            int64   `json:"upCrossings"`
	DownCrossings          int64   `json:"downCrossings"`
}

// Result 一次定价的输出。
type Result struct {
	Levels   QuoteLevels
	Amounts  [2]float64
	Crossing Crossing
	Signal   [2]float64
}

// Engine 定价引擎；只在调度协程内调用，不加锁。
type Engine struct {
	params Params
	inst   [2]leg.Instrument
	state  State
	last   market.Quotes
	result Result
}

// New 创建定价引擎，参数非法时返回错误。
func New(p Params, a, b leg.Instrument) (*Engine, error) {
	if p.Epsilon == 0 {
		p.Epsilon = DefaultEpsilon
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		params: p,
		inst:   [2]leg.Instrument{a, b},
		state:  State{SkewUpper: 1, SkewLower: 1},
	}, nil
}

// SetInstrument 合约元数据就绪后更新步长。
func (e *Engine) SetInstrument(l leg.ID, inst leg.Instrument) { e.inst[l] = inst }

// SetTypicalOrderSize 热更新下单规模。
func (e *Engine) SetTypicalOrderSize(usd float64) {
	if usd > 0 {
		e.params.TypicalOrderSize = usd
	}
}

// Params 当前参数。
func (e *Engine) Params() Params { return e.params }

// State 返回状态副本。
func (e *Engine) State() State { return e.state }

// Restore 恢复持久化状态。
func (e *Engine) Restore(s State) {
	if s.SkewUpper <= 0 {
		s.SkewUpper = 1
	}
	if s.SkewLower <= 0 {
		s.SkewLower = 1
	}
	e.state = s
}

// Reset 清空状态，下一 tick 重新播种理论价。
func (e *Engine) Reset() {
	e.state = State{SkewUpper: 1, SkewLower: 1}
	e.last = market.Quotes{}
	e.result = Result{}
}

// Last 最近一次定价结果。
func (e *Engine) Last() Result { return e.result }

// OnTick 处理一次盘口更新。第二个返回值为 false 表示该 tick 不合格（盘口不完整或未变化）。
func (e *Engine) OnTick(q market.Quotes) (Result, bool) {
	if !q.Complete() {
		return e.result, false
	}
	if q == e.last {
		return e.result, false
	}
	e.last = q

	p := e.params
	w0, w1 := p.SignalVector[0], p.SignalVector[1]
	sp0 := q.BidA*w0 + q.AskB*w1
	sp1 := q.AskA*w0 + q.BidB*w1

	s := &e.state
	s.TicksSinceUp++
	s.TicksSinceDown++
	if !s.Seeded {
		s.TheoreticalPrice = (sp0 + sp1) / 2
		s.Seeded = true
	}

	eps, margin, step := p.Epsilon, p.Margin, p.Stepback
	crossing := NoCrossing
	if (sp0-s.TheoreticalPrice)/(margin*s.SkewUpper) > 1-eps {
		s.TheoreticalPrice += math.Ceil((sp0-s.TheoreticalPrice-margin+eps*margin)/step) * step
		s.SkewUpper = skewBucket(s.TicksSinceUp, s.UpCrossings)
		s.SkewLower = decay(s.SkewLower)
		s.TicksSinceUp = 0
		s.RelativeTargetPosition++
		s.UpCrossings++
		crossing = CrossUp
	} else if (s.TheoreticalPrice-sp1)/(margin*s.SkewLower) > 1-eps {
		s.TheoreticalPrice -= math.Ceil((s.TheoreticalPrice-sp1-margin+eps*margin)/step) * step
		s.SkewLower = skewBucket(s.TicksSinceDown, s.DownCrossings)
		s.SkewUpper = decay(s.SkewUpper)
		s.TicksSinceDown = 0
		s.RelativeTargetPosition--
		s.DownCrossings++
		crossing = CrossDown
	}

	e.result = Result{
		Levels:   e.levels(q),
		Amounts:  e.amounts(q),
		Crossing: crossing,
		Signal:   [2]float64{sp0, sp1},
	}
	return e.result, true
}

// levels 由理论价、偏斜后的 margin 及信号向量的正交方向计算四个报价。
func (e *Engine) levels(q market.Quotes) QuoteLevels {
	w0, w1 := e.params.SignalVector[0], e.params.SignalVector[1]
	theo := e.state.TheoreticalPrice
	mL := e.params.Margin * e.state.SkewLower
	mU := e.params.Margin * e.state.SkewUpper

	invA, invB := -w1, w0
	slope := invB / invA

	lowerX, lowerY := -w0*(mL-theo), -w1*(mL-theo)
	upperX, upperY := w0*(mU+theo), w1*(mU+theo)
	yLower := lowerY - slope*lowerX
	yUpper := upperY - slope*upperX

	incA, incB := e.inst[leg.A].PriceIncrement, e.inst[leg.B].PriceIncrement
	return QuoteLevels{
		SellB: leg.CeilToIncrement(slope*q.AskA+yLower, incB),
		BuyB:  leg.FloorToIncrement(slope*q.BidA+yUpper, incB),
		SellA: leg.CeilToIncrement((q.AskB-yUpper)/slope, incA),
		BuyA:  leg.FloorToIncrement((q.BidB-yLower)/slope, incA),
	}
}

func (e *Engine) amounts(q market.Quotes) [2]float64 {
	var out [2]float64
	for _, l := range leg.All {
		usd := e.params.TypicalOrderSize * math.Abs(e.params.TradingVector[l])
		inst := e.inst[l]
		out[l] = math.Max(0, inst.RoundQuantityDown(inst.QuantityForNotional(usd, q.Mid(l))))
	}
	return out
}

// skewBucket 距上次同向穿越越近，偏斜越大；此前没有同向穿越时不偏斜。
func skewBucket(ticks, previous int64) float64 {
	switch {
	case previous == 0:
		return 1
	case ticks <= 30:
		return 4
	case ticks <= 60:
		return 3
	case ticks <= 90:
		return 2
	default:
		return 1
	}
}

func decay(skew float64) float64 {
	if skew <= 1 {
		return 1
	}
	return 1 + (skew-1)/2
}
