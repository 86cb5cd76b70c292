// Package ledger 维护每条腿的内部账本：余额、仓位、成交量与手续费。
package ledger

import (
	"errors"
	"fmt"

	"cross-maker-go/leg"
)

// ErrUnknownFeeAsset 手续费币种既不是基础资产也不是计价资产。
var ErrUnknownFeeAsset = errors.New("fee asset matches neither base nor quote")

// Snapshot 账本只读快照。
type Snapshot struct {
	Base        float64 `json:"base"`
	Quote       float64 `json:"quote"`
	Position    float64 `json:"position"`
	AvgCost     float64 `json:"avgCost"`
	TradeCount  int     `json:"tradeCount"`
	VolumeBase  float64 `json:"volumeBase"`
	VolumeQuote float64 `json:"volumeQuote"`
	FeeBase     float64 `json:"feeBase"`
	FeeQuote    float64 `json:"feeQuote"`
}

// Ledger 单腿账本。只在调度协程内读写，不加锁；外部通过 Summary 在调度协程内取快照。
type Ledger struct {
	inst leg.Instrument
	s    Snapshot
}

// New 以初始余额创建账本。
func New(inst leg.Instrument, base, quote float64) *Ledger {
	return &Ledger{inst: inst, s: Snapshot{Base: base, Quote: quote}}
}

// SetInstrument 合约元数据解析完成后更新。
func (l *Ledger) SetInstrument(inst leg.Instrument) {
	l.inst = inst
}

// ApplyFill 记账一笔成交；fee 以 feeAsset 计，只扣减对应资产的余额。
func (l *Ledger) ApplyFill(side leg.Side, qty, price, fee float64, feeAsset string) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("invalid fill qty=%.8f price=%.8f", qty, price)
	}

	usd := l.inst.Notional(qty, price)
	baseQty := usd / price
	sign := side.Sign()

	prev := l.s.Position
	l.s.Position = prev + sign*qty
	l.s.AvgCost = avgCost(l.s.AvgCost, prev, l.s.Position, price)

	l.s.Base += sign * baseQty
	l.s.Quote -= sign * usd
	l.s.TradeCount++
	l.s.VolumeBase += baseQty
	l.s.VolumeQuote += usd

	if fee == 0 {
		return nil
	}
	switch feeAsset {
	case l.inst.BaseAsset:
		l.s.Base -= fee
		l.s.FeeBase += fee
	case l.inst.QuoteAsset:
		l.s.Quote -= fee
		l.s.FeeQuote += fee
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFeeAsset, feeAsset)
	}
	return nil
}

// SetBalances 用交易所回报覆盖余额（实盘模式下余额以交易所为准）。
func (l *Ledger) SetBalances(base, quote float64) {
	l.s.Base = base
	l.s.Quote = quote
}

// SetPosition 仅在操作员 reinit 时采用交易所仓位。
func (l *Ledger) SetPosition(pos float64) {
	l.s.Position = pos
}

// Position 当前仓位（合约单位）。
func (l *Ledger) Position() float64 {
	return l.s.Position
}

// Exposure 当前仓位的美元敞口。
func (l *Ledger) Exposure(mid float64) float64 {
	return l.inst.Notional(l.s.Position, mid)
}

// TotalValue quote + base*mid。
func (l *Ledger) TotalValue(mid float64) float64 {
	return l.s.Quote + l.s.Base*mid
}

// UnrealizedPnL 按 mid 计算持仓相对平均成本的未实现盈亏（计价资产）。
func (l *Ledger) UnrealizedPnL(mid float64) float64 {
	if l.s.Position == 0 || l.s.AvgCost <= 0 || mid <= 0 {
		return 0
	}
	return l.inst.BaseQuantity(l.s.Position, mid) * (mid - l.s.AvgCost)
}

// Snapshot 返回当前账本副本。
func (l *Ledger) Snapshot() Snapshot {
	return l.s
}

// Restore 从持久化快照恢复。
func (l *Ledger) Restore(s Snapshot) {
	l.s = s
}

// avgCost 加仓时按加权平均更新成本；减仓不变，平仓归零，反手以成交价为成本。
func avgCost(cost, prev, next, price float64) float64 {
	switch {
	case next == 0:
		return 0
	case prev == 0 || (prev > 0) != (next > 0):
		return price
	case abs(next) > abs(prev):
		return (cost*abs(prev) + price*(abs(next)-abs(prev))) / abs(next)
	default:
		return cost
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
