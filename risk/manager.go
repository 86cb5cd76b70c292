// Package risk 实现库存墙、回撤止损、清仓、仓位对账与跨腿再平衡。
package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"cross-maker-go/event"
	"cross-maker-go/leg"
)

// RebalanceTriggerRatio 残差超过 typicalOrderSize*|t| 的该比例时触发再平衡。
const RebalanceTriggerRatio = 0.5

var ErrInvalidConfig = errors.New("invalid risk config")

// Config 风控配置。
type Config struct {
	Instruments           [2]leg.Instrument
	TradingVector         [2]float64
	TypicalOrderSize      float64
	NC2L                  float64 // 库存墙倍数
	KillSwitchMaxDrawdown float64 // 0 表示关闭止损
	Notifier              *Notifier
	Logger                *zap.Logger
	Clock                 Clock
}

// Walls 每条腿的库存墙判断结果。
type Walls struct {
	UpperLimitReached [2]bool
	LowerLimitReached [2]bool
	MaxInventory      [2]float64
	Exposure          [2]float64
}

// Allow 返回指定腿 (buy, sell) 是否允许挂单。
func (w Walls) Allow(l leg.ID) [2]bool {
	return [2]bool{!w.UpperLimitReached[l], !w.LowerLimitReached[l]}
}

// Manager 风控管理器，只在调度协程内调用。
type Manager struct {
	cfg Config

	walls Walls

	peak        float64
	total       float64
	triggered   bool
	triggeredAt time.Time

	mismatch [2]bool
	reported [2]float64
}

// NewManager 创建风控管理器。
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TypicalOrderSize <= 0 {
		return nil, fmt.Errorf("%w: typicalOrderSize must be > 0", ErrInvalidConfig)
	}
	if cfg.NC2L <= 0 {
		return nil, fmt.Errorf("%w: nc2l must be > 0", ErrInvalidConfig)
	}
	if cfg.KillSwitchMaxDrawdown < 0 {
		return nil, fmt.Errorf("%w: killSwitchMaxDrawdown must be >= 0", ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = NowUTC
	}
	return &Manager{cfg: cfg}, nil
}

// SetInstrument 更新合约元数据。
func (m *Manager) SetInstrument(l leg.ID, inst leg.Instrument) { m.cfg.Instruments[l] = inst }

// UpdateLimits 热更新规模、墙倍数与止损阈值；非正值忽略。
func (m *Manager) UpdateLimits(typicalOrderSize, nc2l, killSwitch float64) {
	if typicalOrderSize > 0 {
		m.cfg.TypicalOrderSize = typicalOrderSize
	}
	if nc2l > 0 {
		m.cfg.NC2L = nc2l
	}
	if killSwitch >= 0 {
		m.cfg.KillSwitchMaxDrawdown = killSwitch
	}
}

// EvaluateWalls 根据仓位、中间价与下一笔下单数量计算两条腿的库存墙。
func (m *Manager) EvaluateWalls(positions, mids, amounts [2]float64) Walls {
	var w Walls
	for _, l := range leg.All {
		inst := m.cfg.Instruments[l]
		maxInv := m.cfg.TypicalOrderSize * m.cfg.NC2L * math.Abs(m.cfg.TradingVector[l])
		exposure := inst.Notional(positions[l], mids[l])
		order := math.Abs(inst.Notional(amounts[l], mids[l]))
		const tol = 1e-9
		w.MaxInventory[l] = maxInv
		w.Exposure[l] = exposure
		w.UpperLimitReached[l] = exposure+order > maxInv+tol
		w.LowerLimitReached[l] = exposure-order < -maxInv-tol
		if w.UpperLimitReached[l] != m.walls.UpperLimitReached[l] || w.LowerLimitReached[l] != m.walls.LowerLimitReached[l] {
			m.cfg.Notifier.NotifyWall(l, w.UpperLimitReached[l], w.LowerLimitReached[l], exposure)
		}
	}
	m.walls = w
	return w
}

// Walls 最近一次库存墙结果。
func (m *Manager) Walls() Walls { return m.walls }

// CheckDrawdown 记录组合总价值并检查回撤，仅在首次触发时返回 true。
func (m *Manager) CheckDrawdown(total float64) bool {
	m.total = total
	if total > m.peak {
		m.peak = total
	}
	if m.triggered || m.cfg.KillSwitchMaxDrawdown <= 0 {
		return false
	}
	if m.peak-total > m.cfg.KillSwitchMaxDrawdown {
		m.triggered = true
		m.triggeredAt = m.cfg.Clock.Now()
		m.cfg.Notifier.NotifyStopLoss(m.peak, total, m.cfg.KillSwitchMaxDrawdown)
		return true
	}
	return false
}

// StopLossTriggered 止损是否已触发（单向，不会自动复位）。
func (m *Manager) StopLossTriggered() bool { return m.triggered }

// TriggeredAt 止损触发时间。
func (m *Manager) TriggeredAt() time.Time { return m.triggeredAt }

// Peak 历史最高总价值。
func (m *Manager) Peak() float64 { return m.peak }

// Drawdown 当前回撤。
func (m *Manager) Drawdown() float64 { return m.peak - m.total }

// RestorePeak 重启后恢复峰值。
func (m *Manager) RestorePeak(peak float64) {
	if peak > m.peak {
		m.peak = peak
	}
}

// LiquidationPlan 撤掉两条腿的挂单，并为每条腿生成一笔吃单把仓位打平。
func (m *Manager) LiquidationPlan(positions [2]float64) []event.Request {
	reqs := make([]event.Request, 0, 4)
	for _, l := range leg.All {
		inst := m.cfg.Instruments[l]
		reqs = append(reqs, event.Request{
			Operation:     event.OpCancelOpenOrders,
			Exchange:      inst.Exchange,
			Symbol:        inst.Symbol,
			CorrelationID: event.NewCorrelationID(event.ActionCancelAllOrders, l),
		})
	}
	return append(reqs, m.FlattenOrders(positions)...)
}

// FlattenOrders 每条腿一笔把仓位打平的吃单，仓位不足一个步长的腿跳过。
func (m *Manager) FlattenOrders(positions [2]float64) []event.Request {
	var reqs []event.Request
	for _, l := range leg.All {
		inst := m.cfg.Instruments[l]
		qty := inst.RoundQuantityDown(math.Abs(positions[l]))
		if qty <= 0 {
			continue
		}
		side := leg.SideForDelta(-positions[l])
		reqs = append(reqs, event.Request{
			Operation:     event.OpCreateOrder,
			Exchange:      inst.Exchange,
			Symbol:        inst.Symbol,
			CorrelationID: event.NewCorrelationID(event.CreateAction(side), l),
			Side:          side,
			Quantity:      qty,
		})
	}
	return reqs
}

// Reconcile 比较交易所仓位与账本仓位，差值达到一个数量步长即标记不一致。
// 账本不会被自动改写；后续一致的回报会清除标记。
func (m *Manager) Reconcile(l leg.ID, reported, ledgerPos float64) bool {
	m.reported[l] = reported
	inc := m.cfg.Instruments[l].QuantityIncrement
	diff := math.Abs(reported - ledgerPos)
	mismatch := diff >= inc-1e-12 && diff > 1e-12
	if mismatch && !m.mismatch[l] {
		m.cfg.Notifier.NotifyMismatch(l, ledgerPos, reported)
	} else if !mismatch && m.mismatch[l] {
		m.cfg.Logger.Info("position mismatch resolved", zap.String("leg", l.String()))
	}
	m.mismatch[l] = mismatch
	return mismatch
}

// Mismatch 指定腿是否处于不一致状态。
func (m *Manager) Mismatch(l leg.ID) bool { return m.mismatch[l] }

// AnyMismatch 任一腿不一致。
func (m *Manager) AnyMismatch() bool { return m.mismatch[leg.A] || m.mismatch[leg.B] }

// Reported 最近一次交易所回报的仓位。
func (m *Manager) Reported(l leg.ID) float64 { return m.reported[l] }

// ClearMismatch 操作员 reinit 采用交易所仓位后清除标记。
func (m *Manager) ClearMismatch() { m.mismatch = [2]bool{} }
