package order

import "time"

// CancelPhase 撤单-重挂周期所处阶段。
type CancelPhase int

const (
	PhaseIdle CancelPhase = iota
	PhaseAwaitingCancel
	PhaseAwaitingCreate
)

// LockState 一条腿的汇总锁状态；只有 Idle 时允许重新报价。
type LockState int

const (
	LockIdle LockState = iota
	LockAwaitingCancelConfirm
	LockAwaitingCreateConfirm
	LockAwaitingHedgeConfirm
)

func (s LockState) String() string {
	switch s {
	case LockAwaitingCancelConfirm:
		return "awaiting_cancel_confirm"
	case LockAwaitingCreateConfirm:
		return "awaiting_create_confirm"
	case LockAwaitingHedgeConfirm:
		return "awaiting_hedge_confirm"
	default:
		return "idle"
	}
}

// LegLocks 单腿的锁；撤单阶段与对冲锁相互独立。
type LegLocks struct {
	Phase      CancelPhase
	PhaseSince time.Time
	Hedge      bool
	HedgeSince time.Time
}

// State 汇总状态，对冲锁优先。
func (l LegLocks) State() LockState {
	if l.Hedge {
		return LockAwaitingHedgeConfirm
	}
	switch l.Phase {
	case PhaseAwaitingCancel:
		return LockAwaitingCancelConfirm
	case PhaseAwaitingCreate:
		return LockAwaitingCreateConfirm
	}
	return LockIdle
}

// CancelPending 等待全撤确认。
func (l LegLocks) CancelPending() bool { return l.Phase == PhaseAwaitingCancel }

// Held 是否持有任意锁。
func (l LegLocks) Held() bool { return l.State() != LockIdle }
