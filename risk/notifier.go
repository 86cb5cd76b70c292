package risk

import (
	"go.uber.org/zap"

	"cross-maker-go/leg"
)

// AlertClient 抽象告警发送，infrastructure/alert.Manager 满足该接口。
type AlertClient interface {
	SendWarning(message string, fields map[string]interface{}) error
	SendCritical(message string, fields map[string]interface{}) error
}

// Notifier 将风控事件写日志并转发告警。
type Notifier struct {
	alert  AlertClient
	logger *zap.Logger
}

func NewNotifier(alert AlertClient, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{alert: alert, logger: logger}
}

// NotifyStopLoss 止损触发。
func (n *Notifier) NotifyStopLoss(peak, total, maxDrawdown float64) {
	if n == nil {
		return
	}
	n.logger.Error("stop-loss triggered",
		zap.Float64("peak", peak), zap.Float64("total", total), zap.Float64("maxDrawdown", maxDrawdown))
	if n.alert != nil {
		_ = n.alert.SendCritical("stop-loss triggered", map[string]interface{}{
			"peak": peak, "total": total, "drawdown": peak - total, "maxDrawdown": maxDrawdown,
		})
	}
}

// NotifyMismatch 账本与交易所仓位不一致。
func (n *Notifier) NotifyMismatch(l leg.ID, ledgerPos, reported float64) {
	if n == nil {
		return
	}
	n.logger.Warn("position mismatch",
		zap.String("leg", l.String()), zap.Float64("ledger", ledgerPos), zap.Float64("exchange", reported))
	if n.alert != nil {
		_ = n.alert.SendWarning("position mismatch", map[string]interface{}{
			"leg": l.String(), "ledger": ledgerPos, "exchange": reported,
		})
	}
}

// NotifyWall 库存墙状态变化。
func (n *Notifier) NotifyWall(l leg.ID, upper, lower bool, exposure float64) {
	if n == nil {
		return
	}
	n.logger.Info("inventory wall changed",
		zap.String("leg", l.String()), zap.Bool("upperLimitReached", upper),
		zap.Bool("lowerLimitReached", lower), zap.Float64("exposure", exposure))
}
