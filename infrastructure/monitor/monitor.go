package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器，所有指标按腿(leg)打标签
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	orderEvents *prometheus.CounterVec
	fills       *prometheus.CounterVec
	fillVolume  *prometheus.CounterVec

	// 定价指标
	theoPrice   prometheus.Gauge
	skew        *prometheus.GaugeVec
	targetPos   prometheus.Gauge
	crossings   *prometheus.CounterVec
	quoteLevels *prometheus.GaugeVec

	// 市场指标
	bestPrice *prometheus.GaugeVec

	// 账户指标
	balances *prometheus.GaugeVec
	position *prometheus.GaugeVec
	totalPnL prometheus.Gauge

	// 风控指标
	lockState *prometheus.GaugeVec
	mismatch  *prometheus.GaugeVec
	stopLoss  prometheus.Gauge
	drawdown  prometheus.Gauge
	walls     *prometheus.GaugeVec

	// 系统指标
	requests     *prometheus.CounterVec
	requestErrs  *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	events       *prometheus.CounterVec
	wsConnects   prometheus.Counter
	wsDisconnect prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "cross",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Monitor{
		registry: reg,

		orderEvents: counterVec("order_events_total", "订单事件计数（placed/canceled/filled/rejected）", "leg", "event"),
		fills:       counterVec("fills_total", "成交笔数", "leg", "side", "liquidity"),
		fillVolume:  counterVec("fill_volume_total", "累计成交数量", "leg", "side"),

		theoPrice:   gauge("theoretical_price", "理论价差"),
		skew:        gaugeVec("skew", "价差带偏斜系数", "bound"),
		targetPos:   gauge("relative_target_position", "相对目标仓位（穿越步数）"),
		crossings:   counterVec("crossings_total", "理论价穿越次数", "direction"),
		quoteLevels: gaugeVec("quote_level", "当前报价档位", "leg", "side"),

		bestPrice: gaugeVec("best_price", "订单簿最优价", "leg", "side"),

		balances: gaugeVec("balance", "账户余额", "leg", "asset"),
		position: gaugeVec("position", "当前净仓位", "leg"),
		totalPnL: gauge("total_value", "两腿合计估值（计价货币）"),

		lockState: gaugeVec("lock_state", "订单锁状态（0空闲/1等待撤单/2等待下单/3等待对冲）", "leg"),
		mismatch:  gaugeVec("position_mismatch", "仓位对账不一致标志", "leg"),
		stopLoss:  gauge("stop_loss_triggered", "止损触发标志"),
		drawdown:  gauge("drawdown", "相对峰值的回撤"),
		walls:     gaugeVec("inventory_wall", "库存墙触发标志", "bound"),

		requests:     counterVec("requests_total", "发送的请求数", "leg", "operation", "channel"),
		requestErrs:  counterVec("request_errors_total", "请求失败数", "leg", "operation", "channel"),
		rateLimited:  counterVec("rate_limited_total", "超出速率预算的请求数", "leg"),
		events:       counterVec("events_total", "已处理事件数", "type"),
		wsConnects:   counter("ws_connections_total", "WebSocket连接总数"),
		wsDisconnect: counter("ws_disconnects_total", "WebSocket断开总数"),
	}
}

// RecordRequest 实现 execution.Recorder
func (m *Monitor) RecordRequest(leg, operation, channel string, err error) {
	m.requests.WithLabelValues(leg, operation, channel).Inc()
	if err != nil {
		m.requestErrs.WithLabelValues(leg, operation, channel).Inc()
	}
}

// RecordRateLimited 实现 execution.Recorder
func (m *Monitor) RecordRateLimited(leg string) {
	m.rateLimited.WithLabelValues(leg).Inc()
}

func (m *Monitor) RecordOrderPlaced(leg string) {
	m.orderEvents.WithLabelValues(leg, "placed").Inc()
}

func (m *Monitor) RecordOrderCanceled(leg string) {
	m.orderEvents.WithLabelValues(leg, "canceled").Inc()
}

func (m *Monitor) RecordOrderFilled(leg string) {
	m.orderEvents.WithLabelValues(leg, "filled").Inc()
}

func (m *Monitor) RecordOrderRejected(leg string) {
	m.orderEvents.WithLabelValues(leg, "rejected").Inc()
}

// RecordFill 记录一笔成交
func (m *Monitor) RecordFill(leg, side string, qty float64, maker bool) {
	liquidity := "taker"
	if maker {
		liquidity = "maker"
	}
	m.fills.WithLabelValues(leg, side, liquidity).Inc()
	m.fillVolume.WithLabelValues(leg, side).Add(qty)
}

// UpdatePricing 更新定价状态
func (m *Monitor) UpdatePricing(theo, skewUpper, skewLower float64, relativeTarget int) {
	m.theoPrice.Set(theo)
	m.skew.WithLabelValues("upper").Set(skewUpper)
	m.skew.WithLabelValues("lower").Set(skewLower)
	m.targetPos.Set(float64(relativeTarget))
}

// RecordCrossing direction 为 up/down
func (m *Monitor) RecordCrossing(direction string) {
	m.crossings.WithLabelValues(direction).Inc()
}

func (m *Monitor) UpdateQuoteLevel(leg, side string, price float64) {
	m.quoteLevels.WithLabelValues(leg, side).Set(price)
}

func (m *Monitor) UpdateBidAsk(leg string, bid, ask float64) {
	m.bestPrice.WithLabelValues(leg, "bid").Set(bid)
	m.bestPrice.WithLabelValues(leg, "ask").Set(ask)
}

func (m *Monitor) UpdateBalance(leg, asset string, value float64) {
	m.balances.WithLabelValues(leg, asset).Set(value)
}

func (m *Monitor) UpdatePosition(leg string, value float64) {
	m.position.WithLabelValues(leg).Set(value)
}

func (m *Monitor) UpdateTotalValue(value float64) {
	m.totalPnL.Set(value)
}

func (m *Monitor) UpdateLockState(leg string, state int) {
	m.lockState.WithLabelValues(leg).Set(float64(state))
}

func (m *Monitor) UpdateMismatch(leg string, mismatch bool) {
	m.mismatch.WithLabelValues(leg).Set(boolToFloat(mismatch))
}

// UpdateRisk 更新止损与回撤
func (m *Monitor) UpdateRisk(drawdown float64, stopLoss bool) {
	m.drawdown.Set(drawdown)
	m.stopLoss.Set(boolToFloat(stopLoss))
}

func (m *Monitor) UpdateWalls(upper, lower bool) {
	m.walls.WithLabelValues("upper").Set(boolToFloat(upper))
	m.walls.WithLabelValues("lower").Set(boolToFloat(lower))
}

func (m *Monitor) RecordEvent(eventType string) {
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Monitor) RecordWSConnection() {
	m.wsConnects.Inc()
}

func (m *Monitor) RecordWSDisconnect() {
	m.wsDisconnect.Inc()
}

// Handler 返回Prometheus HTTP处理器
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层注册表
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
