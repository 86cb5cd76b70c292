// Package sim 模拟交易所：在纸面交易与回测模式下接收请求，
// 依据订单簿缓存撮合并合成回报、成交事件。
package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cross-maker-go/event"
	"cross-maker-go/leg"
	"cross-maker-go/ledger"
	"cross-maker-go/market"
)

var (
	ErrEmptyBook     = errors.New("order book empty")
	ErrWouldCross    = errors.New("post-only order would cross")
	ErrOrderNotFound = errors.New("order not found")
	ErrBadQuantity   = errors.New("quantity must be > 0")
)

// Config 模拟交易所配置。
type Config struct {
	Instruments        [2]leg.Instrument
	Fees               [2]ledger.FeeSchedule
	MarketImpactFactor [2]float64
	Logger             *zap.Logger
	NewOrderID         func() string
}

type simOrder struct {
	id       string
	clientID string
	side     leg.Side
	price    float64
	quantity float64
	cum      float64
}

func (o *simOrder) remaining() float64 { return o.quantity - o.cum }

// Exchange 模拟交易所，只在调度协程内使用。
type Exchange struct {
	cfg     Config
	books   *market.Cache
	ledgers [2]*ledger.Ledger
	queue   *Queue
	logger  *zap.Logger

	open    [2][]*simOrder
	now     time.Time
	tradeID int64
}

// NewExchange 创建模拟交易所；合成事件写入 queue。
func NewExchange(cfg Config, books *market.Cache, ledgers [2]*ledger.Ledger, queue *Queue) *Exchange {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NewOrderID == nil {
		cfg.NewOrderID = func() string { return uuid.NewString() }
	}
	return &Exchange{cfg: cfg, books: books, ledgers: ledgers, queue: queue, logger: cfg.Logger}
}

// SetTime 设置合成事件时间（回测时为历史事件时间）。
func (x *Exchange) SetTime(t time.Time) { x.now = t }

// SetInstrument 更新合约元数据。
func (x *Exchange) SetInstrument(l leg.ID, inst leg.Instrument) { x.cfg.Instruments[l] = inst }

// OpenOrders 模拟交易所上某腿的挂单数。
func (x *Exchange) OpenOrders(l leg.ID) int { return len(x.open[l]) }

// Subscribe 回测模式下直接确认所有订阅。
func (x *Exchange) Subscribe(subs []event.Subscription) error {
	msgs := make([]event.Message, 0, len(subs))
	for _, s := range subs {
		msgs = append(msgs, event.Message{
			Type:          event.MsgSubscriptionStarted,
			CorrelationID: s.CorrelationID,
			Time:          x.now,
		})
	}
	x.queue.Push(event.Event{Type: event.TypeSubscriptionStatus, Messages: msgs})
	return nil
}

// SendRequest 处理一条请求。
func (x *Exchange) SendRequest(req event.Request) error {
	if req.CorrelationID.IsZero() {
		return fmt.Errorf("request %s has no correlation id", req.Operation)
	}
	l := req.Leg()
	switch req.Operation {
	case event.OpCreateOrder:
		x.create(l, req)
	case event.OpCancelOrder:
		x.cancelOne(l, req)
	case event.OpCancelOpenOrders:
		x.cancelAll(l, req)
	case event.OpGetAccountBalances, event.OpGetAccounts:
		x.balances(l, req)
	case event.OpGetAccountPositions:
		x.positions(l, req)
	case event.OpGetInstrument:
		x.instrument(l, req)
	default:
		return fmt.Errorf("unsupported operation %s", req.Operation)
	}
	return nil
}

// SendRequestByWebsocket 模拟交易所不区分通道。
func (x *Exchange) SendRequestByWebsocket(req event.Request) error { return x.SendRequest(req) }

// Stop 丢弃挂单。
func (x *Exchange) Stop() error {
	x.open = [2][]*simOrder{}
	return nil
}

// OnDepth 行情更新后撮合该腿的挂单；被穿越的挂单以限价整笔成交（maker）。
func (x *Exchange) OnDepth(l leg.ID) {
	if len(x.open[l]) == 0 {
		return
	}
	bid, ask := x.books.Book(l).Best()
	kept := x.open[l][:0]
	for _, o := range x.open[l] {
		crossed := (o.side == leg.Buy && ask > 0 && ask <= o.price) ||
			(o.side == leg.Sell && bid > 0 && bid >= o.price)
		if crossed {
			x.fill(l, o, o.price, true)
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(x.open[l]); i++ {
		x.open[l][i] = nil
	}
	x.open[l] = kept
}

func (x *Exchange) create(l leg.ID, req event.Request) {
	if req.Quantity <= 0 {
		x.reject(req, ErrBadQuantity)
		return
	}
	o := &simOrder{
		id:       x.cfg.NewOrderID(),
		clientID: req.ClientOrderID,
		side:     req.Side,
		price:    req.LimitPrice,
		quantity: req.Quantity,
	}

	if req.IsMarket() {
		price, ok := x.marketPrice(l, req.Side)
		if !ok {
			x.reject(req, ErrEmptyBook)
			return
		}
		x.ack(l, req, o)
		x.fill(l, o, price, false)
		return
	}

	price, size, crossed := x.firstCrossingLevel(l, o.side, o.price)
	if crossed && req.PostOnly {
		x.reject(req, ErrWouldCross)
		return
	}
	x.ack(l, req, o)
	if !crossed {
		x.open[l] = append(x.open[l], o)
		return
	}
	if size < o.remaining() {
		x.logger.Warn("insufficient book depth, filling entire order at first level",
			zap.String("leg", l.String()), zap.Float64("levelSize", size), zap.Float64("quantity", o.remaining()))
	}
	x.fill(l, o, price, false)
}

// firstCrossingLevel 买单自卖一向上、卖单自买一向下寻找第一个可成交档位。
func (x *Exchange) firstCrossingLevel(l leg.ID, side leg.Side, limit float64) (price, size float64, ok bool) {
	book := x.books.Book(l)
	if side == leg.Buy {
		book.Walk(market.DepthSideAsk, func(p, q float64) bool {
			if p <= limit {
				price, size, ok = p, q, true
			}
			return false
		})
		return
	}
	book.Walk(market.DepthSideBid, func(p, q float64) bool {
		if p >= limit {
			price, size, ok = p, q, true
		}
		return false
	})
	return
}

// marketPrice 最优对手价叠加冲击成本后按步长取整。
func (x *Exchange) marketPrice(l leg.ID, side leg.Side) (float64, bool) {
	bid, ask := x.books.Book(l).Best()
	inst := x.cfg.Instruments[l]
	f := x.cfg.MarketImpactFactor[l]
	if side == leg.Buy {
		if ask <= 0 {
			return 0, false
		}
		return inst.RoundPriceUp(ask * (1 + f)), true
	}
	if bid <= 0 {
		return 0, false
	}
	return inst.RoundPriceDown(bid * (1 - f)), true
}

func (x *Exchange) ack(l leg.ID, req event.Request, o *simOrder) {
	u := x.update(o, event.OrderNew)
	x.queue.Push(event.Single(event.TypeResponse, event.Message{
		Type:          event.MsgCreateOrder,
		CorrelationID: req.CorrelationID,
		Time:          x.now,
		ClientOrderID: req.ClientOrderID,
		Order:         &u,
	}))
	x.queue.Push(event.Single(event.TypeSubscriptionData, event.Message{
		Type:          event.MsgOrderUpdate,
		CorrelationID: event.NewCorrelationID(event.ActionOrderUpdate, l),
		Time:          x.now,
		Order:         &u,
	}))
}

func (x *Exchange) fill(l leg.ID, o *simOrder, price float64, isMaker bool) {
	qty := o.remaining()
	inst := x.cfg.Instruments[l]
	fee, asset := x.cfg.Fees[l].Fee(inst, o.side, isMaker, qty, price)
	o.cum = o.quantity
	x.tradeID++

	x.queue.Push(event.Single(event.TypeSubscriptionData, event.Message{
		Type:          event.MsgPrivateTrade,
		CorrelationID: event.NewCorrelationID(event.ActionPrivateTrade, l),
		Time:          x.now,
		Fills: []event.Fill{{
			TradeID:       fmt.Sprintf("%s-%d", l, x.tradeID),
			OrderID:       o.id,
			ClientOrderID: o.clientID,
			Side:          o.side,
			Price:         price,
			Quantity:      qty,
			Fee:           fee,
			FeeAsset:      asset,
			IsMaker:       isMaker,
		}},
	}))
	u := x.update(o, event.OrderFilled)
	x.queue.Push(event.Single(event.TypeSubscriptionData, event.Message{
		Type:          event.MsgOrderUpdate,
		CorrelationID: event.NewCorrelationID(event.ActionOrderUpdate, l),
		Time:          x.now,
		Order:         &u,
	}))
}

func (x *Exchange) cancelOne(l leg.ID, req event.Request) {
	for i, o := range x.open[l] {
		if o.id != req.OrderID && (req.ClientOrderID == "" || o.clientID != req.ClientOrderID) {
			continue
		}
		x.open[l] = append(x.open[l][:i], x.open[l][i+1:]...)
		x.canceled(l, o)
		x.queue.Push(event.Single(event.TypeResponse, event.Message{
			Type:          event.MsgCancelOrder,
			CorrelationID: req.CorrelationID,
			Time:          x.now,
		}))
		return
	}
	x.reject(req, ErrOrderNotFound)
}

// cancelAll 没有挂单时也返回成功回报。
func (x *Exchange) cancelAll(l leg.ID, req event.Request) {
	for _, o := range x.open[l] {
		x.canceled(l, o)
	}
	x.open[l] = nil
	x.queue.Push(event.Single(event.TypeResponse, event.Message{
		Type:          event.MsgCancelOpenOrders,
		CorrelationID: req.CorrelationID,
		Time:          x.now,
	}))
}

func (x *Exchange) canceled(l leg.ID, o *simOrder) {
	u := x.update(o, event.OrderCanceled)
	x.queue.Push(event.Single(event.TypeSubscriptionData, event.Message{
		Type:          event.MsgOrderUpdate,
		CorrelationID: event.NewCorrelationID(event.ActionOrderUpdate, l),
		Time:          x.now,
		Order:         &u,
	}))
}

func (x *Exchange) balances(l leg.ID, req event.Request) {
	inst := x.cfg.Instruments[l]
	var s ledger.Snapshot
	if x.ledgers[l] != nil {
		s = x.ledgers[l].Snapshot()
	}
	msgType := event.MsgGetAccountBalances
	if req.Operation == event.OpGetAccounts {
		msgType = event.MsgGetAccounts
	}
	x.queue.Push(event.Single(event.TypeResponse, event.Message{
		Type:          msgType,
		CorrelationID: req.CorrelationID,
		Time:          x.now,
		Balances: []event.Balance{
			{Asset: inst.BaseAsset, Quantity: s.Base},
			{Asset: inst.QuoteAsset, Quantity: s.Quote},
		},
	}))
}

func (x *Exchange) positions(l leg.ID, req event.Request) {
	var pos float64
	if x.ledgers[l] != nil {
		pos = x.ledgers[l].Position()
	}
	x.queue.Push(event.Single(event.TypeResponse, event.Message{
		Type:          event.MsgGetAccountPositions,
		CorrelationID: req.CorrelationID,
		Time:          x.now,
		Positions:     []event.Position{{Symbol: x.cfg.Instruments[l].Symbol, Quantity: pos}},
	}))
}

func (x *Exchange) instrument(l leg.ID, req event.Request) {
	inst := x.cfg.Instruments[l]
	x.queue.Push(event.Single(event.TypeResponse, event.Message{
		Type:          event.MsgGetInstrument,
		CorrelationID: req.CorrelationID,
		Time:          x.now,
		Instrument: &event.InstrumentInfo{
			Symbol:            inst.Symbol,
			BaseAsset:         inst.BaseAsset,
			QuoteAsset:        inst.QuoteAsset,
			PriceIncrement:    inst.PriceIncrement,
			QuantityIncrement: inst.QuantityIncrement,
			ContractSize:      inst.ContractSize,
		},
	}))
}

func (x *Exchange) reject(req event.Request, err error) {
	x.logger.Warn("simulated request rejected",
		zap.String("correlationId", req.CorrelationID.String()), zap.Error(err))
	x.queue.Push(event.Single(event.TypeResponse, event.Message{
		Type:          event.MsgResponseError,
		CorrelationID: req.CorrelationID,
		Time:          x.now,
		ClientOrderID: req.ClientOrderID,
		Error:         err.Error(),
	}))
}

func (x *Exchange) update(o *simOrder, status event.OrderStatus) event.OrderUpdate {
	return event.OrderUpdate{
		OrderID:          o.id,
		ClientOrderID:    o.clientID,
		Side:             o.side,
		LimitPrice:       o.price,
		Quantity:         o.quantity,
		CumulativeFilled: o.cum,
		Status:           status,
	}
}
