// Package gateway 提供连接交易所桥接进程的传输层。
// 桥接进程负责具体交易所的字段映射与鉴权，本包只处理统一的 JSON 信封。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cross-maker-go/event"
)

var (
	ErrNotConnected = errors.New("bridge websocket not connected")
	ErrStopped      = errors.New("bridge transport stopped")
)

// 信封类型
const (
	KindSubscribe = "subscribe"
	KindRequest   = "request"
	KindEvent     = "event"
)

// Envelope websocket 上传输的统一信封。
type Envelope struct {
	Kind          string               `json:"kind"`
	Subscriptions []event.Subscription `json:"subscriptions,omitempty"`
	Request       *event.Request       `json:"request,omitempty"`
	Event         *event.Event         `json:"event,omitempty"`
}

// BridgeConfig 桥接传输配置。
type BridgeConfig struct {
	WebsocketURL   string
	RestURL        string
	APIKey         string
	RateLimit      float64
	Burst          int
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

// BridgeTransport 通过 websocket（订阅、推送、可选下单）与 REST（请求/响应）连接桥接进程。
type BridgeTransport struct {
	cfg     BridgeConfig
	handler event.Handler
	limiter RateLimiter
	logger  *zap.Logger

	out    chan Envelope
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn *websocket.Conn
	subs []event.Subscription
}

// NewBridgeTransport 创建传输层。handler 接收所有入站事件。
func NewBridgeTransport(cfg BridgeConfig, handler event.Handler) *BridgeTransport {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BridgeTransport{
		cfg:     cfg,
		handler: handler,
		limiter: NewTokenBucketLimiter(cfg.RateLimit, cfg.Burst),
		logger:  cfg.Logger.Named("bridge"),
		out:     make(chan Envelope, 256),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start 建立 websocket 连接并启动读写协程。
func (b *BridgeTransport) Start() error {
	if err := b.dial(); err != nil {
		return err
	}
	b.wg.Add(2)
	go b.readLoop()
	go b.writeLoop()
	return nil
}

func (b *BridgeTransport) dial() error {
	conn, _, err := b.cfg.Dialer.DialContext(b.ctx, b.cfg.WebsocketURL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	b.logger.Info("bridge connected", zap.String("url", b.cfg.WebsocketURL))
	b.deliverSession(event.MsgSessionUp)
	return nil
}

func (b *BridgeTransport) deliverSession(mt event.MessageType) {
	if b.handler == nil {
		return
	}
	b.handler(event.Single(event.TypeSessionStatus, event.Message{Type: mt, Time: time.Now().UTC()}))
}

func (b *BridgeTransport) readLoop() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Warn("bridge read failed", zap.Error(err))
			b.deliverSession(event.MsgSessionDown)
			if !b.reconnect() {
				return
			}
			continue
		}
		if env.Kind != KindEvent || env.Event == nil {
			b.logger.Debug("ignore envelope", zap.String("kind", env.Kind))
			continue
		}
		if b.handler != nil {
			b.handler(*env.Event)
		}
	}
}

// reconnect 重连后重放订阅。ctx 结束时返回 false。
func (b *BridgeTransport) reconnect() bool {
	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	subs := append([]event.Subscription(nil), b.subs...)
	b.mu.Unlock()

	for {
		select {
		case <-b.ctx.Done():
			return false
		case <-time.After(b.cfg.ReconnectDelay):
		}
		if err := b.dial(); err != nil {
			b.logger.Warn("bridge reconnect failed", zap.Error(err))
			continue
		}
		if len(subs) > 0 {
			b.enqueue(Envelope{Kind: KindSubscribe, Subscriptions: subs})
		}
		return true
	}
}

func (b *BridgeTransport) writeLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case env := <-b.out:
			if env.Kind == KindRequest {
				b.limiter.Wait()
			}
			if err := b.write(env); err != nil {
				b.logger.Error("bridge write failed", zap.String("kind", env.Kind), zap.Error(err))
				if env.Request != nil {
					b.deliverError(*env.Request, err)
				}
			}
		}
	}
}

func (b *BridgeTransport) write(env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	return b.conn.WriteJSON(env)
}

func (b *BridgeTransport) enqueue(env Envelope) error {
	if b.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case <-b.ctx.Done():
		return ErrStopped
	case b.out <- env:
		return nil
	}
}

// deliverError 将发送失败转换为 RESPONSE_ERROR 事件，使上层释放锁。
func (b *BridgeTransport) deliverError(req event.Request, err error) {
	if b.handler == nil {
		return
	}
	b.handler(event.Single(event.TypeResponse, event.Message{
		Type:          event.MsgResponseError,
		CorrelationID: req.CorrelationID,
		Time:          time.Now().UTC(),
		ClientOrderID: req.ClientOrderID,
		Error:         err.Error(),
	}))
}

// Subscribe 订阅行情与私有数据，断线重连后自动重放。
func (b *BridgeTransport) Subscribe(subs []event.Subscription) error {
	b.mu.Lock()
	b.subs = append(b.subs, subs...)
	b.mu.Unlock()
	return b.enqueue(Envelope{Kind: KindSubscribe, Subscriptions: subs})
}

// SendRequestByWebsocket 通过 websocket 异步发送请求，响应以事件形式回调。
func (b *BridgeTransport) SendRequestByWebsocket(req event.Request) error {
	r := req
	return b.enqueue(Envelope{Kind: KindRequest, Request: &r})
}

// SendRequest 通过 REST 同步发送请求，响应事件在返回前回调。
func (b *BridgeTransport) SendRequest(req event.Request) error {
	if b.ctx.Err() != nil {
		return ErrStopped
	}
	b.limiter.Wait()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(b.ctx, http.MethodPost, b.cfg.RestURL+"/request", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("X-API-KEY", b.cfg.APIKey)
	}

	resp, err := b.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post %s: %w", req.CorrelationID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s status %d: %s", req.CorrelationID, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var ev event.Event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if b.handler != nil && len(ev.Messages) > 0 {
		b.handler(ev)
	}
	return nil
}

// Stop 关闭连接并等待协程退出。
func (b *BridgeTransport) Stop() error {
	b.cancel()
	b.mu.Lock()
	var err error
	if b.conn != nil {
		_ = b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = b.conn.Close()
		b.conn = nil
	}
	b.mu.Unlock()
	b.wg.Wait()
	return err
}
