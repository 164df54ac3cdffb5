package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/consult-chat/backend/internal/model/event"
)

var (
	ErrNotConnected = errors.New("realtime connection not established")
	ErrAckTimeout   = errors.New("acknowledgment timed out")
	ErrConnLost     = errors.New("connection lost before acknowledgment")
)

// Options 实时连接配置
type Options struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration // 握手超时
	ReadTimeout      time.Duration // 读取超时
	WriteTimeout     time.Duration // 写入超时
	PingInterval     time.Duration // Ping间隔
	AckTimeout       time.Duration // 等待ack的超时
	MaxRetries       int           // 单轮最大重试次数
	Logger           *slog.Logger
}

// DefaultOptions 默认连接选项
func DefaultOptions(url string) Options {
	return Options{
		URL:              url,
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     30 * time.Second,
		PingInterval:     54 * time.Second,
		AckTimeout:       15 * time.Second,
		MaxRetries:       3,
	}
}

// envelope 是线上传输的消息包
type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	AckID     string          `json:"ackId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type pendingAck struct {
	ack   event.AckFunc
	timer *time.Timer
}

// Client 是实时通道的WebSocket客户端。入站事件由单个读协程按到达顺序交给handler。
type Client struct {
	opts    Options
	handler event.Handler
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]pendingAck

	writeMu sync.Mutex
}

// NewClient 创建实时客户端
func NewClient(opts Options, handler event.Handler) *Client {
	defaults := DefaultOptions(opts.URL)
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaults.AckTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		handler: handler,
		logger:  opts.Logger.With("component", "realtime"),
		pending: make(map[string]pendingAck),
	}
}

// Run 维持连接直到ctx结束，断线后自动重连。每次连上或断开都会向handler投递connect/disconnect事件。
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("connect failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.opts.PingInterval):
			}
			continue
		}

		c.setConn(conn)
		c.handler.HandleEvent(event.Event{Name: event.Connect, Timestamp: time.Now().UTC()})

		connCtx, cancel := context.WithCancel(ctx)
		go c.pingLoop(connCtx, conn)
		readErr := c.readLoop(connCtx, conn)
		cancel()

		c.setConn(nil)
		conn.Close()
		c.failPending(ErrConnLost)
		c.handler.HandleEvent(event.Event{Name: event.Disconnect, Timestamp: time.Now().UTC()})

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("connection lost", "error", readErr)
	}
}

// Connected 报告当前是否已连接
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit 发送一个意图，ack在服务端确认、超时或断线时被调用，且只调用一次。
func (c *Client) Emit(name string, payload any, ack event.AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ackID := uuid.NewString()
	if ack != nil {
		c.pending[ackID] = pendingAck{
			ack: ack,
			timer: time.AfterFunc(c.opts.AckTimeout, func() {
				c.resolve(ackID, event.Failed(ErrAckTimeout))
			}),
		}
	}
	c.mu.Unlock()

	msg := envelope{Type: name, AckID: ackID, Data: data, Timestamp: time.Now().UnixMilli()}
	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		c.mu.Lock()
		if p, ok := c.pending[ackID]; ok {
			p.timer.Stop()
			delete(c.pending, ackID)
		}
		c.mu.Unlock()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// connectWithRetry 带重试的连接建立
func (c *Client) connectWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error

	for i := 0; i < c.opts.MaxRetries; i++ {
		conn, err := c.connect(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		retryDelay := time.Duration(i+1) * time.Second
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d retries, last error: %w", c.opts.MaxRetries, lastErr)
}

// connect 建立单次连接
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return nil
	})
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		if msg.Type == event.AckName {
			var ack event.Ack
			if err := json.Unmarshal(msg.Data, &ack); err != nil {
				ack = event.Failed(fmt.Errorf("malformed ack: %w", err))
			}
			c.resolve(msg.AckID, ack)
			continue
		}

		ts := time.Now().UTC()
		if msg.Timestamp > 0 {
			ts = time.UnixMilli(msg.Timestamp).UTC()
		}
		c.handler.HandleEvent(event.Event{Name: msg.Type, SessionID: msg.SessionID, Data: msg.Data, Timestamp: ts})
	}
}

// pingLoop 定期发送ping消息，ctx结束时关闭连接以唤醒阻塞的读协程
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) resolve(ackID string, ack event.Ack) {
	c.mu.Lock()
	p, ok := c.pending[ackID]
	if ok {
		delete(c.pending, ackID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	p.timer.Stop()
	p.ack(ack)
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]pendingAck)
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.ack(event.Failed(err))
	}
}
