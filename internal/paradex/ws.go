package paradex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BBOHandler 在读取协程内被顺序调用，处理单条行情。
type BBOHandler func(BBOQuote)

// StreamConfig 控制 BBO 行情流连接参数。
type StreamConfig struct {
	URL              string
	Market           string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	ReconnectDelay   time.Duration
	MaxReconnect     int
}

func (c *StreamConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnect <= 0 {
		c.MaxReconnect = 10
	}
}

// Stream 订阅单个市场的 BBO 行情，断线后有限次重连并重新订阅。
// BBO 为公共数据，只需一条连接，两个账户看到的价格一致。
type Stream struct {
	cfg     StreamConfig
	handler BBOHandler
	logger  *zap.Logger
}

// NewStream 创建行情流客户端。
func NewStream(cfg StreamConfig, handler BBOHandler, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Stream{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

type wsRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  wsChannelParams `json:"params"`
	ID      int             `json:"id"`
}

type wsChannelParams struct {
	Channel string `json:"channel"`
}

type wsMessage struct {
	Method string `json:"method"`
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type bboPayload struct {
	Market        string `json:"market"`
	Bid           string `json:"bid"`
	Ask           string `json:"ask"`
	LastUpdatedAt int64  `json:"last_updated_at"`
}

// Run 阻塞运行行情流直到 ctx 取消或重连次数耗尽。
func (s *Stream) Run(ctx context.Context) error {
	attempts := 0

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		attempts++
		if attempts > s.cfg.MaxReconnect {
			return fmt.Errorf("paradex: 行情流超出最大重连次数 %d: %w", s.cfg.MaxReconnect, err)
		}

		s.logger.Warn("行情流断开，准备重连",
			zap.Int("attempt", attempts),
			zap.Int("max", s.cfg.MaxReconnect),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("连接行情流失败: %w", err)
	}
	defer conn.Close()

	subscribe := wsRequest{
		JSONRPC: "2.0",
		Method:  "subscribe",
		Params:  wsChannelParams{Channel: "bbo." + s.cfg.Market},
		ID:      1,
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	s.logger.Info("行情流已连接", zap.String("channel", subscribe.Params.Channel))

	// ctx 取消时主动关闭连接以解除 ReadMessage 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go s.pingLoop(conn, done)

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取行情消息失败: %w", err)
		}
		s.handleFrame(data)
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("发送心跳失败", zap.Error(err))
				return
			}
		}
	}
}

func (s *Stream) handleFrame(data []byte) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return
	}

	var msg wsMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		s.logger.Debug("解析行情消息失败", zap.Error(err))
		return
	}

	if msg.Error != nil {
		s.logger.Warn("行情流返回错误",
			zap.Int("code", msg.Error.Code),
			zap.String("message", msg.Error.Message),
		)
		return
	}

	raw := msg.Params.Data
	if len(raw) == 0 {
		raw = msg.Data
	}
	if len(raw) == 0 {
		return
	}

	var payload bboPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Debug("解析BBO数据失败", zap.Error(err))
		return
	}
	if payload.Bid == "" || payload.Ask == "" {
		return
	}

	market := payload.Market
	if market == "" {
		if idx := strings.LastIndex(msg.Params.Channel, "."); idx >= 0 {
			market = msg.Params.Channel[idx+1:]
		}
	}
	if market != s.cfg.Market {
		return
	}

	bid, err := decimal.NewFromString(payload.Bid)
	if err != nil {
		s.logger.Debug("买一价格式错误", zap.String("bid", payload.Bid))
		return
	}
	ask, err := decimal.NewFromString(payload.Ask)
	if err != nil {
		s.logger.Debug("卖一价格式错误", zap.String("ask", payload.Ask))
		return
	}

	s.handler(BBOQuote{
		Market:        market,
		Bid:           bid,
		Ask:           ask,
		LastUpdatedAt: payload.LastUpdatedAt,
	})
}
