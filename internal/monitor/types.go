package monitor

import (
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventTrade EventType = "trade"
	EventStop  EventType = "stop"
	EventError EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TradePayload 记录一次翻转的执行结果。
type TradePayload struct {
	Success   bool   `json:"success"`
	Direction string `json:"direction,omitempty"`
	CloseSize string `json:"close_size,omitempty"`
	OpenSize  string `json:"open_size,omitempty"`
	MidPrice  string `json:"mid_price,omitempty"`
	Margin    string `json:"margin,omitempty"`
	Notional  string `json:"notional,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// StopPayload 记录停止原因。
type StopPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
