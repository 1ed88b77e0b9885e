package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liuyi61ly/paradex-bot/internal/account"
	"github.com/liuyi61ly/paradex-bot/internal/config"
	"github.com/liuyi61ly/paradex-bot/internal/sizing"
	"github.com/liuyi61ly/paradex-bot/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	if err != nil {
		t.Fatalf("create monitor service: %v", err)
	}
	return svc
}

func TestTradeEventsRoundTrip(t *testing.T) {
	svc := newTestService(t)

	svc.TradeExecuted(sizing.TradePlan{
		Direction: account.DirectionALong,
		CloseSize: decimal.RequireFromString("0.36"),
		NewSize:   decimal.RequireFromString("0.45"),
		MidPrice:  decimal.RequireFromString("100000"),
	}, 120*time.Millisecond)
	svc.TradeFailed("账户2提交失败，账户1已成交")

	events, err := svc.ListEvents(context.Background(), EventTrade, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("trade events = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Type != EventTrade {
			t.Errorf("event type = %s, want trade", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Error("event timestamp should be set")
		}
	}
}

func TestStopEventIsRecorded(t *testing.T) {
	svc := newTestService(t)

	svc.StopTriggered("已完成目标交易次数 1000")

	events, err := svc.ListEvents(context.Background(), EventStop, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("stop events = %d, want 1", len(events))
	}
}

func TestListEventsFiltersByType(t *testing.T) {
	svc := newTestService(t)

	svc.TradeFailed("两条腿均提交失败")
	svc.StopTriggered("manual")

	events, err := svc.ListEvents(context.Background(), EventTrade, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("filtered events = %d, want 1", len(events))
	}
}
