package sizing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/liuyi61ly/paradex-bot/internal/account"
	"github.com/liuyi61ly/paradex-bot/internal/config"
	"github.com/liuyi61ly/paradex-bot/internal/paradex"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dynamicConfig() config.TradingConfig {
	return config.TradingConfig{
		Market:         "BTC-USD-PERP",
		FundsRatio:     0.9,
		Leverage:       50,
		UseDynamicSize: true,
	}
}

func flatSnapshot(valueA, valueB string) account.Snapshot {
	return account.Snapshot{
		A:         account.State{AccountValue: dec(valueA)},
		B:         account.State{AccountValue: dec(valueB)},
		Direction: account.DirectionUnknown,
	}
}

func TestPlanDynamicSizeUsesWeakerAccount(t *testing.T) {
	s := NewSizer(dynamicConfig(), nil)

	// min(1000, 800) × 0.9 × 50 / 100000 = 0.36
	plan, err := s.Plan(flatSnapshot("1000", "800"), dec("99999"), dec("100001"))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if !plan.MidPrice.Equal(dec("100000")) {
		t.Errorf("mid price = %s, want 100000", plan.MidPrice)
	}
	if !plan.Margin.Equal(dec("720")) {
		t.Errorf("margin = %s, want 720", plan.Margin)
	}
	if !plan.Notional.Equal(dec("36000")) {
		t.Errorf("notional = %s, want 36000", plan.Notional)
	}
	if !plan.NewSize.Equal(dec("0.36")) {
		t.Errorf("new size = %s, want 0.36", plan.NewSize)
	}
}

func TestPlanTruncatesToFiveDecimals(t *testing.T) {
	s := NewSizer(dynamicConfig(), nil)

	// 100 × 0.9 × 50 / 97311 = 0.046243...，截断而非四舍五入
	plan, err := s.Plan(flatSnapshot("100", "100"), dec("97310"), dec("97312"))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if plan.NewSize.Exponent() < -5 {
		t.Errorf("new size %s has more than 5 decimals", plan.NewSize)
	}
	if !plan.NewSize.Equal(dec("0.04624")) {
		t.Errorf("new size = %s, want 0.04624", plan.NewSize)
	}
}

func TestPlanFixedSizeIgnoresAccountValue(t *testing.T) {
	cfg := dynamicConfig()
	cfg.UseDynamicSize = false
	cfg.FixedSize = 0.002
	s := NewSizer(cfg, nil)

	plan, err := s.Plan(flatSnapshot("1", "1"), dec("99999"), dec("100001"))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if !plan.NewSize.Equal(dec("0.002")) {
		t.Errorf("new size = %s, want 0.002", plan.NewSize)
	}
}

func TestPlanMergesCloseAndOpen(t *testing.T) {
	s := NewSizer(dynamicConfig(), nil)

	snap := account.Snapshot{
		A:         account.State{AccountValue: dec("1000"), PositionSize: dec("0.36")},
		B:         account.State{AccountValue: dec("1000"), PositionSize: dec("-0.36")},
		Direction: account.DirectionALong,
	}

	plan, err := s.Plan(snap, dec("99999"), dec("100001"))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if plan.FirstTrade {
		t.Error("flip with existing positions is not a first trade")
	}
	if plan.Direction != account.DirectionAShort {
		t.Errorf("direction = %s, want a_short", plan.Direction)
	}
	if !plan.CloseSize.Equal(dec("0.36")) {
		t.Errorf("close size = %s, want 0.36", plan.CloseSize)
	}
	// 1000 × 0.9 × 50 / 100000 = 0.45；合并单 = |0.36| + 0.45
	if !plan.NewSize.Equal(dec("0.45")) {
		t.Errorf("new size = %s, want 0.45", plan.NewSize)
	}
	if plan.IntentA.Side != paradex.OrderSideSell {
		t.Errorf("side A = %s, want SELL", plan.IntentA.Side)
	}
	if !plan.IntentA.Size.Equal(dec("0.81")) {
		t.Errorf("total A = %s, want 0.81", plan.IntentA.Size)
	}
	if plan.IntentB.Side != paradex.OrderSideBuy {
		t.Errorf("side B = %s, want BUY", plan.IntentB.Side)
	}
	if !plan.IntentB.Size.Equal(dec("0.81")) {
		t.Errorf("total B = %s, want 0.81", plan.IntentB.Size)
	}
	if plan.IntentA.ReduceOnly || plan.IntentB.ReduceOnly {
		t.Error("flip intents must not be reduce-only")
	}
}

func TestPlanFlatAccountsOpenALong(t *testing.T) {
	s := NewSizer(dynamicConfig(), nil)

	plan, err := s.Plan(flatSnapshot("1000", "1000"), dec("99999"), dec("100001"))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if !plan.FirstTrade {
		t.Error("flat accounts should produce a first trade")
	}
	if !plan.CloseSize.IsZero() {
		t.Errorf("close size = %s, want 0", plan.CloseSize)
	}
	if plan.Direction != account.DirectionALong {
		t.Errorf("direction = %s, want a_long", plan.Direction)
	}
	if plan.IntentA.Side != paradex.OrderSideBuy {
		t.Errorf("side A = %s, want BUY", plan.IntentA.Side)
	}
	if !plan.IntentA.Size.Equal(plan.NewSize) {
		t.Errorf("total A = %s, want %s with no position to close", plan.IntentA.Size, plan.NewSize)
	}
}

func TestPlanUnknownDirectionIgnoresResidualLeg(t *testing.T) {
	s := NewSizer(dynamicConfig(), nil)

	// 上次翻转只成交了一条腿：账户1残留0.5多头，账户2空仓
	snap := account.Snapshot{
		A:         account.State{AccountValue: dec("1000"), PositionSize: dec("0.5")},
		B:         account.State{AccountValue: dec("1000")},
		Direction: account.DirectionUnknown,
	}

	plan, err := s.Plan(snap, dec("99999"), dec("100001"))
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	if !plan.FirstTrade {
		t.Error("unknown direction must be treated as a first trade")
	}
	if !plan.CloseSize.IsZero() {
		t.Errorf("close size = %s, want 0", plan.CloseSize)
	}
	// 1000 × 0.9 × 50 / 100000 = 0.45；残留腿不得计入合并单
	if !plan.IntentA.Size.Equal(plan.NewSize) {
		t.Errorf("total A = %s, want open size %s", plan.IntentA.Size, plan.NewSize)
	}
	if !plan.IntentB.Size.Equal(plan.NewSize) {
		t.Errorf("total B = %s, want open size %s", plan.IntentB.Size, plan.NewSize)
	}
}

func TestPlanRejectsInvalidPrice(t *testing.T) {
	s := NewSizer(dynamicConfig(), nil)

	for _, prices := range [][2]string{{"0", "100"}, {"100", "0"}, {"-1", "100"}} {
		_, err := s.Plan(flatSnapshot("1000", "1000"), dec(prices[0]), dec(prices[1]))
		if !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("Plan(bid=%s, ask=%s) error = %v, want ErrInvalidPrice", prices[0], prices[1], err)
		}
	}
}

func TestPlanRejectsDustSize(t *testing.T) {
	s := NewSizer(dynamicConfig(), nil)

	// 0.0001 × 0.9 × 50 / 100000 截断后为零
	_, err := s.Plan(flatSnapshot("0.0001", "0.0001"), dec("99999"), dec("100001"))
	if !errors.Is(err, ErrSizeTooSmall) {
		t.Errorf("Plan error = %v, want ErrSizeTooSmall", err)
	}
}

func TestNextDirectionToggles(t *testing.T) {
	tests := []struct {
		current account.Direction
		want    account.Direction
	}{
		{account.DirectionUnknown, account.DirectionALong},
		{account.DirectionALong, account.DirectionAShort},
		{account.DirectionAShort, account.DirectionALong},
	}

	for _, tt := range tests {
		if got := NextDirection(tt.current); got != tt.want {
			t.Errorf("NextDirection(%s) = %s, want %s", tt.current, got, tt.want)
		}
	}
}
