package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/liuyi61ly/paradex-bot/internal/paradex"
)

const testMarket = "BTC-USD-PERP"

// fakeClient 返回预设的账户概要与持仓，并统计调用次数。
type fakeClient struct {
	mu         sync.Mutex
	summary    paradex.AccountSummary
	positions  paradex.PositionsPage
	summaryErr error
	calls      int
}

func (f *fakeClient) FetchAccountSummary(ctx context.Context) (paradex.AccountSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.summaryErr != nil {
		return paradex.AccountSummary{}, f.summaryErr
	}
	return f.summary, nil
}

func (f *fakeClient) FetchPositions(ctx context.Context) (paradex.PositionsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFakePair() (*fakeClient, *fakeClient) {
	a := &fakeClient{
		summary: paradex.AccountSummary{FreeCollateral: dec("900"), AccountValue: dec("1000")},
		positions: paradex.PositionsPage{Results: []paradex.Position{
			{Market: testMarket, Side: "LONG", Size: dec("0.005")},
		}},
	}
	b := &fakeClient{
		summary: paradex.AccountSummary{FreeCollateral: dec("700"), AccountValue: dec("800")},
		positions: paradex.PositionsPage{Results: []paradex.Position{
			{Market: testMarket, Side: "SHORT", Size: dec("0.005")},
		}},
	}
	return a, b
}

func TestSnapshotMergesBothAccounts(t *testing.T) {
	a, b := newFakePair()
	cache := NewCache(a, b, testMarket, 2*time.Second, nil)

	snap, err := cache.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	if !snap.A.PositionSize.Equal(dec("0.005")) {
		t.Errorf("position A = %s, want 0.005", snap.A.PositionSize)
	}
	if !snap.B.PositionSize.Equal(dec("-0.005")) {
		t.Errorf("position B = %s, want -0.005", snap.B.PositionSize)
	}
	if snap.Direction != DirectionALong {
		t.Errorf("direction = %s, want a_long", snap.Direction)
	}
	if !snap.MinAccountValue().Equal(dec("800")) {
		t.Errorf("min account value = %s, want 800", snap.MinAccountValue())
	}
}

func TestSnapshotResidualLegYieldsUnknownDirection(t *testing.T) {
	a, b := newFakePair()
	b.positions = paradex.PositionsPage{}
	cache := NewCache(a, b, testMarket, 2*time.Second, nil)

	snap, err := cache.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	if snap.Direction != DirectionUnknown {
		t.Errorf("direction with one residual leg = %s, want unknown", snap.Direction)
	}
	if !snap.A.PositionSize.Equal(dec("0.005")) {
		t.Errorf("position A = %s, want 0.005", snap.A.PositionSize)
	}
	if !snap.B.PositionSize.IsZero() {
		t.Errorf("position B = %s, want 0", snap.B.PositionSize)
	}
}

func TestSnapshotMemoizesWithinTTL(t *testing.T) {
	a, b := newFakePair()
	cache := NewCache(a, b, testMarket, 2*time.Second, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("first Snapshot returned error: %v", err)
	}

	now = now.Add(time.Second)
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("second Snapshot returned error: %v", err)
	}
	if got := a.callCount(); got != 1 {
		t.Errorf("fetch count within TTL = %d, want 1", got)
	}

	now = now.Add(1500 * time.Millisecond)
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot after expiry returned error: %v", err)
	}
	if got := a.callCount(); got != 2 {
		t.Errorf("fetch count after expiry = %d, want 2", got)
	}
}

func TestSnapshotFailureIsNotCached(t *testing.T) {
	a, b := newFakePair()
	a.summaryErr = errors.New("boom")
	cache := NewCache(a, b, testMarket, time.Hour, nil)

	ctx := context.Background()
	if _, err := cache.Snapshot(ctx); err == nil {
		t.Fatal("Snapshot should propagate fetch error")
	}

	a.mu.Lock()
	a.summaryErr = nil
	a.mu.Unlock()

	snap, err := cache.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot after recovery returned error: %v", err)
	}
	if !snap.A.AccountValue.Equal(dec("1000")) {
		t.Errorf("account value A = %s, want 1000", snap.A.AccountValue)
	}
}

func TestPatchAdjustsCachedSnapshot(t *testing.T) {
	a, b := newFakePair()
	cache := NewCache(a, b, testMarket, time.Hour, nil)

	ctx := context.Background()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	cache.Patch(func(s *Snapshot) {
		s.A.PositionSize = dec("-0.006")
		s.B.PositionSize = dec("0.006")
		s.Direction = s.Direction.Flip()
	})

	snap, err := cache.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot after patch returned error: %v", err)
	}
	if !snap.A.PositionSize.Equal(dec("-0.006")) {
		t.Errorf("patched position A = %s, want -0.006", snap.A.PositionSize)
	}
	if snap.Direction != DirectionAShort {
		t.Errorf("patched direction = %s, want a_short", snap.Direction)
	}
	if got := a.callCount(); got != 1 {
		t.Errorf("patch should not trigger refetch, fetch count = %d", got)
	}
}

func TestPatchSkippedWithoutSnapshot(t *testing.T) {
	a, b := newFakePair()
	cache := NewCache(a, b, testMarket, time.Hour, nil)

	called := false
	cache.Patch(func(s *Snapshot) { called = true })
	if called {
		t.Error("Patch should be a no-op before the first snapshot")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	a, b := newFakePair()
	cache := NewCache(a, b, testMarket, time.Hour, nil)

	ctx := context.Background()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	cache.Invalidate()
	if _, err := cache.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot after invalidate returned error: %v", err)
	}
	if got := a.callCount(); got != 2 {
		t.Errorf("fetch count after invalidate = %d, want 2", got)
	}
}

func TestSignedSize(t *testing.T) {
	tests := []struct {
		name string
		page paradex.PositionsPage
		want string
	}{
		{
			name: "long position keeps sign",
			page: paradex.PositionsPage{Results: []paradex.Position{
				{Market: testMarket, Side: "LONG", Size: dec("0.01")},
			}},
			want: "0.01",
		},
		{
			name: "short position is negated",
			page: paradex.PositionsPage{Results: []paradex.Position{
				{Market: testMarket, Side: "SHORT", Size: dec("0.01")},
			}},
			want: "-0.01",
		},
		{
			name: "already signed short stays",
			page: paradex.PositionsPage{Results: []paradex.Position{
				{Market: testMarket, Side: "SHORT", Size: dec("-0.01")},
			}},
			want: "-0.01",
		},
		{
			name: "other market is ignored",
			page: paradex.PositionsPage{Results: []paradex.Position{
				{Market: "ETH-USD-PERP", Side: "LONG", Size: dec("1")},
			}},
			want: "0",
		},
		{
			name: "no positions",
			page: paradex.PositionsPage{},
			want: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SignedSize(tt.page, testMarket)
			if !got.Equal(dec(tt.want)) {
				t.Errorf("SignedSize = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeriveDirection(t *testing.T) {
	tests := []struct {
		name  string
		sizeA string
		sizeB string
		want  Direction
	}{
		{"a long b short", "0.01", "-0.01", DirectionALong},
		{"a short b long", "-0.01", "0.01", DirectionAShort},
		{"both flat", "0", "0", DirectionUnknown},
		{"both long", "0.01", "0.01", DirectionUnknown},
		{"residual long leg only", "0.01", "0", DirectionUnknown},
		{"residual short leg only", "-0.01", "0", DirectionUnknown},
		{"residual b leg only", "0", "-0.01", DirectionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveDirection(dec(tt.sizeA), dec(tt.sizeB))
			if got != tt.want {
				t.Errorf("deriveDirection(%s, %s) = %s, want %s", tt.sizeA, tt.sizeB, got, tt.want)
			}
		})
	}
}
