package account

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/liuyi61ly/paradex-bot/internal/paradex"
)

// Client 是缓存所需的账户查询能力子集。
type Client interface {
	FetchAccountSummary(ctx context.Context) (paradex.AccountSummary, error)
	FetchPositions(ctx context.Context) (paradex.PositionsPage, error)
}

// Direction 表示两个账户当前的对冲方向。
type Direction int

const (
	// DirectionUnknown 两侧均无持仓或方向无法判定。
	DirectionUnknown Direction = iota
	// DirectionALong 账户1做多、账户2做空。
	DirectionALong
	// DirectionAShort 账户1做空、账户2做多。
	DirectionAShort
)

func (d Direction) String() string {
	switch d {
	case DirectionALong:
		return "a_long"
	case DirectionAShort:
		return "a_short"
	default:
		return "unknown"
	}
}

// Flip 返回相反的对冲方向，未知方向保持未知。
func (d Direction) Flip() Direction {
	switch d {
	case DirectionALong:
		return DirectionAShort
	case DirectionAShort:
		return DirectionALong
	default:
		return DirectionUnknown
	}
}

// State 描述单个账户在目标市场的资金与持仓。
// PositionSize 带符号，正数为多头。
type State struct {
	FreeCollateral decimal.Decimal
	AccountValue   decimal.Decimal
	PositionSize   decimal.Decimal
}

// Snapshot 为一次双账户查询的合并结果。
type Snapshot struct {
	A         State
	B         State
	Direction Direction
	FetchedAt time.Time
}

// MinAccountValue 返回两个账户中较小的权益，下单规模以短板为准。
func (s Snapshot) MinAccountValue() decimal.Decimal {
	if s.A.AccountValue.LessThan(s.B.AccountValue) {
		return s.A.AccountValue
	}
	return s.B.AccountValue
}

// Cache 在 TTL 内复用双账户快照，避免行情回调风暴打爆查询接口。
// 过期后重新拉取；成交后通过 Patch 乐观更新，不等待结算回查。
type Cache struct {
	clientA Client
	clientB Client
	market  string
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	snap  Snapshot
	valid bool
}

// NewCache 创建双账户快照缓存。
func NewCache(clientA, clientB Client, market string, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		clientA: clientA,
		clientB: clientB,
		market:  market,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Snapshot 返回未过期的缓存快照，过期时重新查询两个账户。
// 查询失败时不缓存，下次调用会重试。
func (c *Cache) Snapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.snap.FetchedAt) < c.ttl {
		return c.snap, nil
	}

	snap, err := c.fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	c.snap = snap
	c.valid = true
	return snap, nil
}

// Refresh 无视 TTL 强制重新查询。
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	c.snap = snap
	c.valid = true
	return snap, nil
}

// Patch 在锁内对缓存快照做乐观修正。
// 只允许成交路径这一个写入方调用，读路径一律走 Snapshot。
func (c *Cache) Patch(apply func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		return
	}
	apply(&c.snap)
}

// Invalidate 丢弃缓存，下一次 Snapshot 必定回源。
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

// fetch 调用方须持有 c.mu。
func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	var stateA, stateB State

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state, err := c.fetchState(gctx, c.clientA)
		if err != nil {
			return fmt.Errorf("账户1: %w", err)
		}
		stateA = state
		return nil
	})
	g.Go(func() error {
		state, err := c.fetchState(gctx, c.clientB)
		if err != nil {
			return fmt.Errorf("账户2: %w", err)
		}
		stateB = state
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("account: 刷新账户快照失败: %w", err)
	}

	snap := Snapshot{
		A:         stateA,
		B:         stateB,
		Direction: deriveDirection(stateA.PositionSize, stateB.PositionSize),
		FetchedAt: c.now(),
	}

	// 单腿残留（一边有仓另一边没有）说明上次翻转只成交了一半
	if snap.Direction == DirectionUnknown && (!stateA.PositionSize.IsZero() || !stateB.PositionSize.IsZero()) {
		c.logger.Warn("两个账户持仓不对称，方向按未知处理",
			zap.String("pos_a", stateA.PositionSize.String()),
			zap.String("pos_b", stateB.PositionSize.String()),
		)
	}

	c.logger.Debug("账户快照已刷新",
		zap.String("direction", snap.Direction.String()),
		zap.String("value_a", snap.A.AccountValue.String()),
		zap.String("value_b", snap.B.AccountValue.String()),
		zap.String("pos_a", snap.A.PositionSize.String()),
		zap.String("pos_b", snap.B.PositionSize.String()),
	)

	return snap, nil
}

func (c *Cache) fetchState(ctx context.Context, client Client) (State, error) {
	summary, err := client.FetchAccountSummary(ctx)
	if err != nil {
		return State{}, err
	}

	positions, err := client.FetchPositions(ctx)
	if err != nil {
		return State{}, err
	}

	return State{
		FreeCollateral: summary.FreeCollateral,
		AccountValue:   summary.AccountValue,
		PositionSize:   SignedSize(positions, c.market),
	}, nil
}

// SignedSize 从持仓列表提取目标市场的带符号仓位，空头为负。
func SignedSize(page paradex.PositionsPage, market string) decimal.Decimal {
	for _, p := range page.Results {
		if p.Market != market {
			continue
		}
		size := p.Size
		if strings.EqualFold(p.Side, "SHORT") && size.IsPositive() {
			size = size.Neg()
		}
		return size
	}
	return decimal.Zero
}

// deriveDirection 判定对冲方向，要求两边严格反向持仓。
// 任何一边空仓或同向都视为未知，不能当作已建好的对冲。
func deriveDirection(sizeA, sizeB decimal.Decimal) Direction {
	switch {
	case sizeA.IsPositive() && sizeB.IsNegative():
		return DirectionALong
	case sizeA.IsNegative() && sizeB.IsPositive():
		return DirectionAShort
	default:
		return DirectionUnknown
	}
}
