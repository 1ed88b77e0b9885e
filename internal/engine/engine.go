package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/liuyi61ly/paradex-bot/internal/account"
	"github.com/liuyi61ly/paradex-bot/internal/config"
	"github.com/liuyi61ly/paradex-bot/internal/paradex"
	"github.com/liuyi61ly/paradex-bot/internal/sizing"
)

// OrderClient 是引擎所需的单账户交易能力。
type OrderClient interface {
	Address() string
	SubmitOrder(ctx context.Context, order paradex.OrderRequest) (paradex.OrderResult, error)
	FetchFills(ctx context.Context, market string) (paradex.FillsPage, error)
	FetchPositions(ctx context.Context) (paradex.PositionsPage, error)
}

// Gate 是引擎依赖的限速能力。
type Gate interface {
	CanProceed() (bool, string, time.Duration)
	Acquire(ctx context.Context, timeout time.Duration) (bool, string, time.Duration)
}

// SnapshotSource 提供双账户快照的读取与乐观修正。
type SnapshotSource interface {
	Snapshot(ctx context.Context) (account.Snapshot, error)
	Refresh(ctx context.Context) (account.Snapshot, error)
	Patch(apply func(*account.Snapshot))
}

// Planner 按快照与行情生成翻转计划。
type Planner interface {
	Plan(snap account.Snapshot, bid, ask decimal.Decimal) (sizing.TradePlan, error)
}

// EventSink 接收引擎产生的业务事件，供持久化记录。
type EventSink interface {
	TradeExecuted(plan sizing.TradePlan, elapsed time.Duration)
	TradeFailed(reason string)
	StopTriggered(reason string)
}

type noopSink struct{}

func (noopSink) TradeExecuted(sizing.TradePlan, time.Duration) {}
func (noopSink) TradeFailed(string)                            {}
func (noopSink) StopTriggered(string)                          {}

// Stats 为引擎运行统计。
type Stats struct {
	SuccessfulTrades int64
	FailedTrades     int64
	LastTradeAt      time.Time
}

// legResult 记录单条腿的提交结果。
type legResult struct {
	result paradex.OrderResult
	err    error
}

// Engine 驱动检测、计算、限速、双腿提交与停止检查的完整周期。
// 行情回调并发到达时，执行中的周期之外的 tick 直接丢弃而不是排队。
type Engine struct {
	cfg       config.TradingConfig
	gate      Gate
	snapshots SnapshotSource
	planner   Planner
	clientA   OrderClient
	clientB   OrderClient
	events    EventSink
	logger    *zap.Logger
	now       func() time.Time

	executing atomic.Bool

	successful atomic.Int64
	failed     atomic.Int64

	tradeMu     sync.Mutex
	lastTradeAt time.Time

	stopOnce   sync.Once
	stopReason string
	done       chan struct{}
}

// New 创建执行引擎。events 可为空。
func New(
	cfg config.TradingConfig,
	gate Gate,
	snapshots SnapshotSource,
	planner Planner,
	clientA, clientB OrderClient,
	events EventSink,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = noopSink{}
	}
	return &Engine{
		cfg:       cfg,
		gate:      gate,
		snapshots: snapshots,
		planner:   planner,
		clientA:   clientA,
		clientB:   clientB,
		events:    events,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Done 在引擎触发停止后关闭。
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// StopReason 返回停止原因，未停止时为空字符串。
func (e *Engine) StopReason() string {
	select {
	case <-e.done:
		return e.stopReason
	default:
		return ""
	}
}

// Stop 触发一次性停止信号，后续 tick 全部忽略。
// 不直接退出进程，由上层完成平仓与收尾后再退出。
func (e *Engine) Stop(reason string) {
	e.stopOnce.Do(func() {
		e.stopReason = reason
		close(e.done)
		e.logger.Warn("引擎已停止", zap.String("reason", reason))
		e.events.StopTriggered(reason)
	})
}

func (e *Engine) stopped() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// WaitIdle 阻塞到当前执行周期结束，供关停流程在平仓前调用。
func (e *Engine) WaitIdle(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for e.executing.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stats 返回当前运行统计。
func (e *Engine) Stats() Stats {
	e.tradeMu.Lock()
	last := e.lastTradeAt
	e.tradeMu.Unlock()

	return Stats{
		SuccessfulTrades: e.successful.Load(),
		FailedTrades:     e.failed.Load(),
		LastTradeAt:      last,
	}
}

// SyncPositionState 启动时强制回源刷新，校正上次退出遗留的仓位方向。
func (e *Engine) SyncPositionState(ctx context.Context) error {
	snap, err := e.snapshots.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("engine: 同步仓位状态失败: %w", err)
	}

	e.logger.Info("仓位状态已同步",
		zap.String("direction", snap.Direction.String()),
		zap.String("pos_a", snap.A.PositionSize.String()),
		zap.String("pos_b", snap.B.PositionSize.String()),
		zap.String("value_a", snap.A.AccountValue.String()),
		zap.String("value_b", snap.B.AccountValue.String()),
	)
	return nil
}

// OnQuote 处理一条 BBO 行情，是整个策略的入口。
// 任何一步不满足条件都静默放弃本次 tick，绝不让错误冒泡中断行情流。
func (e *Engine) OnQuote(ctx context.Context, quote paradex.BBOQuote) {
	if e.stopped() {
		return
	}
	if quote.Market != e.cfg.Market {
		return
	}
	if !e.spreadTriggered(quote) {
		return
	}
	if !e.intervalElapsed() {
		return
	}

	// 非阻塞互斥：执行期间到达的 tick 直接忽略
	if !e.executing.CompareAndSwap(false, true) {
		return
	}
	defer e.executing.Store(false)

	if e.stopped() {
		return
	}

	if ok, window, wait := e.gate.CanProceed(); !ok {
		e.logger.Debug("限速窗口已满，跳过本次机会",
			zap.String("window", window),
			zap.Duration("wait_hint", wait),
		)
		return
	}

	e.executeFlip(ctx, quote)
}

// spreadTriggered 判断买卖价差是否收窄到触发阈值。
// spreadPct = (ask − bid) / ask × 100，价差越小越接近零成本翻转。
func (e *Engine) spreadTriggered(quote paradex.BBOQuote) bool {
	if !quote.Ask.IsPositive() || !quote.Bid.IsPositive() {
		return false
	}
	spreadPct := quote.Ask.Sub(quote.Bid).Div(quote.Ask).Mul(decimal.NewFromInt(100))
	return spreadPct.LessThanOrEqual(decimal.NewFromFloat(e.cfg.MinSpread))
}

func (e *Engine) intervalElapsed() bool {
	if e.cfg.MinTradeInterval <= 0 {
		return true
	}
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	return e.lastTradeAt.IsZero() || e.now().Sub(e.lastTradeAt) >= e.cfg.MinTradeInterval
}

func (e *Engine) executeFlip(ctx context.Context, quote paradex.BBOQuote) {
	started := e.now()

	// 无论成败都推进最小交易间隔的计时起点
	defer func() {
		e.tradeMu.Lock()
		e.lastTradeAt = e.now()
		e.tradeMu.Unlock()
	}()

	snap, err := e.snapshots.Snapshot(ctx)
	if err != nil {
		e.logger.Warn("获取账户快照失败，放弃本次机会", zap.Error(err))
		return
	}

	plan, err := e.planner.Plan(snap, quote.Bid, quote.Ask)
	if err != nil {
		e.logger.Warn("生成翻转计划失败", zap.Error(err))
		return
	}

	// 两条腿各消耗一次请求配额
	for i := 0; i < 2; i++ {
		if ok, window, wait := e.gate.Acquire(ctx, e.cfg.AcquireTimeout); !ok {
			e.logger.Warn("等待限速配额超时，放弃本次机会",
				zap.String("window", window),
				zap.Duration("wait_hint", wait),
			)
			return
		}
	}

	// 提交阶段不受外部取消影响，避免中断产生单腿裸露仓位
	submitCtx := context.WithoutCancel(ctx)
	resA, resB := e.submitBothLegs(submitCtx, plan)

	if resA.err != nil || resB.err != nil {
		e.failed.Add(1)
		reason := describeLegFailure(resA, resB)
		e.logger.Error("翻转失败",
			zap.String("detail", reason),
			zap.NamedError("leg_a", resA.err),
			zap.NamedError("leg_b", resB.err),
		)
		// 半成交的账本留给下一次启动同步校正，这里不做补偿平仓
		e.events.TradeFailed(reason)
		return
	}

	count := e.successful.Add(1)

	e.patchSnapshot(plan)

	elapsed := e.now().Sub(started)
	e.logger.Info("翻转成功",
		zap.Int64("trade_no", count),
		zap.String("direction", plan.Direction.String()),
		zap.String("size", plan.NewSize.String()),
		zap.String("mid", plan.MidPrice.String()),
		zap.String("order_a", resA.result.ID),
		zap.String("order_b", resB.result.ID),
		zap.Duration("elapsed", elapsed),
	)
	e.events.TradeExecuted(plan, elapsed)

	// 留出结算时间再核对成交手续费
	if e.cfg.SettleDelay > 0 {
		time.Sleep(e.cfg.SettleDelay)
	}
	if fee, token, found := e.detectFee(submitCtx); found {
		e.Stop(fmt.Sprintf("检测到手续费 %s %s，策略要求零费率", fee.String(), token))
		return
	}

	if count >= e.cfg.TargetTrades {
		e.Stop(fmt.Sprintf("已完成目标交易次数 %d", count))
	}
}

// submitBothLegs 并发提交两条腿并等待双方都返回。
// 即使一条腿失败，另一条也必须等到结果，不能提前取消。
func (e *Engine) submitBothLegs(ctx context.Context, plan sizing.TradePlan) (legResult, legResult) {
	var resA, resB legResult

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		resA.result, resA.err = e.submitLeg(ctx, e.clientA, plan.IntentA)
	}()
	go func() {
		defer wg.Done()
		resB.result, resB.err = e.submitLeg(ctx, e.clientB, plan.IntentB)
	}()
	wg.Wait()

	return resA, resB
}

func (e *Engine) submitLeg(ctx context.Context, client OrderClient, intent sizing.OrderIntent) (paradex.OrderResult, error) {
	return client.SubmitOrder(ctx, paradex.OrderRequest{
		Market:     e.cfg.Market,
		Type:       paradex.OrderTypeMarket,
		Side:       intent.Side,
		Size:       intent.Size,
		ReduceOnly: intent.ReduceOnly,
	})
}

func describeLegFailure(resA, resB legResult) string {
	switch {
	case resA.err != nil && resB.err != nil:
		return "两条腿均提交失败"
	case resA.err != nil:
		return "账户1提交失败，账户2已成交"
	default:
		return "账户2提交失败，账户1已成交"
	}
}

// patchSnapshot 按计划乐观修正缓存，不等待交易所回查。
// 这是缓存唯一的写入方，读路径始终经由 Snapshot。
func (e *Engine) patchSnapshot(plan sizing.TradePlan) {
	e.snapshots.Patch(func(s *account.Snapshot) {
		sizeA := plan.NewSize
		if plan.Direction == account.DirectionAShort {
			sizeA = sizeA.Neg()
		}
		s.A.PositionSize = sizeA
		s.B.PositionSize = sizeA.Neg()
		s.Direction = plan.Direction
	})
}

// detectFee 查询两个账户的最近成交并检查手续费。
// 查询失败按无成交处理，不阻塞主流程。
func (e *Engine) detectFee(ctx context.Context) (decimal.Decimal, string, bool) {
	for _, client := range []OrderClient{e.clientA, e.clientB} {
		page, err := client.FetchFills(ctx, e.cfg.Market)
		if err != nil {
			e.logger.Warn("查询成交记录失败，跳过手续费核对", zap.Error(err))
			continue
		}
		if len(page.Results) == 0 {
			continue
		}
		latest := page.Results[0]
		if latest.Fee.IsPositive() {
			return latest.Fee, latest.FeeToken, true
		}
	}
	return decimal.Zero, "", false
}

// CloseAllPositions 为仍有持仓的账户提交 reduce-only 市价平仓单。
// 绕过缓存直查持仓；单腿失败不阻止另一条腿尝试。
func (e *Engine) CloseAllPositions(ctx context.Context) error {
	var errs error
	for _, client := range []OrderClient{e.clientA, e.clientB} {
		if err := e.closeAccount(ctx, client); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (e *Engine) closeAccount(ctx context.Context, client OrderClient) error {
	short := shortAddress(client.Address())

	page, err := client.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("查询账户 %s 持仓失败: %w", short, err)
	}

	size := account.SignedSize(page, e.cfg.Market)
	if size.IsZero() {
		e.logger.Info("账户无持仓，无需平仓", zap.String("account", short))
		return nil
	}

	side := paradex.OrderSideSell
	if size.IsNegative() {
		side = paradex.OrderSideBuy
	}

	if ok, window, _ := e.gate.Acquire(ctx, e.cfg.CloseTimeout); !ok {
		return fmt.Errorf("账户 %s 平仓等待限速配额超时: 窗口 %s", short, window)
	}

	result, err := client.SubmitOrder(ctx, paradex.OrderRequest{
		Market:     e.cfg.Market,
		Type:       paradex.OrderTypeMarket,
		Side:       side,
		Size:       size.Abs(),
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("账户 %s 平仓失败: %w", short, err)
	}

	e.logger.Info("账户持仓已平",
		zap.String("account", short),
		zap.String("order_id", result.ID),
		zap.String("side", string(side)),
		zap.String("size", size.Abs().String()),
	)
	return nil
}

func shortAddress(address string) string {
	if len(address) <= 8 {
		return address
	}
	return "..." + address[len(address)-8:]
}
