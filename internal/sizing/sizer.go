package sizing

import (
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/liuyi61ly/paradex-bot/internal/account"
	"github.com/liuyi61ly/paradex-bot/internal/config"
	"github.com/liuyi61ly/paradex-bot/internal/paradex"
)

// sizePrecision 为交易所接受的最小数量步长对应的小数位。
const sizePrecision int32 = 5

var (
	// ErrInvalidPrice 中间价非正，无法按名义价值折算数量。
	ErrInvalidPrice = errors.New("sizing: 行情价格非法")
	// ErrSizeTooSmall 计算结果被截断为零，资金不足以开出最小仓位。
	ErrSizeTooSmall = errors.New("sizing: 下单数量过小")
)

// OrderIntent 描述一条腿的下单意图，是显式结构而非对请求字典的覆盖。
type OrderIntent struct {
	Side       paradex.OrderSide
	Size       decimal.Decimal
	ReduceOnly bool
}

// TradePlan 为一次翻转的完整计划：两条腿各提交一笔合并市价单，
// 数量为"平掉现有仓位 + 建立反向新仓"之和。
type TradePlan struct {
	FirstTrade bool
	Direction  account.Direction
	CloseSize  decimal.Decimal
	NewSize    decimal.Decimal
	MidPrice   decimal.Decimal
	Margin     decimal.Decimal
	Notional   decimal.Decimal
	IntentA    OrderIntent
	IntentB    OrderIntent
}

// Sizer 按资金比例或固定数量计算翻转计划。
type Sizer struct {
	fundsRatio decimal.Decimal
	leverage   decimal.Decimal
	useDynamic bool
	fixedSize  decimal.Decimal
	logger     *zap.Logger
}

// NewSizer 从交易配置构造 Sizer。
func NewSizer(cfg config.TradingConfig, logger *zap.Logger) *Sizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sizer{
		fundsRatio: decimal.NewFromFloat(cfg.FundsRatio),
		leverage:   decimal.NewFromInt(int64(cfg.Leverage)),
		useDynamic: cfg.UseDynamicSize,
		fixedSize:  decimal.NewFromFloat(cfg.FixedSize),
		logger:     logger,
	}
}

// NextDirection 返回本次翻转的目标方向。
// 双边空仓时默认账户1先做多。
func NextDirection(current account.Direction) account.Direction {
	if current == account.DirectionUnknown {
		return account.DirectionALong
	}
	return current.Flip()
}

// Plan 按账户快照与当前买一卖一生成翻转计划。
func (s *Sizer) Plan(snap account.Snapshot, bid, ask decimal.Decimal) (TradePlan, error) {
	if !bid.IsPositive() || !ask.IsPositive() {
		return TradePlan{}, ErrInvalidPrice
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return TradePlan{}, ErrInvalidPrice
	}

	newSize, margin, notional, err := s.newSize(snap, mid)
	if err != nil {
		return TradePlan{}, err
	}

	next := NextDirection(snap.Direction)

	sideA := paradex.OrderSideBuy
	if next == account.DirectionAShort {
		sideA = paradex.OrderSideSell
	}

	// 方向未知按首次开仓处理：没有可信的对冲仓位可平，
	// 残留的单腿不计入合并单，留给启动同步与关停平仓处理
	firstTrade := snap.Direction == account.DirectionUnknown

	closeSize := decimal.Zero
	closeSizeB := decimal.Zero
	if !firstTrade {
		closeSize = snap.A.PositionSize.Abs()
		closeSizeB = snap.B.PositionSize.Abs()
	}

	// 合并单：同方向同时完成平旧仓与开新仓，省一次请求配额
	totalA := closeSize.Add(newSize).Truncate(sizePrecision)
	totalB := closeSizeB.Add(newSize).Truncate(sizePrecision)

	plan := TradePlan{
		FirstTrade: firstTrade,
		Direction:  next,
		CloseSize:  closeSize,
		NewSize:    newSize,
		MidPrice:   mid,
		Margin:     margin,
		Notional:   notional,
		IntentA:    OrderIntent{Side: sideA, Size: totalA},
		IntentB:    OrderIntent{Side: sideA.Opposite(), Size: totalB},
	}

	s.logger.Debug("生成翻转计划",
		zap.String("direction", next.String()),
		zap.String("mid", mid.String()),
		zap.String("new_size", newSize.String()),
		zap.String("total_a", totalA.String()),
		zap.String("total_b", totalB.String()),
	)

	return plan, nil
}

// newSize 计算翻转后的单边目标仓位及对应保证金与名义价值。
// 动态模式下以两账户权益短板为基数：margin = minValue × fundsRatio，
// 名义价值 = margin × leverage，再按中间价折算为数量并向下截断。
func (s *Sizer) newSize(snap account.Snapshot, mid decimal.Decimal) (size, margin, notional decimal.Decimal, err error) {
	if s.useDynamic {
		margin = snap.MinAccountValue().Mul(s.fundsRatio)
		notional = margin.Mul(s.leverage)
		size = notional.Div(mid).Truncate(sizePrecision)
	} else {
		size = s.fixedSize.Truncate(sizePrecision)
		notional = size.Mul(mid)
		margin = notional.Div(s.leverage)
	}

	if !size.IsPositive() {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrSizeTooSmall
	}
	return size, margin, notional, nil
}
