package paradex

import (
	"github.com/shopspring/decimal"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite 返回相反方向。
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType 表示订单类型，本策略只使用市价单。
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// OrderRequest 描述一笔待提交的订单。
type OrderRequest struct {
	Market     string
	Type       OrderType
	Side       OrderSide
	Size       decimal.Decimal
	ReduceOnly bool
	ClientID   string
}

// OrderResult 为交易所返回的订单回执。
type OrderResult struct {
	ID            string          `json:"id"`
	Market        string          `json:"market"`
	Status        string          `json:"status"`
	Side          OrderSide       `json:"side"`
	Size          decimal.Decimal `json:"size"`
	RemainingSize decimal.Decimal `json:"remaining_size"`
	CreatedAt     int64           `json:"created_at"`
}

// AccountSummary 描述账户权益概要。
type AccountSummary struct {
	Account         string          `json:"account"`
	FreeCollateral  decimal.Decimal `json:"free_collateral"`
	AccountValue    decimal.Decimal `json:"account_value"`
	SettlementAsset string          `json:"settlement_asset"`
}

// Position 表示单个市场的持仓，size 正负号区分多空。
type Position struct {
	Market string          `json:"market"`
	Side   string          `json:"side"`
	Size   decimal.Decimal `json:"size"`
}

// PositionsPage 为持仓查询结果。
type PositionsPage struct {
	Results []Position `json:"results"`
}

// Fill 表示一条成交记录，最近成交排在最前。
type Fill struct {
	ID        string          `json:"id"`
	Market    string          `json:"market"`
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Fee       decimal.Decimal `json:"fee"`
	FeeToken  string          `json:"fee_token"`
	CreatedAt int64           `json:"created_at"`
}

// FillsPage 为成交查询结果。
type FillsPage struct {
	Results []Fill `json:"results"`
}

// BBOQuote 为单条买一卖一行情。
type BBOQuote struct {
	Market        string
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	LastUpdatedAt int64
}
