package paradex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/liuyi61ly/paradex-bot/internal/config"
)

// TokenSource 提供请求鉴权使用的 JWT。
// interactive token 模式下令牌在外部预先获取，这里只负责携带。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type staticTokenSource string

func (s staticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("paradex: 鉴权令牌为空")
	}
	return string(s), nil
}

// NewStaticTokenSource 用固定令牌构造 TokenSource。
func NewStaticTokenSource(token string) TokenSource {
	return staticTokenSource(token)
}

// Signer 为订单签名的外部协作方。签名算法不在本系统范围内。
type Signer interface {
	SignOrder(ctx context.Context, req OrderRequest, timestampMs int64) (string, error)
}

// Client 封装 Paradex REST 接口，内部按配置重试。
type Client struct {
	http    *resty.Client
	tokens  TokenSource
	signer  Signer
	address string
	logger  *zap.Logger
}

// NewClient 构造单账户 REST 客户端。signer 可为空，此时订单不携带签名字段。
func NewClient(cfg config.ExchangeConfig, account config.AccountConfig, signer Signer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetRetryCount(cfg.Retry.MaxAttempts).
		SetRetryWaitTime(cfg.Retry.MinDelay).
		SetRetryMaxWaitTime(cfg.Retry.MaxDelay).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先遵循 Retry-After 头
			if resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
						return time.Duration(seconds) * time.Second, nil
					}
				}
				return cfg.Retry.MaxDelay, nil
			}
			return 0, nil
		}).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if resp.IsSuccess() {
				return false
			}
			return IsRetryable(&APIError{HTTPStatus: resp.StatusCode()})
		})

	return &Client{
		http:    httpClient,
		tokens:  NewStaticTokenSource(account.AuthToken),
		signer:  signer,
		address: account.L2Address,
		logger:  logger,
	}
}

// Address 返回账户 L2 地址。
func (c *Client) Address() string {
	return c.address
}

func (c *Client) newRequest(ctx context.Context) (*resty.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	r := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")

	return r, nil
}

func decodeError(resp *resty.Response) error {
	apiErr := &APIError{HTTPStatus: resp.StatusCode()}
	if unmarshalErr := json.Unmarshal(resp.Body(), apiErr); unmarshalErr != nil || apiErr.Message == "" {
		apiErr.Message = string(resp.Body())
	}
	return apiErr
}

// FetchAccountSummary 获取账户权益概要。
func (c *Client) FetchAccountSummary(ctx context.Context) (AccountSummary, error) {
	var summary AccountSummary

	req, err := c.newRequest(ctx)
	if err != nil {
		return summary, err
	}

	resp, err := req.SetResult(&summary).Get("/account")
	if err != nil {
		return summary, fmt.Errorf("paradex: 获取账户概要失败: %w", err)
	}
	if !resp.IsSuccess() {
		return summary, decodeError(resp)
	}

	return summary, nil
}

// FetchPositions 获取全部持仓。
func (c *Client) FetchPositions(ctx context.Context) (PositionsPage, error) {
	var page PositionsPage

	req, err := c.newRequest(ctx)
	if err != nil {
		return page, err
	}

	resp, err := req.SetResult(&page).Get("/positions")
	if err != nil {
		return page, fmt.Errorf("paradex: 获取持仓失败: %w", err)
	}
	if !resp.IsSuccess() {
		return page, decodeError(resp)
	}

	return page, nil
}

// FetchFills 按市场查询最近成交，最近的排在最前。
func (c *Client) FetchFills(ctx context.Context, market string) (FillsPage, error) {
	var page FillsPage

	req, err := c.newRequest(ctx)
	if err != nil {
		return page, err
	}

	resp, err := req.
		SetQueryParam("market", market).
		SetQueryParam("page_size", "10").
		SetResult(&page).
		Get("/fills")
	if err != nil {
		return page, fmt.Errorf("paradex: 查询成交记录失败: %w", err)
	}
	if !resp.IsSuccess() {
		return page, decodeError(resp)
	}

	return page, nil
}

type orderPayload struct {
	Market             string   `json:"market"`
	Type               string   `json:"type"`
	Side               string   `json:"side"`
	Size               string   `json:"size"`
	ClientID           string   `json:"client_id,omitempty"`
	Flags              []string `json:"flags,omitempty"`
	Signature          string   `json:"signature,omitempty"`
	SignatureTimestamp int64    `json:"signature_timestamp,omitempty"`
}

// SubmitOrder 提交订单。
func (c *Client) SubmitOrder(ctx context.Context, order OrderRequest) (OrderResult, error) {
	var result OrderResult

	payload := orderPayload{
		Market:   order.Market,
		Type:     string(order.Type),
		Side:     string(order.Side),
		Size:     order.Size.String(),
		ClientID: order.ClientID,
	}
	if payload.ClientID == "" {
		payload.ClientID = uuid.NewString()
	}
	if order.ReduceOnly {
		payload.Flags = append(payload.Flags, "REDUCE_ONLY")
	}

	if c.signer != nil {
		now := time.Now().UnixMilli()
		signature, err := c.signer.SignOrder(ctx, order, now)
		if err != nil {
			return result, fmt.Errorf("paradex: 订单签名失败: %w", err)
		}
		payload.Signature = signature
		payload.SignatureTimestamp = now
	}

	req, err := c.newRequest(ctx)
	if err != nil {
		return result, err
	}

	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return result, fmt.Errorf("paradex: 提交订单失败: %w", err)
	}
	if !resp.IsSuccess() {
		return result, decodeError(resp)
	}

	c.logger.Debug("订单已提交",
		zap.String("account", shortAddress(c.address)),
		zap.String("order_id", result.ID),
		zap.String("status", result.Status),
		zap.String("side", string(result.Side)),
		zap.String("size", result.Size.String()),
	)

	return result, nil
}

// shortAddress 截取地址尾部用于日志，避免输出完整账户地址。
func shortAddress(address string) string {
	if len(address) <= 8 {
		return address
	}
	return "..." + address[len(address)-8:]
}
