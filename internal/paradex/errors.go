package paradex

import (
	"errors"
	"fmt"
	"net"
)

// APIError 表示交易所返回的业务错误。
type APIError struct {
	HTTPStatus int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paradex: http %d %s: %s", e.HTTPStatus, e.Code, e.Message)
}

// IsRetryable 判断错误是否可重试。
// 业务拒绝（签名错误、余额不足等）不可重试，网络类与限流类错误可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus == 429 || apiErr.HTTPStatus >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
