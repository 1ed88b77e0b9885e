package paradex

import (
	"errors"
	"fmt"
	"testing"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "dial tcp: connection refused" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{HTTPStatus: 429}, true},
		{"server error", &APIError{HTTPStatus: 503}, true},
		{"bad request", &APIError{HTTPStatus: 400}, false},
		{"auth rejected", &APIError{HTTPStatus: 401}, false},
		{"wrapped api error", fmt.Errorf("提交订单失败: %w", &APIError{HTTPStatus: 500}), true},
		{"network error", fakeNetError{}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
