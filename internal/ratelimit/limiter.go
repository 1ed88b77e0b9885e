package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/liuyi61ly/paradex-bot/internal/config"
)

// 轮询等待的步长上限，避免长时间休眠错过 ctx 取消。
const maxPollStep = time.Second

// WindowUsage 描述单个窗口当前的占用情况。
type WindowUsage struct {
	Name  string
	Used  int
	Limit int
}

type window struct {
	name     string
	limit    int
	interval time.Duration
	stamps   []time.Time
}

// 剔除窗口外的过期时间戳。
func (w *window) evict(now time.Time) {
	cutoff := now.Add(-w.interval)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Limiter 是订单请求的多窗口滑动限速器。
// 实例通过构造注入，不使用包级全局状态，便于多策略共存与测试。
type Limiter struct {
	mu      sync.Mutex
	windows []*window
	logger  *zap.Logger
	now     func() time.Time
}

// New 按窗口表创建限速器，窗口顺序即检查顺序。
func New(windows []config.RateLimitWindow, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Limiter{
		logger: logger,
		now:    time.Now,
	}
	for _, w := range windows {
		l.windows = append(l.windows, &window{
			name:     w.Name,
			limit:    w.Limit,
			interval: w.Interval,
		})
	}
	return l
}

// CanProceed 只读检查所有窗口是否有余量，不记录请求。
// 返回阻塞窗口的名称与建议等待时长，全部通过时名称为空。
func (l *Limiter) CanProceed() (bool, string, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(l.now())
}

// check 调用方须持有 l.mu。
func (l *Limiter) check(now time.Time) (bool, string, time.Duration) {
	for _, w := range l.windows {
		w.evict(now)
		if len(w.stamps) >= w.limit {
			// 等待最早的请求滑出窗口
			wait := w.stamps[0].Add(w.interval).Sub(now)
			if wait < 0 {
				wait = 0
			}
			return false, w.name, wait
		}
	}
	return true, "", 0
}

// TryAcquire 尝试立即获取一次配额，成功时在所有窗口记录本次请求。
func (l *Limiter) TryAcquire() (bool, string, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ok, name, wait := l.check(now)
	if !ok {
		return false, name, wait
	}

	for _, w := range l.windows {
		w.stamps = append(w.stamps, now)
	}
	return true, "", 0
}

// Acquire 阻塞等待配额，超时或 ctx 取消时返回 false 与阻塞窗口信息。
// 日、小时级窗口耗尽时等待时间可能远超 timeout，调用方应按失败处理。
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) (bool, string, time.Duration) {
	deadline := l.now().Add(timeout)
	warned := false

	for {
		ok, name, wait := l.TryAcquire()
		if ok {
			return true, "", 0
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return false, name, wait
		}

		if !warned {
			l.logger.Warn("触发限速，等待配额释放",
				zap.String("window", name),
				zap.Duration("wait_hint", wait),
			)
			warned = true
		}

		step := wait
		if step <= 0 || step > maxPollStep {
			step = maxPollStep
		}
		if step > remaining {
			step = remaining
		}

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, name, wait
		case <-timer.C:
		}
	}
}

// Usage 返回各窗口当前占用快照，按窗口声明顺序排列。
func (l *Limiter) Usage() []WindowUsage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	usage := make([]WindowUsage, 0, len(l.windows))
	for _, w := range l.windows {
		w.evict(now)
		usage = append(usage, WindowUsage{
			Name:  w.name,
			Used:  len(w.stamps),
			Limit: w.limit,
		})
	}
	return usage
}
