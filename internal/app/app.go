package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/liuyi61ly/paradex-bot/internal/account"
	"github.com/liuyi61ly/paradex-bot/internal/config"
	"github.com/liuyi61ly/paradex-bot/internal/engine"
	"github.com/liuyi61ly/paradex-bot/internal/monitor"
	"github.com/liuyi61ly/paradex-bot/internal/paradex"
	"github.com/liuyi61ly/paradex-bot/internal/ratelimit"
	"github.com/liuyi61ly/paradex-bot/internal/sizing"
	"github.com/liuyi61ly/paradex-bot/internal/stoplog"
	"github.com/liuyi61ly/paradex-bot/internal/store"
)

const progressInterval = time.Second

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装全部组件并阻塞运行，直到退出信号或引擎触发停止。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("套利系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("market", a.cfg.Trading.Market),
		zap.Float64("min_spread", a.cfg.Trading.MinSpread),
		zap.Int("leverage", a.cfg.Trading.Leverage),
		zap.Int64("target_trades", a.cfg.Trading.TargetTrades),
	)

	clientA := paradex.NewClient(a.cfg.Exchange, a.cfg.Accounts.Account1, nil, a.logger.Named("account1"))
	clientB := paradex.NewClient(a.cfg.Exchange, a.cfg.Accounts.Account2, nil, a.logger.Named("account2"))

	limiter := ratelimit.New(a.cfg.RateLimit.Windows, a.logger.Named("ratelimit"))
	for _, w := range a.cfg.RateLimit.Windows {
		a.logger.Info("限速窗口",
			zap.String("window", w.Name),
			zap.Int("limit", w.Limit),
			zap.Duration("interval", w.Interval),
		)
	}
	cache := account.NewCache(clientA, clientB, a.cfg.Trading.Market, a.cfg.Cache.TTL, a.logger.Named("account"))
	sizer := sizing.NewSizer(a.cfg.Trading, a.logger.Named("sizing"))

	monitorSvc, err := monitor.NewService(a.store, a.logger.Named("monitor"))
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	eng := engine.New(a.cfg.Trading, limiter, cache, sizer, clientA, clientB, monitorSvc, a.logger.Named("engine"))

	// 启动前先校正上次退出遗留的仓位方向
	if err := eng.SyncPositionState(ctx); err != nil {
		return err
	}

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	if a.cfg.App.MonitorPort > 0 {
		startMonitorServer(streamCtx, monitorSvc, eng, limiter, a.cfg.App.MonitorPort, a.logger.Named("monitor_http"))
	}

	stream := paradex.NewStream(paradex.StreamConfig{
		URL:    a.cfg.Exchange.WSURL,
		Market: a.cfg.Trading.Market,
	}, func(q paradex.BBOQuote) {
		eng.OnQuote(streamCtx, q)
	}, a.logger.Named("stream"))

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- stream.Run(streamCtx)
	}()

	reason := a.waitForStop(ctx, eng, limiter, streamErr)
	eng.Stop(reason)
	stopStream()

	a.shutdown(eng)
	return nil
}

// waitForStop 阻塞运行主循环，返回停止原因。
func (a *App) waitForStop(ctx context.Context, eng *engine.Engine, limiter *ratelimit.Limiter, streamErr <-chan error) string {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var lastReported int64 = -1

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("系统收到退出信号，正在停止")
			return "收到退出信号"

		case <-eng.Done():
			return eng.StopReason()

		case err := <-streamErr:
			if err != nil {
				a.logger.Error("行情流异常退出", zap.Error(err))
				return fmt.Sprintf("行情流异常退出: %v", err)
			}
			return "行情流已结束"

		case <-ticker.C:
			stats := eng.Stats()
			done := stats.SuccessfulTrades
			if done == lastReported {
				continue
			}
			lastReported = done

			fields := []zap.Field{
				zap.Int64("successful", done),
				zap.Int64("failed", stats.FailedTrades),
				zap.Int64("target", a.cfg.Trading.TargetTrades),
			}
			for _, u := range limiter.Usage() {
				fields = append(fields, zap.String("window_"+u.Name, fmt.Sprintf("%d/%d", u.Used, u.Limit)))
			}
			a.logger.Info("交易进度", fields...)
		}
	}
}

// shutdown 按顺序收尾：等待在途周期结束、写停止原因、平掉全部持仓、输出最终统计。
// 此时外部 ctx 可能已取消，平仓使用独立的限时上下文。
func (a *App) shutdown(eng *engine.Engine) {
	reason := eng.StopReason()

	closeTimeout := 2 * a.cfg.Trading.CloseTimeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout+30*time.Second)
	defer cancel()

	eng.WaitIdle(shutdownCtx)

	if err := stoplog.New(a.cfg.StopLog.Path).Record(reason); err != nil {
		a.logger.Warn("写入停止原因失败", zap.Error(err))
	}

	a.logger.Info("开始平掉全部持仓", zap.String("reason", reason))
	if err := eng.CloseAllPositions(shutdownCtx); err != nil {
		a.logger.Error("平仓未全部完成", zap.Error(err))
	} else {
		a.logger.Info("全部持仓已平")
	}

	stats := eng.Stats()
	a.logger.Info("最终统计",
		zap.Int64("successful", stats.SuccessfulTrades),
		zap.Int64("failed", stats.FailedTrades),
		zap.Time("last_trade_at", stats.LastTradeAt),
		zap.String("stop_reason", reason),
	)
}
