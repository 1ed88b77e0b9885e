package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了套利系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Accounts  AccountsConfig  `mapstructure:"accounts"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Trading   TradingConfig   `mapstructure:"trading"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	StopLog   StopLogConfig   `mapstructure:"stop_log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
// MonitorPort 为 0 时不启动监控接口。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

// AccountConfig 描述单个 Paradex 子账户的凭证。
// 鉴权令牌按 interactive token 模式预先获取，订单签名保持在外部协作方。
type AccountConfig struct {
	L2Address    string `mapstructure:"l2_address"`
	L2PrivateKey string `mapstructure:"l2_private_key"`
	AuthToken    string `mapstructure:"auth_token"`
}

// AccountsConfig 持有两个对冲账户。
type AccountsConfig struct {
	Account1 AccountConfig `mapstructure:"account1"`
	Account2 AccountConfig `mapstructure:"account2"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	WSURL       string        `mapstructure:"ws_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制 HTTP 重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 控制反向开仓策略参数。
type TradingConfig struct {
	Market           string        `mapstructure:"market"`
	MinSpread        float64       `mapstructure:"min_spread"`
	FundsRatio       float64       `mapstructure:"funds_ratio"`
	Leverage         int           `mapstructure:"leverage"`
	UseDynamicSize   bool          `mapstructure:"use_dynamic_size"`
	FixedSize        float64       `mapstructure:"fixed_size"`
	MinTradeInterval time.Duration `mapstructure:"min_trade_interval"`
	TargetTrades     int64         `mapstructure:"target_trades"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	AcquireTimeout   time.Duration `mapstructure:"acquire_timeout"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`
}

// RateLimitWindow 定义单个滑动窗口的限额。
type RateLimitWindow struct {
	Name     string        `mapstructure:"name"`
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

// RateLimitConfig 管理订单请求的限速窗口表。
type RateLimitConfig struct {
	Windows []RateLimitWindow `mapstructure:"windows"`
}

// DefaultWindows 返回 Paradex 订单接口的默认限额表。
// 每秒窗口最紧，放在首位以便限速器优先检查、尽快失败。
func DefaultWindows() []RateLimitWindow {
	return []RateLimitWindow{
		{Name: "second", Limit: 3, Interval: time.Second},
		{Name: "minute", Limit: 30, Interval: time.Minute},
		{Name: "hour", Limit: 300, Interval: time.Hour},
		{Name: "day", Limit: 1000, Interval: 24 * time.Hour},
	}
}

// ApplyDefaults 在未配置窗口表时填入默认限额。
func (c *RateLimitConfig) ApplyDefaults() {
	if len(c.Windows) == 0 {
		c.Windows = DefaultWindows()
	}
}

// CacheConfig 控制账户快照缓存。
// TTL 过小会因重复查询增加延迟，过大则可能在行情剧烈时按过期资金下单。
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// StopLogConfig 指定停止原因日志文件。
type StopLogConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	err = multierr.Append(err, c.Accounts.Account1.validate("accounts.account1"))
	err = multierr.Append(err, c.Accounts.Account2.validate("accounts.account2"))

	if c.Exchange.BaseURL == "" {
		err = multierr.Append(err, errors.New("exchange.base_url 不能为空"))
	}
	if c.Exchange.WSURL == "" {
		err = multierr.Append(err, errors.New("exchange.ws_url 不能为空"))
	}
	if c.Exchange.HTTPTimeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.http_timeout 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	if c.Trading.Market == "" {
		err = multierr.Append(err, errors.New("trading.market 不能为空"))
	}
	if c.Trading.MinSpread < 0 {
		err = multierr.Append(err, errors.New("trading.min_spread 不能为负"))
	}
	if c.Trading.FundsRatio <= 0 || c.Trading.FundsRatio > 1 {
		err = multierr.Append(err, errors.New("trading.funds_ratio 必须位于(0,1]"))
	}
	if c.Trading.Leverage < 1 {
		err = multierr.Append(err, errors.New("trading.leverage 必须不小于1"))
	}
	if !c.Trading.UseDynamicSize && c.Trading.FixedSize <= 0 {
		err = multierr.Append(err, errors.New("trading.fixed_size 在固定下单模式下必须大于0"))
	}
	if c.Trading.MinTradeInterval < 0 {
		err = multierr.Append(err, errors.New("trading.min_trade_interval 不能为负"))
	}
	if c.Trading.TargetTrades <= 0 {
		err = multierr.Append(err, errors.New("trading.target_trades 必须大于0"))
	}
	if c.Trading.SettleDelay < 0 {
		err = multierr.Append(err, errors.New("trading.settle_delay 不能为负"))
	}
	if c.Trading.AcquireTimeout <= 0 {
		err = multierr.Append(err, errors.New("trading.acquire_timeout 必须大于0"))
	}
	if c.Trading.CloseTimeout <= 0 {
		err = multierr.Append(err, errors.New("trading.close_timeout 必须大于0"))
	}

	if len(c.RateLimit.Windows) == 0 {
		err = multierr.Append(err, errors.New("ratelimit.windows 至少包含一个窗口"))
	}
	for i, w := range c.RateLimit.Windows {
		if w.Name == "" {
			err = multierr.Append(err, fmt.Errorf("ratelimit.windows[%d].name 不能为空", i))
		}
		if w.Limit <= 0 {
			err = multierr.Append(err, fmt.Errorf("ratelimit.windows[%d].limit 必须大于0", i))
		}
		if w.Interval <= 0 {
			err = multierr.Append(err, fmt.Errorf("ratelimit.windows[%d].interval 必须大于0", i))
		}
	}

	if c.Cache.TTL <= 0 {
		err = multierr.Append(err, errors.New("cache.ttl 必须大于0"))
	}
	if c.StopLog.Path == "" {
		err = multierr.Append(err, errors.New("stop_log.path 不能为空"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (a AccountConfig) validate(prefix string) error {
	var err error

	if fieldErr := requireHexFelt(a.L2Address); fieldErr != nil {
		err = multierr.Append(err, fmt.Errorf("%s.l2_address %w", prefix, fieldErr))
	}
	if fieldErr := requireHexFelt(a.L2PrivateKey); fieldErr != nil {
		err = multierr.Append(err, fmt.Errorf("%s.l2_private_key %w", prefix, fieldErr))
	}
	if a.AuthToken == "" {
		err = multierr.Append(err, fmt.Errorf("%s.auth_token 不能为空", prefix))
	}

	return err
}

// CheckHexFelt 校验 Starknet felt 形式的十六进制凭证，供密钥检查工具复用。
func CheckHexFelt(value string) error {
	return requireHexFelt(value)
}

// requireHexFelt 校验 Starknet felt 形式的十六进制凭证。
func requireHexFelt(value string) error {
	if value == "" {
		return errors.New("不能为空")
	}
	body := strings.TrimPrefix(value, "0x")
	if body == "" {
		return errors.New("不是合法十六进制")
	}
	if len(body) > 64 {
		return fmt.Errorf("长度不正确: 期望不超过64个hex字符, 实际%d个", len(body))
	}
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return errors.New("不是合法十六进制")
		}
	}
	return nil
}
