// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"turtle-trader/internal/model"
	"turtle-trader/pkg/ta"

	"github.com/spf13/viper"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// Config 是全部配置的根结构
type Config struct {
	Data       DataConfig     `mapstructure:"data"`
	Trading    TradingConfig  `mapstructure:"trading"`
	Indicators ta.Windows     `mapstructure:"indicators"`
	Account    AccountConfig  `mapstructure:"account"`
	Database   DatabaseConfig `mapstructure:"database"`
	Cache      CacheConfig    `mapstructure:"cache"`
	Metrics    MetricsConfig  `mapstructure:"metrics"`
	Logging    LoggingConfig  `mapstructure:"logging"`
}

// DataConfig 定义了行情数据来源和标的范围
type DataConfig struct {
	Provider      string        `mapstructure:"provider"`
	Universe      string        `mapstructure:"universe"` // custom, sp500, nasdaq100, all_us
	CustomSymbols []string      `mapstructure:"custom_symbols"`
	StartDate     string        `mapstructure:"start_date"`
	EndDate       string        `mapstructure:"end_date"` // 为空表示今天
	LookbackDays  int           `mapstructure:"lookback_days"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Workers       int           `mapstructure:"workers"` // 并发拉取/计算的标的数
}

// TradingConfig 定义了海龟规则参数和模拟成交成本
type TradingConfig struct {
	System1Length       int     `mapstructure:"system1_length"`
	System2Length       int     `mapstructure:"system2_length"`
	UseSystem2          bool    `mapstructure:"use_system2"`
	RiskPerUnit         float64 `mapstructure:"risk_per_unit"`         // 每个单位承担的账户风险比例
	MaxRiskPerPosition  float64 `mapstructure:"max_risk_per_position"` // 单个持仓最大风险比例
	MaxUnitsPerPosition int     `mapstructure:"max_units_per_position"`
	PyramidIncrement    float64 `mapstructure:"pyramid_increment"` // ATR 倍数
	ATRPeriod           int     `mapstructure:"atr_period"`
	StopATRMultiple     float64 `mapstructure:"stop_atr_multiple"`
	ExitLengthS1        int     `mapstructure:"exit_length_s1"`
	ExitLengthS2        int     `mapstructure:"exit_length_s2"`
	SlippageBps         float64 `mapstructure:"slippage_bps"`
	CommissionPerShare  float64 `mapstructure:"commission_per_share"`
	TrendFast           int     `mapstructure:"trend_fast"` // 趋势判断快速均线
	TrendSlow           int     `mapstructure:"trend_slow"` // 趋势判断慢速均线
}

// AccountConfig 模拟账户
type AccountConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	Currency       string  `mapstructure:"currency"`
}

// DatabaseConfig 本地 sqlite 存储
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CacheConfig 价格序列缓存: memory 或 redis
type CacheConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// MetricsConfig prometheus 指标暴露地址，为空表示不启动
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig 日志级别
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	// data
	v.SetDefault("data.provider", "yahoo")
	v.SetDefault("data.universe", "custom")
	v.SetDefault("data.custom_symbols", []string{"AAPL", "MSFT", "GOOGL"})
	v.SetDefault("data.start_date", "2020-01-01")
	v.SetDefault("data.end_date", "")
	v.SetDefault("data.lookback_days", 400)
	v.SetDefault("data.cache_ttl", time.Hour)
	v.SetDefault("data.max_retries", 3)
	v.SetDefault("data.workers", 4)

	// trading
	rules := model.DefaultRuleParams()
	v.SetDefault("trading.system1_length", rules.System1Length)
	v.SetDefault("trading.system2_length", rules.System2Length)
	v.SetDefault("trading.use_system2", rules.UseSystem2)
	v.SetDefault("trading.risk_per_unit", 0.01)
	v.SetDefault("trading.max_risk_per_position", 0.02)
	v.SetDefault("trading.max_units_per_position", rules.MaxUnitsPerPosition)
	v.SetDefault("trading.pyramid_increment", rules.PyramidIncrementATR)
	v.SetDefault("trading.atr_period", rules.ATRPeriod)
	v.SetDefault("trading.stop_atr_multiple", rules.StopATRMultiple)
	v.SetDefault("trading.exit_length_s1", rules.ExitLengthSystem1)
	v.SetDefault("trading.exit_length_s2", rules.ExitLengthSystem2)
	v.SetDefault("trading.slippage_bps", 5.0)
	v.SetDefault("trading.commission_per_share", 0.005)
	v.SetDefault("trading.trend_fast", 50)
	v.SetDefault("trading.trend_slow", 200)

	// indicators
	windows := ta.DefaultWindows()
	v.SetDefault("indicators.donchian", windows.Donchian)
	v.SetDefault("indicators.atr", windows.ATR)
	v.SetDefault("indicators.sma", windows.SMA)
	v.SetDefault("indicators.volatility", windows.Volatility)

	// account
	v.SetDefault("account.initial_capital", 100000.0)
	v.SetDefault("account.currency", "USD")

	// storage / cache / metrics / logging
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "data/turtle.db")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "turtle:prices:")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.level", "info")
}

// LoadConfig 读取并解析配置文件。
// configFile 为空时在 ./config 和当前目录查找 config.yaml，找不到则只使用默认值和环境变量。
// 环境变量前缀 TURTLE_，层级用下划线分隔，例如 TURTLE_TRADING_ATR_PERIOD
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TURTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.Data.CustomSymbols = NormalizeSymbols(cfg.Data.CustomSymbols)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if err := c.RuleParams().Validate(); err != nil {
		return fmt.Errorf("%w: trading: %v", ErrInvalidConfig, err)
	}
	for name, v := range map[string]float64{
		"risk_per_unit":         c.Trading.RiskPerUnit,
		"max_risk_per_position": c.Trading.MaxRiskPerPosition,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%w: trading.%s must be in (0, 1], got %.4f", ErrInvalidConfig, name, v)
		}
	}
	if c.Trading.SlippageBps < 0 || c.Trading.CommissionPerShare < 0 {
		return fmt.Errorf("%w: trading costs must not be negative", ErrInvalidConfig)
	}
	if c.Trading.TrendFast <= 0 || c.Trading.TrendFast >= c.Trading.TrendSlow {
		return fmt.Errorf("%w: trading.trend_fast (%d) must be positive and below trend_slow (%d)",
			ErrInvalidConfig, c.Trading.TrendFast, c.Trading.TrendSlow)
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("%w: indicators: %v", ErrInvalidConfig, err)
	}
	if c.Account.InitialCapital <= 0 {
		return fmt.Errorf("%w: account.initial_capital must be positive", ErrInvalidConfig)
	}
	if c.Data.LookbackDays <= 0 || c.Data.Workers <= 0 || c.Data.MaxRetries < 0 {
		return fmt.Errorf("%w: data.lookback_days, data.workers must be positive and data.max_retries not negative", ErrInvalidConfig)
	}
	if _, err := ParseDate(c.Data.StartDate); err != nil {
		return fmt.Errorf("%w: data.start_date: %v", ErrInvalidConfig, err)
	}
	if _, err := ParseDate(c.Data.EndDate); err != nil {
		return fmt.Errorf("%w: data.end_date: %v", ErrInvalidConfig, err)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Cache.Backend)
	}
	if _, err := c.UniverseSymbols(); err != nil {
		return err
	}
	return nil
}

// RuleParams 把交易配置转换为信号引擎参数
func (c *Config) RuleParams() model.RuleParams {
	return model.RuleParams{
		System1Length:       c.Trading.System1Length,
		System2Length:       c.Trading.System2Length,
		UseSystem2:          c.Trading.UseSystem2,
		ATRPeriod:           c.Trading.ATRPeriod,
		StopATRMultiple:     c.Trading.StopATRMultiple,
		ExitLengthSystem1:   c.Trading.ExitLengthS1,
		ExitLengthSystem2:   c.Trading.ExitLengthS2,
		PyramidIncrementATR: c.Trading.PyramidIncrement,
		MaxUnitsPerPosition: c.Trading.MaxUnitsPerPosition,
	}
}

// Windows 返回需要计算的全部指标窗口，始终包含交易规则和趋势判断用到的窗口
func (c *Config) Windows() ta.Windows {
	return c.Indicators.
		Merge(ta.RuleWindows(c.RuleParams())).
		Merge(ta.Windows{SMA: []int{c.Trading.TrendFast, c.Trading.TrendSlow}})
}

var (
	sp500Symbols = []string{
		"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA", "BRK-B",
		"UNH", "JNJ", "V", "PG", "JPM", "HD", "CVX", "MA", "PFE", "ABBV",
		"BAC", "KO", "AVGO", "PEP", "TMO", "COST", "WMT", "DIS", "ABT",
		"DHR", "VZ", "ADBE", "NFLX", "CRM", "XOM", "NKE", "CMCSA", "ACN",
		"TXN", "QCOM", "NEE", "LIN", "PM", "HON", "UPS", "T", "LOW", "SPGI",
		"IBM", "INTU", "GS", "CAT", "AMD", "AMGN", "ISRG", "RTX", "BKNG",
	}
	nasdaq100Symbols = []string{
		"AAPL", "MSFT", "GOOGL", "GOOG", "AMZN", "TSLA", "META", "NVDA",
		"AVGO", "PEP", "COST", "ADBE", "NFLX", "CMCSA", "TXN", "QCOM",
		"HON", "INTU", "AMD", "AMGN", "ISRG", "BKNG", "GILD", "MDLZ",
		"ADP", "VRTX", "SBUX", "FISV", "CSX", "REGN", "ATVI", "PYPL",
	}
)

// UniverseSymbols 按 data.universe 返回标的列表
func (c *Config) UniverseSymbols() ([]string, error) {
	switch c.Data.Universe {
	case "custom":
		if len(c.Data.CustomSymbols) == 0 {
			return nil, fmt.Errorf("%w: custom universe requires data.custom_symbols", ErrInvalidConfig)
		}
		return append([]string(nil), c.Data.CustomSymbols...), nil
	case "sp500":
		return append([]string(nil), sp500Symbols...), nil
	case "nasdaq100":
		return append([]string(nil), nasdaq100Symbols...), nil
	case "all_us":
		return NormalizeSymbols(append(append([]string(nil), sp500Symbols...), nasdaq100Symbols...)), nil
	default:
		return nil, fmt.Errorf("%w: unknown universe %q", ErrInvalidConfig, c.Data.Universe)
	}
}

// DateRange 返回配置的起止日期，end_date 为空时使用 now
func (c *Config) DateRange(now time.Time) (start, end time.Time, err error) {
	start, err = ParseDate(c.Data.StartDate)
	if err != nil {
		return
	}
	end, err = ParseDate(c.Data.EndDate)
	if err != nil {
		return
	}
	if end.IsZero() {
		end = TruncateDay(now)
	}
	if !start.IsZero() && start.After(end) {
		err = fmt.Errorf("%w: start_date %s after end_date %s", ErrInvalidConfig,
			start.Format(model.DateLayout), end.Format(model.DateLayout))
	}
	return
}
