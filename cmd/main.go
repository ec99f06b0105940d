package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"turtle-trader/internal/cache"
	"turtle-trader/internal/data"
	"turtle-trader/internal/display"
	"turtle-trader/internal/executor"
	"turtle-trader/internal/metrics"
	"turtle-trader/internal/model"
	"turtle-trader/internal/scanner"
	"turtle-trader/internal/service"
	"turtle-trader/internal/store/sqlite"
	"turtle-trader/internal/strategy"
	"turtle-trader/pkg/ta"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "0.1.0"

// options 全局命令行参数
type options struct {
	configFile  string
	logLevel    string
	metricsAddr string
}

// app 一次命令运行所需的全部组件
type app struct {
	cfg     *service.Config
	manager *data.Manager
	scanner *scanner.Scanner
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			service.Logger.Warn("Close failed", zap.Error(err))
		}
	}
	_ = service.Logger.Sync()
}

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "turtle",
		Short:        "Turtle trading signal scanner",
		Long:         "Computes Donchian/ATR indicators over daily bars and emits Turtle entry, exit and pyramid signals.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Configuration file path (default: config/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(newAnalyzeCmd(opts))
	root.AddCommand(newScanCmd(opts))
	root.AddCommand(newDataCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze SYMBOL...",
		Short: "Show indicator levels, trend and latest signals for symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			start, end, err := a.cfg.DateRange(time.Now())
			if err != nil {
				return err
			}
			failed := 0
			for _, symbol := range args {
				analysis, err := a.scanner.Analyze(ctx, symbol, start, end)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", strings.ToUpper(symbol), err)
					failed++
					continue
				}
				fmt.Println(display.RenderAnalysis(analysis))
				fmt.Println()
			}
			if failed == len(args) {
				return fmt.Errorf("no symbol could be analyzed")
			}
			return nil
		},
	}
}

func newScanCmd(opts *options) *cobra.Command {
	var (
		universe string
		symbols  []string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a universe for signals and feed them to the paper account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if universe != "" {
				a.cfg.Data.Universe = universe
			}
			list := service.NormalizeSymbols(symbols)
			if len(list) == 0 {
				if list, err = a.cfg.UniverseSymbols(); err != nil {
					return err
				}
			}

			end := service.TruncateDay(time.Now())
			start := service.LookbackStart(end, a.cfg.Data.LookbackDays)
			report := a.scanner.Run(ctx, list, start, end)
			fmt.Println(display.RenderReport(report))
			return nil
		},
	}
	cmd.Flags().StringVar(&universe, "universe", "", "Universe to scan: custom, sp500, nasdaq100, all_us")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "Explicit comma separated symbol list")
	return cmd
}

func newDataCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Inspect or clear the local price cache and store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Show cache keys and stored price statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sum := a.manager.Summary(cmd.Context())
			fmt.Printf("Cached series:  %d\n", sum.CacheSize)
			for _, k := range sum.CachedKeys {
				fmt.Printf("  %s\n", k)
			}
			switch {
			case sum.Store != nil:
				fmt.Printf("Stored symbols: %d (%d rows)\n", sum.Store.Symbols, sum.Store.PriceRows)
				if sum.Store.PriceRows > 0 {
					fmt.Printf("Date range:     %s .. %s\n",
						sum.Store.FirstDate.Format(model.DateLayout), sum.Store.LastDate.Format(model.DateLayout))
				}
			case sum.StoreError != "":
				fmt.Printf("Store error:    %s\n", sum.StoreError)
			default:
				fmt.Println("Store:          disabled")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear-cache",
		Short: "Drop all cached price series",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.manager.ClearCache(cmd.Context())
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("turtle %s\n", version)
		},
	}
}

// buildApp 按配置组装全部组件
func buildApp(ctx context.Context, opts *options) (*app, error) {
	// 1. 配置和日志
	cfg, err := service.LoadConfig(opts.configFile)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	service.InitLogger(level)
	logger := service.Logger
	a := &app{cfg: cfg}

	// 2. 缓存
	var seriesCache cache.SeriesCache
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Data.CacheTTL,
		}, logger)
		if err != nil {
			logger.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
			seriesCache = cache.NewMemoryCache(cfg.Data.CacheTTL)
		} else {
			seriesCache = rc
			a.closers = append(a.closers, rc.Close)
		}
	case "memory":
		seriesCache = cache.NewMemoryCache(cfg.Data.CacheTTL)
	}

	// 3. 本地存储
	var (
		priceStore data.PriceStore
		indStore   scanner.IndicatorStore
	)
	if cfg.Database.Enabled {
		st, err := sqlite.Open(cfg.Database.Path, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		priceStore, indStore = st, st
		a.closers = append(a.closers, st.Close)
	}

	// 4. 数据源
	retry := data.DefaultRetryConfig()
	retry.MaxRetries = cfg.Data.MaxRetries
	provider := data.NewYahooProvider(retry, logger.Named("yahoo"))
	a.manager = data.NewManager(provider, seriesCache, priceStore, cfg.Data.Workers, logger.Named("data"))

	// 5. 指标、信号、趋势、模拟账户
	engine, err := strategy.NewSignalEngine(cfg.RuleParams(), service.Named("signals"))
	if err != nil {
		a.Close()
		return nil, err
	}
	trend, err := strategy.NewStateMachine(cfg.Trading.TrendFast, cfg.Trading.TrendSlow, service.Named("trend"))
	if err != nil {
		a.Close()
		return nil, err
	}
	account, err := executor.NewSimulatorExecutor(executor.SimulatorConfig{
		InitialCapital:     cfg.Account.InitialCapital,
		RiskPerUnit:        cfg.Trading.RiskPerUnit,
		MaxRiskPerPosition: cfg.Trading.MaxRiskPerPosition,
		SlippageBps:        cfg.Trading.SlippageBps,
		CommissionPerShare: cfg.Trading.CommissionPerShare,
	}, service.Named("paper"))
	if err != nil {
		a.Close()
		return nil, err
	}
	calc := ta.NewTACalculator(cfg.Windows(), service.Named("ta"))

	// 6. 指标暴露
	m := metrics.NewMetrics()
	addr := cfg.Metrics.Addr
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	if addr != "" {
		m.Serve(ctx, addr, logger)
	}

	sc := scanner.NewScanner(a.manager, calc, engine, trend, account, logger.Named("scanner")).
		WithMetrics(m).
		WithWorkers(cfg.Data.Workers)
	if indStore != nil {
		sc.WithStore(indStore)
	}
	a.scanner = sc
	return a, nil
}
