package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"turtle-trader/internal/data"
	"turtle-trader/internal/executor"
	"turtle-trader/internal/metrics"
	"turtle-trader/internal/model"
	"turtle-trader/internal/service"
	"turtle-trader/internal/strategy"
	"turtle-trader/pkg/ta"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Fetcher 批量取数 (data.Manager 实现)
type Fetcher interface {
	Fetch(ctx context.Context, symbols []string, start, end time.Time) data.FetchResult
}

// IndicatorStore 指标持久化 (sqlite.Store 实现)
type IndicatorStore interface {
	SaveIndicators(ctx context.Context, ind *ta.IndicatorSeries) error
}

// Account 模拟账户: 执行信号，并能用新的日线检查止损
type Account interface {
	executor.Executor
	MarkToMarket(symbol string, bar model.PriceBar) bool
}

// Scanner 串联整条流水线: 取数 -> 指标 -> 信号 -> 执行 -> 趋势
type Scanner struct {
	fetcher Fetcher
	calc    *ta.TACalculator
	engine  *strategy.SignalEngine
	trend   *strategy.StateMachine
	account Account // 可以为 nil，此时只生成信号
	store   IndicatorStore
	metrics *metrics.Metrics
	workers int
	logger  *zap.Logger
}

// NewScanner 初始化扫描器
func NewScanner(fetcher Fetcher, calc *ta.TACalculator, engine *strategy.SignalEngine,
	trend *strategy.StateMachine, account Account, logger *zap.Logger) *Scanner {
	return &Scanner{
		fetcher: fetcher,
		calc:    calc,
		engine:  engine,
		trend:   trend,
		account: account,
		metrics: metrics.NewMetrics(),
		workers: 1,
		logger:  logger,
	}
}

// WithStore 计算后把指标写入存储
func (s *Scanner) WithStore(store IndicatorStore) *Scanner {
	s.store = store
	return s
}

// WithMetrics 使用外部的指标集合 (例如已经暴露在 /metrics 上的)
func (s *Scanner) WithMetrics(m *metrics.Metrics) *Scanner {
	if m != nil {
		s.metrics = m
	}
	return s
}

// WithWorkers 设置指标计算的并发数
func (s *Scanner) WithWorkers(n int) *Scanner {
	if n > 0 {
		s.workers = n
	}
	return s
}

// Metrics 返回扫描器使用的指标集合
func (s *Scanner) Metrics() *metrics.Metrics {
	return s.metrics
}

// Run 扫描一组标的。单个标的在任何阶段失败都只记录到 Report.Errors，不影响其他标的
func (s *Scanner) Run(ctx context.Context, symbols []string, start, end time.Time) *Report {
	began := time.Now()
	report := &Report{
		Start:      start,
		End:        end,
		Requested:  len(symbols),
		Signals:    make(map[string][]model.Signal),
		Trends:     make(map[string]model.TrendState),
		Errors:     make(map[string]*StageError),
		Rejections: make(map[string][]error),
	}

	// 1. 取数
	fetched := s.fetcher.Fetch(ctx, symbols, start, end)
	for sym, err := range fetched.Errors {
		s.fail(report, sym, StageFetch, err)
	}

	// 2. 计算指标
	inds := s.computeAll(ctx, fetched.Series, report)

	// 3. 批量生成信号
	batch := s.engine.GenerateBatch(inds)
	for sym, err := range batch.Errors {
		s.fail(report, sym, StageSignals, err)
		delete(inds, sym)
	}

	// 4. 逐个标的执行信号并更新趋势状态
	analyzed := sortedKeys(inds)
	for _, sym := range analyzed {
		if ctx.Err() != nil {
			s.fail(report, sym, StageExecute, ctx.Err())
			continue
		}
		ind := inds[sym]
		signals := append([]model.Signal(nil), batch.Signals[sym]...)
		if s.account != nil {
			signals = s.trade(ctx, sym, ind, signals, report)
		}
		if len(signals) > 0 {
			report.Signals[sym] = signals
		}
		s.metrics.ObserveSignals(signals)

		state, err := s.trend.CheckAndTransition(sym, ind)
		if err != nil {
			s.fail(report, sym, StageTrend, err)
			continue
		}
		report.Trends[sym] = state
	}

	report.Analyzed = analyzed
	report.Summary = s.engine.Summary()
	if s.account != nil {
		if equity, err := s.account.GetBalance(ctx); err == nil {
			report.Equity = equity
			s.metrics.AccountEquity.Set(equity)
		}
		report.MaxEquity = s.account.GetMaxEquity()
	}
	report.Elapsed = time.Since(began)

	s.metrics.TrackedInstruments.Set(float64(len(analyzed)))
	s.metrics.ScanDurationSeconds.Observe(report.Elapsed.Seconds())
	s.logger.Info("Scan finished",
		zap.Int("requested", report.Requested),
		zap.Int("analyzed", len(analyzed)),
		zap.Int("signals", report.SignalCount()),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("elapsed", report.Elapsed))
	return report
}

// computeAll 并发计算指标，失败的标的不会出现在返回值中
func (s *Scanner) computeAll(ctx context.Context, series map[string]model.PriceSeries, report *Report) map[string]*ta.IndicatorSeries {
	out := make(map[string]*ta.IndicatorSeries, len(series))
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(s.workers)
	for sym, ps := range series {
		p.Go(func() {
			ind, elapsed, err := s.calc.Calculate(ps)
			s.metrics.ObserveCompute(elapsed)
			if err == nil && s.store != nil {
				if serr := s.store.SaveIndicators(ctx, ind); serr != nil {
					s.logger.Warn("Saving indicators failed", zap.String("symbol", sym), zap.Error(serr))
					s.metrics.ObserveError(StageStore)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.fail(report, sym, StageIndicators, err)
				return
			}
			out[sym] = ind
		})
	}
	p.Wait()
	return out
}

// trade 对一个标的: 1. 用最新 K 线检查止损 2. 执行入场/离场 3. 对剩余持仓检查加仓
func (s *Scanner) trade(ctx context.Context, sym string, ind *ta.IndicatorSeries, signals []model.Signal, report *Report) []model.Signal {
	if s.account.MarkToMarket(sym, ind.LatestBar()) {
		s.logger.Info("Stop loss hit", zap.String("symbol", sym), zap.Time("date", ind.LatestTime()))
	}

	for _, sig := range signals {
		s.execute(ctx, sym, sig, report)
	}

	pos, err := s.account.GetCurrentPosition(ctx, sym)
	if err != nil {
		s.fail(report, sym, StageExecute, err)
		return signals
	}
	if pos.Flat() {
		return signals
	}
	pyramid, err := s.engine.CheckPyramid(sym, ind, pos)
	if err != nil {
		s.fail(report, sym, StagePyramid, err)
		return signals
	}
	if pyramid != nil {
		s.execute(ctx, sym, *pyramid, report)
		signals = append(signals, *pyramid)
	}
	return signals
}

func (s *Scanner) execute(ctx context.Context, sym string, sig model.Signal, report *Report) {
	err := s.account.ExecuteSignal(ctx, sig)
	switch {
	case err == nil:
	case errors.Is(err, executor.ErrInsufficientCapital), errors.Is(err, executor.ErrRiskLimit):
		// 资金或风险限制导致的拒单不算失败
		report.Rejections[sym] = append(report.Rejections[sym], err)
	default:
		s.fail(report, sym, StageExecute, err)
	}
}

func (s *Scanner) fail(report *Report, sym, stage string, err error) {
	report.Errors[sym] = &StageError{Stage: stage, Err: err}
	s.metrics.ObserveError(stage)
	s.logger.Error("Instrument failed", zap.String("symbol", sym), zap.String("stage", stage), zap.Error(err))
}

// Analyze 对单个标的做详细分析，不会执行任何信号
func (s *Scanner) Analyze(ctx context.Context, symbol string, start, end time.Time) (*Analysis, error) {
	syms := service.NormalizeSymbols([]string{symbol})
	if len(syms) == 0 {
		return nil, fmt.Errorf("%w: empty symbol", model.ErrInvalidInput)
	}
	sym := syms[0]

	res := s.fetcher.Fetch(ctx, syms, start, end)
	if err, ok := res.Errors[sym]; ok {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}
	series, ok := res.Series[sym]
	if !ok || series.Len() == 0 {
		return nil, &StageError{Stage: StageFetch, Err: fmt.Errorf("%w: %s", data.ErrNoData, sym)}
	}

	ind, elapsed, err := s.calc.Calculate(series)
	s.metrics.ObserveCompute(elapsed)
	if err != nil {
		return nil, &StageError{Stage: StageIndicators, Err: err}
	}
	signals, err := s.engine.GenerateSignals(sym, ind)
	if err != nil {
		return nil, &StageError{Stage: StageSignals, Err: err}
	}
	trend, err := s.trend.CheckAndTransition(sym, ind)
	if err != nil {
		return nil, &StageError{Stage: StageTrend, Err: err}
	}

	latest := ind.LatestBar()
	a := &Analysis{
		Symbol:  sym,
		Date:    latest.Timestamp,
		Bars:    ind.Len(),
		Close:   latest.Close,
		Trend:   trend,
		Signals: signals,
		Quality: data.ValidateQuality(series),
	}
	for _, key := range ind.Keys() {
		v, _ := ind.Latest(key.Kind, key.Window)
		a.Levels = append(a.Levels, Level{Key: key, Value: v})
	}

	params := s.engine.Params()
	systems := []model.System{model.SystemOne}
	if params.UseSystem2 {
		systems = append(systems, model.SystemTwo)
	}
	for _, sys := range systems {
		length := params.EntryLength(sys)
		pct, ready := strategy.BreakoutDistance(ind, length)
		a.Distances = append(a.Distances, Distance{System: sys, Length: length, Pct: pct, Ready: ready})
	}

	if stop, err := s.engine.StopLossPrice(ind, latest.Close); err == nil {
		a.EntryStop = ta.Defined(stop)
	}
	if s.account != nil {
		if a.Position, err = s.account.GetCurrentPosition(ctx, sym); err != nil {
			return nil, &StageError{Stage: StageExecute, Err: err}
		}
	}
	return a, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
