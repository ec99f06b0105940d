package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	"turtle-trader/internal/cache"
	"turtle-trader/internal/model"
	"turtle-trader/internal/service"
	"turtle-trader/internal/store/sqlite"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// PriceStore 价格持久化 (sqlite.Store 实现)
type PriceStore interface {
	SavePrices(ctx context.Context, series model.PriceSeries) error
	LoadPrices(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error)
	Stats(ctx context.Context) (sqlite.Stats, error)
}

// Manager 负责取数: 先查缓存，再请求数据源，成功后写入缓存和存储。
// 数据源失败时回退到本地存储
type Manager struct {
	provider Provider
	cache    cache.SeriesCache
	store    PriceStore // 可以为 nil
	workers  int
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager 初始化数据管理器，c 为 nil 时不缓存
func NewManager(provider Provider, c cache.SeriesCache, store PriceStore, workers int, logger *zap.Logger) *Manager {
	if c == nil {
		c = cache.Nop{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		provider: provider,
		cache:    c,
		store:    store,
		workers:  workers,
		logger:   logger,
		now:      time.Now,
	}
}

// FetchResult 批量取数结果。失败的代码只出现在 Errors 中
type FetchResult struct {
	Series map[string]model.PriceSeries
	Errors map[string]error
}

// Fetch 并发拉取多个代码，单个代码失败不影响其他代码
func (m *Manager) Fetch(ctx context.Context, symbols []string, start, end time.Time) FetchResult {
	res := FetchResult{
		Series: make(map[string]model.PriceSeries, len(symbols)),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(m.workers)
	for _, symbol := range service.NormalizeSymbols(symbols) {
		p.Go(func() {
			series, err := m.fetchOne(ctx, symbol, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Error("Error fetching data", zap.String("symbol", symbol), zap.Error(err))
				res.Errors[symbol] = err
				return
			}
			res.Series[symbol] = series
		})
	}
	p.Wait()

	return res
}

func (m *Manager) fetchOne(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	key := cache.Key(symbol, start, end)

	// 1. 缓存
	if cached, ok := m.cache.Get(ctx, key); ok {
		m.logger.Debug("Cache hit", zap.String("symbol", symbol))
		return cached, nil
	}

	// 2. 数据源
	raw, err := m.provider.FetchDaily(ctx, symbol, start, end)
	if err != nil {
		return m.fallback(ctx, symbol, start, end, err)
	}
	series, err := Normalize(symbol, raw)
	if err != nil {
		return model.PriceSeries{}, err
	}
	if err := series.Validate(); err != nil {
		return model.PriceSeries{}, err
	}
	if issues := ValidateQuality(series); len(issues) > 0 {
		m.logger.Warn("Data quality issues", zap.String("symbol", symbol), zap.Strings("issues", issues))
	}

	// 3. 写缓存和存储，失败只记录日志
	if err := m.cache.Set(ctx, key, series); err != nil {
		m.logger.Warn("Cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if m.store != nil {
		if err := m.store.SavePrices(ctx, series); err != nil {
			m.logger.Warn("Store write failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	m.logger.Info("Fetched records", zap.String("symbol", symbol), zap.Int("bars", series.Len()),
		zap.String("provider", m.provider.Name()))
	return series, nil
}

// fallback 数据源失败时尝试读取本地存储
func (m *Manager) fallback(ctx context.Context, symbol string, start, end time.Time, cause error) (model.PriceSeries, error) {
	if m.store == nil {
		return model.PriceSeries{}, cause
	}
	stored, err := m.store.LoadPrices(ctx, symbol, start, end)
	if err != nil || stored.Len() == 0 {
		return model.PriceSeries{}, cause
	}
	if err := stored.Validate(); err != nil {
		return model.PriceSeries{}, fmt.Errorf("stored data for %s unusable: %w", symbol, err)
	}
	m.logger.Warn("Provider failed, using stored data",
		zap.String("symbol", symbol), zap.Int("bars", stored.Len()), zap.Error(cause))
	return stored, nil
}

// LatestData 拉取最近 lookbackDays 个自然日的数据
func (m *Manager) LatestData(ctx context.Context, symbols []string, lookbackDays int) FetchResult {
	end := service.TruncateDay(m.now())
	return m.Fetch(ctx, symbols, service.LookbackStart(end, lookbackDays), end)
}

// ClearCache 清空缓存
func (m *Manager) ClearCache(ctx context.Context) error {
	if err := m.cache.Clear(ctx); err != nil {
		return err
	}
	m.logger.Info("Data cache cleared")
	return nil
}

// DataSummary 缓存和存储概况
type DataSummary struct {
	CachedKeys []string
	CacheSize  int
	Store      *sqlite.Stats
	StoreError string
}

// Summary 返回缓存和存储的概况
func (m *Manager) Summary(ctx context.Context) DataSummary {
	var sum DataSummary
	keys, err := m.cache.Keys(ctx)
	if err != nil {
		m.logger.Warn("Listing cache keys failed", zap.Error(err))
	}
	sum.CachedKeys = keys
	sum.CacheSize = len(keys)

	if m.store != nil {
		st, err := m.store.Stats(ctx)
		if err != nil {
			sum.StoreError = err.Error()
		} else {
			sum.Store = &st
		}
	}
	return sum
}
