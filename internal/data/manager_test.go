package data

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"turtle-trader/internal/cache"
	"turtle-trader/internal/model"
	"turtle-trader/internal/store/sqlite"

	"go.uber.org/zap"
)

type fakeProvider struct {
	mu    sync.Mutex
	bars  map[string][]model.RawBar
	fail  map[string]error
	calls map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		bars:  make(map[string][]model.RawBar),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchDaily(_ context.Context, symbol string, _, _ time.Time) ([]model.RawBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if err, ok := f.fail[symbol]; ok {
		return nil, err
	}
	raw, ok := f.bars[symbol]
	if !ok {
		return nil, ErrNoData
	}
	return raw, nil
}

func (f *fakeProvider) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "prices.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestManagerFetchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	p.bars["AAPL"] = rawBars(70, 100)
	p.bars["MSFT"] = rawBars(70, 200)
	p.fail["DOWN"] = errors.New("upstream 500")

	m := NewManager(p, cache.NewMemoryCache(0), nil, 2, zap.NewNop())
	res := m.Fetch(ctx, []string{"aapl", "MSFT", "DOWN", "NONE", "AAPL"}, day0, day0.AddDate(0, 3, 0))

	if len(res.Series) != 2 || res.Series["AAPL"].Len() != 70 || res.Series["MSFT"].Len() != 70 {
		t.Errorf("unexpected series map: %d entries", len(res.Series))
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v, want DOWN and NONE", res.Errors)
	}
	if !errors.Is(res.Errors["NONE"], ErrNoData) {
		t.Errorf("NONE err = %v, want ErrNoData", res.Errors["NONE"])
	}
	if p.callCount("AAPL") != 1 {
		t.Errorf("duplicate symbols should be fetched once, got %d calls", p.callCount("AAPL"))
	}
}

func TestManagerUsesCache(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	p.bars["AAPL"] = rawBars(70, 100)
	m := NewManager(p, cache.NewMemoryCache(time.Hour), nil, 1, zap.NewNop())

	end := day0.AddDate(0, 3, 0)
	m.Fetch(ctx, []string{"AAPL"}, day0, end)
	m.Fetch(ctx, []string{"AAPL"}, day0, end)
	if got := p.callCount("AAPL"); got != 1 {
		t.Errorf("provider called %d times, want 1 (second call served from cache)", got)
	}

	sum := m.Summary(ctx)
	if sum.CacheSize != 1 || sum.Store != nil {
		t.Errorf("unexpected summary %+v", sum)
	}

	if err := m.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	m.Fetch(ctx, []string{"AAPL"}, day0, end)
	if got := p.callCount("AAPL"); got != 2 {
		t.Errorf("provider called %d times after clear, want 2", got)
	}
}

func TestManagerStoresAndFallsBack(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	p := newFakeProvider()
	p.bars["AAPL"] = rawBars(70, 100)

	end := day0.AddDate(0, 3, 0)
	m := NewManager(p, nil, store, 1, zap.NewNop())
	if res := m.Fetch(ctx, []string{"AAPL"}, day0, end); len(res.Errors) != 0 {
		t.Fatalf("unexpected errors %v", res.Errors)
	}

	sum := m.Summary(ctx)
	if sum.Store == nil || sum.Store.Symbols != 1 || sum.Store.PriceRows != 70 {
		t.Fatalf("store summary = %+v", sum.Store)
	}

	// 数据源宕机后使用本地存储
	p.fail["AAPL"] = errors.New("timeout")
	res := m.Fetch(ctx, []string{"AAPL"}, day0, end)
	if res.Series["AAPL"].Len() != 70 {
		t.Errorf("fallback returned %d bars, want 70 (errors: %v)", res.Series["AAPL"].Len(), res.Errors)
	}

	// 本地没有的代码仍然报告原始错误
	p.fail["MSFT"] = errors.New("timeout")
	res = m.Fetch(ctx, []string{"MSFT"}, day0, end)
	if res.Errors["MSFT"] == nil || res.Errors["MSFT"].Error() != "timeout" {
		t.Errorf("MSFT err = %v, want the provider error", res.Errors["MSFT"])
	}
}

func TestManagerLatestData(t *testing.T) {
	p := newFakeProvider()
	p.bars["AAPL"] = rawBars(70, 100)
	m := NewManager(p, nil, nil, 1, zap.NewNop())
	m.now = func() time.Time { return day0.AddDate(0, 4, 0).Add(9 * time.Hour) }

	res := m.LatestData(context.Background(), []string{"AAPL"}, 120)
	if _, ok := res.Series["AAPL"]; !ok {
		t.Fatalf("LatestData failed: %v", res.Errors)
	}
}
