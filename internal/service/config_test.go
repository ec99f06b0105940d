package service

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"turtle-trader/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.RuleParams(); got != model.DefaultRuleParams() {
		t.Errorf("rule params = %+v, want defaults", got)
	}
	if cfg.Trading.RiskPerUnit != 0.01 || cfg.Trading.MaxRiskPerPosition != 0.02 {
		t.Errorf("risk defaults = %.3f/%.3f", cfg.Trading.RiskPerUnit, cfg.Trading.MaxRiskPerPosition)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Data.CacheTTL != time.Hour {
		t.Errorf("cache_ttl = %s, want 1h", cfg.Data.CacheTTL)
	}
	if !reflect.DeepEqual(cfg.Indicators.SMA, []int{10, 20, 50, 200}) {
		t.Errorf("sma windows = %v", cfg.Indicators.SMA)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
data:
  universe: custom
  custom_symbols: [" spy", "qqq", "SPY"]
  cache_ttl: 30m
trading:
  system1_length: 15
  use_system2: false
  stop_atr_multiple: 1.5
indicators:
  donchian: [10]
  atr: [14]
  sma: [5]
  volatility: [20]
`)
	t.Setenv("TURTLE_TRADING_ATR_PERIOD", "14")
	t.Setenv("TURTLE_CACHE_BACKEND", "redis")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if want := []string{"SPY", "QQQ"}; !reflect.DeepEqual(cfg.Data.CustomSymbols, want) {
		t.Errorf("custom symbols = %v, want %v", cfg.Data.CustomSymbols, want)
	}
	p := cfg.RuleParams()
	if p.System1Length != 15 || p.UseSystem2 || p.StopATRMultiple != 1.5 || p.ATRPeriod != 14 {
		t.Errorf("unexpected rule params %+v", p)
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("cache backend = %q, want redis from env", cfg.Cache.Backend)
	}
	if cfg.Data.CacheTTL != 30*time.Minute {
		t.Errorf("cache_ttl = %s, want 30m", cfg.Data.CacheTTL)
	}

	// 规则和趋势需要的窗口总是会被计算
	w := cfg.Windows()
	if !reflect.DeepEqual(w.Donchian, []int{10, 15}) {
		t.Errorf("donchian windows = %v, want [10 15]", w.Donchian)
	}
	if !reflect.DeepEqual(w.ATR, []int{14}) {
		t.Errorf("atr windows = %v, want [14]", w.ATR)
	}
	if !reflect.DeepEqual(w.SMA, []int{5, 50, 200}) {
		t.Errorf("sma windows = %v, want [5 50 200]", w.SMA)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"risk above one", "trading:\n  risk_per_unit: 1.5\n"},
		{"zero risk", "trading:\n  max_risk_per_position: 0\n"},
		{"zero channel", "trading:\n  system1_length: 0\n"},
		{"negative stop multiple", "trading:\n  stop_atr_multiple: -1\n"},
		{"bad window", "indicators:\n  atr: [0]\n"},
		{"unknown universe", "data:\n  universe: moon\n"},
		{"bad date", "data:\n  start_date: 2020/01/01\n"},
		{"unknown cache", "cache:\n  backend: memcached\n"},
		{"trend windows inverted", "trading:\n  trend_fast: 200\n  trend_slow: 50\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("LoadConfig err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("explicit missing config file should fail")
	}
}

func TestUniverseSymbols(t *testing.T) {
	cfg := &Config{Data: DataConfig{Universe: "all_us"}}
	all, err := cfg.UniverseSymbols()
	if err != nil {
		t.Fatalf("UniverseSymbols: %v", err)
	}
	seen := map[string]bool{}
	for _, s := range all {
		if seen[s] {
			t.Fatalf("duplicate symbol %s in all_us", s)
		}
		seen[s] = true
	}
	if !seen["GILD"] || !seen["BRK-B"] {
		t.Errorf("all_us should contain both sp500 and nasdaq100 members")
	}

	cfg.Data.Universe = "custom"
	if _, err := cfg.UniverseSymbols(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty custom universe err = %v, want ErrInvalidConfig", err)
	}
}

func TestDateRange(t *testing.T) {
	now := time.Date(2024, 6, 30, 15, 4, 5, 0, time.UTC)
	cfg := &Config{Data: DataConfig{StartDate: "2024-01-01"}}
	start, end, err := cfg.DateRange(now)
	if err != nil {
		t.Fatalf("DateRange: %v", err)
	}
	if start.Format(model.DateLayout) != "2024-01-01" || end.Format(model.DateLayout) != "2024-06-30" || end.Hour() != 0 {
		t.Errorf("range = %s..%s", start, end)
	}

	cfg.Data.EndDate = "2023-01-01"
	if _, _, err := cfg.DateRange(now); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("inverted range err = %v, want ErrInvalidConfig", err)
	}
}

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{" aapl", "MSFT", "", "aapl ", "brk-b"})
	if want := []string{"AAPL", "MSFT", "BRK-B"}; !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeSymbols = %v, want %v", got, want)
	}
}
