package strategy

import (
	"errors"
	"testing"

	"turtle-trader/internal/model"
	"turtle-trader/pkg/ta"

	"go.uber.org/zap"
)

func trendSeries(symbol string, n int, start, step float64) model.PriceSeries {
	bars := make([]model.PriceBar, n)
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = bar(i, c, c+0.5, c-0.5, c)
	}
	return model.PriceSeries{Symbol: symbol, Bars: bars}
}

func trendIndicators(t *testing.T, s model.PriceSeries) *ta.IndicatorSeries {
	t.Helper()
	ind, err := ta.Compute(s, ta.Windows{SMA: []int{5, 20}, Donchian: []int{20}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	return ind
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name   string
		series model.PriceSeries
		want   model.TrendState
	}{
		{"rising", trendSeries("UP", 40, 50, 1), model.TrendUp},
		{"falling", trendSeries("DN", 40, 100, -1), model.TrendDown},
		{"flat", trendSeries("FLAT", 40, 80, 0), model.TrendMixed},
		{"not enough bars", trendSeries("NEW", 10, 50, 1), model.TrendInitializing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyTrend(trendIndicators(t, tt.series), 5, 20)
			if err != nil {
				t.Fatalf("ClassifyTrend: %v", err)
			}
			if got != tt.want {
				t.Errorf("trend = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyTrendMissingSMA(t *testing.T) {
	ind := trendIndicators(t, trendSeries("UP", 40, 50, 1))
	if _, err := ClassifyTrend(ind, 5, 50); !errors.Is(err, model.ErrMissingIndicator) {
		t.Errorf("err = %v, want ErrMissingIndicator", err)
	}
}

func TestBreakoutDistance(t *testing.T) {
	// 前 20 日最高价 = 89 + 0.5
	s := trendSeries("UP", 40, 50, 1)
	s.Bars = append(s.Bars, bar(40, 80, 80.5, 79.5, 80))
	pct, ok := BreakoutDistance(trendIndicators(t, s), 20)
	if !ok {
		t.Fatal("channel should be defined")
	}
	if want := (89.5 - 80) / 80 * 100; !almostEqual(pct, want) {
		t.Errorf("distance = %.4f, want %.4f", pct, want)
	}

	if _, ok := BreakoutDistance(trendIndicators(t, trendSeries("NEW", 10, 50, 1)), 20); ok {
		t.Error("distance should be unavailable before the channel is defined")
	}
}

func TestStateMachineTransitions(t *testing.T) {
	sm, err := NewStateMachine(5, 20, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewStateMachine: %v", err)
	}
	if got := sm.GetCurrentState("UP"); got != model.TrendInitializing {
		t.Errorf("initial state = %s, want INITIALIZING", got)
	}

	ind := trendIndicators(t, trendSeries("UP", 40, 50, 1))
	got, err := sm.CheckAndTransition("UP", ind)
	if err != nil {
		t.Fatalf("CheckAndTransition: %v", err)
	}
	if got != model.TrendUp || sm.GetCurrentState("UP") != model.TrendUp {
		t.Errorf("state = %s, want UP_TREND", got)
	}

	got, _ = sm.CheckAndTransition("UP", trendIndicators(t, trendSeries("UP", 40, 100, -1)))
	if got != model.TrendDown {
		t.Errorf("state = %s, want DOWN_TREND", got)
	}
}

func TestNewStateMachineRejectsWindows(t *testing.T) {
	for _, w := range [][2]int{{0, 20}, {20, 5}, {10, 10}} {
		if _, err := NewStateMachine(w[0], w[1], zap.NewNop().Sugar()); !errors.Is(err, model.ErrInvalidWindow) {
			t.Errorf("NewStateMachine(%d, %d) err = %v, want ErrInvalidWindow", w[0], w[1], err)
		}
	}
}
