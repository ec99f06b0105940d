package data

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"turtle-trader/internal/model"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func rawBars(n int, start float64) []model.RawBar {
	out := make([]model.RawBar, n)
	for i := range out {
		c := start + float64(i)
		out[i] = model.RawBar{
			Date:     day0.AddDate(0, 0, i).Add(14 * time.Hour),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			AdjClose: c,
			Volume:   1000,
		}
	}
	return out
}

func TestNormalizeAdjustsForSplits(t *testing.T) {
	raw := []model.RawBar{
		{Date: day0, Open: 200, High: 210, Low: 190, Close: 200, AdjClose: 100, Volume: 500},
	}
	s, err := Normalize("AAPL", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	b := s.Bars[0]
	if b.Open != 100 || b.High != 105 || b.Low != 95 || b.Close != 100 {
		t.Errorf("adjusted OHLC = %.2f/%.2f/%.2f/%.2f", b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume != 1000 {
		t.Errorf("adjusted volume = %d, want 1000", b.Volume)
	}
}

func TestNormalizeCleansRows(t *testing.T) {
	raw := rawBars(5, 10)
	// 乱序 + 重复日期 + 非法行
	raw[0], raw[4] = raw[4], raw[0]
	dup := raw[1]
	dup.Close, dup.AdjClose = 11.5, 11.5
	raw = append(raw, dup)
	raw = append(raw, model.RawBar{Date: day0.AddDate(0, 0, 10), Open: 0, High: 1, Low: 0, Close: 1})
	raw = append(raw, model.RawBar{Date: day0.AddDate(0, 0, 11), Open: 5, High: 4, Low: 3, Close: 5, AdjClose: 5})

	s, err := Normalize("MSFT", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("normalized series invalid: %v", err)
	}
	if s.Len() != 5 {
		t.Fatalf("len = %d, want 5", s.Len())
	}
	if s.Bars[1].Close != 11.5 {
		t.Errorf("duplicate day should keep the last row, got close %.2f", s.Bars[1].Close)
	}
	if s.Bars[0].Timestamp.Hour() != 0 {
		t.Errorf("timestamps should be truncated to the day: %s", s.Bars[0].Timestamp)
	}
}

func TestNormalizeNoValidRows(t *testing.T) {
	_, err := Normalize("BAD", []model.RawBar{{Date: day0, Open: -1, High: 1, Low: -2, Close: 1}})
	if !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

func TestNormalizeMissingAdjClose(t *testing.T) {
	raw := rawBars(2, 50)
	raw[0].AdjClose = 0
	s, err := Normalize("X", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if s.Bars[0].Close != 50 {
		t.Errorf("missing adj close should leave prices unchanged, got %.2f", s.Bars[0].Close)
	}
}

func TestValidateQuality(t *testing.T) {
	good, err := Normalize("GOOD", rawBars(MinBarsForAnalysis, 100))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if issues := ValidateQuality(good); len(issues) != 0 {
		t.Errorf("unexpected issues %v", issues)
	}

	jump := good.Copy()
	jump.Bars[30].Close = jump.Bars[29].Close * 1.6
	jump.Bars[30].High = jump.Bars[30].Close + 1
	issues := ValidateQuality(jump)
	if len(issues) != 1 || !strings.Contains(issues[0], "Extreme") {
		t.Errorf("issues = %v, want extreme move", issues)
	}

	short := good.Slice(10)
	issues = ValidateQuality(short)
	if len(issues) != 1 || !strings.Contains(issues[0], "Insufficient") {
		t.Errorf("issues = %v, want insufficient data", issues)
	}

	bad := good.Copy()
	bad.Bars[3].High = bad.Bars[3].Low - 1
	bad.Bars[4].Low = -1
	issues = ValidateQuality(bad)
	if len(issues) != 2 {
		t.Errorf("issues = %v, want non-positive and inverted", issues)
	}
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := WithRetry(t.Context(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d, want success on third call", err, calls)
	}

	sentinel := errors.New("down")
	calls = 0
	err = WithRetry(t.Context(), cfg, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) || calls != 3 {
		t.Errorf("err=%v calls=%d, want wrapped sentinel after 3 calls", err, calls)
	}
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	calls := 0
	err := WithRetry(ctx, cfg, func() error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 || !errors.Is(err, context.Canceled) {
		t.Errorf("calls=%d err=%v, want a single attempt then context.Canceled", calls, err)
	}
}

func TestRawVolumeRounding(t *testing.T) {
	raw := []model.RawBar{{Date: day0, Open: 3, High: 3, Low: 3, Close: 3, AdjClose: 1, Volume: 10}}
	s, err := Normalize("R", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if s.Bars[0].Volume != 30 || math.Abs(s.Bars[0].Close-1) > 1e-12 {
		t.Errorf("bar = %+v", s.Bars[0])
	}
}
