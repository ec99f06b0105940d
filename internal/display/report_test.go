package display

import (
	"errors"
	"strings"
	"testing"
	"time"

	"turtle-trader/internal/model"
	"turtle-trader/internal/scanner"
	"turtle-trader/internal/strategy"
	"turtle-trader/pkg/ta"
)

var day = time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

func entry() model.Signal {
	stop := 123.1
	return model.Signal{
		InstrumentID: "AAPL",
		Kind:         model.KindEntry,
		Timestamp:    day,
		Price:        130,
		System:       model.SystemOne,
		StopPrice:    &stop,
		Units:        1,
		Confidence:   1,
	}
}

func TestFormatSignal(t *testing.T) {
	got := FormatSignal(entry())
	for _, want := range []string{"ENTRY", "AAPL", "system_1", "130.00", "stop 123.10"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatSignal = %q, missing %q", got, want)
		}
	}

	exit := entry()
	exit.Kind = model.KindExit
	exit.StopPrice = nil
	if got := FormatSignal(exit); !strings.Contains(got, "stop -") {
		t.Errorf("exit without stop rendered as %q", got)
	}
}

func TestRenderAnalysis(t *testing.T) {
	a := &scanner.Analysis{
		Symbol: "AAPL",
		Date:   day,
		Bars:   300,
		Close:  130,
		Levels: []scanner.Level{
			{Key: ta.Key{Kind: ta.KindATR, Window: 20}, Value: ta.Defined(3.45)},
			{Key: ta.Key{Kind: ta.KindSMA, Window: 200}, Value: ta.Value{}},
		},
		Trend: model.TrendUp,
		Distances: []scanner.Distance{
			{System: model.SystemOne, Length: 20, Pct: -1.5, Ready: true},
			{System: model.SystemTwo, Length: 55},
		},
		Signals:   []model.Signal{entry()},
		EntryStop: ta.Defined(123.1),
		Quality:   []string{"only 300 bars"},
	}
	out := RenderAnalysis(a)
	for _, want := range []string{"AAPL", "2024-05-03", "UP_TREND", "atr_20", "3.4500", "undefined", "-1.50%", "not ready", "123.1000", "only 300 bars"} {
		if !strings.Contains(out, want) {
			t.Errorf("analysis output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Position") {
		t.Errorf("flat position should not be rendered")
	}
}

func TestRenderReport(t *testing.T) {
	r := &scanner.Report{
		Start:      day.AddDate(-1, 0, 0),
		End:        day,
		Requested:  3,
		Analyzed:   []string{"AAPL", "MSFT"},
		Signals:    map[string][]model.Signal{"AAPL": {entry()}},
		Trends:     map[string]model.TrendState{"AAPL": model.TrendUp, "MSFT": model.TrendMixed},
		Errors:     map[string]*scanner.StageError{"XYZ": {Stage: scanner.StageFetch, Err: errors.New("no data")}},
		Rejections: map[string][]error{"MSFT": {errors.New("insufficient capital"), errors.New("risk limit")}},
		Summary: strategy.Summary{
			TotalInstruments: 1,
			SignalsByKind:    map[model.SignalKind]int{model.KindEntry: 1},
			SignalsBySystem:  map[model.System]int{model.SystemOne: 1},
		},
		Equity:    100000,
		MaxEquity: 100000,
	}
	out := RenderReport(r)
	for _, want := range []string{"2 analyzed / 3 requested", "AAPL", "UP_TREND", "XYZ fetch: no data", "MSFT rejected: insufficient capital", "MSFT rejected: risk limit", "ENTRY=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}
}
