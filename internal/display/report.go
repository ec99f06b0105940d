package display

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"turtle-trader/internal/model"
	"turtle-trader/internal/scanner"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Padding(0, 1).
		MarginBottom(1)

	panelStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#3B82F6")).
		Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Width(18)

	entryStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	exitStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#EF4444")).
		Bold(true)

	pyramidStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F59E0B")).
		Bold(true)

	mutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#EF4444"))
)

func kindStyle(k model.SignalKind) lipgloss.Style {
	switch k {
	case model.KindEntry:
		return entryStyle
	case model.KindExit:
		return exitStyle
	default:
		return pyramidStyle
	}
}

func trendStyle(t model.TrendState) lipgloss.Style {
	switch t {
	case model.TrendUp:
		return entryStyle
	case model.TrendDown:
		return exitStyle
	default:
		return mutedStyle
	}
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value) + "\n"
}

// FormatSignal 单行信号
func FormatSignal(s model.Signal) string {
	stop := "-"
	if s.HasStop() {
		stop = fmt.Sprintf("%.2f", *s.StopPrice)
	}
	return fmt.Sprintf("%s %-8s %s @ %.2f  stop %s  units %d",
		kindStyle(s.Kind).Render(fmt.Sprintf("%-7s", s.Kind)),
		s.InstrumentID, s.System, s.Price, stop, s.Units)
}

// RenderAnalysis 单个标的的分析面板
func RenderAnalysis(a *scanner.Analysis) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s", a.Symbol, a.Date.Format(model.DateLayout))))
	b.WriteString("\n")

	var body strings.Builder
	body.WriteString(row("Close", fmt.Sprintf("%.2f", a.Close)))
	body.WriteString(row("Bars", fmt.Sprintf("%d", a.Bars)))
	body.WriteString(row("Trend", trendStyle(a.Trend).Render(string(a.Trend))))
	body.WriteString(row("Entry stop", a.EntryStop.String()))
	for _, d := range a.Distances {
		value := mutedStyle.Render("not ready")
		if d.Ready {
			value = fmt.Sprintf("%+.2f%%", d.Pct)
		}
		body.WriteString(row(fmt.Sprintf("%s (%dd)", d.System, d.Length), value))
	}
	if !a.Position.Flat() {
		body.WriteString(row("Position", fmt.Sprintf("%d units from %.2f (%s)",
			a.Position.UnitsHeld, a.Position.EntryPrice, a.Position.System)))
	}
	b.WriteString(panelStyle.Render(strings.TrimRight(body.String(), "\n")))
	b.WriteString("\n")

	var levels strings.Builder
	for _, l := range a.Levels {
		levels.WriteString(row(l.Key.String(), l.Value.String()))
	}
	if levels.Len() > 0 {
		b.WriteString(panelStyle.Render(strings.TrimRight(levels.String(), "\n")))
		b.WriteString("\n")
	}

	if len(a.Signals) == 0 {
		b.WriteString(mutedStyle.Render("No signals on the latest bar"))
	} else {
		for _, s := range a.Signals {
			b.WriteString(FormatSignal(s) + "\n")
		}
	}
	for _, issue := range a.Quality {
		b.WriteString("\n" + errorStyle.Render("! "+issue))
	}
	return b.String()
}

// RenderReport 全市场扫描结果
func RenderReport(r *scanner.Report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Turtle scan %s .. %s",
		r.Start.Format(model.DateLayout), r.End.Format(model.DateLayout))))
	b.WriteString("\n")

	var head strings.Builder
	head.WriteString(row("Instruments", fmt.Sprintf("%d analyzed / %d requested", len(r.Analyzed), r.Requested)))
	head.WriteString(row("Signals", fmt.Sprintf("%d", r.SignalCount())))
	head.WriteString(row("Errors", fmt.Sprintf("%d", len(r.Errors))))
	if r.Equity > 0 {
		head.WriteString(row("Equity", fmt.Sprintf("%.2f (max %.2f)", r.Equity, r.MaxEquity)))
	}
	head.WriteString(row("Elapsed", r.Elapsed.Round(time.Millisecond).String()))
	b.WriteString(panelStyle.Render(strings.TrimRight(head.String(), "\n")))
	b.WriteString("\n")

	symbols := make([]string, 0, len(r.Signals))
	for sym := range r.Signals {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		trend := r.Trends[sym]
		b.WriteString(fmt.Sprintf("%s %s\n", sym, trendStyle(trend).Render(string(trend))))
		for _, s := range r.Signals[sym] {
			b.WriteString("  " + FormatSignal(s) + "\n")
		}
	}

	failed := make([]string, 0, len(r.Errors))
	for sym := range r.Errors {
		failed = append(failed, sym)
	}
	sort.Strings(failed)
	for _, sym := range failed {
		b.WriteString(errorStyle.Render(fmt.Sprintf("x %s %s", sym, r.Errors[sym])) + "\n")
	}
	for _, sym := range sortedKeys(r.Rejections) {
		for _, err := range r.Rejections[sym] {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("- %s rejected: %v", sym, err)) + "\n")
		}
	}
	b.WriteString(mutedStyle.Render(r.Summary.String()))
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
