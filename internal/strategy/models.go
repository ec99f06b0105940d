package strategy

import (
	"fmt"
	"sort"
	"strings"

	"turtle-trader/internal/model"
)

// Summary 是信号引擎状态的汇总。两个 map 只包含计数大于 0 的键
type Summary struct {
	TotalInstruments int                      `json:"total_instruments"`
	SignalsByKind    map[model.SignalKind]int `json:"signals_by_kind"`
	SignalsBySystem  map[model.System]int     `json:"signals_by_system"`
}

func (s Summary) String() string {
	kinds := make([]string, 0, len(s.SignalsByKind))
	for _, k := range model.AllSignalKinds {
		if n, ok := s.SignalsByKind[k]; ok {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
	}
	systems := make([]model.System, 0, len(s.SignalsBySystem))
	for sys := range s.SignalsBySystem {
		systems = append(systems, sys)
	}
	sort.Slice(systems, func(i, j int) bool { return systems[i] < systems[j] })
	parts := make([]string, 0, len(systems))
	for _, sys := range systems {
		parts = append(parts, fmt.Sprintf("%s=%d", sys, s.SignalsBySystem[sys]))
	}
	return fmt.Sprintf("SUMMARY [instruments: %d] kinds: {%s} systems: {%s}",
		s.TotalInstruments, strings.Join(kinds, ", "), strings.Join(parts, ", "))
}

// BatchResult 是一次批量信号生成的结果。
// 出错的标的不会出现在 Signals 中，错误单独记录在 Errors 里
type BatchResult struct {
	Signals map[string][]model.Signal
	Errors  map[string]error
}
