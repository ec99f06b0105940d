package scanner

import (
	"fmt"
	"time"

	"turtle-trader/internal/model"
	"turtle-trader/internal/strategy"
	"turtle-trader/pkg/ta"
)

// 流水线阶段，用于错误归类和指标标签
const (
	StageFetch      = "fetch"
	StageIndicators = "indicators"
	StageSignals    = "signals"
	StagePyramid    = "pyramid"
	StageExecute    = "execute"
	StageTrend      = "trend"
	StageStore      = "store"
)

// StageError 记录某个标的在哪个阶段失败
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Report 一次全市场扫描的结果，各阶段的失败按标的记录在 Errors 中
type Report struct {
	Start, End time.Time
	Requested  int
	Analyzed   []string // 成功计算指标的标的 (排序)
	Signals    map[string][]model.Signal
	Trends     map[string]model.TrendState
	Errors     map[string]*StageError
	Rejections map[string][]error // 执行器拒绝的信号 (资金不足、风险上限)，按发生顺序
	Summary    strategy.Summary
	Equity     float64
	MaxEquity  float64
	Elapsed    time.Duration
}

// SignalCount 本次扫描产生的信号总数
func (r *Report) SignalCount() int {
	n := 0
	for _, s := range r.Signals {
		n += len(s)
	}
	return n
}

// Level 最新一根 K 线上的一个指标值
type Level struct {
	Key   ta.Key
	Value ta.Value
}

// Distance 收盘价距离某个系统入场通道的百分比
type Distance struct {
	System model.System
	Length int
	Pct    float64
	Ready  bool // 通道历史不足时为 false
}

// Analysis 单个标的的详细分析
type Analysis struct {
	Symbol    string
	Date      time.Time
	Bars      int
	Close     float64
	Levels    []Level
	Trend     model.TrendState
	Distances []Distance
	Signals   []model.Signal
	EntryStop ta.Value // 如果今天按收盘价入场的止损价
	Position  model.PositionState
	Quality   []string
}
