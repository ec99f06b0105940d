package strategy

import (
	"fmt"
	"sync"

	"turtle-trader/internal/model"
	"turtle-trader/pkg/ta"

	"go.uber.org/zap"
)

// ClassifyTrend 根据均线排列判断趋势:
// close > SMA(fast) > SMA(slow) 为上涨，close < SMA(fast) < SMA(slow) 为下跌，其余为震荡。
// 任一均线未就绪时返回 INITIALIZING
func ClassifyTrend(ind *ta.IndicatorSeries, fast, slow int) (model.TrendState, error) {
	latest := ind.Len() - 1
	fastMA, err := ind.At(ta.KindSMA, fast, latest)
	if err != nil {
		return model.TrendInitializing, err
	}
	slowMA, err := ind.At(ta.KindSMA, slow, latest)
	if err != nil {
		return model.TrendInitializing, err
	}
	if !fastMA.Valid || !slowMA.Valid {
		return model.TrendInitializing, nil
	}

	price := ind.LatestBar().Close
	switch {
	case price > fastMA.Float64 && fastMA.Float64 > slowMA.Float64:
		return model.TrendUp, nil
	case price < fastMA.Float64 && fastMA.Float64 < slowMA.Float64:
		return model.TrendDown, nil
	default:
		return model.TrendMixed, nil
	}
}

// BreakoutDistance 返回最新收盘价距离入场通道 (前 length 日最高价) 的百分比。
// 正数表示还需上涨的幅度，负数表示已经突破。通道未就绪时 ok=false
func BreakoutDistance(ind *ta.IndicatorSeries, length int) (pct float64, ok bool) {
	upper, err := ind.At(ta.KindDonchianHigh, length, ind.Len()-2)
	if err != nil || !upper.Valid {
		return 0, false
	}
	price := ind.LatestBar().Close
	return (upper.Float64 - price) / price * 100, true
}

// StateMachine 跟踪每个标的的趋势状态，并记录状态切换
type StateMachine struct {
	mu     sync.RWMutex
	states map[string]model.TrendState
	fast   int
	slow   int
	logger *zap.SugaredLogger
}

// NewStateMachine 初始化趋势状态机
func NewStateMachine(fast, slow int, logger *zap.SugaredLogger) (*StateMachine, error) {
	if fast <= 0 || slow <= 0 {
		return nil, fmt.Errorf("%w: trend windows must be positive (fast=%d slow=%d)", model.ErrInvalidWindow, fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: fast window %d must be shorter than slow window %d", model.ErrInvalidWindow, fast, slow)
	}
	return &StateMachine{
		states: make(map[string]model.TrendState),
		fast:   fast,
		slow:   slow,
		logger: logger,
	}, nil
}

// Windows 返回趋势判断需要的均线窗口
func (sm *StateMachine) Windows() ta.Windows {
	return ta.Windows{SMA: []int{sm.fast, sm.slow}}
}

// CheckAndTransition 重新判断某个标的的趋势，状态变化时记录日志
func (sm *StateMachine) CheckAndTransition(instrumentID string, ind *ta.IndicatorSeries) (model.TrendState, error) {
	newState, err := ClassifyTrend(ind, sm.fast, sm.slow)
	if err != nil {
		return newState, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	prev, ok := sm.states[instrumentID]
	if !ok {
		prev = model.TrendInitializing
	}
	if newState != prev {
		sm.logger.Infow("Trend transition",
			"instrument", instrumentID,
			"from", prev,
			"to", newState,
			"close", ind.LatestBar().Close)
	}
	sm.states[instrumentID] = newState
	return newState, nil
}

// GetCurrentState 查询某个标的的当前趋势
func (sm *StateMachine) GetCurrentState(instrumentID string) model.TrendState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if s, ok := sm.states[instrumentID]; ok {
		return s
	}
	return model.TrendInitializing
}
