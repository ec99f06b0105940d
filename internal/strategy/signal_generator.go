package strategy

import (
	"fmt"
	"runtime"
	"sync"

	"turtle-trader/internal/model"
	"turtle-trader/pkg/ta"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// SignalEngine 根据海龟规则在最新一根 K 线上生成入场/离场/加仓信号。
// 引擎只持有每个标的最近一次非空的信号列表，用于汇总
type SignalEngine struct {
	params model.RuleParams
	logger *zap.SugaredLogger

	// Workers 批量处理时的最大并发数
	Workers int

	mu    sync.RWMutex
	state map[string][]model.Signal
}

// NewSignalEngine 初始化信号引擎
func NewSignalEngine(params model.RuleParams, logger *zap.SugaredLogger) (*SignalEngine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule params: %w", err)
	}
	return &SignalEngine{
		params:  params,
		logger:  logger,
		Workers: runtime.NumCPU(),
		state:   make(map[string][]model.Signal),
	}, nil
}

// Params 返回引擎使用的规则参数
func (se *SignalEngine) Params() model.RuleParams {
	return se.params
}

// systems 按固定顺序返回启用的系统
func (se *SignalEngine) systems() []model.System {
	if se.params.UseSystem2 {
		return []model.System{model.SystemOne, model.SystemTwo}
	}
	return []model.System{model.SystemOne}
}

// GenerateSignals 评估最新一根 K 线，按 系统1入场、系统1离场、系统2入场、系统2离场 的顺序返回信号。
// 历史不足时返回空列表，不是错误
func (se *SignalEngine) GenerateSignals(instrumentID string, ind *ta.IndicatorSeries) ([]model.Signal, error) {
	if ind == nil || ind.Len() == 0 {
		return nil, fmt.Errorf("%w: no indicator series for %s", model.ErrInvalidInput, instrumentID)
	}

	n := ind.Len()
	if n < se.params.MinHistory() {
		se.logger.Debugw("Not enough history for signals", "instrument", instrumentID, "bars", n, "required", se.params.MinHistory())
		return []model.Signal{}, nil
	}

	latest := n - 1
	bar := ind.Bar(latest)
	signals := make([]model.Signal, 0, 4)

	for _, sys := range se.systems() {
		// 1. 入场: 收盘价突破前 N 日最高价
		upper, err := ind.At(ta.KindDonchianHigh, se.params.EntryLength(sys), latest-1)
		if err != nil {
			return nil, err
		}
		if upper.Valid && bar.Close > upper.Float64 {
			stop, err := se.StopLossPrice(ind, bar.Close)
			if err != nil {
				return nil, fmt.Errorf("%s entry on %s: %w", sys, instrumentID, err)
			}
			signals = append(signals, model.Signal{
				InstrumentID: instrumentID,
				Kind:         model.KindEntry,
				Timestamp:    bar.Timestamp,
				Price:        bar.Close,
				System:       sys,
				StopPrice:    &stop,
				Units:        1,
				Confidence:   1.0,
			})
		}

		// 2. 离场: 收盘价跌破前 M 日最低价
		lower, err := ind.At(ta.KindDonchianLow, se.params.ExitLength(sys), latest-1)
		if err != nil {
			return nil, err
		}
		if lower.Valid && bar.Close < lower.Float64 {
			signals = append(signals, model.Signal{
				InstrumentID: instrumentID,
				Kind:         model.KindExit,
				Timestamp:    bar.Timestamp,
				Price:        bar.Close,
				System:       sys,
				Units:        1,
				Confidence:   1.0,
			})
		}
	}

	for _, s := range signals {
		se.logger.Infow("Signal generated",
			"instrument", s.InstrumentID,
			"kind", s.Kind,
			"system", s.System,
			"price", s.Price,
			"date", s.Timestamp.Format(model.DateLayout))
	}

	// 3. 只有非空结果才覆盖状态，空结果保留上一次的信号
	if len(signals) > 0 {
		se.mu.Lock()
		se.state[instrumentID] = append([]model.Signal(nil), signals...)
		se.mu.Unlock()
	}

	return signals, nil
}

// GenerateBatch 并发处理多个标的。单个标的出错只记录日志，不影响其他标的
func (se *SignalEngine) GenerateBatch(batch map[string]*ta.IndicatorSeries) BatchResult {
	result := BatchResult{
		Signals: make(map[string][]model.Signal, len(batch)),
		Errors:  make(map[string]error),
	}
	var mu sync.Mutex

	workers := se.Workers
	if workers < 1 {
		workers = 1
	}
	p := pool.New().WithMaxGoroutines(workers)
	for id, ind := range batch {
		p.Go(func() {
			signals, err := se.GenerateSignals(id, ind)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				se.logger.Errorw("Signal generation failed, instrument skipped", "instrument", id, "error", err)
				result.Errors[id] = err
				return
			}
			result.Signals[id] = signals
		})
	}
	p.Wait()

	return result
}

// CheckPyramid 检查是否满足加仓条件。持仓单位达到上限时总是返回 nil，与价格无关。
// 持有 0 个单位时阈值就是入场价。该方法不修改引擎状态，相同输入总是得到相同结果
func (se *SignalEngine) CheckPyramid(instrumentID string, ind *ta.IndicatorSeries, pos model.PositionState) (*model.Signal, error) {
	if pos.UnitsHeld >= se.params.MaxUnitsPerPosition {
		return nil, nil
	}
	if !pos.System.Valid() {
		return nil, fmt.Errorf("%w: position on %s has no originating system", model.ErrInvalidInput, instrumentID)
	}
	if ind == nil || ind.Len() == 0 {
		return nil, fmt.Errorf("%w: no indicator series for %s", model.ErrInvalidInput, instrumentID)
	}

	latest := ind.Len() - 1
	atr, err := ind.Require(ta.KindATR, se.params.ATRPeriod, latest)
	if err != nil {
		return nil, err
	}

	// 每多持有一个单位，下一次加仓需要更远的有利移动
	threshold := pos.EntryPrice + se.params.PyramidIncrementATR*atr*float64(pos.UnitsHeld)
	bar := ind.Bar(latest)
	if bar.Close <= threshold {
		return nil, nil
	}

	stop := bar.Close - se.params.StopATRMultiple*atr
	sig := &model.Signal{
		InstrumentID: instrumentID,
		Kind:         model.KindPyramid,
		Timestamp:    bar.Timestamp,
		Price:        bar.Close,
		System:       pos.System,
		StopPrice:    &stop,
		Units:        1,
		Confidence:   1.0,
	}
	se.logger.Infow("Pyramid signal",
		"instrument", instrumentID,
		"system", pos.System,
		"units_held", pos.UnitsHeld,
		"threshold", threshold,
		"price", bar.Close)
	return sig, nil
}

// StopLossPrice 止损价 = entryPrice - N * ATR(最新)
func (se *SignalEngine) StopLossPrice(ind *ta.IndicatorSeries, entryPrice float64) (float64, error) {
	atr, err := ind.Require(ta.KindATR, se.params.ATRPeriod, ind.Len()-1)
	if err != nil {
		return 0, err
	}
	return entryPrice - se.params.StopATRMultiple*atr, nil
}

// LastSignals 返回某个标的最近一次非空的信号列表
func (se *SignalEngine) LastSignals(instrumentID string) ([]model.Signal, bool) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	signals, ok := se.state[instrumentID]
	if !ok {
		return nil, false
	}
	return append([]model.Signal(nil), signals...), true
}

// Summary 基于当前状态统计标的数与各类信号数
func (se *SignalEngine) Summary() Summary {
	se.mu.RLock()
	defer se.mu.RUnlock()

	sum := Summary{
		TotalInstruments: len(se.state),
		SignalsByKind:    make(map[model.SignalKind]int),
		SignalsBySystem:  make(map[model.System]int),
	}
	for _, signals := range se.state {
		for _, s := range signals {
			sum.SignalsByKind[s.Kind]++
			sum.SignalsBySystem[s.System]++
		}
	}
	return sum
}
