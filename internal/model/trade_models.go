package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SignalKind 定义了信号类型
type SignalKind string

const (
	KindEntry   SignalKind = "ENTRY"   // 突破入场
	KindExit    SignalKind = "EXIT"    // 通道跌破离场
	KindPyramid SignalKind = "PYRAMID" // 加仓
)

func (k SignalKind) String() string {
	return string(k)
}

// AllSignalKinds 按固定顺序列出全部信号类型 (用于汇总统计)
var AllSignalKinds = []SignalKind{KindEntry, KindExit, KindPyramid}

// System 海龟系统编号: 系统 1 (短周期) 或系统 2 (长周期)
type System int

const (
	SystemOne System = 1
	SystemTwo System = 2
)

// Valid 判断系统编号是否合法
func (s System) Valid() bool {
	return s == SystemOne || s == SystemTwo
}

func (s System) String() string {
	return fmt.Sprintf("system_%d", int(s))
}

// Signal 结构体定义了信号引擎向执行层发出的决策，仅针对最新一根 K 线生成
type Signal struct {
	InstrumentID string     `json:"instrument_id"`
	Kind         SignalKind `json:"kind"`
	Timestamp    time.Time  `json:"timestamp"`            // 信号对应的交易日
	Price        float64    `json:"price"`                // 最新收盘价
	System       System     `json:"system"`               // 来源系统
	StopPrice    *float64   `json:"stop_price,omitempty"` // 止损价 (Exit 信号没有止损)
	Units        int        `json:"units"`                // 单位数 (Pyramid 为新增单位数)
	Confidence   float64    `json:"confidence"`           // [0, 1]
}

// HasStop 是否带有止损价
func (s Signal) HasStop() bool {
	return s.StopPrice != nil
}

func (s Signal) String() string {
	stop := "-"
	if s.StopPrice != nil {
		stop = fmt.Sprintf("%.2f", *s.StopPrice)
	}
	return fmt.Sprintf("SIGNAL [%s | %s | %s] @ %.2f | Units: %d | SL: %s | %s",
		s.InstrumentID, s.Kind, s.System, s.Price, s.Units, stop, s.Timestamp.Format(DateLayout))
}

// PositionState 由调用方提供的当前持仓 (引擎本身从不持久化)
type PositionState struct {
	EntryPrice float64 // 首次入场价格 (加仓阈值以此为基准)
	UnitsHeld  int     // 已持有单位数
	System     System  // 产生该持仓的系统
}

// Flat 是否空仓
func (p PositionState) Flat() bool {
	return p.UnitsHeld == 0
}

// RuleParams 海龟交易规则参数
type RuleParams struct {
	System1Length       int     // 系统 1 入场通道长度 (默认 20)
	System2Length       int     // 系统 2 入场通道长度 (默认 55)
	UseSystem2          bool    // 是否启用系统 2
	ATRPeriod           int     // ATR 周期
	StopATRMultiple     float64 // 止损距离 = N 倍 ATR
	ExitLengthSystem1   int     // 系统 1 离场通道长度 (默认 10)
	ExitLengthSystem2   int     // 系统 2 离场通道长度 (默认 20)
	PyramidIncrementATR float64 // 每次加仓需要的有利移动 (ATR 倍数)
	MaxUnitsPerPosition int     // 单个持仓最多单位数
}

// DefaultRuleParams 经典海龟参数
func DefaultRuleParams() RuleParams {
	return RuleParams{
		System1Length:       20,
		System2Length:       55,
		UseSystem2:          true,
		ATRPeriod:           20,
		StopATRMultiple:     2.0,
		ExitLengthSystem1:   10,
		ExitLengthSystem2:   20,
		PyramidIncrementATR: 0.5,
		MaxUnitsPerPosition: 5,
	}
}

// EntryLength 返回指定系统的入场通道长度
func (p RuleParams) EntryLength(s System) int {
	if s == SystemTwo {
		return p.System2Length
	}
	return p.System1Length
}

// ExitLength 返回指定系统的离场通道长度
func (p RuleParams) ExitLength(s System) int {
	if s == SystemTwo {
		return p.ExitLengthSystem2
	}
	return p.ExitLengthSystem1
}

// MinHistory 生成信号所需的最少 K 线数量
func (p RuleParams) MinHistory() int {
	if p.System2Length > p.System1Length {
		return p.System2Length
	}
	return p.System1Length
}

// Validate 检查参数合法性
func (p RuleParams) Validate() error {
	for name, v := range map[string]int{
		"system1_length":         p.System1Length,
		"system2_length":         p.System2Length,
		"atr_period":             p.ATRPeriod,
		"exit_length_s1":         p.ExitLengthSystem1,
		"exit_length_s2":         p.ExitLengthSystem2,
		"max_units_per_position": p.MaxUnitsPerPosition,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidWindow, name, v)
		}
	}
	if p.StopATRMultiple <= 0 {
		return fmt.Errorf("%w: stop_atr_multiple must be positive, got %.4f", ErrInvalidInput, p.StopATRMultiple)
	}
	if p.PyramidIncrementATR < 0 {
		return fmt.Errorf("%w: pyramid_increment must not be negative, got %.4f", ErrInvalidInput, p.PyramidIncrementATR)
	}
	return nil
}

// TrendState 趋势状态 (SMA 排列)
type TrendState string

const (
	TrendUp           TrendState = "UP_TREND"
	TrendDown         TrendState = "DOWN_TREND"
	TrendMixed        TrendState = "MIXED"
	TrendInitializing TrendState = "INITIALIZING" // 均线尚未就绪
)

// TradeRecord 记录一次完整的开仓和平仓交易 (模拟执行)
type TradeRecord struct {
	ID            uuid.UUID
	Symbol        string
	System        System
	EntryTime     time.Time
	ExitTime      time.Time
	AvgEntryPrice float64
	ExitPrice     float64
	Units         int
	Shares        int64
	RealizedPnL   float64 // 已实现盈亏 (扣除手续费前)
	Fee           float64 // 总手续费
	TriggerReason string  // 平仓原因: "EXIT", "STOP"
}
