package ta

import (
	"fmt"
	"sort"
	"time"

	"turtle-trader/internal/model"
)

// Kind 指标类型
type Kind string

const (
	KindDonchianHigh Kind = "donchian_high"
	KindDonchianLow  Kind = "donchian_low"
	KindATR          Kind = "atr"
	KindSMA          Kind = "sma"
	KindVolatility   Kind = "volatility"
)

// Key 唯一标识一列指标: (类型, 窗口)
type Key struct {
	Kind   Kind
	Window int
}

func (k Key) String() string {
	return fmt.Sprintf("%s_%d", k.Kind, k.Window)
}

// Value 是一个可能未定义的指标值。Valid=false 表示历史长度不足，不是 0
type Value struct {
	Float64 float64
	Valid   bool
}

// Defined 构造一个已定义的值
func Defined(v float64) Value {
	return Value{Float64: v, Valid: true}
}

func (v Value) String() string {
	if !v.Valid {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", v.Float64)
}

// IndicatorSeries 与输入序列等长、下标对齐的指标序列
type IndicatorSeries struct {
	source    model.PriceSeries
	trueRange []Value
	columns   map[Key][]Value
}

// Source 返回原始价格序列 (只读)
func (s *IndicatorSeries) Source() model.PriceSeries {
	return s.source
}

// Symbol 返回标的代码
func (s *IndicatorSeries) Symbol() string {
	return s.source.Symbol
}

// Len 返回 K 线数量
func (s *IndicatorSeries) Len() int {
	return len(s.source.Bars)
}

// Bar 返回第 i 根 K 线
func (s *IndicatorSeries) Bar(i int) model.PriceBar {
	return s.source.Bars[i]
}

// LatestBar 返回最新一根 K 线
func (s *IndicatorSeries) LatestBar() model.PriceBar {
	return s.source.Latest()
}

// LatestTime 返回最新交易日
func (s *IndicatorSeries) LatestTime() time.Time {
	return s.source.Latest().Timestamp
}

// TrueRange 返回真实波幅序列 (第 0 根未定义)
func (s *IndicatorSeries) TrueRange() []Value {
	return s.trueRange
}

// Has 判断某列指标是否已计算
func (s *IndicatorSeries) Has(kind Kind, window int) bool {
	_, ok := s.columns[Key{Kind: kind, Window: window}]
	return ok
}

// Column 返回整列指标；未计算时返回 ErrMissingIndicator
func (s *IndicatorSeries) Column(kind Kind, window int) ([]Value, error) {
	key := Key{Kind: kind, Window: window}
	col, ok := s.columns[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s not computed for %s", model.ErrMissingIndicator, key, s.Symbol())
	}
	return col, nil
}

// At 返回第 i 根 K 线上的指标值 (可能未定义)
func (s *IndicatorSeries) At(kind Kind, window, i int) (Value, error) {
	col, err := s.Column(kind, window)
	if err != nil {
		return Value{}, err
	}
	if i < 0 || i >= len(col) {
		return Value{}, nil
	}
	return col[i], nil
}

// Latest 返回最新 K 线上的指标值
func (s *IndicatorSeries) Latest(kind Kind, window int) (Value, error) {
	return s.At(kind, window, s.Len()-1)
}

// Require 返回第 i 根 K 线上已定义的指标值；未计算或未定义都返回 ErrMissingIndicator
func (s *IndicatorSeries) Require(kind Kind, window, i int) (float64, error) {
	v, err := s.At(kind, window, i)
	if err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, fmt.Errorf("%w: %s undefined at bar %d for %s", model.ErrMissingIndicator,
			Key{Kind: kind, Window: window}, i, s.Symbol())
	}
	return v.Float64, nil
}

// Keys 按 (类型, 窗口) 排序返回全部已计算的列
func (s *IndicatorSeries) Keys() []Key {
	keys := make([]Key, 0, len(s.columns))
	for k := range s.columns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].Window < keys[j].Window
	})
	return keys
}
