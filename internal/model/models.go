package model

import (
	"fmt"
	"sort"
	"time"
)

// RawBar 代表数据源返回的原始日线 (未复权)
type RawBar struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64 // 复权收盘价 (0 表示数据源未提供)
	Volume   int64
}

// PriceBar 代表一个交易日的 OHLCV 数据，构造后不可修改
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"` // 交易日 (同一序列内严格递增)
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Validate 检查单根 K 线的 OHLC 关系
func (b PriceBar) Validate() error {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("%w: non-positive price at %s", ErrInvalidInput, b.Timestamp.Format(DateLayout))
	}
	if b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("%w: high %.4f below open/close at %s", ErrInvalidInput, b.High, b.Timestamp.Format(DateLayout))
	}
	if b.Low > b.Open || b.Low > b.Close {
		return fmt.Errorf("%w: low %.4f above open/close at %s", ErrInvalidInput, b.Low, b.Timestamp.Format(DateLayout))
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: negative volume at %s", ErrInvalidInput, b.Timestamp.Format(DateLayout))
	}
	return nil
}

// PriceSeries 是按时间升序排列的日线序列，由调用方持有
type PriceSeries struct {
	Symbol string     `json:"symbol"`
	Bars   []PriceBar `json:"bars"`
}

// Len 返回 K 线数量
func (s PriceSeries) Len() int {
	return len(s.Bars)
}

// Latest 返回最新一根 K 线 (调用方需保证序列非空)
func (s PriceSeries) Latest() PriceBar {
	return s.Bars[len(s.Bars)-1]
}

// Closes 返回收盘价序列
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Highs 返回最高价序列
func (s PriceSeries) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.High
	}
	return out
}

// Lows 返回最低价序列
func (s PriceSeries) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Low
	}
	return out
}

// Validate 检查序列非空、每根 K 线合法、时间戳严格递增
func (s PriceSeries) Validate() error {
	if len(s.Bars) == 0 {
		return fmt.Errorf("%w: empty price series for %q", ErrInvalidInput, s.Symbol)
	}
	for i, b := range s.Bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s bar %d: %w", s.Symbol, i, err)
		}
		if i > 0 && !b.Timestamp.After(s.Bars[i-1].Timestamp) {
			return fmt.Errorf("%w: %s bar %d timestamp %s not after %s", ErrInvalidInput, s.Symbol, i,
				b.Timestamp.Format(DateLayout), s.Bars[i-1].Timestamp.Format(DateLayout))
		}
	}
	return nil
}

// Slice 返回 [0, n) 的前缀序列 (共享底层数组，只读使用)
func (s PriceSeries) Slice(n int) PriceSeries {
	if n > len(s.Bars) {
		n = len(s.Bars)
	}
	return PriceSeries{Symbol: s.Symbol, Bars: s.Bars[:n]}
}

// Copy 深拷贝，缓存读写时避免共享底层数组
func (s PriceSeries) Copy() PriceSeries {
	bars := make([]PriceBar, len(s.Bars))
	copy(bars, s.Bars)
	return PriceSeries{Symbol: s.Symbol, Bars: bars}
}

// Between 返回 [start, end] 日期范围内的子序列
func (s PriceSeries) Between(start, end time.Time) PriceSeries {
	lo := sort.Search(len(s.Bars), func(i int) bool { return !s.Bars[i].Timestamp.Before(start) })
	hi := sort.Search(len(s.Bars), func(i int) bool { return s.Bars[i].Timestamp.After(end) })
	if lo >= hi {
		return PriceSeries{Symbol: s.Symbol}
	}
	out := make([]PriceBar, hi-lo)
	copy(out, s.Bars[lo:hi])
	return PriceSeries{Symbol: s.Symbol, Bars: out}
}

// Covers 判断序列是否覆盖了 [start, end] 区间
func (s PriceSeries) Covers(start, end time.Time) bool {
	if len(s.Bars) == 0 {
		return false
	}
	return !s.Bars[0].Timestamp.After(start) && !s.Latest().Timestamp.Before(end)
}

// DateLayout 日线日期格式
const DateLayout = "2006-01-02"
