package ta

import (
	"fmt"
	"math"
	"sort"
	"time"

	"turtle-trader/internal/model"

	"go.uber.org/zap"
)

// Windows 各类指标需要计算的窗口长度
type Windows struct {
	Donchian   []int `mapstructure:"donchian"`
	ATR        []int `mapstructure:"atr"`
	SMA        []int `mapstructure:"sma"`
	Volatility []int `mapstructure:"volatility"`
}

// DefaultWindows 默认窗口 (唐奇安 10/20/55，ATR 10/20/30，SMA 10/20/50/200，波动率 10/20/30)
func DefaultWindows() Windows {
	return Windows{
		Donchian:   []int{10, 20, 55},
		ATR:        []int{10, 20, 30},
		SMA:        []int{10, 20, 50, 200},
		Volatility: []int{10, 20, 30},
	}
}

// Merge 合并两组窗口并去重排序
func (w Windows) Merge(other Windows) Windows {
	return Windows{
		Donchian:   union(w.Donchian, other.Donchian),
		ATR:        union(w.ATR, other.ATR),
		SMA:        union(w.SMA, other.SMA),
		Volatility: union(w.Volatility, other.Volatility),
	}
}

// RuleWindows 返回交易规则所需的窗口 (入场/离场通道 + ATR)
func RuleWindows(p model.RuleParams) Windows {
	donchian := []int{p.System1Length, p.ExitLengthSystem1}
	if p.UseSystem2 {
		donchian = append(donchian, p.System2Length, p.ExitLengthSystem2)
	}
	return Windows{
		Donchian: union(donchian, nil),
		ATR:      []int{p.ATRPeriod},
	}
}

// Validate 检查所有窗口为正整数
func (w Windows) Validate() error {
	groups := map[Kind][]int{
		KindDonchianHigh: w.Donchian,
		KindATR:          w.ATR,
		KindSMA:          w.SMA,
		KindVolatility:   w.Volatility,
	}
	for kind, ws := range groups {
		for _, n := range ws {
			if n <= 0 {
				return fmt.Errorf("%w: %s window %d", model.ErrInvalidWindow, kind, n)
			}
		}
	}
	return nil
}

func union(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, n := range append(append([]int{}, a...), b...) {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Compute 计算全部指标。纯函数: 不修改输入，对相同输入输出逐位一致。
// 第 i 根 K 线的结果只依赖 series[0..i]
func Compute(series model.PriceSeries, windows Windows) (*IndicatorSeries, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	if err := windows.Validate(); err != nil {
		return nil, err
	}

	highs := series.Highs()
	lows := series.Lows()
	closes := series.Closes()

	out := &IndicatorSeries{
		source:    series,
		trueRange: trueRange(highs, lows, closes),
		columns:   make(map[Key][]Value),
	}

	// 1. 唐奇安通道
	for _, w := range windows.Donchian {
		out.columns[Key{KindDonchianHigh, w}] = rollingMax(highs, w)
		out.columns[Key{KindDonchianLow, w}] = rollingMin(lows, w)
	}

	// 2. ATR: 真实波幅的简单平均，TR 未定义时 ATR 同样未定义
	for _, w := range windows.ATR {
		out.columns[Key{KindATR, w}] = rollingMean(out.trueRange, w)
	}

	// 3. 均线
	closeValues := defined(closes)
	for _, w := range windows.SMA {
		out.columns[Key{KindSMA, w}] = rollingMean(closeValues, w)
	}

	// 4. 年化波动率 (日收益率样本标准差 * sqrt(252))
	rets := returns(closes)
	for _, w := range windows.Volatility {
		out.columns[Key{KindVolatility, w}] = scale(rollingStd(rets, w), math.Sqrt(TradingDaysPerYear))
	}

	return out, nil
}

// TACalculator 持有一组固定窗口配置，负责批量计算指标并记录耗时
type TACalculator struct {
	Windows Windows
	Logger  *zap.SugaredLogger
}

// NewTACalculator 初始化技术指标计算器
func NewTACalculator(windows Windows, logger *zap.SugaredLogger) *TACalculator {
	return &TACalculator{
		Windows: windows,
		Logger:  logger,
	}
}

// Calculate 计算单个标的的指标
func (tc *TACalculator) Calculate(series model.PriceSeries) (*IndicatorSeries, time.Duration, error) {
	start := time.Now()
	ind, err := Compute(series, tc.Windows)
	elapsed := time.Since(start)
	if err != nil {
		tc.Logger.Warnw("Indicator computation failed", "symbol", series.Symbol, "error", err)
		return nil, elapsed, err
	}
	tc.Logger.Debugw("Indicators computed",
		"symbol", series.Symbol,
		"bars", series.Len(),
		"columns", len(ind.columns),
		"elapsed", elapsed)
	return ind, elapsed, nil
}
