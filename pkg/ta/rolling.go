package ta

import (
	"math"

	"github.com/markcheno/go-talib"
)

// TradingDaysPerYear 年化波动率使用的交易日数
const TradingDaysPerYear = 252

// rollingMax 唐奇安上轨: 包含当前 K 线在内的最近 w 根最高价
func rollingMax(in []float64, w int) []Value {
	return maskWarmup(in, w, talib.Max)
}

// rollingMin 唐奇安下轨
func rollingMin(in []float64, w int) []Value {
	return maskWarmup(in, w, talib.Min)
}

// maskWarmup 对 talib 的滚动结果做预热期屏蔽。talib 在预热期输出 0，这里改为未定义
func maskWarmup(in []float64, w int, fn func([]float64, int) []float64) []Value {
	out := make([]Value, len(in))
	if len(in) < w {
		return out
	}
	// talib 的 Max/Min 不接受周期 1
	if w == 1 {
		for i, v := range in {
			out[i] = Defined(v)
		}
		return out
	}
	raw := fn(in, w)
	for i := w - 1; i < len(in); i++ {
		out[i] = Defined(raw[i])
	}
	return out
}

// trueRange 真实波幅，第 0 根没有前收盘价，未定义
func trueRange(high, low, close []float64) []Value {
	out := make([]Value, len(close))
	if len(close) < 2 {
		return out
	}
	raw := talib.TRange(high, low, close)
	for i := 1; i < len(close); i++ {
		out[i] = Defined(raw[i])
	}
	return out
}

// returns 日收益率 close[i]/close[i-1]-1，第 0 根未定义
func returns(close []float64) []Value {
	out := make([]Value, len(close))
	for i := 1; i < len(close); i++ {
		out[i] = Defined(close[i]/close[i-1] - 1)
	}
	return out
}

// defined 把普通序列包装成全部已定义的 Value 序列
func defined(in []float64) []Value {
	out := make([]Value, len(in))
	for i, v := range in {
		out[i] = Defined(v)
	}
	return out
}

// window 返回 [i-w+1, i] 的窗口；历史不足或窗口内有未定义值时 ok=false
func window(in []Value, w, i int) ([]Value, bool) {
	if i+1 < w {
		return nil, false
	}
	win := in[i-w+1 : i+1]
	for _, v := range win {
		if !v.Valid {
			return nil, false
		}
	}
	return win, true
}

// rollingMean 滚动简单平均。每个窗口独立按下标顺序求和，保证结果可复现
func rollingMean(in []Value, w int) []Value {
	out := make([]Value, len(in))
	for i := range in {
		win, ok := window(in, w, i)
		if !ok {
			continue
		}
		out[i] = Defined(mean(win))
	}
	return out
}

// rollingStd 滚动样本标准差 (n-1)。w=1 时样本标准差无定义
func rollingStd(in []Value, w int) []Value {
	out := make([]Value, len(in))
	if w < 2 {
		return out
	}
	for i := range in {
		win, ok := window(in, w, i)
		if !ok {
			continue
		}
		m := mean(win)
		var ss float64
		for _, v := range win {
			d := v.Float64 - m
			ss += d * d
		}
		out[i] = Defined(math.Sqrt(ss / float64(w-1)))
	}
	return out
}

func mean(win []Value) float64 {
	var sum float64
	for _, v := range win {
		sum += v.Float64
	}
	return sum / float64(len(win))
}

// scale 把已定义的值乘以常数
func scale(in []Value, k float64) []Value {
	out := make([]Value, len(in))
	for i, v := range in {
		if v.Valid {
			out[i] = Defined(v.Float64 * k)
		}
	}
	return out
}
