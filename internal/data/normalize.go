package data

import (
	"fmt"
	"math"
	"sort"

	"turtle-trader/internal/model"
	"turtle-trader/internal/service"

	"github.com/shopspring/decimal"
)

// MinBarsForAnalysis 55 日突破至少需要 60 根日线
const MinBarsForAnalysis = 60

// maxDailyMove 单日涨跌幅超过 50% 视为异常
var maxDailyMove = decimal.NewFromFloat(0.5)

// Normalize 复权并清洗原始日线:
// 1. 用 AdjClose/Close 因子调整 OHLC，成交量反向调整
// 2. 丢弃价格非正或 OHLC 关系不成立的行
// 3. 按日期排序，同一天只保留最后一条
func Normalize(symbol string, raw []model.RawBar) (model.PriceSeries, error) {
	byDay := make(map[int64]model.PriceBar, len(raw))
	for _, r := range raw {
		if r.Open <= 0 || r.High <= 0 || r.Low <= 0 || r.Close <= 0 {
			continue
		}
		factor := 1.0
		if r.AdjClose > 0 {
			factor = r.AdjClose / r.Close
		}
		bar := model.PriceBar{
			Timestamp: service.TruncateDay(r.Date),
			Open:      r.Open * factor,
			High:      r.High * factor,
			Low:       r.Low * factor,
			Close:     r.Close * factor,
			Volume:    int64(math.Round(float64(r.Volume) / factor)),
		}
		if bar.Validate() != nil {
			continue
		}
		byDay[bar.Timestamp.Unix()] = bar
	}

	if len(byDay) == 0 {
		return model.PriceSeries{}, fmt.Errorf("%w: no valid bars for %s", ErrNoData, symbol)
	}

	bars := make([]model.PriceBar, 0, len(byDay))
	for _, b := range byDay {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	return model.PriceSeries{Symbol: symbol, Bars: bars}, nil
}

// ValidateQuality 返回数据质量问题列表，空列表表示数据可用
func ValidateQuality(series model.PriceSeries) []string {
	var issues []string

	var nonPositive, inverted, extreme bool
	for i, b := range series.Bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			nonPositive = true
		}
		if b.High < b.Low {
			inverted = true
		}
		if i > 0 && series.Bars[i-1].Close > 0 {
			prev := decimal.NewFromFloat(series.Bars[i-1].Close)
			move := decimal.NewFromFloat(b.Close).Sub(prev).Div(prev).Abs()
			if move.GreaterThan(maxDailyMove) {
				extreme = true
			}
		}
	}
	if nonPositive {
		issues = append(issues, "Negative or zero prices")
	}
	if inverted {
		issues = append(issues, "High < Low found")
	}
	if extreme {
		issues = append(issues, "Extreme price movements detected")
	}
	if series.Len() < MinBarsForAnalysis {
		issues = append(issues, fmt.Sprintf("Insufficient data for analysis (%d < %d bars)", series.Len(), MinBarsForAnalysis))
	}
	return issues
}
