package service

import (
	"fmt"
	"strings"
	"time"

	"turtle-trader/internal/model"
)

// ParseDate 解析 "2006-01-02" 格式的日期，空字符串返回零值
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(model.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// TruncateDay 把时间截断到 UTC 零点 (日线数据只保留日期)
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LookbackStart 返回从 end 往前推 days 个自然日的起始日期
func LookbackStart(end time.Time, days int) time.Time {
	return TruncateDay(end).AddDate(0, 0, -days)
}

// NormalizeSymbols 统一代码格式: 去空白、转大写、去重，保持原有顺序
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
