package cache

import (
	"context"
	"fmt"
	"time"

	"turtle-trader/internal/model"
)

// SeriesCache 价格序列缓存。实现必须可以被多个 goroutine 并发使用
type SeriesCache interface {
	Get(ctx context.Context, key string) (model.PriceSeries, bool)
	Set(ctx context.Context, key string, series model.PriceSeries) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// Key 生成 (代码, 起止日期) 的缓存键
func Key(symbol string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s", symbol, start.Format(model.DateLayout), end.Format(model.DateLayout))
}

// Nop 不缓存任何内容
type Nop struct{}

func (Nop) Get(context.Context, string) (model.PriceSeries, bool) {
	return model.PriceSeries{}, false
}

func (Nop) Set(context.Context, string, model.PriceSeries) error {
	return nil
}

func (Nop) Clear(context.Context) error {
	return nil
}

func (Nop) Keys(context.Context) ([]string, error) {
	return nil, nil
}
