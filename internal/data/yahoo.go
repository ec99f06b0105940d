package data

import (
	"context"
	"fmt"
	"time"

	"turtle-trader/internal/model"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"go.uber.org/zap"
)

// YahooProvider 通过 Yahoo Finance chart 接口拉取日线
type YahooProvider struct {
	retry  RetryConfig
	logger *zap.Logger
}

// NewYahooProvider creates a new Yahoo Finance provider
func NewYahooProvider(retry RetryConfig, logger *zap.Logger) *YahooProvider {
	return &YahooProvider{retry: retry, logger: logger}
}

func (yp *YahooProvider) Name() string {
	return "yahoo"
}

// FetchDaily gets daily bars for [start, end]
func (yp *YahooProvider) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]model.RawBar, error) {
	// chart 接口的结束时间不包含当天
	endExclusive := end.AddDate(0, 0, 1)

	var result []model.RawBar
	err := WithRetry(ctx, yp.retry, func() error {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&endExclusive),
			Interval: datetime.OneDay,
		}

		iter := chart.Get(params)

		result = make([]model.RawBar, 0)
		for iter.Next() {
			bar := iter.Bar()
			result = append(result, model.RawBar{
				Date:     time.Unix(int64(bar.Timestamp), 0).UTC(),
				Open:     bar.Open.InexactFloat64(),
				High:     bar.High.InexactFloat64(),
				Low:      bar.Low.InexactFloat64(),
				Close:    bar.Close.InexactFloat64(),
				AdjClose: bar.AdjClose.InexactFloat64(),
				Volume:   int64(bar.Volume),
			})
		}

		if err := iter.Err(); err != nil {
			yp.logger.Debug("Yahoo fetch attempt failed", zap.String("symbol", symbol), zap.Error(err))
			return fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: yahoo returned no bars for %s", ErrNoData, symbol)
	}
	return result, nil
}
