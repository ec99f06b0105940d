package executor

import (
	"context"
	"errors"

	"turtle-trader/internal/model"
)

var (
	// ErrInsufficientCapital 按风险计算出的股数不足 1 股，或现金不足
	ErrInsufficientCapital = errors.New("insufficient capital")

	// ErrRiskLimit 加仓后单个持仓的风险会超过上限
	ErrRiskLimit = errors.New("position risk limit reached")
)

// Executor 是信号执行器的通用接口，消费信号引擎产生的信号
type Executor interface {
	// 接收策略信号，并尝试执行 (入场、加仓、离场)
	ExecuteSignal(ctx context.Context, signal model.Signal) error

	// 查询某个标的的当前持仓，供加仓检查使用
	GetCurrentPosition(ctx context.Context, instrumentID string) (model.PositionState, error)

	// 获取账户净值
	GetBalance(ctx context.Context) (float64, error)

	// 返回已完成的交易记录
	GetTradeHistory() ([]*model.TradeRecord, error)

	// 返回账户历史上的最高净值
	GetMaxEquity() float64
}
