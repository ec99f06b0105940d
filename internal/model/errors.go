package model

import "errors"

var (
	// ErrInvalidInput 价格序列为空或违反 OHLC / 时间顺序约束
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidWindow 指标窗口长度 <= 0
	ErrInvalidWindow = errors.New("invalid window")

	// ErrMissingIndicator 所需指标未计算，或在查询的 K 线上仍未定义
	ErrMissingIndicator = errors.New("missing indicator")
)
