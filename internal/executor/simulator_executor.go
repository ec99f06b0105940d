package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"turtle-trader/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatorConfig 模拟器配置
type SimulatorConfig struct {
	InitialCapital     float64 // 初始资金
	RiskPerUnit        float64 // 每个单位承担的净值风险比例 (例如 0.01)
	MaxRiskPerPosition float64 // 单个持仓的最大风险比例 (例如 0.02)
	SlippageBps        float64 // 滑点 (基点)
	CommissionPerShare float64 // 每股佣金
}

// SimulatorPosition 模拟持仓 (只做多)
type SimulatorPosition struct {
	Symbol        string
	System        model.System
	Units         int
	Shares        int64
	EntryPrice    float64         // 首次入场信号价格，加仓阈值以此为基准
	AvgPrice      decimal.Decimal // 成交均价 (含滑点)
	StopLossPrice float64         // 当前止损价，加仓时随新单位上移
	EntryTime     time.Time
	EntryFee      decimal.Decimal
}

// SimulatorExecutor 按日线模拟成交的执行器，实现 Executor 接口
type SimulatorExecutor struct {
	cfg    SimulatorConfig
	logger *zap.SugaredLogger

	mu sync.RWMutex // 保护账户状态

	cash       decimal.Decimal
	maxEquity  decimal.Decimal
	lastPrices map[string]decimal.Decimal
	positions  map[string]*SimulatorPosition

	tradeHistory []*model.TradeRecord
}

var _ Executor = (*SimulatorExecutor)(nil)

// NewSimulatorExecutor 构造函数
func NewSimulatorExecutor(cfg SimulatorConfig, logger *zap.SugaredLogger) (*SimulatorExecutor, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital must be positive", model.ErrInvalidInput)
	}
	if cfg.RiskPerUnit <= 0 || cfg.RiskPerUnit > 1 || cfg.MaxRiskPerPosition <= 0 || cfg.MaxRiskPerPosition > 1 {
		return nil, fmt.Errorf("%w: risk fractions must be in (0, 1]", model.ErrInvalidInput)
	}
	capital := decimal.NewFromFloat(cfg.InitialCapital)
	return &SimulatorExecutor{
		cfg:        cfg,
		logger:     logger,
		cash:       capital,
		maxEquity:  capital,
		lastPrices: make(map[string]decimal.Decimal),
		positions:  make(map[string]*SimulatorPosition),
	}, nil
}

// ExecuteSignal 模拟下单和成交
func (e *SimulatorExecutor) ExecuteSignal(ctx context.Context, signal model.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPrices[signal.InstrumentID] = decimal.NewFromFloat(signal.Price)

	var err error
	switch signal.Kind {
	case model.KindEntry:
		err = e.openPosition(signal)
	case model.KindPyramid:
		err = e.addUnit(signal)
	case model.KindExit:
		e.closeOnExit(signal)
	default:
		err = fmt.Errorf("%w: unknown signal kind %q", model.ErrInvalidInput, signal.Kind)
	}

	e.updateMaxEquity()
	return err
}

// unitShares 单位股数 = 净值 * RiskPerUnit / (价格 - 止损)，向下取整
func (e *SimulatorExecutor) unitShares(price, stop float64) (int64, error) {
	if stop >= price {
		return 0, fmt.Errorf("%w: stop %.4f not below price %.4f", model.ErrInvalidInput, stop, price)
	}
	risk := e.equity().Mul(decimal.NewFromFloat(e.cfg.RiskPerUnit))
	perShare := decimal.NewFromFloat(price - stop)
	shares := risk.Div(perShare).Floor().IntPart()
	if shares < 1 {
		return 0, fmt.Errorf("%w: unit size below one share at %.4f", ErrInsufficientCapital, price)
	}
	return shares, nil
}

// fill 按滑点和佣金计算成交价与手续费，buy=true 为买入
func (e *SimulatorExecutor) fill(price float64, shares int64, buy bool) (fillPrice, fee decimal.Decimal) {
	slip := decimal.NewFromFloat(e.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	p := decimal.NewFromFloat(price)
	if buy {
		fillPrice = p.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		fillPrice = p.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	fee = decimal.NewFromFloat(e.cfg.CommissionPerShare).Mul(decimal.NewFromInt(shares))
	return fillPrice, fee
}

func (e *SimulatorExecutor) buy(price float64, shares int64) (fillPrice, fee decimal.Decimal, err error) {
	fillPrice, fee = e.fill(price, shares, true)
	cost := fillPrice.Mul(decimal.NewFromInt(shares)).Add(fee)
	if cost.GreaterThan(e.cash) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientCapital, cost.StringFixed(2), e.cash.StringFixed(2))
	}
	e.cash = e.cash.Sub(cost)
	return fillPrice, fee, nil
}

func (e *SimulatorExecutor) openPosition(signal model.Signal) error {
	if pos, ok := e.positions[signal.InstrumentID]; ok {
		e.logger.Debugf("Sim Ignored ENTRY: %s already held by %s (%d units)", signal.InstrumentID, pos.System, pos.Units)
		return nil
	}
	if !signal.HasStop() {
		return fmt.Errorf("%w: entry signal without stop for %s", model.ErrInvalidInput, signal.InstrumentID)
	}

	shares, err := e.unitShares(signal.Price, *signal.StopPrice)
	if err != nil {
		return err
	}
	fillPrice, fee, err := e.buy(signal.Price, shares)
	if err != nil {
		e.logger.Infof("Sim Rejected ENTRY %s: %v", signal.InstrumentID, err)
		return err
	}

	e.positions[signal.InstrumentID] = &SimulatorPosition{
		Symbol:        signal.InstrumentID,
		System:        signal.System,
		Units:         1,
		Shares:        shares,
		EntryPrice:    signal.Price,
		AvgPrice:      fillPrice,
		StopLossPrice: *signal.StopPrice,
		EntryTime:     signal.Timestamp,
		EntryFee:      fee,
	}

	e.logger.Infof("Sim ORDER FILLED (ENTRY): %s %s %d shares @ %s. Fee: %s. SL: %.4f",
		signal.System, signal.InstrumentID, shares, fillPrice.StringFixed(4), fee.StringFixed(4), *signal.StopPrice)
	return nil
}

func (e *SimulatorExecutor) addUnit(signal model.Signal) error {
	pos, ok := e.positions[signal.InstrumentID]
	if !ok {
		return fmt.Errorf("%w: pyramid signal without an open position on %s", model.ErrInvalidInput, signal.InstrumentID)
	}
	if !signal.HasStop() {
		return fmt.Errorf("%w: pyramid signal without stop for %s", model.ErrInvalidInput, signal.InstrumentID)
	}
	if float64(pos.Units+1)*e.cfg.RiskPerUnit > e.cfg.MaxRiskPerPosition+1e-12 {
		e.logger.Infof("Sim Rejected PYRAMID %s: %d units already at risk limit", signal.InstrumentID, pos.Units)
		return ErrRiskLimit
	}

	shares, err := e.unitShares(signal.Price, *signal.StopPrice)
	if err != nil {
		return err
	}
	fillPrice, fee, err := e.buy(signal.Price, shares)
	if err != nil {
		return err
	}

	// 新的成交均价
	oldCost := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Shares))
	newCost := fillPrice.Mul(decimal.NewFromInt(shares))
	pos.Shares += shares
	pos.AvgPrice = oldCost.Add(newCost).Div(decimal.NewFromInt(pos.Shares))
	pos.Units++
	pos.EntryFee = pos.EntryFee.Add(fee)
	// 所有单位的止损统一上移到最新单位的止损
	if *signal.StopPrice > pos.StopLossPrice {
		pos.StopLossPrice = *signal.StopPrice
	}

	e.logger.Infof("Sim ORDER FILLED (PYRAMID): %s unit %d, %d shares @ %s. New SL: %.4f",
		signal.InstrumentID, pos.Units, shares, fillPrice.StringFixed(4), pos.StopLossPrice)
	return nil
}

func (e *SimulatorExecutor) closeOnExit(signal model.Signal) {
	pos, ok := e.positions[signal.InstrumentID]
	if !ok || pos.System != signal.System {
		// 离场信号只平掉由同一系统建立的持仓
		return
	}
	e.closePosition(pos, signal.Price, signal.Timestamp, "EXIT")
}

// closePosition 平掉整个持仓并记录交易
func (e *SimulatorExecutor) closePosition(pos *SimulatorPosition, price float64, at time.Time, reason string) {
	fillPrice, closeFee := e.fill(price, pos.Shares, false)
	shares := decimal.NewFromInt(pos.Shares)
	pnl := fillPrice.Sub(pos.AvgPrice).Mul(shares)

	e.cash = e.cash.Add(fillPrice.Mul(shares)).Sub(closeFee)

	record := &model.TradeRecord{
		ID:            uuid.New(),
		Symbol:        pos.Symbol,
		System:        pos.System,
		EntryTime:     pos.EntryTime,
		ExitTime:      at,
		AvgEntryPrice: pos.AvgPrice.InexactFloat64(),
		ExitPrice:     fillPrice.InexactFloat64(),
		Units:         pos.Units,
		Shares:        pos.Shares,
		RealizedPnL:   pnl.InexactFloat64(),
		Fee:           pos.EntryFee.Add(closeFee).InexactFloat64(),
		TriggerReason: reason,
	}
	e.tradeHistory = append(e.tradeHistory, record)
	delete(e.positions, pos.Symbol)

	e.logger.Infof("Sim POSITION CLOSED [%s]: %s %s @ %s. Realized PnL: %s. Cash: %s",
		reason, pos.System, pos.Symbol, fillPrice.StringFixed(4), pnl.StringFixed(2), e.cash.StringFixed(2))
}

// MarkToMarket 用新的日线更新价格并检查止损。开盘跳空低于止损时按开盘价成交
func (e *SimulatorExecutor) MarkToMarket(symbol string, bar model.PriceBar) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPrices[symbol] = decimal.NewFromFloat(bar.Close)
	stopped := false
	if pos, ok := e.positions[symbol]; ok && bar.Low <= pos.StopLossPrice {
		exitPrice := pos.StopLossPrice
		if bar.Open < exitPrice {
			exitPrice = bar.Open
		}
		e.closePosition(pos, exitPrice, bar.Timestamp, "STOP")
		stopped = true
	}
	e.updateMaxEquity()
	return stopped
}

// equity 净值 = 现金 + 持仓市值 (调用方持有锁)
func (e *SimulatorExecutor) equity() decimal.Decimal {
	total := e.cash
	for sym, pos := range e.positions {
		price, ok := e.lastPrices[sym]
		if !ok {
			price = pos.AvgPrice
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Shares)))
	}
	return total
}

func (e *SimulatorExecutor) updateMaxEquity() {
	if eq := e.equity(); eq.GreaterThan(e.maxEquity) {
		e.maxEquity = eq
	}
}

// GetCurrentPosition 返回持仓状态，空仓时 UnitsHeld 为 0
func (e *SimulatorExecutor) GetCurrentPosition(ctx context.Context, instrumentID string) (model.PositionState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos, ok := e.positions[instrumentID]
	if !ok {
		return model.PositionState{}, nil
	}
	return model.PositionState{
		EntryPrice: pos.EntryPrice,
		UnitsHeld:  pos.Units,
		System:     pos.System,
	}, nil
}

// OpenPositions 返回全部持仓代码 (排序)
func (e *SimulatorExecutor) OpenPositions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.positions))
	for sym := range e.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// GetBalance 返回净值 (含持仓市值)
func (e *SimulatorExecutor) GetBalance(ctx context.Context) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equity().InexactFloat64(), nil
}

// Cash 返回可用现金
func (e *SimulatorExecutor) Cash() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cash.InexactFloat64()
}

// GetTradeHistory 实现 Executor 接口
func (e *SimulatorExecutor) GetTradeHistory() ([]*model.TradeRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	// 返回记录的副本，防止外部修改
	records := make([]*model.TradeRecord, len(e.tradeHistory))
	copy(records, e.tradeHistory)
	return records, nil
}

// GetMaxEquity 返回账户历史上的最高净值
func (e *SimulatorExecutor) GetMaxEquity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxEquity.InexactFloat64()
}
