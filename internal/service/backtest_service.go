package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kimdaeho/sevensplit/internal/engine"
	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/internal/xe"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"github.com/kimdaeho/sevensplit/pkg/ta"
	"go.uber.org/zap"
)

// BacktestConfig 回测输入。Klines为空时按Market/Interval/Count从交易所拉取。
type BacktestConfig struct {
	Strategy       *models.Strategy  `json:"strategy"`
	Klines         []*exchange.Kline `json:"klines,omitempty"`
	Interval       string            `json:"interval"`
	Count          int               `json:"count"`
	InitialBalance float64           `json:"initial_balance"`
	StartIndex     int               `json:"start_index"`
}

// WatchInterval 一段追踪买入观察期，给前端画图用
type WatchInterval struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	LowestPrice float64   `json:"lowest_price"`
}

// BacktestResult 回测结果
type BacktestResult struct {
	Trades           []*models.Trade `json:"trades"`
	FinalSplits      []*models.Split `json:"final_splits"`
	FinalBalance     float64         `json:"final_balance"`
	TotalProfit      float64         `json:"total_profit"`
	UnrealizedProfit float64         `json:"unrealized_profit"`
	DebugLog         []string        `json:"debug_log"`
	WatchIntervals   []WatchInterval `json:"watch_intervals"`
}

// BacktestService 历史K线回放。单线程、确定性：相同输入永远产生相同结果。
// 只操作策略配置的副本，可以与实盘循环并行运行。
type BacktestService struct {
	logger  *zap.Logger
	gateway exchange.Exchange
}

// NewBacktestService 创建回测服务
func NewBacktestService(gateway exchange.Exchange, logger *zap.Logger) *BacktestService {
	return &BacktestService{logger: logger, gateway: gateway}
}

type rangeFetcher interface {
	KlinesRange(ctx context.Context, market, interval string, count int) ([]*exchange.Kline, error)
}

// replay 回放过程中的全部可变状态
type replay struct {
	st      *models.Strategy
	splits  []*models.Split
	trades  []*models.Trade
	balance float64

	// 日线RSI的增量维护：已收盘的日线收盘价 + 当前进行中的日期
	dailyCloses []float64
	currentDay  string

	tradesByDay map[string]int

	watchStart     time.Time
	watchIntervals []WatchInterval

	debugLog []string
}

func (r *replay) debug(format string, args ...interface{}) {
	r.debugLog = append(r.debugLog, fmt.Sprintf(format, args...))
}

func (r *replay) removeSplit(target *models.Split) {
	for i, sp := range r.splits {
		if sp == target {
			r.splits = append(r.splits[:i], r.splits[i+1:]...)
			return
		}
	}
}

// Run 执行一次回测
func (s *BacktestService) Run(ctx context.Context, cfg BacktestConfig) (*BacktestResult, error) {
	if cfg.Strategy == nil {
		return nil, xe.ErrInvalidParams
	}

	klines := cfg.Klines
	if len(klines) == 0 {
		interval := cfg.Interval
		if interval == "" {
			interval = "1h"
		}
		count := cfg.Count
		if count <= 0 {
			count = 1000
		}
		fetcher, ok := s.gateway.(rangeFetcher)
		if !ok {
			return nil, xe.ErrBacktestData
		}
		fetched, err := fetcher.KlinesRange(ctx, cfg.Strategy.Ticker, interval, count)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch backtest candles: %w", err)
		}
		klines = fetched
	}

	// 时间戳统一为秒，毫秒输入不归一化会让日线判定差出1000倍
	klines = exchange.NormalizeKlines(klines)

	period := cfg.Strategy.RSIPeriod
	if period <= 0 {
		period = defaultRSIPeriod
	}
	if len(klines) < period+2 {
		return nil, xe.ErrBacktestData
	}

	r := &replay{
		balance:     cfg.InitialBalance,
		tradesByDay: make(map[string]int),
	}

	// 日线数据展开成小时步长，日内规则（追踪买入、盘中RSI）才有东西可评估
	if exchange.IsDaily(klines) {
		r.debug("daily candles detected, expanding to hourly steps")
		klines = exchange.ExpandDailyToHourly(klines)
	}

	// 配置副本，绝不碰实盘状态
	stCopy := *cfg.Strategy
	stCopy.IsWatching = false
	stCopy.WatchLowestPrice = 0
	stCopy.PendingBuyUnits = 0
	stCopy.LastBuyDate = ""
	stCopy.LastSellDate = ""
	if stCopy.NextSplitID <= 0 {
		stCopy.NextSplitID = 1
	}
	r.st = &stCopy

	stepSeconds := klines[1].Time - klines[0].Time
	if stepSeconds <= 0 {
		return nil, xe.ErrBacktestData
	}
	shortFactor := s.resampleFactor(r, stepSeconds, stCopy.RSITimeframe)

	start := cfg.StartIndex
	if start < 0 {
		start = 0
	}

	for i := start; i < len(klines); i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.step(r, klines, i, period, shortFactor)
	}

	return s.finish(r, klines), nil
}

// step 单根K线的完整模拟：撮合在场订单 -> 构建快照 -> 评估 -> 立即成交
func (s *BacktestService) step(r *replay, klines []*exchange.Kline, i, period, shortFactor int) {
	k := klines[i]
	price := k.Close
	stepTime := time.Unix(k.Time, 0).UTC()
	day := stepTime.Format("2006-01-02")

	// 跨日：把前一日收盘价并入已确认序列
	if r.currentDay != "" && day != r.currentDay {
		r.dailyCloses = append(r.dailyCloses, klines[i-1].Close)
	}
	r.currentDay = day

	// 1. 用本K线收盘价撮合在场订单，比较规则与模拟撮合引擎一致
	s.fillPending(r, price, stepTime, day)

	// 2. 市场快照
	snap := engine.Snapshot{
		Price:       price,
		Time:        stepTime,
		TradesToday: r.tradesByDay[day],
	}
	if r.st.StrategyMode == models.StrategyModeRSI {
		inProgress := append(append([]float64{}, r.dailyCloses...), price)
		snap.RSIDaily = ta.RSIValue(inProgress, period)
		snap.RSIDailyPrev = ta.RSIValue(r.dailyCloses, period)
	}
	if r.st.UseTrailingBuy {
		snap.RSIShort = s.shortRSI(klines[:i+1], shortFactor, period)
	}

	// 3. 纯函数评估 + 4. 回测假设在评估K线上立即成交
	d := engine.Evaluate(r.st, r.splits, snap)
	s.applyDecisions(r, d, price, stepTime, day)
}

// fillPending 撮合在场分仓的挂单。限价买在 收盘价 ≤ 委托价 时按委托价成交，
// 限价卖在 收盘价 ≥ 目标价 时按目标价成交。
func (s *BacktestService) fillPending(r *replay, price float64, stepTime time.Time, day string) {
	for _, sp := range append([]*models.Split{}, r.splits...) {
		switch sp.Status {
		case models.SplitStatusPendingBuy:
			if price <= sp.BuyPrice {
				volume := sp.InvestmentAmount / (sp.BuyPrice * (1 + r.st.FeeRate))
				engine.ApplyBuyFill(r.st, sp, sp.BuyPrice, volume, stepTime)
				r.st.LastBuyPrice = sp.BuyPrice
			}
		case models.SplitStatusPendingSell:
			if price >= sp.TargetSellPrice {
				s.closeSplit(r, sp, sp.TargetSellPrice, stepTime, day)
			}
		}
	}
}

func (s *BacktestService) closeSplit(r *replay, sp *models.Split, sellPrice float64, stepTime time.Time, day string) {
	trade := engine.CloseSplit(r.st, sp, sellPrice, stepTime)
	r.trades = append(r.trades, trade)
	r.balance += sp.InvestmentAmount + trade.NetProfit
	r.st.LastSellPrice = sellPrice
	r.st.LastSellDate = day
	r.tradesByDay[day]++
	r.removeSplit(sp)
}

func (s *BacktestService) applyDecisions(r *replay, d engine.Decisions, price float64, stepTime time.Time, day string) {
	// BUY_FILLED的分仓挂止盈卖单
	for _, sell := range d.Sells {
		for _, sp := range r.splits {
			if sp.SplitID == sell.SplitID && sp.Status == models.SplitStatusBuyFilled {
				engine.ApplySellPlaced(sp, fmt.Sprintf("bt-sell-%d", sp.SplitID))
			}
		}
	}

	// RSI反转卖出：回测里无单可撤，直接按收盘价平仓
	for _, ms := range d.MarketSells {
		for _, sp := range append([]*models.Split{}, r.splits...) {
			if sp.SplitID == ms.SplitID {
				s.closeSplit(r, sp, price, stepTime, day)
			}
		}
	}

	// 新开分仓
	for _, buy := range d.Buys {
		if buy.Amount > r.balance {
			r.debug("%s insufficient balance %.2f for buy %.2f, skipped", day, r.balance, buy.Amount)
			continue
		}
		sp := engine.NewSplitFromIntent(r.st, buy, r.st.NextSplitID, stepTime)
		sp.ID = fmt.Sprintf("bt-%d", r.st.NextSplitID)
		r.st.NextSplitID++
		r.balance -= buy.Amount
		r.tradesByDay[day]++

		// 回测假设在评估K线上立即成交：市价按收盘价，限价按委托价
		// （网格触发条件已保证 收盘价 ≤ 委托价）
		fillPrice := price
		if !buy.UseMarket {
			fillPrice = buy.Price
		}
		volume := buy.Amount / (fillPrice * (1 + r.st.FeeRate))
		engine.ApplyBuyFill(r.st, sp, fillPrice, volume, stepTime)
		r.st.LastBuyPrice = fillPrice
		r.splits = append(r.splits, sp)
	}

	// 观察状态变更与区间记录
	if d.Watch != nil {
		if d.Watch.Watching && !r.st.IsWatching {
			r.watchStart = stepTime
		}
		if !d.Watch.Watching && r.st.IsWatching {
			r.watchIntervals = append(r.watchIntervals, WatchInterval{
				Start:       r.watchStart,
				End:         stepTime,
				LowestPrice: r.st.WatchLowestPrice,
			})
		}
		r.st.IsWatching = d.Watch.Watching
		r.st.WatchLowestPrice = d.Watch.LowestPrice
		r.st.PendingBuyUnits = d.Watch.PendingBuyUnits
	}
	if d.LastBuyDate != "" {
		r.st.LastBuyDate = d.LastBuyDate
	}
	if d.LastSellDate != "" {
		r.st.LastSellDate = d.LastSellDate
	}
}

// shortRSI 在不产生前视偏差的前提下计算短周期RSI：
// 只用当前步及之前的K线，聚合粒度粗于数据粒度时重采样。
func (s *BacktestService) shortRSI(history []*exchange.Kline, factor, period int) *float64 {
	if factor > 1 {
		history = exchange.Resample(history, factor)
	}
	return ta.RSIValue(exchange.Closes(history), period)
}

// resampleFactor 计算短周期RSI需要的重采样倍数。
// 数据粒度已粗于目标周期时直接用原始K线（无法凭空造出更细的数据）。
func (s *BacktestService) resampleFactor(r *replay, stepSeconds int64, timeframe string) int {
	if timeframe == "" {
		timeframe = "15m"
	}
	target, err := parseIntervalSeconds(timeframe)
	if err != nil {
		r.debug("invalid rsi timeframe %q, using source granularity", timeframe)
		return 1
	}
	if target <= stepSeconds {
		return 1
	}
	if target%stepSeconds != 0 {
		r.debug("rsi timeframe %s not a multiple of source interval %ds, using source granularity", timeframe, stepSeconds)
		return 1
	}
	return int(target / stepSeconds)
}

func (s *BacktestService) finish(r *replay, klines []*exchange.Kline) *BacktestResult {
	finalPrice := klines[len(klines)-1].Close

	totalProfit := 0.0
	for _, t := range r.trades {
		totalProfit += t.NetProfit
	}
	unrealized := 0.0
	for _, sp := range r.splits {
		if sp.CoinVolume > 0 {
			unrealized += (finalPrice - sp.ActualBuyPrice) * sp.CoinVolume
		}
	}
	// 仍在观察中的区间也要闭合输出
	if r.st.IsWatching {
		r.watchIntervals = append(r.watchIntervals, WatchInterval{
			Start:       r.watchStart,
			End:         time.Unix(klines[len(klines)-1].Time, 0).UTC(),
			LowestPrice: r.st.WatchLowestPrice,
		})
	}

	s.logger.Info("backtest finished",
		zap.String("ticker", r.st.Ticker),
		zap.Int("steps", len(klines)),
		zap.Int("trades", len(r.trades)),
		zap.Float64("total_profit", totalProfit))

	return &BacktestResult{
		Trades:           r.trades,
		FinalSplits:      r.splits,
		FinalBalance:     r.balance,
		TotalProfit:      totalProfit,
		UnrealizedProfit: unrealized,
		DebugLog:         r.debugLog,
		WatchIntervals:   r.watchIntervals,
	}
}

// parseIntervalSeconds 解析 15m/1h/4h/1d 形式的周期
func parseIntervalSeconds(interval string) (int64, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	unit := interval[len(interval)-1]
	n, err := strconv.ParseInt(strings.TrimSuffix(interval, string(unit)), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch unit {
	case 's':
		return n, nil
	case 'm':
		return n * 60, nil
	case 'h':
		return n * 3600, nil
	case 'd':
		return n * 86400, nil
	default:
		return 0, fmt.Errorf("invalid interval unit %q", interval)
	}
}
