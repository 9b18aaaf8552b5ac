package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kimdaeho/sevensplit/internal/engine"
	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"github.com/kimdaeho/sevensplit/pkg/ta"
	"go.uber.org/zap"
)

const defaultRSIPeriod = 14

// IndicatorService 技术指标计算服务。计算本身是纯函数，
// 这里只负责拉K线并把结果装进Snapshot。
type IndicatorService struct {
	logger *zap.Logger
}

// NewIndicatorService 创建技术指标服务
func NewIndicatorService(logger *zap.Logger) *IndicatorService {
	return &IndicatorService{logger: logger}
}

// DailyRSI 计算今日进行中与昨日已确认的日线RSI。
// 最后一根日线是未收盘的当日K线，去掉它再算一遍就是昨日确认值。
// 数据不足warm-up时返回nil，调用方必须跳过而不是当作0。
func (s *IndicatorService) DailyRSI(klines []*exchange.Kline, period int) (current, prev *float64) {
	if period <= 0 {
		period = defaultRSIPeriod
	}
	closes := exchange.Closes(klines)
	current = ta.RSIValue(closes, period)
	if len(closes) > 0 {
		prev = ta.RSIValue(closes[:len(closes)-1], period)
	}
	return current, prev
}

// ShortRSI 计算短周期RSI
func (s *IndicatorService) ShortRSI(klines []*exchange.Kline, period int) *float64 {
	if period <= 0 {
		period = defaultRSIPeriod
	}
	return ta.RSIValue(exchange.Closes(klines), period)
}

// BuildSnapshot 为一次评估准备市场快照：当前价加上策略所需的指标。
// 指标拉取失败只降级为nil（该tick跳过相应规则），不阻断整个tick。
func (s *IndicatorService) BuildSnapshot(ctx context.Context, ex exchange.Exchange, st *models.Strategy, tradesToday int) (engine.Snapshot, error) {
	price, err := ex.CurrentPrice(ctx, st.Ticker)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to get current price: %w", err)
	}

	snap := engine.Snapshot{
		Price:       price,
		Time:        time.Now(),
		TradesToday: tradesToday,
	}

	period := st.RSIPeriod
	if period <= 0 {
		period = defaultRSIPeriod
	}

	if st.StrategyMode == models.StrategyModeRSI {
		klines, err := ex.Klines(ctx, st.Ticker, "1d", period*3+10)
		if err != nil {
			s.logger.Warn("failed to fetch daily klines, skipping rsi rules this tick",
				zap.String("ticker", st.Ticker), zap.Error(err))
		} else {
			snap.RSIDaily, snap.RSIDailyPrev = s.DailyRSI(exchange.NormalizeKlines(klines), period)
		}
	}

	if st.UseTrailingBuy {
		timeframe := st.RSITimeframe
		if timeframe == "" {
			timeframe = "15m"
		}
		klines, err := ex.Klines(ctx, st.Ticker, timeframe, period*3+10)
		if err != nil {
			s.logger.Warn("failed to fetch short klines, skipping trailing buy this tick",
				zap.String("ticker", st.Ticker), zap.Error(err))
		} else {
			snap.RSIShort = s.ShortRSI(exchange.NormalizeKlines(klines), period)
		}
	}

	return snap, nil
}
