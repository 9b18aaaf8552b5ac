package service

import (
	"context"
	"testing"

	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/internal/xe"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func backtestStrategy() *models.Strategy {
	return &models.Strategy{
		ID:                 "bt-strategy",
		Name:               "回测",
		Ticker:             "BTCUSDT",
		InvestmentPerSplit: 100,
		MinPrice:           50,
		MaxPrice:           1000,
		BuyRate:            0.01,
		SellRate:           0.01,
		FeeRate:            0.001,
		RSIPeriod:          2,
		RebuyStrategy:      models.RebuyLastSellPrice,
		StrategyMode:       models.StrategyModePrice,
		NextSplitID:        1,
	}
}

// hourlyKlines 构造每小时一根的平坦K线序列
func hourlyKlines(start int64, closes ...float64) []*exchange.Kline {
	klines := make([]*exchange.Kline, len(closes))
	for i, c := range closes {
		klines[i] = &exchange.Kline{
			Time: start + int64(i)*3600,
			Open: c, High: c, Low: c, Close: c,
			Volume: 1,
		}
	}
	return klines
}

func newBacktestService() *BacktestService {
	return NewBacktestService(nil, zap.NewNop())
}

func TestBacktestGridRoundTrip(t *testing.T) {
	st := backtestStrategy()
	svc := newBacktestService()

	// 入场100 -> 挂卖101 -> 101成交平仓
	result, err := svc.Run(context.Background(), BacktestConfig{
		Strategy:       st,
		Klines:         hourlyKlines(1_700_000_000, 100, 100, 101, 101, 101),
		InitialBalance: 1000,
	})
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, 100.0, trade.BuyPrice)
	assert.Equal(t, 101.0, trade.SellPrice)

	volume := 100.0 / (100.0 * 1.001)
	buyTotal := 100.0 * volume
	sellTotal := 101.0 * volume
	expectedNet := sellTotal - buyTotal - (buyTotal+sellTotal)*0.001
	assert.InDelta(t, expectedNet, trade.NetProfit, 1e-9)

	assert.Empty(t, result.FinalSplits)
	assert.InDelta(t, 1000+expectedNet, result.FinalBalance, 1e-9)
	assert.InDelta(t, expectedNet, result.TotalProfit, 1e-9)
	assert.Zero(t, result.UnrealizedProfit)
}

func TestBacktestTimestampUnitEquivalence(t *testing.T) {
	svc := newBacktestService()
	closes := []float64{100, 100, 99, 99, 101.5, 101.5}

	secs := hourlyKlines(1_765_638_000, closes...)
	ms := hourlyKlines(1_765_638_000, closes...)
	for _, k := range ms {
		k.Time *= 1000
	}

	resultSecs, err := svc.Run(context.Background(), BacktestConfig{
		Strategy: backtestStrategy(), Klines: secs, InitialBalance: 1000,
	})
	require.NoError(t, err)
	resultMs, err := svc.Run(context.Background(), BacktestConfig{
		Strategy: backtestStrategy(), Klines: ms, InitialBalance: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, len(resultSecs.Trades), len(resultMs.Trades))
	assert.Equal(t, resultSecs.FinalBalance, resultMs.FinalBalance)
	assert.Equal(t, resultSecs.TotalProfit, resultMs.TotalProfit)
}

func TestBacktestDailyCandlesExpanded(t *testing.T) {
	st := backtestStrategy()
	svc := newBacktestService()

	daily := make([]*exchange.Kline, 6)
	for i := range daily {
		daily[i] = &exchange.Kline{
			Time: 1_700_000_000 + int64(i)*86400,
			Open: 100, High: 102, Low: 98, Close: 100,
			Volume: 24,
		}
	}

	result, err := svc.Run(context.Background(), BacktestConfig{
		Strategy: st, Klines: daily, InitialBalance: 1000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.DebugLog)
	assert.Contains(t, result.DebugLog[0], "daily candles detected")
}

func TestBacktestShortHistoryRejected(t *testing.T) {
	st := backtestStrategy()
	st.RSIPeriod = 14
	svc := newBacktestService()

	_, err := svc.Run(context.Background(), BacktestConfig{
		Strategy: st, Klines: hourlyKlines(1_700_000_000, 100, 100, 100), InitialBalance: 1000,
	})
	assert.ErrorIs(t, err, xe.ErrBacktestData)
}

func TestBacktestInsufficientBalanceSkipsBuy(t *testing.T) {
	st := backtestStrategy()
	svc := newBacktestService()

	result, err := svc.Run(context.Background(), BacktestConfig{
		Strategy: st, Klines: hourlyKlines(1_700_000_000, 100, 100, 100, 100), InitialBalance: 50,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Empty(t, result.FinalSplits)
	require.NotEmpty(t, result.DebugLog)
	assert.Contains(t, result.DebugLog[0], "insufficient balance")
}

func TestBacktestRSIModeWaitsForWarmup(t *testing.T) {
	st := backtestStrategy()
	st.StrategyMode = models.StrategyModeRSI
	st.RSIPeriod = 14
	st.RSIBuyMax = 30
	st.RSIBuyFirstThreshold = 5
	st.RSIBuyFirstAmount = 1
	svc := newBacktestService()

	// 同一日历日内的小时线：没有任何已收盘日线，日线RSI一直是nil，
	// 绝不能把warm-up期当作RSI=0去触发买入
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 - float64(i)
	}
	result, err := svc.Run(context.Background(), BacktestConfig{
		Strategy: st, Klines: hourlyKlines(1_700_006_400, closes...), InitialBalance: 1000,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Empty(t, result.FinalSplits)
}

func TestBacktestUnrealizedProfitOnOpenSplit(t *testing.T) {
	st := backtestStrategy()
	svc := newBacktestService()

	// 入场100后价格涨到100.5但不到101的止盈线，分仓留在场内
	result, err := svc.Run(context.Background(), BacktestConfig{
		Strategy: st, Klines: hourlyKlines(1_700_000_000, 100, 100.5, 100.5, 100.5), InitialBalance: 1000,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	require.Len(t, result.FinalSplits, 1)

	volume := 100.0 / (100.0 * 1.001)
	assert.InDelta(t, (100.5-100.0)*volume, result.UnrealizedProfit, 1e-9)
	assert.InDelta(t, 900, result.FinalBalance, 1e-9)
}

func TestParseIntervalSeconds(t *testing.T) {
	for _, tc := range []struct {
		interval string
		want     int64
	}{
		{"15m", 900},
		{"1h", 3600},
		{"4h", 14400},
		{"1d", 86400},
		{"30s", 30},
	} {
		got, err := parseIntervalSeconds(tc.interval)
		require.NoError(t, err, tc.interval)
		assert.Equal(t, tc.want, got, tc.interval)
	}

	for _, bad := range []string{"", "m", "10x", "-5m", "0h"} {
		_, err := parseIntervalSeconds(bad)
		assert.Error(t, err, bad)
	}
}
