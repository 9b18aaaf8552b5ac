package engine

import (
	"testing"
	"time"

	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func gridStrategy() *models.Strategy {
	return &models.Strategy{
		ID:                 "st1",
		Ticker:             "BTCUSDT",
		InvestmentPerSplit: 1_000_000,
		MinPrice:           50_000_000,
		MaxPrice:           200_000_000,
		BuyRate:            0.01,
		SellRate:           0.02,
		FeeRate:            0.0005,
		StrategyMode:       models.StrategyModePrice,
		RebuyStrategy:      models.RebuyResetOnClear,
		NextSplitID:        1,
	}
}

func snapAt(price float64) Snapshot {
	return Snapshot{Price: price, Time: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
}

func openSplit(id int, buyPrice float64) *models.Split {
	return &models.Split{
		StrategyID:     "st1",
		SplitID:        id,
		Status:         models.SplitStatusPendingSell,
		BuyPrice:       buyPrice,
		ActualBuyPrice: buyPrice,
		CoinVolume:     0.01,
	}
}

func TestGridLadderExactLevels(t *testing.T) {
	st := gridStrategy()
	splits := []*models.Split{openSplit(1, 100_000_000)}

	// 价格未跌破第一层，不买
	d := Evaluate(st, splits, snapAt(100_000_000))
	assert.Empty(t, d.Buys)

	// 跌到第一层：99,000,000
	d = Evaluate(st, splits, snapAt(99_000_000))
	require.Len(t, d.Buys, 1)
	assert.InDelta(t, 99_000_000, d.Buys[0].Price, 1)

	// 跌到第二层：98,010,000
	splits = append(splits, openSplit(2, d.Buys[0].Price))
	d = Evaluate(st, splits, snapAt(98_010_000))
	require.Len(t, d.Buys, 1)
	assert.InDelta(t, 98_010_000, d.Buys[0].Price, 1)
}

func TestGridMultipleLevelsInOneTick(t *testing.T) {
	st := gridStrategy()
	splits := []*models.Split{openSplit(1, 100_000_000)}

	// 一次跳空跌破两层，两层都要补
	d := Evaluate(st, splits, snapAt(98_000_000))
	require.Len(t, d.Buys, 2)
	assert.InDelta(t, 99_000_000, d.Buys[0].Price, 1)
	assert.InDelta(t, 98_010_000, d.Buys[1].Price, 1)
}

func TestGridRespectsMinPrice(t *testing.T) {
	st := gridStrategy()
	st.MinPrice = 99_500_000
	splits := []*models.Split{openSplit(1, 100_000_000)}

	// 第一层99,000,000已低于min_price，不买
	d := Evaluate(st, splits, snapAt(98_000_000))
	assert.Empty(t, d.Buys)
}

func TestGridEntryOnEmptySet(t *testing.T) {
	st := gridStrategy()

	d := Evaluate(st, nil, snapAt(100_000_000))
	require.Len(t, d.Buys, 1)
	assert.Equal(t, 100_000_000.0, d.Buys[0].Price)
	assert.Equal(t, st.InvestmentPerSplit, d.Buys[0].Amount)

	// 价格超出网格上限时不入场
	d = Evaluate(st, nil, snapAt(250_000_000))
	assert.Empty(t, d.Buys)
}

func TestGridRebuyLastSellPrice(t *testing.T) {
	st := gridStrategy()
	st.RebuyStrategy = models.RebuyLastSellPrice
	st.LastSellPrice = 100_000_000

	// 未跌到上次卖出价的buy_rate以下，等待
	d := Evaluate(st, nil, snapAt(99_500_000))
	assert.Empty(t, d.Buys)

	// 跌破阈值，入场
	d = Evaluate(st, nil, snapAt(99_000_000))
	require.Len(t, d.Buys, 1)
	assert.NotEmpty(t, d.Events)
}

func TestGridRebuyLastBuyPrice(t *testing.T) {
	st := gridStrategy()
	st.RebuyStrategy = models.RebuyLastBuyPrice
	st.LastBuyPrice = 95_000_000

	d := Evaluate(st, nil, snapAt(96_000_000))
	assert.Empty(t, d.Buys)

	d = Evaluate(st, nil, snapAt(94_000_000))
	require.Len(t, d.Buys, 1)
}

func TestGridSegmentOverridesInvestment(t *testing.T) {
	st := gridStrategy()
	st.PriceSegments = []models.PriceSegment{
		{MinPrice: 50_000_000, MaxPrice: 99_500_000, InvestmentPerSplit: 2_000_000, MaxSplits: 1},
		{MinPrice: 99_500_000, MaxPrice: 200_000_000, InvestmentPerSplit: 500_000, MaxSplits: 10},
	}
	splits := []*models.Split{openSplit(1, 100_000_000)}

	// 第一层落在下段，投入金额取段内配置
	d := Evaluate(st, splits, snapAt(99_000_000))
	require.Len(t, d.Buys, 1)
	assert.Equal(t, 2_000_000.0, d.Buys[0].Amount)

	// 段内已满，跳过并记录
	splits = append(splits, openSplit(2, 99_000_000))
	d = Evaluate(st, splits, snapAt(98_010_000))
	assert.Empty(t, d.Buys)
	assert.NotEmpty(t, d.Skips)
}

func TestRiskGateMaxHoldings(t *testing.T) {
	st := gridStrategy()
	st.MaxHoldings = 2
	splits := []*models.Split{openSplit(1, 100_000_000), openSplit(2, 99_000_000)}

	d := Evaluate(st, splits, snapAt(98_010_000))
	assert.Empty(t, d.Buys)
	require.NotEmpty(t, d.Skips)
	assert.Contains(t, d.Skips[0], "max holdings")
}

func TestRiskGateMaxTradesPerDay(t *testing.T) {
	st := gridStrategy()
	st.MaxTradesPerDay = 3
	splits := []*models.Split{openSplit(1, 100_000_000)}

	snap := snapAt(99_000_000)
	snap.TradesToday = 3
	d := Evaluate(st, splits, snap)
	assert.Empty(t, d.Buys)
	require.NotEmpty(t, d.Skips)
	assert.Contains(t, d.Skips[0], "max trades per day")
}

func TestRiskGateStopLoss(t *testing.T) {
	st := gridStrategy()
	st.BuyRate = 0.10
	st.StopLoss = 0.05
	st.MinPrice = 10_000_000
	splits := []*models.Split{openSplit(1, 100_000_000)}

	// 下一层在90M，现价85M已低于90M*(1-5%)，买入会立即触及止损线
	d := Evaluate(st, splits, snapAt(85_000_000))
	assert.Empty(t, d.Buys)
	require.NotEmpty(t, d.Skips)
	assert.Contains(t, d.Skips[0], "stop loss")
}

func TestRSIBuyFiresAtThresholdNotBelow(t *testing.T) {
	st := gridStrategy()
	st.StrategyMode = models.StrategyModeRSI
	st.RSIBuyMax = 30
	st.RSIBuyFirstThreshold = 5
	st.RSIBuyFirstAmount = 1

	// 昨日25，今日29：回升4点，不触发
	snap := snapAt(100_000_000)
	snap.RSIDailyPrev = f64(25)
	snap.RSIDaily = f64(29)
	d := Evaluate(st, nil, snap)
	assert.Empty(t, d.Buys)

	// 今日30：回升5点，触发
	snap.RSIDaily = f64(30)
	d = Evaluate(st, nil, snap)
	require.Len(t, d.Buys, 1)
	assert.True(t, d.Buys[0].UseMarket)
	assert.Equal(t, snap.Date(), d.LastBuyDate)
}

func TestRSIBuyOncePerDay(t *testing.T) {
	st := gridStrategy()
	st.StrategyMode = models.StrategyModeRSI
	st.RSIBuyMax = 30
	st.RSIBuyFirstThreshold = 5
	st.RSIBuyFirstAmount = 1

	snap := snapAt(100_000_000)
	snap.RSIDailyPrev = f64(25)
	snap.RSIDaily = f64(35)

	st.LastBuyDate = snap.Date()
	d := Evaluate(st, nil, snap)
	assert.Empty(t, d.Buys)
}

func TestRSIWarmupSkipsEvaluation(t *testing.T) {
	st := gridStrategy()
	st.StrategyMode = models.StrategyModeRSI
	st.RSIBuyMax = 30
	st.RSIBuyFirstThreshold = 5

	// 指标不可用时不得当作0处理
	snap := snapAt(100_000_000)
	snap.RSIDaily = f64(35)
	d := Evaluate(st, nil, snap)
	assert.Empty(t, d.Buys)
	assert.Empty(t, d.MarketSells)
}

func TestRSISellPercentOfProfitable(t *testing.T) {
	st := gridStrategy()
	st.StrategyMode = models.StrategyModeRSI
	st.RSISellMin = 70
	st.RSISellFirstThreshold = 5
	st.RSISellFirstAmount = 50 // 卖出50%

	splits := []*models.Split{
		openSplit(1, 90_000_000),  // +11.1%
		openSplit(2, 95_000_000),  // +5.3%
		openSplit(3, 99_900_000),  // +0.1%，未达sell_rate
		openSplit(4, 97_000_000),  // +3.1%
	}
	for _, sp := range splits {
		sp.SellOrderUUID = "sell-" + string(rune('0'+sp.SplitID))
	}

	snap := snapAt(100_000_000)
	snap.RSIDailyPrev = f64(75)
	snap.RSIDaily = f64(68)

	d := Evaluate(st, splits, snap)
	// 盈利分仓3个（≥2%），50% = 1.5 → 取整1个，卖收益率最高的
	require.Len(t, d.MarketSells, 1)
	assert.Equal(t, 1, d.MarketSells[0].SplitID)
	assert.Equal(t, "sell-1", d.MarketSells[0].CancelUUID)
	assert.Equal(t, snap.Date(), d.LastSellDate)
}

func TestRSISellNoProfitableIsNoop(t *testing.T) {
	st := gridStrategy()
	st.StrategyMode = models.StrategyModeRSI
	st.RSISellMin = 70
	st.RSISellFirstThreshold = 5
	st.RSISellFirstAmount = 50

	splits := []*models.Split{openSplit(1, 110_000_000)} // 浮亏

	snap := snapAt(100_000_000)
	snap.RSIDailyPrev = f64(75)
	snap.RSIDaily = f64(68)

	d := Evaluate(st, splits, snap)
	assert.Empty(t, d.MarketSells)
	assert.Empty(t, d.LastSellDate)
	assert.NotEmpty(t, d.Skips)
}

func TestWatchModeEnterTrackExit(t *testing.T) {
	st := gridStrategy()
	st.UseTrailingBuy = true
	st.TrailingBuyReboundPercent = 1.0
	st.RSIBuyMax = 30
	splits := []*models.Split{openSplit(1, 100_000_000)}

	// 网格触发且短RSI超卖：进入观察而不是直接买
	snap := snapAt(99_000_000)
	snap.RSIShort = f64(25)
	d := Evaluate(st, splits, snap)
	assert.Empty(t, d.Buys)
	require.NotNil(t, d.Watch)
	assert.True(t, d.Watch.Watching)
	assert.Equal(t, 99_000_000.0, d.Watch.LowestPrice)

	// 观察中继续下跌：更新低点
	st.IsWatching = true
	st.WatchLowestPrice = 99_000_000
	st.PendingBuyUnits = 1
	snap = snapAt(97_000_000)
	d = Evaluate(st, splits, snap)
	assert.Empty(t, d.Buys)
	require.NotNil(t, d.Watch)
	assert.Equal(t, 97_000_000.0, d.Watch.LowestPrice)

	// 反弹1%以上：退出观察并市价买入
	st.WatchLowestPrice = 97_000_000
	snap = snapAt(98_000_000)
	d = Evaluate(st, splits, snap)
	require.NotNil(t, d.Watch)
	assert.False(t, d.Watch.Watching)
	require.Len(t, d.Buys, 1)
	assert.True(t, d.Buys[0].UseMarket)
}

func TestWatchModeBatchAccumulates(t *testing.T) {
	st := gridStrategy()
	st.UseTrailingBuy = true
	st.TrailingBuyBatch = true
	st.TrailingBuyReboundPercent = 1.0
	st.RSIBuyMax = 30
	st.IsWatching = true
	st.WatchLowestPrice = 98_000_000
	st.PendingBuyUnits = 1
	splits := []*models.Split{openSplit(1, 100_000_000)}

	// 观察期间又跌破一层：积累到2个待买单位
	snap := snapAt(97_500_000)
	d := Evaluate(st, splits, snap)
	require.NotNil(t, d.Watch)
	assert.Equal(t, 2, d.Watch.PendingBuyUnits)

	// 反弹后一次性买入2个分仓，追加的标记is_accumulated
	st.PendingBuyUnits = 2
	st.WatchLowestPrice = 97_500_000
	snap = snapAt(98_500_000)
	d = Evaluate(st, splits, snap)
	require.Len(t, d.Buys, 2)
	assert.False(t, d.Buys[0].Accumulated)
	assert.True(t, d.Buys[1].Accumulated)
}

func TestWatchModeWithoutOversoldBuysImmediately(t *testing.T) {
	st := gridStrategy()
	st.UseTrailingBuy = true
	st.RSIBuyMax = 30
	splits := []*models.Split{openSplit(1, 100_000_000)}

	// 短RSI未超卖：不值得等反弹，照常网格买入
	snap := snapAt(99_000_000)
	snap.RSIShort = f64(45)
	d := Evaluate(st, splits, snap)
	require.Len(t, d.Buys, 1)
	assert.Nil(t, d.Watch)
}

func TestSplitLifecycleAndProfitMath(t *testing.T) {
	st := gridStrategy()
	now := time.Now()

	sp := NewSplitFromIntent(st, BuyIntent{Price: 100, Amount: 1000}, 7, now)
	assert.Equal(t, models.SplitStatusPendingBuy, sp.Status)
	assert.Equal(t, 7, sp.SplitID)

	ApplyBuyFill(st, sp, 100, 10, now)
	assert.Equal(t, models.SplitStatusBuyFilled, sp.Status)
	assert.InDelta(t, 102, sp.TargetSellPrice, 1e-9) // 100 * (1 + 0.02)

	ApplySellPlaced(sp, "sell-uuid")
	assert.Equal(t, models.SplitStatusPendingSell, sp.Status)

	trade := CloseSplit(st, sp, 102, now.Add(time.Hour))
	// net = 1020 - 1000 - (1000+1020)*0.0005
	assert.InDelta(t, 1020-1000-(1000+1020)*0.0005, trade.NetProfit, 1e-9)
	assert.InDelta(t, 20, trade.GrossProfit, 1e-9)
	assert.InDelta(t, trade.NetProfit/1000, trade.ProfitRate, 1e-9)
	assert.Equal(t, 7, trade.SplitID)
}

func TestBuyFilledSplitsGetSellPlacement(t *testing.T) {
	st := gridStrategy()
	sp := openSplit(1, 100_000_000)
	sp.Status = models.SplitStatusBuyFilled
	sp.TargetSellPrice = 102_000_000
	sp.CoinVolume = 0.01

	d := Evaluate(st, []*models.Split{sp}, snapAt(100_000_000))
	require.Len(t, d.Sells, 1)
	assert.Equal(t, 102_000_000.0, d.Sells[0].Price)
	assert.Equal(t, 0.01, d.Sells[0].Volume)
}

func TestEvaluateIsPure(t *testing.T) {
	st := gridStrategy()
	splits := []*models.Split{openSplit(1, 100_000_000)}
	snap := snapAt(99_000_000)

	d1 := Evaluate(st, splits, snap)
	d2 := Evaluate(st, splits, snap)
	assert.Equal(t, d1, d2)

	// 入参不被修改
	assert.Equal(t, 1, st.NextSplitID)
	assert.Equal(t, models.SplitStatusPendingSell, splits[0].Status)
}
