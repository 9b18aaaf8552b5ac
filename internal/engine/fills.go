package engine

import (
	"time"

	"github.com/kimdaeho/sevensplit/internal/models"
)

// 成交后的状态推进与盈亏计算。实时循环、模拟撮合与回测都走这里，
// 保证三种驱动方式下的利润口径完全一致。

// ApplyBuyFill 买入成交：PENDING_BUY -> BUY_FILLED，记录实际成交价并计算止盈目标。
// 止盈目标以网格触发价为基准：target = buy_price * (1 + sell_rate)。
func ApplyBuyFill(st *models.Strategy, split *models.Split, executedPrice, executedVolume float64, filledAt time.Time) {
	split.Status = models.SplitStatusBuyFilled
	split.ActualBuyPrice = executedPrice
	split.CoinVolume = executedVolume
	if split.BuyPrice == 0 {
		// 市价买入没有预设网格价，以成交价为基准
		split.BuyPrice = executedPrice
	}
	split.TargetSellPrice = split.BuyPrice * (1 + st.SellRate)
	split.BuyFilledAt = &filledAt
}

// ApplySellPlaced 卖单已挂出：BUY_FILLED -> PENDING_SELL
func ApplySellPlaced(split *models.Split, sellOrderUUID string) {
	split.Status = models.SplitStatusPendingSell
	split.SellOrderUUID = sellOrderUUID
}

// CloseSplit 卖出成交，分仓关闭，生成不可变的Trade记录。
// 净收益 = 卖出总额 − 买入总额 − (买入总额+卖出总额) × fee_rate。
func CloseSplit(st *models.Strategy, split *models.Split, sellPrice float64, soldAt time.Time) *models.Trade {
	volume := split.CoinVolume
	buyTotal := split.ActualBuyPrice * volume
	sellTotal := sellPrice * volume
	gross := sellTotal - buyTotal
	fee := (buyTotal + sellTotal) * st.FeeRate
	net := gross - fee

	rate := 0.0
	if buyTotal > 0 {
		rate = net / buyTotal
	}

	boughtAt := soldAt
	if split.BuyFilledAt != nil {
		boughtAt = *split.BuyFilledAt
	}

	return &models.Trade{
		StrategyID:  st.ID,
		Ticker:      st.Ticker,
		SplitID:     split.SplitID,
		BuyPrice:    split.ActualBuyPrice,
		SellPrice:   sellPrice,
		CoinVolume:  volume,
		BuyAmount:   buyTotal,
		SellAmount:  sellTotal,
		GrossProfit: gross,
		TotalFee:    fee,
		NetProfit:   net,
		ProfitRate:  rate,
		BoughtAt:    boughtAt,
		SoldAt:      soldAt,
	}
}

// NewSplitFromIntent 按买入意图创建分仓，分仓编号来自策略的单调计数器
func NewSplitFromIntent(st *models.Strategy, intent BuyIntent, splitID int, createdAt time.Time) *models.Split {
	return &models.Split{
		StrategyID:       st.ID,
		SplitID:          splitID,
		Status:           models.SplitStatusPendingBuy,
		BuyPrice:         intent.Price,
		InvestmentAmount: intent.Amount,
		IsAccumulated:    intent.Accumulated,
		BuyRSI:           intent.BuyRSI,
		CreatedAt:        createdAt,
	}
}
