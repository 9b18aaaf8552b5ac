package engine

import (
	"fmt"

	"github.com/kimdaeho/sevensplit/internal/models"
)

// 单次评估最多跨越的网格层数，防止异常价格输入导致失控循环
const maxLevelsPerTick = 100

// 层价比较的相对容差，抵消乘法链的浮点误差
const priceEpsilon = 1e-9

// evaluateGrid 经典价格网格。
// 空仓时按rebuy_strategy选择入场价；持仓时每当价格跌破
// 最低买入价的buy_rate幅度就再开一个分仓，直到min_price为止。
func evaluateGrid(st *models.Strategy, splits []*models.Split, snap Snapshot, d *Decisions) {
	if len(splits) == 0 && !st.IsWatching {
		entry, ok := entryPrice(st, snap, d)
		if !ok {
			return
		}
		if st.UseTrailingBuy {
			evaluateWatch(st, splits, snap, []float64{entry}, d)
			return
		}
		tryGridBuy(st, splits, snap, entry, d)
		return
	}

	levels := crossedLevels(st, splits, snap)
	if st.UseTrailingBuy {
		evaluateWatch(st, splits, snap, levels, d)
		return
	}
	for _, level := range levels {
		tryGridBuy(st, splits, snap, level, d)
	}
}

// entryPrice 空仓时的入场判定
func entryPrice(st *models.Strategy, snap Snapshot, d *Decisions) (float64, bool) {
	if st.MinPrice > 0 && snap.Price < st.MinPrice {
		return 0, false
	}
	if st.MaxPrice > 0 && snap.Price > st.MaxPrice {
		return 0, false
	}

	switch st.RebuyStrategy {
	case models.RebuyLastSellPrice:
		if st.LastSellPrice > 0 {
			threshold := st.LastSellPrice * (1 - st.BuyRate)
			if snap.Price > threshold {
				return 0, false
			}
			d.event(models.EventLevelInfo, models.EventTypeRebuyTrigger,
				fmt.Sprintf("price %.8g fell below last sell price threshold %.8g", snap.Price, threshold))
		}
	case models.RebuyLastBuyPrice:
		if st.LastBuyPrice > 0 {
			if snap.Price >= st.LastBuyPrice {
				return 0, false
			}
			d.event(models.EventLevelInfo, models.EventTypeRebuyTrigger,
				fmt.Sprintf("price %.8g fell below lowest buy price %.8g", snap.Price, st.LastBuyPrice))
		}
	}
	return snap.Price, true
}

// crossedLevels 计算当前价已跌破的网格层价，从高到低排列。
// 每层价 = 上一层 * (1 - buy_rate)，以在场最低买入价为基准。
func crossedLevels(st *models.Strategy, splits []*models.Split, snap Snapshot) []float64 {
	base := lowestBuyPrice(splits)
	if base == 0 {
		base = st.LastBuyPrice
	}
	if base == 0 || st.BuyRate <= 0 {
		return nil
	}

	var levels []float64
	trigger := base * (1 - st.BuyRate)
	for len(levels) < maxLevelsPerTick {
		if st.MinPrice > 0 && trigger < st.MinPrice {
			break
		}
		if snap.Price > trigger*(1+priceEpsilon) {
			break
		}
		levels = append(levels, trigger)
		trigger *= 1 - st.BuyRate
	}
	return levels
}

// tryGridBuy 在指定网格层开一个分仓，经过分层区间与风控闸门
func tryGridBuy(st *models.Strategy, splits []*models.Split, snap Snapshot, level float64, d *Decisions) {
	if st.MinPrice > 0 && level < st.MinPrice {
		return
	}

	amount := st.InvestmentPerSplit
	if seg := st.SegmentFor(level); seg != nil {
		if seg.MaxSplits > 0 && segmentSplitCount(splits, seg)+pendingBuysInSegment(d, seg) >= seg.MaxSplits {
			d.skip(fmt.Sprintf("segment [%.8g, %.8g) split limit reached: %d",
				seg.MinPrice, seg.MaxPrice, seg.MaxSplits))
			return
		}
		if seg.InvestmentPerSplit > 0 {
			amount = seg.InvestmentPerSplit
		}
	}

	if !passRiskChecks(st, splits, snap, level, d) {
		return
	}

	d.Buys = append(d.Buys, BuyIntent{Price: level, Amount: amount})
}

func pendingBuysInSegment(d *Decisions, seg *models.PriceSegment) int {
	count := 0
	for _, b := range d.Buys {
		if b.Price >= seg.MinPrice && b.Price < seg.MaxPrice {
			count++
		}
	}
	return count
}
