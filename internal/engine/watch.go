package engine

import (
	"fmt"

	"github.com/kimdaeho/sevensplit/internal/models"
)

// evaluateWatch 追踪买入：网格触发时不立即买入，而是在短周期RSI超卖时
// 进入观察状态，跟踪观察期间的最低价，等价格从低点反弹
// trailing_buy_rebound_percent后再买入，避免单纯因为价位被击穿就买进
// 仍在下跌的市场。levels为本次评估中已被跌破的网格层。
func evaluateWatch(st *models.Strategy, splits []*models.Split, snap Snapshot, levels []float64, d *Decisions) {
	if st.IsWatching {
		lowest := st.WatchLowestPrice
		if lowest == 0 || snap.Price < lowest {
			lowest = snap.Price
		}

		// 观察期间继续累积被跌破的层级，批量模式下反弹时一次性补齐
		pending := st.PendingBuyUnits
		if pending == 0 {
			pending = 1
		}
		if st.TrailingBuyBatch && len(levels) > pending {
			pending = len(levels)
		}

		rebound := lowest * (1 + st.TrailingBuyReboundPercent/100)
		if snap.Price >= rebound {
			exitWatchAndBuy(st, splits, snap, pending, lowest, d)
			return
		}

		d.Watch = &WatchUpdate{Watching: true, LowestPrice: lowest, PendingBuyUnits: pending}
		return
	}

	if len(levels) == 0 {
		return
	}

	// 短周期RSI超卖说明市场可能仍在下跌，进入观察而不是直接接刀
	if snap.RSIShort != nil && *snap.RSIShort < st.RSIBuyMax {
		units := 1
		if st.TrailingBuyBatch {
			units = len(levels)
		}
		d.Watch = &WatchUpdate{Watching: true, LowestPrice: snap.Price, PendingBuyUnits: units}
		d.event(models.EventLevelInfo, models.EventTypeWatchEnter,
			fmt.Sprintf("entering watch mode at %.8g (rsi %.2f < %.2f)", snap.Price, *snap.RSIShort, st.RSIBuyMax))
		return
	}

	// RSI不可用或未超卖：按普通网格直接买入
	for _, level := range levels {
		tryGridBuy(st, splits, snap, level, d)
	}
}

// exitWatchAndBuy 反弹确认，退出观察并按金额市价买入
func exitWatchAndBuy(st *models.Strategy, splits []*models.Split, snap Snapshot, units int, lowest float64, d *Decisions) {
	d.Watch = &WatchUpdate{Watching: false}
	d.event(models.EventLevelInfo, models.EventTypeWatchExit,
		fmt.Sprintf("rebound %.2f%% from low %.8g, buying %d split(s) at %.8g",
			st.TrailingBuyReboundPercent, lowest, units, snap.Price))

	if !st.TrailingBuyBatch {
		units = 1
	}
	for i := 0; i < units; i++ {
		if !passRiskChecks(st, splits, snap, snap.Price, d) {
			return
		}
		d.Buys = append(d.Buys, BuyIntent{
			Amount:      st.InvestmentPerSplit,
			UseMarket:   true,
			Accumulated: i > 0,
			BuyRSI:      snap.RSIShort,
		})
	}
}
