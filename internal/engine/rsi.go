package engine

import (
	"fmt"
	"sort"

	"github.com/kimdaeho/sevensplit/internal/models"
)

// evaluateRSI RSI日线反转。
// 以昨日已确认的日线RSI作为超卖/超买闸门，以今日进行中的RSI相对
// 昨日的变动幅度作为触发条件：等完整日线收盘会错过当日反转，
// 而只看盘中值又太噪，两者结合才稳。买卖各自每个日历日最多触发一次。
func evaluateRSI(st *models.Strategy, splits []*models.Split, snap Snapshot, d *Decisions) {
	if snap.RSIDaily == nil || snap.RSIDailyPrev == nil {
		return
	}
	today := snap.Date()
	prev := *snap.RSIDailyPrev
	current := *snap.RSIDaily

	// 买入：昨日超卖且今日RSI已回升到位
	if st.LastBuyDate != today &&
		prev < st.RSIBuyMax &&
		current-prev >= st.RSIBuyFirstThreshold {
		rsiBuy(st, splits, snap, current, d)
	}

	// 卖出：昨日超买且今日RSI已回落到位
	if st.LastSellDate != today &&
		prev > st.RSISellMin &&
		prev-current >= st.RSISellFirstThreshold {
		rsiSell(st, splits, snap, d)
	}
}

func rsiBuy(st *models.Strategy, splits []*models.Split, snap Snapshot, rsi float64, d *Decisions) {
	amount := st.RSIBuyFirstAmount
	if amount <= 0 {
		amount = 1
	}
	bought := 0
	for i := 0; i < amount; i++ {
		if !passRiskChecks(st, splits, snap, snap.Price, d) {
			break
		}
		rsiValue := rsi
		d.Buys = append(d.Buys, BuyIntent{
			Amount:      st.InvestmentPerSplit,
			UseMarket:   true,
			Accumulated: i > 0,
			BuyRSI:      &rsiValue,
		})
		bought++
	}
	if bought > 0 {
		d.LastBuyDate = snap.Date()
		d.event(models.EventLevelInfo, models.EventTypeBuyPlaced,
			fmt.Sprintf("rsi reversal buy: %d split(s), rsi %.2f (prev %.2f)", bought, rsi, *snap.RSIDailyPrev))
	}
}

// rsiSell 市价卖出一部分盈利分仓：未实现收益率达到sell_rate的分仓
// 按收益率从高到低排序，卖出rsi_sell_first_amount百分比，
// 百分比取整后为0但大于0%时至少卖1个。没有盈利分仓时跳过并记录，不报错。
func rsiSell(st *models.Strategy, splits []*models.Split, snap Snapshot, d *Decisions) {
	var profitable []*models.Split
	for _, sp := range splits {
		if sp.Status == models.SplitStatusPendingSell && sp.UnrealizedRate(snap.Price) >= st.SellRate {
			profitable = append(profitable, sp)
		}
	}
	if len(profitable) == 0 {
		d.skip("rsi reversal sell: no profitable splits")
		return
	}
	if st.RSISellFirstAmount <= 0 {
		d.skip("rsi reversal sell: sell amount percent is zero")
		return
	}

	sort.Slice(profitable, func(i, j int) bool {
		return profitable[i].UnrealizedRate(snap.Price) > profitable[j].UnrealizedRate(snap.Price)
	})

	count := int(float64(len(profitable)) * st.RSISellFirstAmount / 100)
	if count == 0 {
		count = 1
	}
	if count > len(profitable) {
		count = len(profitable)
	}

	for _, sp := range profitable[:count] {
		d.MarketSells = append(d.MarketSells, MarketSell{
			SplitID:    sp.SplitID,
			CancelUUID: sp.SellOrderUUID,
		})
	}
	d.LastSellDate = snap.Date()
	d.event(models.EventLevelInfo, models.EventTypeSellPlaced,
		fmt.Sprintf("rsi reversal sell: %d of %d profitable split(s)", count, len(profitable)))
}
