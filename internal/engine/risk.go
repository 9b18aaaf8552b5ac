package engine

import (
	"fmt"

	"github.com/kimdaeho/sevensplit/internal/models"
)

// passRiskChecks 任何买入前的风控闸门，与规则变体无关。
// candidatePrice为拟买入的网格价（市价买入传当前价）。
// 不通过时记录skip事件并返回false，绝不作为错误向上抛。
func passRiskChecks(st *models.Strategy, splits []*models.Split, snap Snapshot, candidatePrice float64, d *Decisions) bool {
	if st.StopLoss > 0 && candidatePrice > 0 {
		// 按当前价衡量，候选分仓一成交即触及止损线则不买
		if snap.Price <= candidatePrice*(1-st.StopLoss) {
			d.skip(fmt.Sprintf("stop loss would be breached: price %.8g vs candidate %.8g (stop %.2f%%)",
				snap.Price, candidatePrice, st.StopLoss*100))
			return false
		}
	}
	if st.MaxHoldings > 0 && activeCount(splits)+len(d.Buys) >= st.MaxHoldings {
		d.skip(fmt.Sprintf("max holdings reached: %d", st.MaxHoldings))
		return false
	}
	if st.MaxTradesPerDay > 0 && snap.TradesToday+len(d.Buys) >= st.MaxTradesPerDay {
		d.skip(fmt.Sprintf("max trades per day reached: %d", st.MaxTradesPerDay))
		return false
	}
	return true
}
