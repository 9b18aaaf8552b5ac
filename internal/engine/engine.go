package engine

import (
	"time"

	"github.com/kimdaeho/sevensplit/internal/models"
)

// Snapshot 一次评估所需的全部市场输入。指标指针为nil表示warm-up未完成，
// 评估时跳过依赖该指标的规则，绝不把nil当作0或中性值。
type Snapshot struct {
	Price float64
	Time  time.Time

	RSIDaily     *float64 // 今日进行中的日线RSI
	RSIDailyPrev *float64 // 昨日已确认的日线RSI
	RSIShort     *float64 // 短周期RSI，追踪买入用

	TradesToday int // 今日已发生的交易次数（新建分仓+平仓）
}

// Date 快照所在的日历日，YYYY-MM-DD
func (s Snapshot) Date() string {
	return s.Time.Format("2006-01-02")
}

// BuyIntent 新建一个分仓的买入意图
type BuyIntent struct {
	Price       float64  // 网格触发价；市价买入时为0
	Amount      float64  // 投入金额（计价货币）
	UseMarket   bool     // 市价按金额买入
	Accumulated bool     // 批量补买产生的追加分仓
	BuyRSI      *float64 // 触发时的RSI
}

// SellPlacement 为已成交分仓挂限价止盈卖单
type SellPlacement struct {
	SplitID int
	Price   float64
	Volume  float64
}

// MarketSell 市价卖出一个在场分仓，若已有限价卖单需先撤单
type MarketSell struct {
	SplitID    int
	CancelUUID string // 待撤的限价卖单uuid，可为空
}

// WatchUpdate 追踪买入状态变更
type WatchUpdate struct {
	Watching        bool
	LowestPrice     float64
	PendingBuyUnits int
}

// EventIntent 需要写入审计日志的事件
type EventIntent struct {
	Level   models.EventLevel
	Type    string
	Message string
}

// Decisions 一次评估的全部产出。纯数据，由调用方负责执行。
type Decisions struct {
	Buys        []BuyIntent
	Sells       []SellPlacement
	MarketSells []MarketSell

	// 状态变更，空值表示不变
	LastBuyDate  string
	LastSellDate string
	Watch        *WatchUpdate

	Events []EventIntent
	Skips  []string
}

func (d *Decisions) event(level models.EventLevel, eventType, message string) {
	d.Events = append(d.Events, EventIntent{Level: level, Type: eventType, Message: message})
}

func (d *Decisions) skip(reason string) {
	d.Skips = append(d.Skips, reason)
	d.event(models.EventLevelWarn, models.EventTypeRiskSkip, reason)
}

// Evaluate 对一个策略做一次完整的规则评估。
// 纯函数：相同的(strategy, splits, snapshot)永远产生相同的决策，
// 不做I/O、不读时钟、不修改入参，因此实时循环与回测可以共享同一套判定。
func Evaluate(st *models.Strategy, splits []*models.Split, snap Snapshot) Decisions {
	var d Decisions
	if snap.Price <= 0 {
		return d
	}

	// 已成交的分仓先补挂止盈卖单，与买入判定无关
	for _, sp := range splits {
		if sp.Status == models.SplitStatusBuyFilled {
			d.Sells = append(d.Sells, SellPlacement{
				SplitID: sp.SplitID,
				Price:   sp.TargetSellPrice,
				Volume:  sp.CoinVolume,
			})
		}
	}

	switch st.StrategyMode {
	case models.StrategyModeRSI:
		evaluateRSI(st, splits, snap, &d)
	default:
		evaluateGrid(st, splits, snap, &d)
	}
	return d
}

// activeCount 在场分仓数
func activeCount(splits []*models.Split) int {
	return len(splits)
}

// lowestBuyPrice 在场分仓中最低的网格买入价，无分仓时返回0
func lowestBuyPrice(splits []*models.Split) float64 {
	lowest := 0.0
	for _, sp := range splits {
		if lowest == 0 || sp.BuyPrice < lowest {
			lowest = sp.BuyPrice
		}
	}
	return lowest
}

// segmentSplitCount 统计买入价落在区间内的分仓数
func segmentSplitCount(splits []*models.Split, seg *models.PriceSegment) int {
	count := 0
	for _, sp := range splits {
		if sp.BuyPrice >= seg.MinPrice && sp.BuyPrice < seg.MaxPrice {
			count++
		}
	}
	return count
}
