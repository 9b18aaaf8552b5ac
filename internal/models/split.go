package models

import "time"

// SplitStatus 分仓状态机。
// PENDING_BUY --买入成交--> BUY_FILLED --挂出卖单--> PENDING_SELL --卖出成交--> 删除并写入Trade。
// 不存在其他状态转移；成交前撤单直接删除分仓，不产生Trade。
type SplitStatus string

const (
	SplitStatusPendingBuy  SplitStatus = "PENDING_BUY"
	SplitStatusBuyFilled   SplitStatus = "BUY_FILLED"
	SplitStatusPendingSell SplitStatus = "PENDING_SELL"
)

// Split 一个在场的分仓。终态对象：平仓即删除，绝不复用。
type Split struct {
	ID         string      `gorm:"primaryKey;size:26" json:"id"`
	StrategyID string      `gorm:"size:26;not null;index" json:"strategy_id"`
	SplitID    int         `gorm:"not null" json:"split_id"` // 策略内编号，来自Strategy.NextSplitID
	Status     SplitStatus `gorm:"size:20;not null" json:"status"`

	BuyPrice         float64 `json:"buy_price"`        // 触发买入的网格价
	ActualBuyPrice   float64 `json:"actual_buy_price"` // 实际成交均价
	TargetSellPrice  float64 `json:"target_sell_price"`
	InvestmentAmount float64 `json:"investment_amount"`
	CoinVolume       float64 `json:"coin_volume"`

	IsAccumulated bool     `gorm:"not null;default:false" json:"is_accumulated"` // 批量补买产生
	BuyRSI        *float64 `json:"buy_rsi"`                                      // 成交时的RSI，非RSI模式为nil

	BuyOrderUUID  string     `gorm:"size:64" json:"buy_order_uuid"`
	SellOrderUUID string     `gorm:"size:64" json:"sell_order_uuid"`
	BuyFilledAt   *time.Time `json:"buy_filled_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Split) TableName() string {
	return "split"
}

// UnrealizedRate 按当前价计算未实现收益率
func (s *Split) UnrealizedRate(currentPrice float64) float64 {
	if s.ActualBuyPrice == 0 {
		return 0
	}
	return (currentPrice - s.ActualBuyPrice) / s.ActualBuyPrice
}
