package models

import "time"

// Trade 一次完整平仓的不可变记录，分仓关闭时写入一次，此后不再修改
type Trade struct {
	ID         string `gorm:"primaryKey;size:26" json:"id"`
	StrategyID string `gorm:"size:26;not null;index" json:"strategy_id"`
	Ticker     string `gorm:"size:20;not null" json:"ticker"`
	SplitID    int    `gorm:"not null" json:"split_id"`

	BuyPrice   float64 `json:"buy_price"`
	SellPrice  float64 `json:"sell_price"`
	CoinVolume float64 `json:"coin_volume"`
	BuyAmount  float64 `json:"buy_amount"`
	SellAmount float64 `json:"sell_amount"`

	GrossProfit float64 `json:"gross_profit"`
	TotalFee    float64 `json:"total_fee"`
	NetProfit   float64 `json:"net_profit"`
	ProfitRate  float64 `json:"profit_rate"`

	BoughtAt time.Time `json:"bought_at"`
	SoldAt   time.Time `gorm:"index" json:"sold_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (Trade) TableName() string {
	return "trade"
}
