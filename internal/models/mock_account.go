package models

import "time"

// MockAccount 模拟账户单币种余额。余额账户级共享，不随策略reset清空。
type MockAccount struct {
	Currency    string    `gorm:"primaryKey;size:20" json:"currency"`
	Balance     float64   `json:"balance"`
	Locked      float64   `json:"locked"`
	AvgBuyPrice float64   `json:"avg_buy_price"` // 买入成交时按量加权更新，卖出不变
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (MockAccount) TableName() string {
	return "mock_account"
}
