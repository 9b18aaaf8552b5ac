package models

import "time"

// MockOrder 模拟撮合引擎的订单。wait -> done | cancel，进入终态后不可变。
type MockOrder struct {
	UUID           string    `gorm:"primaryKey;size:64" json:"uuid"`
	Market         string    `gorm:"size:20;not null;index" json:"market"`
	Side           string    `gorm:"size:10;not null" json:"side"`     // bid/ask
	OrdType        string    `gorm:"size:10;not null" json:"ord_type"` // limit/price/market
	Price          float64   `json:"price"`
	Volume         float64   `json:"volume"`
	State          string    `gorm:"size:10;not null;index" json:"state"` // wait/done/cancel
	ExecutedVolume float64   `json:"executed_volume"`
	ExecutedPrice  float64   `json:"executed_price"`
	PaidFee        float64   `json:"paid_fee"`
	Locked         float64   `json:"locked"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (MockOrder) TableName() string {
	return "mock_order"
}
