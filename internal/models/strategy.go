package models

import (
	"time"

	"gorm.io/datatypes"
)

// StrategyMode 策略模式
type StrategyMode string

const (
	StrategyModePrice StrategyMode = "PRICE" // 经典价格网格
	StrategyModeRSI   StrategyMode = "RSI"   // RSI日线反转
)

// RebuyStrategy 全部分仓平仓后的再入场规则
type RebuyStrategy string

const (
	RebuyResetOnClear  RebuyStrategy = "reset_on_clear"  // 以当前市价重新入场
	RebuyLastSellPrice RebuyStrategy = "last_sell_price" // 等价格跌破上次卖出价的buy_rate
	RebuyLastBuyPrice  RebuyStrategy = "last_buy_price"  // 等价格跌破历史最低买入价
)

// PriceSegment 分层网格区间。区间必须连续覆盖[min_price, max_price]，
// 区间内的investment_per_split与max_splits覆盖策略级设置。
type PriceSegment struct {
	MinPrice           float64 `json:"min_price"`
	MaxPrice           float64 `json:"max_price"`
	InvestmentPerSplit float64 `json:"investment_per_split"`
	MaxSplits          int     `json:"max_splits"`
}

// Strategy 一个配置好的策略实例，对应一个独立的tick循环
type Strategy struct {
	ID     string `gorm:"primaryKey;size:26" json:"id"`
	Name   string `gorm:"size:100;not null" json:"name"`
	Ticker string `gorm:"size:20;not null;index" json:"ticker"` // 交易对，如 BTCUSDT

	// 资金与网格参数
	Budget             float64 `json:"budget"`
	InvestmentPerSplit float64 `json:"investment_per_split"`
	MinPrice           float64 `json:"min_price"`
	MaxPrice           float64 `json:"max_price"`
	BuyRate            float64 `json:"buy_rate"`  // 网格间距，如0.01 = 1%
	SellRate           float64 `json:"sell_rate"` // 止盈幅度
	FeeRate            float64 `json:"fee_rate"`
	TickInterval       int     `json:"tick_interval"` // tick周期，秒

	RebuyStrategy   RebuyStrategy `gorm:"size:20;not null;default:'reset_on_clear'" json:"rebuy_strategy"`
	MaxTradesPerDay int           `json:"max_trades_per_day"`
	StrategyMode    StrategyMode  `gorm:"size:10;not null;default:'PRICE'" json:"strategy_mode"`

	// RSI参数
	RSIPeriod            int     `json:"rsi_period"`
	RSITimeframe         string  `gorm:"size:10" json:"rsi_timeframe"` // 短周期RSI的K线周期，如 15m
	RSIBuyMax            float64 `json:"rsi_buy_max"`                  // 超卖门槛
	RSIBuyFirstThreshold float64 `json:"rsi_buy_first_threshold"`     // 日内回升触发幅度
	RSIBuyFirstAmount    int     `json:"rsi_buy_first_amount"`        // 触发时买入的分仓数

	RSISellMin            float64 `json:"rsi_sell_min"`             // 超买门槛
	RSISellFirstThreshold float64 `json:"rsi_sell_first_threshold"` // 日内回落触发幅度
	RSISellFirstAmount    float64 `json:"rsi_sell_first_amount"`    // 卖出的盈利分仓百分比

	// 风控
	StopLoss    float64 `json:"stop_loss"` // 相对成本的止损比例，如0.1 = -10%
	MaxHoldings int     `json:"max_holdings"`

	// 追踪买入（仅PRICE模式）
	UseTrailingBuy            bool    `json:"use_trailing_buy"`
	TrailingBuyReboundPercent float64 `json:"trailing_buy_rebound_percent"`
	TrailingBuyBatch          bool    `json:"trailing_buy_batch"` // 积累跳过的网格层级一次性买入

	PriceSegments datatypes.JSONSlice[PriceSegment] `gorm:"type:json" json:"price_segments"`

	// 运行状态。NextSplitID严格递增且跨reset不重置，保证分仓审计唯一性。
	IsRunning        bool    `gorm:"not null;default:false" json:"is_running"`
	NextSplitID      int     `gorm:"not null;default:1" json:"next_split_id"`
	LastBuyPrice     float64 `json:"last_buy_price"`
	LastSellPrice    float64 `json:"last_sell_price"`
	LastBuyDate      string  `gorm:"size:10" json:"last_buy_date"`  // YYYY-MM-DD，RSI模式每日限一次
	LastSellDate     string  `gorm:"size:10" json:"last_sell_date"` // YYYY-MM-DD
	IsWatching       bool    `gorm:"not null;default:false" json:"is_watching"`
	WatchLowestPrice float64 `json:"watch_lowest_price"`
	PendingBuyUnits  int     `json:"pending_buy_units"` // 观察期间跳过的网格层级数

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Strategy) TableName() string {
	return "strategy"
}

// SegmentFor 返回当前价格所在的分层区间，未配置分层或价格越界时返回nil
func (s *Strategy) SegmentFor(price float64) *PriceSegment {
	for i := range s.PriceSegments {
		seg := &s.PriceSegments[i]
		if price >= seg.MinPrice && price < seg.MaxPrice {
			return seg
		}
	}
	return nil
}
