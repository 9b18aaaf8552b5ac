package exchange

import "time"

// 通用交易类型定义，独立于任何特定交易所。
// 策略引擎只依赖这里的类型，真实交易所与模拟撮合引擎都实现同一套接口。

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBid OrderSide = "bid" // 买入
	OrderSideAsk OrderSide = "ask" // 卖出
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"  // 限价单
	OrderTypePrice  OrderType = "price"  // 市价买入（按金额）
	OrderTypeMarket OrderType = "market" // 市价卖出（按数量）
)

// OrderState 订单状态。done/cancel 为终态，订单进入终态后不再变化。
type OrderState string

const (
	OrderStateWait   OrderState = "wait"
	OrderStateDone   OrderState = "done"
	OrderStateCancel OrderState = "cancel"
)

func (s OrderSide) String() string {
	return string(s)
}

func (t OrderType) String() string {
	return string(t)
}

func (s OrderState) String() string {
	return string(s)
}

// Order 订单
type Order struct {
	UUID           string     `json:"uuid"`
	Market         string     `json:"market"`
	Side           OrderSide  `json:"side"`
	Type           OrderType  `json:"ord_type"`
	Price          float64    `json:"price"`
	Volume         float64    `json:"volume"`
	State          OrderState `json:"state"`
	ExecutedVolume float64    `json:"executed_volume"`
	ExecutedPrice  float64    `json:"executed_price"`
	PaidFee        float64    `json:"paid_fee"`
	Locked         float64    `json:"locked"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Balance 账户单币种余额
type Balance struct {
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
	Locked      float64 `json:"locked"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
}

// Kline K线数据。Time 为归一化后的开盘时间（秒级Unix时间戳）。
type Kline struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}
