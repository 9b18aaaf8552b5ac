package exchange

import "context"

// Exchange 交易所网关接口，真实交易所客户端与模拟撮合引擎都实现它。
// 策略引擎只面向这个接口编程，保证真实/模拟两种模式下决策逻辑完全一致。
type Exchange interface {
	// 市场数据
	CurrentPrice(ctx context.Context, market string) (float64, error)
	Klines(ctx context.Context, market string, interval string, limit int) ([]*Kline, error)

	// 订单操作
	PlaceOrder(ctx context.Context, market string, side OrderSide, ordType OrderType, price, volume float64) (*Order, error)
	CancelOrder(ctx context.Context, uuid string) (*Order, error)
	GetOrder(ctx context.Context, uuid string) (*Order, error)

	// 账户信息
	Balances(ctx context.Context) ([]*Balance, error)
}

// PriceSource 实时价格来源。模拟撮合引擎在live价格模式下委托它取价，
// 与撮合路径分离以避免取价时重入撮合逻辑。
type PriceSource interface {
	CurrentPrice(ctx context.Context, market string) (float64, error)
}
