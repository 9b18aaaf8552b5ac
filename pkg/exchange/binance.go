package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// BinanceClient Binance现货API客户端，实现Exchange接口。
// 网络/API瞬时错误在这一层带退避重试，上层只会看到成功结果或类型化错误。
type BinanceClient struct {
	client *binance.Client
	logger *zap.Logger

	retryAttempts int
	retryDelay    time.Duration
}

// NewBinanceClient 创建Binance现货客户端
func NewBinanceClient(apiKey, secretKey, proxyURL string, testnet bool, logger *zap.Logger) *BinanceClient {
	var client *binance.Client
	if proxyURL != "" {
		client = binance.NewProxiedClient(apiKey, secretKey, proxyURL)
	} else {
		client = binance.NewClient(apiKey, secretKey)
	}

	if testnet {
		binance.UseTestnet = true
	}

	return &BinanceClient{
		client:        client,
		logger:        logger,
		retryAttempts: 3,
		retryDelay:    500 * time.Millisecond,
	}
}

var _ Exchange = (*BinanceClient)(nil)

// withRetry 指数退避重试。只重试瞬时错误，context取消立即返回。
func (b *BinanceClient) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := b.retryDelay
	for attempt := 0; attempt < b.retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("exchange call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CurrentPrice 获取最新成交价
func (b *BinanceClient) CurrentPrice(ctx context.Context, market string) (float64, error) {
	var price float64
	err := b.withRetry(ctx, "current price", func() error {
		prices, err := b.client.NewListPricesService().Symbol(market).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("no price returned for %s", market)
		}
		price, err = strconv.ParseFloat(prices[0].Price, 64)
		return err
	})
	return price, err
}

// Klines 获取K线数据，时间戳归一化为秒
func (b *BinanceClient) Klines(ctx context.Context, market string, interval string, limit int) ([]*Kline, error) {
	var result []*Kline
	err := b.withRetry(ctx, "klines", func() error {
		klines, err := b.client.NewKlinesService().
			Symbol(market).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return err
		}
		result = convertKlines(klines)
		return nil
	})
	return result, err
}

// KlinesRange 向过去分页拉取K线，直到凑满count根或数据耗尽。
// 游标为上一批最旧K线的开盘时间；批量不足或游标重复时终止，防止无限翻页。
func (b *BinanceClient) KlinesRange(ctx context.Context, market string, interval string, count int) ([]*Kline, error) {
	const batchSize = 1000

	var all []*Kline
	var to int64 // 毫秒游标，0表示从最新开始
	var prevOldest int64
	for len(all) < count {
		limit := count - len(all)
		if limit > batchSize {
			limit = batchSize
		}
		svc := b.client.NewKlinesService().Symbol(market).Interval(interval).Limit(limit)
		if to > 0 {
			svc = svc.EndTime(to)
		}
		var batch []*binance.Kline
		err := b.withRetry(ctx, "klines range", func() error {
			var err error
			batch, err = svc.Do(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		oldest := batch[0].OpenTime
		if prevOldest != 0 && oldest == prevOldest {
			b.logger.Warn("kline pagination cursor did not advance, stopping",
				zap.String("market", market), zap.Int64("cursor", oldest))
			break
		}
		prevOldest = oldest

		all = append(convertKlines(batch), all...)
		if len(batch) < limit {
			break
		}
		to = oldest - 1
	}
	return all, nil
}

func convertKlines(klines []*binance.Kline) []*Kline {
	result := make([]*Kline, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		result = append(result, &Kline{
			Time:   NormalizeTimestamp(k.OpenTime),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return result
}

// PlaceOrder 下单。Binance需要symbol+orderId才能查单，
// 因此UUID编码为 "market:orderId"，GetOrder/CancelOrder负责解析。
func (b *BinanceClient) PlaceOrder(ctx context.Context, market string, side OrderSide, ordType OrderType, price, volume float64) (*Order, error) {
	svc := b.client.NewCreateOrderService().Symbol(market)

	if side == OrderSideBid {
		svc = svc.Side(binance.SideTypeBuy)
	} else {
		svc = svc.Side(binance.SideTypeSell)
	}

	switch ordType {
	case OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatFloat(price)).
			Quantity(formatFloat(volume))
	case OrderTypePrice:
		// 市价买入按金额：price字段承载总金额
		svc = svc.Type(binance.OrderTypeMarket).QuoteOrderQty(formatFloat(price))
	case OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket).Quantity(formatFloat(volume))
	default:
		return nil, fmt.Errorf("unsupported order type: %s", ordType)
	}

	var res *binance.CreateOrderResponse
	err := b.withRetry(ctx, "place order", func() error {
		var err error
		res, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	executed, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	order := &Order{
		UUID:           fmt.Sprintf("%s:%d", market, res.OrderID),
		Market:         market,
		Side:           side,
		Type:           ordType,
		Price:          price,
		Volume:         volume,
		State:          convertOrderStatus(res.Status),
		ExecutedVolume: executed,
		CreatedAt:      time.UnixMilli(res.TransactTime),
	}
	b.logger.Info("order placed",
		zap.String("market", market),
		zap.String("side", side.String()),
		zap.String("type", ordType.String()),
		zap.String("uuid", order.UUID))
	return order, nil
}

// CancelOrder 撤单
func (b *BinanceClient) CancelOrder(ctx context.Context, uuid string) (*Order, error) {
	market, orderID, err := parseOrderUUID(uuid)
	if err != nil {
		return nil, err
	}
	var res *binance.CancelOrderResponse
	err = b.withRetry(ctx, "cancel order", func() error {
		var err error
		res, err = b.client.NewCancelOrderService().Symbol(market).OrderID(orderID).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	price, _ := strconv.ParseFloat(res.Price, 64)
	volume, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	executed, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	return &Order{
		UUID:           uuid,
		Market:         market,
		Side:           convertSide(res.Side),
		Price:          price,
		Volume:         volume,
		State:          OrderStateCancel,
		ExecutedVolume: executed,
	}, nil
}

// GetOrder 查询订单状态
func (b *BinanceClient) GetOrder(ctx context.Context, uuid string) (*Order, error) {
	market, orderID, err := parseOrderUUID(uuid)
	if err != nil {
		return nil, err
	}
	var res *binance.Order
	err = b.withRetry(ctx, "get order", func() error {
		var err error
		res, err = b.client.NewGetOrderService().Symbol(market).OrderID(orderID).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	price, _ := strconv.ParseFloat(res.Price, 64)
	volume, _ := strconv.ParseFloat(res.OrigQuantity, 64)
	executed, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	quote, _ := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64)

	order := &Order{
		UUID:           uuid,
		Market:         market,
		Side:           convertSide(res.Side),
		Price:          price,
		Volume:         volume,
		State:          convertOrderStatus(res.Status),
		ExecutedVolume: executed,
		CreatedAt:      time.UnixMilli(res.Time),
	}
	if executed > 0 && quote > 0 {
		order.ExecutedPrice = quote / executed
	} else {
		order.ExecutedPrice = price
	}
	return order, nil
}

// Balances 获取账户余额。现货账户没有成本均价，AvgBuyPrice恒为0。
func (b *BinanceClient) Balances(ctx context.Context) ([]*Balance, error) {
	var account *binance.Account
	err := b.withRetry(ctx, "balances", func() error {
		var err error
		account, err = b.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	balances := make([]*Balance, 0, len(account.Balances))
	for _, bal := range account.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, &Balance{
			Currency: bal.Asset,
			Balance:  free,
			Locked:   locked,
		})
	}
	return balances, nil
}

func parseOrderUUID(uuid string) (string, int64, error) {
	parts := strings.SplitN(uuid, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed order uuid: %s", uuid)
	}
	orderID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed order uuid: %s", uuid)
	}
	return parts[0], orderID, nil
}

func convertOrderStatus(status binance.OrderStatusType) OrderState {
	switch status {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return OrderStateWait
	case binance.OrderStatusTypeFilled:
		return OrderStateDone
	default:
		return OrderStateCancel
	}
}

func convertSide(side binance.SideType) OrderSide {
	if side == binance.SideTypeBuy {
		return OrderSideBid
	}
	return OrderSideAsk
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
