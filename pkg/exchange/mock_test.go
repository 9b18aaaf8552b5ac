package exchange

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMock(t *testing.T) *MockExchange {
	t.Helper()
	m := NewMockExchange(nil, nil, 0.0005, "USDT", zap.NewNop())
	m.SetBalance(context.Background(), "USDT", 10_000_000, 0)
	return m
}

func TestMockLimitBuyFillsOnlyWhenPriceAtOrBelow(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t)
	m.SetPrice(ctx, "BTCUSDT", 110)

	order, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideBid, OrderTypeLimit, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, OrderStateWait, order.State)

	// 价格高于委托价，不成交
	m.SetPrice(ctx, "BTCUSDT", 101)
	got, err := m.GetOrder(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, OrderStateWait, got.State)

	// 价格触及委托价，成交
	m.SetPrice(ctx, "BTCUSDT", 100)
	got, err = m.GetOrder(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, OrderStateDone, got.State)
	assert.Equal(t, 100.0, got.ExecutedPrice)
	assert.Equal(t, 1.0, got.ExecutedVolume)
}

func TestMockLimitBuyDebitIsExact(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t)
	m.SetPrice(ctx, "BTCUSDT", 100)

	_, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideBid, OrderTypeLimit, 100, 2)
	require.NoError(t, err)

	balances, err := m.Balances(ctx)
	require.NoError(t, err)

	var usdt, btc *Balance
	for _, b := range balances {
		switch b.Currency {
		case "USDT":
			usdt = b
		case "BTC":
			btc = b
		}
	}
	require.NotNil(t, usdt)
	require.NotNil(t, btc)

	// 扣款 = volume * price * (1 + fee_rate)
	expected := 10_000_000 - 2*100*(1+0.0005)
	assert.InDelta(t, expected, usdt.Balance, 1e-9)
	assert.Equal(t, 0.0, usdt.Locked)
	assert.Equal(t, 2.0, btc.Balance)
	assert.Equal(t, 100.0, btc.AvgBuyPrice)
}

func TestMockLimitSellFillsOnlyWhenPriceAtOrAbove(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t)
	m.SetBalance(ctx, "BTC", 1, 100)
	m.SetPrice(ctx, "BTCUSDT", 100)

	order, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideAsk, OrderTypeLimit, 110, 1)
	require.NoError(t, err)
	assert.Equal(t, OrderStateWait, order.State)

	m.SetPrice(ctx, "BTCUSDT", 109)
	got, err := m.GetOrder(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, OrderStateWait, got.State)

	m.SetPrice(ctx, "BTCUSDT", 110)
	got, err = m.GetOrder(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, OrderStateDone, got.State)

	balances, err := m.Balances(ctx)
	require.NoError(t, err)
	for _, b := range balances {
		if b.Currency == "USDT" {
			// 卖出所得 = volume * price * (1 - fee_rate)
			expected := 10_000_000 + 110*(1-0.0005)
			assert.InDelta(t, expected, b.Balance, 1e-9)
		}
		// 持仓清零后成本均价归零
		assert.NotEqual(t, "BTC", b.Currency)
	}
}

func TestMockAvgBuyPriceVolumeWeighted(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t)

	m.SetPrice(ctx, "BTCUSDT", 100)
	_, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideBid, OrderTypeLimit, 100, 1)
	require.NoError(t, err)

	m.SetPrice(ctx, "BTCUSDT", 50)
	_, err = m.PlaceOrder(ctx, "BTCUSDT", OrderSideBid, OrderTypeLimit, 50, 3)
	require.NoError(t, err)

	balances, err := m.Balances(ctx)
	require.NoError(t, err)
	for _, b := range balances {
		if b.Currency == "BTC" {
			assert.Equal(t, 4.0, b.Balance)
			// (1*100 + 3*50) / 4 = 62.5
			assert.InDelta(t, 62.5, b.AvgBuyPrice, 1e-9)
		}
	}
}

func TestMockMarketOrders(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t)
	m.SetPrice(ctx, "BTCUSDT", 200)

	// 市价买入按金额：price字段承载总金额，立即成交
	buy, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideBid, OrderTypePrice, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, OrderStateDone, buy.State)
	// 含手续费反推数量：1000 / (200 * 1.0005)
	assert.InDelta(t, 1000/(200*1.0005), buy.ExecutedVolume, 1e-9)

	// 市价卖出按数量
	sell, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideAsk, OrderTypeMarket, 0, buy.ExecutedVolume)
	require.NoError(t, err)
	assert.Equal(t, OrderStateDone, sell.State)
	assert.Equal(t, 200.0, sell.ExecutedPrice)
}

func TestMockCancelUnlocksFunds(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t)
	m.SetPrice(ctx, "BTCUSDT", 200)

	order, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideBid, OrderTypeLimit, 100, 1)
	require.NoError(t, err)
	require.Equal(t, OrderStateWait, order.State)

	cancelled, err := m.CancelOrder(ctx, order.UUID)
	require.NoError(t, err)
	assert.Equal(t, OrderStateCancel, cancelled.State)

	balances, err := m.Balances(ctx)
	require.NoError(t, err)
	for _, b := range balances {
		if b.Currency == "USDT" {
			assert.Equal(t, 10_000_000.0, b.Balance)
			assert.Equal(t, 0.0, b.Locked)
		}
	}

	// 终态订单不可再撤
	_, err = m.CancelOrder(ctx, order.UUID)
	assert.Error(t, err)
}

func TestMockInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMockExchange(nil, nil, 0.0005, "USDT", zap.NewNop())
	m.SetBalance(ctx, "USDT", 100, 0)
	m.SetPrice(ctx, "BTCUSDT", 200)

	_, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideBid, OrderTypeLimit, 200, 1)
	assert.Error(t, err)

	// 失败的下单不留痕迹
	balances, err := m.Balances(ctx)
	require.NoError(t, err)
	for _, b := range balances {
		if b.Currency == "USDT" {
			assert.Equal(t, 100.0, b.Balance)
			assert.Equal(t, 0.0, b.Locked)
		}
	}
}

func TestMockConcurrentFillsNoLostUpdate(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t)
	m.SetPrice(ctx, "BTCUSDT", 100)

	// 两个策略并发市价买入，共享同一账户
	const workers = 8
	const amountEach = 1000.0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.PlaceOrder(ctx, "BTCUSDT", OrderSideBid, OrderTypePrice, amountEach, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balances, err := m.Balances(ctx)
	require.NoError(t, err)
	for _, b := range balances {
		if b.Currency == "USDT" {
			assert.InDelta(t, 10_000_000-workers*amountEach, b.Balance, 1e-6)
		}
		if b.Currency == "BTC" {
			assert.InDelta(t, workers*amountEach/(100*1.0005), b.Balance, 1e-6)
		}
	}
}

func TestMockHeldPriceOverridesLiveSource(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t)

	// 无live源且未held时取价失败
	_, err := m.CurrentPrice(ctx, "BTCUSDT")
	assert.Error(t, err)

	m.SetPrice(ctx, "BTCUSDT", 12345)
	price, err := m.CurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 12345.0, price)

	held, ok := m.IsPriceHeld("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 12345.0, held)

	m.ReleasePrice("BTCUSDT")
	_, ok = m.IsPriceHeld("BTCUSDT")
	assert.False(t, ok)
}
