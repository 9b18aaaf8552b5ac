package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MockStore 模拟账户与订单的持久化接口。传nil则只在内存中运行（测试用）。
type MockStore interface {
	SaveAccount(ctx context.Context, balance *Balance) error
	SaveOrder(ctx context.Context, order *Order) error
	LoadAccounts(ctx context.Context) ([]*Balance, error)
	LoadOpenOrders(ctx context.Context) ([]*Order, error)
}

// MockExchange 模拟撮合引擎，实现Exchange接口。
// 撮合规则：限价买单在 当前价 ≤ 委托价 时全量成交，限价卖单在 当前价 ≥ 委托价 时全量成交，
// 市价单按当前价立即成交。不模拟部分成交。
//
// 价格有两种模式：live（委托PriceSource取真实价格）和held（运营者手动设定，用于确定性测试）。
// 取价路径与撮合路径严格分离：CurrentPrice永远不会触发撮合，
// 撮合只发生在PlaceOrder、SetPrice和后台RefreshPrices里，避免取价时重入撮合造成自引用循环。
type MockExchange struct {
	priceSource PriceSource // live价格来源，可为nil（纯held模式）
	store       MockStore
	logger      *zap.Logger

	feeRate       float64
	quoteCurrency string // 计价货币，如 USDT

	mu         sync.Mutex
	accounts   map[string]*Balance // currency -> balance
	orders     map[string]*Order   // uuid -> order
	heldPrices map[string]float64  // market -> 手动设定价格
}

// NewMockExchange 创建模拟撮合引擎
func NewMockExchange(priceSource PriceSource, store MockStore, feeRate float64, quoteCurrency string, logger *zap.Logger) *MockExchange {
	return &MockExchange{
		priceSource:   priceSource,
		store:         store,
		logger:        logger,
		feeRate:       feeRate,
		quoteCurrency: quoteCurrency,
		accounts:      make(map[string]*Balance),
		orders:        make(map[string]*Order),
		heldPrices:    make(map[string]float64),
	}
}

var _ Exchange = (*MockExchange)(nil)

// Restore 从持久化存储恢复账户与未成交订单，启动时调用一次
func (m *MockExchange) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	accounts, err := m.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mock accounts: %w", err)
	}
	orders, err := m.store.LoadOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mock orders: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range accounts {
		m.accounts[b.Currency] = b
	}
	for _, o := range orders {
		m.orders[o.UUID] = o
	}
	m.logger.Info("mock exchange restored",
		zap.Int("accounts", len(accounts)),
		zap.Int("open_orders", len(orders)))
	return nil
}

// Run 后台撮合循环：定期刷新价格并重新评估所有未成交订单。
// 阻塞直到ctx取消。
func (m *MockExchange) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshPrices(ctx)
		}
	}
}

// RefreshPrices 对每个有未成交订单的市场取一次价并撮合
func (m *MockExchange) RefreshPrices(ctx context.Context) {
	for _, market := range m.openOrderMarkets() {
		price, err := m.CurrentPrice(ctx, market)
		if err != nil {
			m.logger.Warn("failed to refresh mock price",
				zap.String("market", market), zap.Error(err))
			continue
		}
		m.matchOpen(ctx, market, price)
	}
}

func (m *MockExchange) openOrderMarkets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, o := range m.orders {
		if o.State == OrderStateWait {
			seen[o.Market] = struct{}{}
		}
	}
	markets := make([]string, 0, len(seen))
	for market := range seen {
		markets = append(markets, market)
	}
	sort.Strings(markets)
	return markets
}

// CurrentPrice 取当前价。held模式直接返回设定值，live模式委托真实价格源。
// 这条路径绝不触发撮合。
func (m *MockExchange) CurrentPrice(ctx context.Context, market string) (float64, error) {
	m.mu.Lock()
	held, ok := m.heldPrices[market]
	m.mu.Unlock()
	if ok {
		return held, nil
	}
	if m.priceSource == nil {
		return 0, fmt.Errorf("no price available for %s: price not held and no live source", market)
	}
	return m.priceSource.CurrentPrice(ctx, market)
}

// Klines 模拟引擎不自产K线，委托真实价格源
func (m *MockExchange) Klines(ctx context.Context, market string, interval string, limit int) ([]*Kline, error) {
	src, ok := m.priceSource.(interface {
		Klines(ctx context.Context, market string, interval string, limit int) ([]*Kline, error)
	})
	if !ok || src == nil {
		return nil, fmt.Errorf("mock exchange has no kline source")
	}
	return src.Klines(ctx, market, interval, limit)
}

// SetPrice 手动设定价格并进入held模式，随即用新价格撮合该市场的挂单
func (m *MockExchange) SetPrice(ctx context.Context, market string, price float64) {
	m.mu.Lock()
	m.heldPrices[market] = price
	m.mu.Unlock()
	m.logger.Info("mock price held", zap.String("market", market), zap.Float64("price", price))
	m.matchOpen(ctx, market, price)
}

// ReleasePrice 解除held模式，恢复live取价
func (m *MockExchange) ReleasePrice(market string) {
	m.mu.Lock()
	delete(m.heldPrices, market)
	m.mu.Unlock()
	m.logger.Info("mock price released", zap.String("market", market))
}

// IsPriceHeld 查询某市场是否处于held模式
func (m *MockExchange) IsPriceHeld(market string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.heldPrices[market]
	return price, ok
}

// SetBalance 直接设定某币种余额，用于初始化模拟账户
func (m *MockExchange) SetBalance(ctx context.Context, currency string, balance, avgBuyPrice float64) {
	m.mu.Lock()
	b := &Balance{Currency: currency, Balance: balance, AvgBuyPrice: avgBuyPrice}
	m.accounts[currency] = b
	m.mu.Unlock()
	m.persistAccount(ctx, b)
}

// PlaceOrder 下单。资金在下单时锁定，成交或撤单时解锁。
// 下单后立即用当前价尝试撮合一次。
func (m *MockExchange) PlaceOrder(ctx context.Context, market string, side OrderSide, ordType OrderType, price, volume float64) (*Order, error) {
	// 先取价再加锁，避免持锁期间做网络调用
	currentPrice, err := m.CurrentPrice(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("failed to get current price: %w", err)
	}

	m.mu.Lock()
	order, err := m.placeLocked(market, side, ordType, price, volume)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.fillIfMatched(order, currentPrice)
	result := *order
	m.mu.Unlock()

	m.persistOrder(ctx, &result)
	m.persistAffectedAccounts(ctx, market)

	m.logger.Info("mock order placed",
		zap.String("market", market),
		zap.String("side", side.String()),
		zap.String("type", ordType.String()),
		zap.Float64("price", price),
		zap.Float64("volume", volume),
		zap.String("state", result.State.String()),
		zap.String("uuid", result.UUID))
	return &result, nil
}

func (m *MockExchange) placeLocked(market string, side OrderSide, ordType OrderType, price, volume float64) (*Order, error) {
	order := &Order{
		UUID:      uuid.NewString(),
		Market:    market,
		Side:      side,
		Type:      ordType,
		Price:     price,
		Volume:    volume,
		State:     OrderStateWait,
		CreatedAt: time.Now(),
	}

	switch ordType {
	case OrderTypeLimit:
		if price <= 0 || volume <= 0 {
			return nil, fmt.Errorf("limit order requires positive price and volume")
		}
		if side == OrderSideBid {
			order.Locked = price * volume * (1 + m.feeRate)
			if err := m.lock(m.quoteCurrency, order.Locked); err != nil {
				return nil, err
			}
		} else {
			order.Locked = volume
			if err := m.lock(m.baseCurrency(market), volume); err != nil {
				return nil, err
			}
		}
	case OrderTypePrice:
		// 市价买入按金额，price字段承载总金额
		if side != OrderSideBid || price <= 0 {
			return nil, fmt.Errorf("price order requires bid side and positive amount")
		}
		order.Locked = price
		if err := m.lock(m.quoteCurrency, price); err != nil {
			return nil, err
		}
	case OrderTypeMarket:
		// 市价卖出按数量
		if side != OrderSideAsk || volume <= 0 {
			return nil, fmt.Errorf("market order requires ask side and positive volume")
		}
		order.Locked = volume
		if err := m.lock(m.baseCurrency(market), volume); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported order type: %s", ordType)
	}

	m.orders[order.UUID] = order
	return order, nil
}

// matchOpen 用给定价格重新评估某市场的所有挂单
func (m *MockExchange) matchOpen(ctx context.Context, market string, price float64) {
	m.mu.Lock()
	var filled []*Order
	for _, o := range m.orders {
		if o.Market != market || o.State != OrderStateWait {
			continue
		}
		if m.fillIfMatched(o, price) {
			copied := *o
			filled = append(filled, &copied)
		}
	}
	m.mu.Unlock()

	for _, o := range filled {
		m.persistOrder(ctx, o)
	}
	if len(filled) > 0 {
		m.persistAffectedAccounts(ctx, market)
	}
}

// fillIfMatched 按撮合规则判定并成交。必须持有m.mu调用。
// 成交对余额与订单状态是原子的：要么全量成交，要么保持wait。
func (m *MockExchange) fillIfMatched(order *Order, currentPrice float64) bool {
	if order.State != OrderStateWait || currentPrice <= 0 {
		return false
	}

	switch order.Type {
	case OrderTypeLimit:
		if order.Side == OrderSideBid {
			if currentPrice > order.Price {
				return false
			}
			m.fillBuy(order, order.Price, order.Volume)
		} else {
			if currentPrice < order.Price {
				return false
			}
			m.fillSell(order, order.Price, order.Volume)
		}
	case OrderTypePrice:
		// price字段承载买入金额，含手续费反推数量
		volume := order.Price / (currentPrice * (1 + m.feeRate))
		m.fillBuy(order, currentPrice, volume)
	case OrderTypeMarket:
		m.fillSell(order, currentPrice, order.Volume)
	default:
		return false
	}
	return true
}

// fillBuy 买单成交：锁定的计价货币转为基础货币，手续费从锁定额中扣除，
// 成本均价按成交量加权更新。
func (m *MockExchange) fillBuy(order *Order, price, volume float64) {
	quote := m.account(m.quoteCurrency)
	quote.Locked -= order.Locked

	base := m.account(m.baseCurrency(order.Market))
	prevValue := base.Balance * base.AvgBuyPrice
	base.Balance += volume
	if base.Balance > 0 {
		base.AvgBuyPrice = (prevValue + volume*price) / base.Balance
	}

	fee := price * volume * m.feeRate
	order.State = OrderStateDone
	order.ExecutedVolume = volume
	order.ExecutedPrice = price
	order.PaidFee = fee
	order.Locked = 0

	m.logger.Info("mock buy filled",
		zap.String("market", order.Market),
		zap.Float64("price", price),
		zap.Float64("volume", volume),
		zap.Float64("fee", fee),
		zap.String("uuid", order.UUID))
}

// fillSell 卖单成交：锁定的基础货币转为计价货币，手续费从卖出所得中扣除。
// 基础货币清零时成本均价一并清零。
func (m *MockExchange) fillSell(order *Order, price, volume float64) {
	base := m.account(m.baseCurrency(order.Market))
	base.Locked -= volume
	if base.Balance+base.Locked <= 0 {
		base.AvgBuyPrice = 0
	}

	fee := price * volume * m.feeRate
	quote := m.account(m.quoteCurrency)
	quote.Balance += price*volume - fee

	order.State = OrderStateDone
	order.ExecutedVolume = volume
	order.ExecutedPrice = price
	order.PaidFee = fee
	order.Locked = 0

	m.logger.Info("mock sell filled",
		zap.String("market", order.Market),
		zap.Float64("price", price),
		zap.Float64("volume", volume),
		zap.Float64("fee", fee),
		zap.String("uuid", order.UUID))
}

// CancelOrder 撤单并解锁资金。已终态的订单返回错误。
func (m *MockExchange) CancelOrder(ctx context.Context, uuid string) (*Order, error) {
	m.mu.Lock()
	order, ok := m.orders[uuid]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("order not found: %s", uuid)
	}
	if order.State != OrderStateWait {
		m.mu.Unlock()
		return nil, fmt.Errorf("order %s already %s", uuid, order.State)
	}

	if order.Side == OrderSideBid {
		m.unlock(m.quoteCurrency, order.Locked)
	} else {
		m.unlock(m.baseCurrency(order.Market), order.Locked)
	}
	order.State = OrderStateCancel
	order.Locked = 0
	result := *order
	m.mu.Unlock()

	m.persistOrder(ctx, &result)
	m.persistAffectedAccounts(ctx, result.Market)
	m.logger.Info("mock order cancelled", zap.String("uuid", uuid))
	return &result, nil
}

// GetOrder 查询订单
func (m *MockExchange) GetOrder(ctx context.Context, uuid string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[uuid]
	if !ok {
		return nil, fmt.Errorf("order not found: %s", uuid)
	}
	result := *order
	return &result, nil
}

// Balances 返回所有非零账户
func (m *MockExchange) Balances(ctx context.Context) ([]*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balances := make([]*Balance, 0, len(m.accounts))
	for _, b := range m.accounts {
		if b.Balance == 0 && b.Locked == 0 {
			continue
		}
		copied := *b
		balances = append(balances, &copied)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances, nil
}

// account 返回币种账户，不存在则创建。必须持有m.mu调用。
func (m *MockExchange) account(currency string) *Balance {
	b, ok := m.accounts[currency]
	if !ok {
		b = &Balance{Currency: currency}
		m.accounts[currency] = b
	}
	return b
}

func (m *MockExchange) lock(currency string, amount float64) error {
	b := m.account(currency)
	if b.Balance < amount {
		return fmt.Errorf("insufficient %s balance: required %.8f, available %.8f", currency, amount, b.Balance)
	}
	b.Balance -= amount
	b.Locked += amount
	return nil
}

func (m *MockExchange) unlock(currency string, amount float64) {
	b := m.account(currency)
	b.Locked -= amount
	b.Balance += amount
}

// baseCurrency 从市场符号推导基础货币：BTCUSDT -> BTC
func (m *MockExchange) baseCurrency(market string) string {
	if base, ok := strings.CutSuffix(market, m.quoteCurrency); ok && base != "" {
		return base
	}
	return market
}

func (m *MockExchange) persistOrder(ctx context.Context, order *Order) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveOrder(ctx, order); err != nil {
		m.logger.Error("failed to persist mock order",
			zap.String("uuid", order.UUID), zap.Error(err))
	}
}

func (m *MockExchange) persistAccount(ctx context.Context, b *Balance) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveAccount(ctx, b); err != nil {
		m.logger.Error("failed to persist mock account",
			zap.String("currency", b.Currency), zap.Error(err))
	}
}

func (m *MockExchange) persistAffectedAccounts(ctx context.Context, market string) {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	var snapshot []*Balance
	for _, currency := range []string{m.quoteCurrency, m.baseCurrency(market)} {
		if b, ok := m.accounts[currency]; ok {
			copied := *b
			snapshot = append(snapshot, &copied)
		}
	}
	m.mu.Unlock()
	for _, b := range snapshot {
		if err := m.store.SaveAccount(ctx, b); err != nil {
			m.logger.Error("failed to persist mock account",
				zap.String("currency", b.Currency), zap.Error(err))
		}
	}
}
