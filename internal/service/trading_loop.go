package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-orz/orz"
	"github.com/kimdaeho/sevensplit/internal/engine"
	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/internal/notify"
	"github.com/kimdaeho/sevensplit/internal/repo"
	"github.com/kimdaeho/sevensplit/internal/telegram"
	"github.com/kimdaeho/sevensplit/internal/xe"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 连续tick失败达到该次数后策略自动停止，避免状态与交易所持续漂移
const maxConsecutiveFailures = 5

// TradingLoop 实时交易调度器：每个运行中的策略一个独立goroutine，
// 按策略自己的tick_interval驱动。tick不可重入——循环体跑完一轮
// （评估 -> 交易所调用 -> 持久化 -> 推送）才消费下一个tick，
// 保证永远不会基于写了一半的分仓集做评估。
type TradingLoop struct {
	logger *zap.Logger

	*orz.Service
	strategyRepo *repo.StrategyRepo
	splitRepo    *repo.SplitRepo
	tradeRepo    *repo.TradeRepo

	strategyService *StrategyService
	indicators      *IndicatorService
	gateway         exchange.Exchange
	hub             *notify.Hub
	notifier        *telegram.Notifier

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	failures map[string]int
}

// NewTradingLoop 创建交易调度器
func NewTradingLoop(
	db *gorm.DB,
	strategyService *StrategyService,
	indicators *IndicatorService,
	gateway exchange.Exchange,
	hub *notify.Hub,
	notifier *telegram.Notifier,
	logger *zap.Logger,
) *TradingLoop {
	return &TradingLoop{
		logger:          logger,
		Service:         orz.NewService(db),
		strategyRepo:    repo.NewStrategyRepo(db),
		splitRepo:       repo.NewSplitRepo(db),
		tradeRepo:       repo.NewTradeRepo(db),
		strategyService: strategyService,
		indicators:      indicators,
		gateway:         gateway,
		hub:             hub,
		notifier:        notifier,
		running:         make(map[string]context.CancelFunc),
		failures:        make(map[string]int),
	}
}

// ResumeAll 启动时恢复所有标记为运行中的策略
func (t *TradingLoop) ResumeAll(ctx context.Context) error {
	strategies, err := t.strategyRepo.FindRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to load running strategies: %w", err)
	}
	for i := range strategies {
		t.spawn(ctx, strategies[i].ID, strategies[i].TickInterval)
	}
	t.logger.Info("trading loops resumed", zap.Int("count", len(strategies)))
	return nil
}

// Start 启动一个策略的tick循环
func (t *TradingLoop) Start(ctx context.Context, strategyID string) error {
	st, err := t.strategyService.FindByID(ctx, strategyID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if _, ok := t.running[strategyID]; ok {
		t.mu.Unlock()
		return xe.ErrStrategyRunning
	}
	t.mu.Unlock()

	if err := t.strategyRepo.UpdateRunning(ctx, strategyID, true); err != nil {
		return err
	}
	t.spawn(ctx, strategyID, st.TickInterval)
	t.logger.Info("strategy started",
		zap.String("id", strategyID),
		zap.String("ticker", st.Ticker),
		zap.Int("tick_interval", st.TickInterval))
	return nil
}

// Stop 停止一个策略。is_running先落库，进行中的tick跑完后goroutine退出，
// 不会留下下到一半的订单。
func (t *TradingLoop) Stop(ctx context.Context, strategyID string) error {
	if err := t.strategyRepo.UpdateRunning(ctx, strategyID, false); err != nil {
		return err
	}

	t.mu.Lock()
	cancel, ok := t.running[strategyID]
	if ok {
		delete(t.running, strategyID)
	}
	t.mu.Unlock()
	if !ok {
		return xe.ErrStrategyNotRunning
	}
	cancel()
	t.logger.Info("strategy stopped", zap.String("id", strategyID))
	return nil
}

// IsRunning 查询某策略的循环是否在跑
func (t *TradingLoop) IsRunning(strategyID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.running[strategyID]
	return ok
}

// Shutdown 停掉所有循环
func (t *TradingLoop) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, cancel := range t.running {
		cancel()
		delete(t.running, id)
	}
	t.logger.Info("all trading loops stopped")
}

func (t *TradingLoop) spawn(ctx context.Context, strategyID string, tickInterval int) {
	if tickInterval <= 0 {
		tickInterval = 10
	}
	loopCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.running[strategyID] = cancel
	t.failures[strategyID] = 0
	t.mu.Unlock()

	go t.runLoop(loopCtx, strategyID, time.Duration(tickInterval)*time.Second)
}

func (t *TradingLoop) runLoop(ctx context.Context, strategyID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.ExecuteTick(ctx, strategyID); err != nil {
				t.onTickFailure(ctx, strategyID, err)
			} else {
				t.mu.Lock()
				t.failures[strategyID] = 0
				t.mu.Unlock()
			}
		}
	}
}

func (t *TradingLoop) onTickFailure(ctx context.Context, strategyID string, err error) {
	if ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	t.failures[strategyID]++
	count := t.failures[strategyID]
	t.mu.Unlock()

	t.logger.Error("tick failed",
		zap.String("strategy_id", strategyID),
		zap.Int("consecutive_failures", count),
		zap.Error(err))

	if count >= maxConsecutiveFailures {
		msg := fmt.Sprintf("strategy stopped after %d consecutive tick failures: %v", count, err)
		t.strategyService.RecordEvent(ctx, strategyID, models.EventLevelError, models.EventTypeStopped, msg)
		if stopErr := t.Stop(ctx, strategyID); stopErr != nil {
			t.logger.Error("failed to stop failing strategy",
				zap.String("strategy_id", strategyID), zap.Error(stopErr))
		}
	}
}

// ExecuteTick 一个完整tick：同步订单状态 -> 构建快照 -> 纯函数评估 ->
// 执行决策 -> 落库 -> 推送。持久化失败会让整个tick判为失败，
// 否则本地状态会与交易所的真实订单状态漂移。
func (t *TradingLoop) ExecuteTick(ctx context.Context, strategyID string) error {
	st, err := t.strategyService.FindByID(ctx, strategyID)
	if err != nil {
		return err
	}
	if !st.IsRunning {
		return nil
	}

	// 1. 把交易所侧的成交结果同步回分仓状态机
	if err := t.syncOrders(ctx, st); err != nil {
		return fmt.Errorf("failed to sync orders: %w", err)
	}

	splits, err := t.splitRepo.FindByStrategyID(ctx, strategyID)
	if err != nil {
		return err
	}
	splitPtrs := make([]*models.Split, len(splits))
	for i := range splits {
		splitPtrs[i] = &splits[i]
	}

	// 2. 市场快照与指标
	tradesToday, err := t.strategyService.TradesToday(ctx, strategyID, time.Now())
	if err != nil {
		return err
	}
	snap, err := t.indicators.BuildSnapshot(ctx, t.gateway, st, tradesToday)
	if err != nil {
		return fmt.Errorf("failed to build snapshot: %w", err)
	}

	// 3. 纯函数评估
	decisions := engine.Evaluate(st, splitPtrs, snap)

	// 4. 执行决策并落库
	if err := t.applyDecisions(ctx, st, splitPtrs, snap, decisions); err != nil {
		return err
	}

	// 5. 推送快照，失败不影响tick
	t.hub.BroadcastStrategy(strategyID, map[string]interface{}{
		"price":        snap.Price,
		"splits":       len(splitPtrs) + len(decisions.Buys),
		"watch_status": WatchStatus(st, len(splitPtrs)),
	})
	return nil
}

// syncOrders 轮询未终结订单：买单成交推进到BUY_FILLED，
// 卖单成交关闭分仓并写Trade。单个分仓严格按
// 买挂出 -> 买成交 -> 卖挂出 -> 卖成交 -> 记录交易 的顺序推进。
func (t *TradingLoop) syncOrders(ctx context.Context, st *models.Strategy) error {
	splits, err := t.splitRepo.FindByStrategyID(ctx, st.ID)
	if err != nil {
		return err
	}

	dirty := false
	for i := range splits {
		sp := &splits[i]
		switch sp.Status {
		case models.SplitStatusPendingBuy:
			if sp.BuyOrderUUID == "" {
				continue
			}
			order, err := t.gateway.GetOrder(ctx, sp.BuyOrderUUID)
			if err != nil {
				t.logger.Warn("failed to query buy order",
					zap.String("uuid", sp.BuyOrderUUID), zap.Error(err))
				continue
			}
			switch order.State {
			case exchange.OrderStateDone:
				engine.ApplyBuyFill(st, sp, order.ExecutedPrice, order.ExecutedVolume, time.Now())
				if err := t.splitRepo.UpdateById(ctx, sp); err != nil {
					return err
				}
				st.LastBuyPrice = sp.BuyPrice
				dirty = true
				t.strategyService.RecordEvent(ctx, st.ID, models.EventLevelInfo, models.EventTypeBuyFilled,
					fmt.Sprintf("split #%d buy filled at %.8g, volume %.8f", sp.SplitID, order.ExecutedPrice, order.ExecutedVolume))
			case exchange.OrderStateCancel:
				// 成交前被撤：分仓直接移除，不产生Trade
				if err := t.splitRepo.DeleteById(ctx, sp.ID); err != nil {
					return err
				}
			}

		case models.SplitStatusPendingSell:
			if sp.SellOrderUUID == "" {
				continue
			}
			order, err := t.gateway.GetOrder(ctx, sp.SellOrderUUID)
			if err != nil {
				t.logger.Warn("failed to query sell order",
					zap.String("uuid", sp.SellOrderUUID), zap.Error(err))
				continue
			}
			if order.State != exchange.OrderStateDone {
				continue
			}

			trade := engine.CloseSplit(st, sp, order.ExecutedPrice, time.Now())
			trade.ID = ulid.Make().String()
			err = t.Transaction(ctx, func(ctx context.Context) error {
				if err := t.tradeRepo.Create(ctx, trade); err != nil {
					return err
				}
				return t.splitRepo.DeleteById(ctx, sp.ID)
			})
			if err != nil {
				return err
			}
			st.LastSellPrice = order.ExecutedPrice
			st.LastSellDate = time.Now().Format("2006-01-02")
			dirty = true
			t.strategyService.RecordEvent(ctx, st.ID, models.EventLevelInfo, models.EventTypeTradeClosed,
				fmt.Sprintf("split #%d closed: net profit %.2f (%.2f%%)", sp.SplitID, trade.NetProfit, trade.ProfitRate*100))
			t.notifier.TradeClosed(st, trade)
		}
	}

	if dirty {
		return t.strategyRepo.UpdateById(ctx, st)
	}
	return nil
}

// applyDecisions 把纯函数产出的决策落到交易所与数据库
func (t *TradingLoop) applyDecisions(ctx context.Context, st *models.Strategy, splits []*models.Split, snap engine.Snapshot, d engine.Decisions) error {
	dirty := false

	// BUY_FILLED的分仓补挂限价止盈卖单
	for _, sell := range d.Sells {
		sp := findSplit(splits, sell.SplitID)
		if sp == nil {
			continue
		}
		order, err := t.gateway.PlaceOrder(ctx, st.Ticker, exchange.OrderSideAsk, exchange.OrderTypeLimit, sell.Price, sell.Volume)
		if err != nil {
			t.logger.Warn("failed to place sell order",
				zap.Int("split_id", sell.SplitID), zap.Error(err))
			continue
		}
		engine.ApplySellPlaced(sp, order.UUID)
		if err := t.splitRepo.UpdateById(ctx, sp); err != nil {
			return err
		}
		t.strategyService.RecordEvent(ctx, st.ID, models.EventLevelInfo, models.EventTypeSellPlaced,
			fmt.Sprintf("split #%d sell placed at %.8g", sell.SplitID, sell.Price))
	}

	// RSI反转的市价卖出：先撤原限价卖单再按数量市价卖
	for _, ms := range d.MarketSells {
		sp := findSplit(splits, ms.SplitID)
		if sp == nil {
			continue
		}
		if ms.CancelUUID != "" {
			if _, err := t.gateway.CancelOrder(ctx, ms.CancelUUID); err != nil {
				t.logger.Warn("failed to cancel sell order before market sell",
					zap.String("uuid", ms.CancelUUID), zap.Error(err))
				continue
			}
		}
		order, err := t.gateway.PlaceOrder(ctx, st.Ticker, exchange.OrderSideAsk, exchange.OrderTypeMarket, 0, sp.CoinVolume)
		if err != nil {
			t.logger.Warn("failed to place market sell",
				zap.Int("split_id", ms.SplitID), zap.Error(err))
			continue
		}
		sp.SellOrderUUID = order.UUID
		sp.Status = models.SplitStatusPendingSell
		if err := t.splitRepo.UpdateById(ctx, sp); err != nil {
			return err
		}
	}

	// 新开分仓
	for _, buy := range d.Buys {
		var order *exchange.Order
		var err error
		if buy.UseMarket {
			order, err = t.gateway.PlaceOrder(ctx, st.Ticker, exchange.OrderSideBid, exchange.OrderTypePrice, buy.Amount, 0)
		} else {
			order, err = t.gateway.PlaceOrder(ctx, st.Ticker, exchange.OrderSideBid, exchange.OrderTypeLimit, buy.Price, buy.Amount/buy.Price)
		}
		if err != nil {
			t.logger.Warn("failed to place buy order",
				zap.Float64("price", buy.Price), zap.Error(err))
			continue
		}

		sp := engine.NewSplitFromIntent(st, buy, st.NextSplitID, time.Now())
		sp.ID = ulid.Make().String()
		sp.BuyOrderUUID = order.UUID
		st.NextSplitID++
		if buy.Price > 0 {
			st.LastBuyPrice = buy.Price
		} else {
			st.LastBuyPrice = snap.Price
		}
		dirty = true
		if err := t.splitRepo.Create(ctx, sp); err != nil {
			return err
		}
		t.strategyService.RecordEvent(ctx, st.ID, models.EventLevelInfo, models.EventTypeBuyPlaced,
			fmt.Sprintf("split #%d buy placed, amount %.2f", sp.SplitID, buy.Amount))
	}

	// 观察状态与每日限频标记
	if d.Watch != nil {
		st.IsWatching = d.Watch.Watching
		st.WatchLowestPrice = d.Watch.LowestPrice
		st.PendingBuyUnits = d.Watch.PendingBuyUnits
		dirty = true
	}
	if d.LastBuyDate != "" {
		st.LastBuyDate = d.LastBuyDate
		dirty = true
	}
	if d.LastSellDate != "" {
		st.LastSellDate = d.LastSellDate
		dirty = true
	}

	for _, ev := range d.Events {
		t.strategyService.RecordEvent(ctx, st.ID, ev.Level, ev.Type, ev.Message)
		t.notifier.Event(st, ev.Level, ev.Type, ev.Message)
	}

	if dirty {
		return t.strategyRepo.UpdateById(ctx, st)
	}
	return nil
}

func findSplit(splits []*models.Split, splitID int) *models.Split {
	for _, sp := range splits {
		if sp.SplitID == splitID {
			return sp
		}
	}
	return nil
}
