package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-orz/orz"
	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/internal/repo"
	"github.com/kimdaeho/sevensplit/internal/xe"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StrategyService 策略生命周期管理：增删改查、重置、状态查询
type StrategyService struct {
	logger *zap.Logger

	*orz.Service
	strategyRepo *repo.StrategyRepo
	splitRepo    *repo.SplitRepo
	tradeRepo    *repo.TradeRepo
	eventRepo    *repo.SystemEventRepo

	gateway exchange.Exchange
}

// NewStrategyService 创建策略服务
func NewStrategyService(db *gorm.DB, gateway exchange.Exchange, logger *zap.Logger) *StrategyService {
	return &StrategyService{
		logger:       logger,
		Service:      orz.NewService(db),
		strategyRepo: repo.NewStrategyRepo(db),
		splitRepo:    repo.NewSplitRepo(db),
		tradeRepo:    repo.NewTradeRepo(db),
		eventRepo:    repo.NewSystemEventRepo(db),
		gateway:      gateway,
	}
}

// StrategyConfig 可调参数全集，更新时整体替换
type StrategyConfig struct {
	Name               string  `json:"name" validate:"required,max=100"`
	Ticker             string  `json:"ticker" validate:"required,max=20"`
	Budget             float64 `json:"budget" validate:"gte=0"`
	InvestmentPerSplit float64 `json:"investment_per_split" validate:"gt=0"`
	MinPrice           float64 `json:"min_price" validate:"gte=0"`
	MaxPrice           float64 `json:"max_price" validate:"gte=0"`
	BuyRate            float64 `json:"buy_rate" validate:"gt=0,lt=1"`
	SellRate           float64 `json:"sell_rate" validate:"gt=0,lt=1"`
	FeeRate            float64 `json:"fee_rate" validate:"gte=0,lt=1"`
	TickInterval       int     `json:"tick_interval" validate:"gte=1"`

	RebuyStrategy   models.RebuyStrategy `json:"rebuy_strategy" validate:"omitempty,oneof=reset_on_clear last_sell_price last_buy_price"`
	MaxTradesPerDay int                  `json:"max_trades_per_day" validate:"gte=0"`
	StrategyMode    models.StrategyMode  `json:"strategy_mode" validate:"omitempty,oneof=PRICE RSI"`

	RSIPeriod             int     `json:"rsi_period" validate:"gte=0"`
	RSITimeframe          string  `json:"rsi_timeframe"`
	RSIBuyMax             float64 `json:"rsi_buy_max" validate:"gte=0,lte=100"`
	RSIBuyFirstThreshold  float64 `json:"rsi_buy_first_threshold" validate:"gte=0"`
	RSIBuyFirstAmount     int     `json:"rsi_buy_first_amount" validate:"gte=0"`
	RSISellMin            float64 `json:"rsi_sell_min" validate:"gte=0,lte=100"`
	RSISellFirstThreshold float64 `json:"rsi_sell_first_threshold" validate:"gte=0"`
	RSISellFirstAmount    float64 `json:"rsi_sell_first_amount" validate:"gte=0,lte=100"`

	StopLoss    float64 `json:"stop_loss" validate:"gte=0,lt=1"`
	MaxHoldings int     `json:"max_holdings" validate:"gte=0"`

	UseTrailingBuy            bool    `json:"use_trailing_buy"`
	TrailingBuyReboundPercent float64 `json:"trailing_buy_rebound_percent" validate:"gte=0"`
	TrailingBuyBatch          bool    `json:"trailing_buy_batch"`

	PriceSegments []models.PriceSegment `json:"price_segments"`
}

// validateConfig 语义校验，echo层的字段校验之外的约束
func validateConfig(cfg *StrategyConfig) error {
	if cfg.MinPrice > 0 && cfg.MaxPrice > 0 && cfg.MinPrice >= cfg.MaxPrice {
		return xe.ErrInvalidPriceRange
	}
	if len(cfg.PriceSegments) > 0 {
		// 分层必须无缝覆盖[min_price, max_price]
		expected := cfg.MinPrice
		for _, seg := range cfg.PriceSegments {
			if seg.MinPrice != expected || seg.MaxPrice <= seg.MinPrice {
				return xe.ErrInvalidSegments
			}
			expected = seg.MaxPrice
		}
		if expected != cfg.MaxPrice {
			return xe.ErrInvalidSegments
		}
	}
	return nil
}

func applyConfig(st *models.Strategy, cfg *StrategyConfig) {
	st.Name = cfg.Name
	st.Ticker = cfg.Ticker
	st.Budget = cfg.Budget
	st.InvestmentPerSplit = cfg.InvestmentPerSplit
	st.MinPrice = cfg.MinPrice
	st.MaxPrice = cfg.MaxPrice
	st.BuyRate = cfg.BuyRate
	st.SellRate = cfg.SellRate
	st.FeeRate = cfg.FeeRate
	st.TickInterval = cfg.TickInterval
	st.RebuyStrategy = cfg.RebuyStrategy
	if st.RebuyStrategy == "" {
		st.RebuyStrategy = models.RebuyResetOnClear
	}
	st.MaxTradesPerDay = cfg.MaxTradesPerDay
	st.StrategyMode = cfg.StrategyMode
	if st.StrategyMode == "" {
		st.StrategyMode = models.StrategyModePrice
	}
	st.RSIPeriod = cfg.RSIPeriod
	st.RSITimeframe = cfg.RSITimeframe
	st.RSIBuyMax = cfg.RSIBuyMax
	st.RSIBuyFirstThreshold = cfg.RSIBuyFirstThreshold
	st.RSIBuyFirstAmount = cfg.RSIBuyFirstAmount
	st.RSISellMin = cfg.RSISellMin
	st.RSISellFirstThreshold = cfg.RSISellFirstThreshold
	st.RSISellFirstAmount = cfg.RSISellFirstAmount
	st.StopLoss = cfg.StopLoss
	st.MaxHoldings = cfg.MaxHoldings
	st.UseTrailingBuy = cfg.UseTrailingBuy
	st.TrailingBuyReboundPercent = cfg.TrailingBuyReboundPercent
	st.TrailingBuyBatch = cfg.TrailingBuyBatch
	st.PriceSegments = cfg.PriceSegments
}

// Create 创建策略
func (s *StrategyService) Create(ctx context.Context, cfg *StrategyConfig) (*models.Strategy, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	st := &models.Strategy{
		ID:          ulid.Make().String(),
		NextSplitID: 1,
	}
	applyConfig(st, cfg)
	if err := s.strategyRepo.Create(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("strategy created",
		zap.String("id", st.ID),
		zap.String("name", st.Name),
		zap.String("ticker", st.Ticker))
	return st, nil
}

// Update 整体替换可调参数。配置错误在这里拒绝，策略状态不变。
func (s *StrategyService) Update(ctx context.Context, id string, cfg *StrategyConfig) (*models.Strategy, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	st, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	applyConfig(st, cfg)
	if err := s.strategyRepo.UpdateById(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("strategy config updated", zap.String("id", id))
	return st, nil
}

// Rename 重命名策略
func (s *StrategyService) Rename(ctx context.Context, id, name string) error {
	st, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	st.Name = name
	return s.strategyRepo.UpdateById(ctx, st)
}

// Delete 删除策略及其全部关联数据，运行中的策略不可删除
func (s *StrategyService) Delete(ctx context.Context, id string) error {
	st, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	if st.IsRunning {
		return xe.ErrStrategyRunning
	}
	return s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.splitRepo.DeleteByStrategyID(ctx, id); err != nil {
			return err
		}
		if err := s.tradeRepo.DeleteByStrategyID(ctx, id); err != nil {
			return err
		}
		if err := s.eventRepo.DeleteByStrategyID(ctx, id); err != nil {
			return err
		}
		return s.strategyRepo.DeleteById(ctx, id)
	})
}

// FindAll 全部策略
func (s *StrategyService) FindAll(ctx context.Context) ([]models.Strategy, error) {
	return s.strategyRepo.FindAll(ctx)
}

// FindByID 按id查找
func (s *StrategyService) FindByID(ctx context.Context, id string) (*models.Strategy, error) {
	return s.findByID(ctx, id)
}

func (s *StrategyService) findByID(ctx context.Context, id string) (*models.Strategy, error) {
	st, err := s.strategyRepo.FindById(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, xe.ErrStrategyNotFound
		}
		return nil, err
	}
	return &st, nil
}

// Reset 重置策略：同步撤掉所有挂单，清空分仓与交易历史，保留账户余额。
// 余额是账户级资源，多个策略可能共用一个模拟账户，因此明确不动。
// NextSplitID不回退，保证分仓编号跨reset仍然唯一。
func (s *StrategyService) Reset(ctx context.Context, id string) error {
	st, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	if st.IsRunning {
		return xe.ErrStrategyRunning
	}

	// 先同步撤单，reset返回后交易所侧不能留下悬挂订单
	splits, err := s.splitRepo.FindByStrategyID(ctx, id)
	if err != nil {
		return err
	}
	for _, sp := range splits {
		for _, uuid := range []string{sp.BuyOrderUUID, sp.SellOrderUUID} {
			if uuid == "" {
				continue
			}
			if _, err := s.gateway.CancelOrder(ctx, uuid); err != nil {
				s.logger.Warn("failed to cancel order during reset",
					zap.String("strategy_id", id),
					zap.String("uuid", uuid),
					zap.Error(err))
			}
		}
	}

	err = s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.splitRepo.DeleteByStrategyID(ctx, id); err != nil {
			return err
		}
		if err := s.tradeRepo.DeleteByStrategyID(ctx, id); err != nil {
			return err
		}
		st.LastBuyPrice = 0
		st.LastSellPrice = 0
		st.LastBuyDate = ""
		st.LastSellDate = ""
		st.IsWatching = false
		st.WatchLowestPrice = 0
		st.PendingBuyUnits = 0
		return s.strategyRepo.UpdateById(ctx, st)
	})
	if err != nil {
		return err
	}

	s.RecordEvent(ctx, id, models.EventLevelInfo, models.EventTypeReset,
		fmt.Sprintf("strategy reset: %d split(s) cleared, balances untouched", len(splits)))
	s.logger.Info("strategy reset", zap.String("id", id), zap.Int("splits_cleared", len(splits)))
	return nil
}

// RecordEvent 写入审计事件，失败只记日志
func (s *StrategyService) RecordEvent(ctx context.Context, strategyID string, level models.EventLevel, eventType, message string) {
	event := &models.SystemEvent{
		ID:         ulid.Make().String(),
		StrategyID: strategyID,
		Level:      level,
		EventType:  eventType,
		Message:    message,
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		s.logger.Error("failed to record system event",
			zap.String("strategy_id", strategyID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// TradesToday 今日交易次数 = 今日新建分仓数 + 今日平仓数
func (s *StrategyService) TradesToday(ctx context.Context, strategyID string, now time.Time) (int, error) {
	date := now.Format("2006-01-02")
	created, err := s.splitRepo.CountCreatedToday(ctx, strategyID, date)
	if err != nil {
		return 0, err
	}
	closed, err := s.tradeRepo.CountClosedToday(ctx, strategyID, date)
	if err != nil {
		return 0, err
	}
	return int(created + closed), nil
}

// WatchStatus 观察状态文案
func WatchStatus(st *models.Strategy, activeSplits int) string {
	switch {
	case !st.IsRunning:
		return "Stopped"
	case st.IsWatching:
		return "Watching"
	case st.MaxHoldings > 0 && activeSplits >= st.MaxHoldings:
		return "Max Limit"
	default:
		return "Normal"
	}
}

// StrategyStatus 状态面板数据
type StrategyStatus struct {
	Strategy     *models.Strategy     `json:"strategy"`
	Price        float64              `json:"price"`
	Splits       []models.Split       `json:"splits"`
	Trades       []models.Trade       `json:"trades"`
	Events       []models.SystemEvent `json:"events"`
	RSIDaily     *float64             `json:"rsi_daily"`
	RSIDailyPrev *float64             `json:"rsi_daily_prev"`
	RSIShort     *float64             `json:"rsi_short"`
	TotalProfit  float64              `json:"total_profit"`
	WatchStatus  string               `json:"watch_status"`
}

// Status 汇总某策略的完整状态
func (s *StrategyService) Status(ctx context.Context, id string, indicators *IndicatorService) (*StrategyStatus, error) {
	st, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	splits, err := s.splitRepo.FindByStrategyID(ctx, id)
	if err != nil {
		return nil, err
	}
	trades, err := s.tradeRepo.FindByStrategyID(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.eventRepo.FindRecentByStrategyID(ctx, id, 50)
	if err != nil {
		return nil, err
	}
	totalProfit, err := s.tradeRepo.SumNetProfit(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &StrategyStatus{
		Strategy:    st,
		Splits:      splits,
		Trades:      trades,
		Events:      events,
		TotalProfit: totalProfit,
		WatchStatus: WatchStatus(st, len(splits)),
	}

	if price, err := s.gateway.CurrentPrice(ctx, st.Ticker); err != nil {
		s.logger.Warn("failed to get current price for status",
			zap.String("ticker", st.Ticker), zap.Error(err))
	} else {
		status.Price = price
	}

	snap, err := indicators.BuildSnapshot(ctx, s.gateway, st, 0)
	if err == nil {
		status.RSIDaily = snap.RSIDaily
		status.RSIDailyPrev = snap.RSIDailyPrev
		status.RSIShort = snap.RSIShort
	}
	return status, nil
}

// ExportTrades 导出交易历史
func (s *StrategyService) ExportTrades(ctx context.Context, id string) ([]models.Trade, error) {
	if _, err := s.findByID(ctx, id); err != nil {
		return nil, err
	}
	return s.tradeRepo.FindByStrategyID(ctx, id)
}
