package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kimdaeho/sevensplit/internal/notify"
	"github.com/kimdaeho/sevensplit/internal/service"
	"github.com/kimdaeho/sevensplit/internal/xe"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// TradingHandler 策略控制面：增删改查、启停、重置、回测、模拟盘运维
type TradingHandler struct {
	logger *zap.Logger

	strategyService *service.StrategyService
	backtestService *service.BacktestService
	indicators      *service.IndicatorService
	tradingLoop     *service.TradingLoop
	hub             *notify.Hub

	// 模拟盘专用端点的依据，real模式下为nil
	mock *exchange.MockExchange
}

// NewTradingHandler 创建交易处理器
func NewTradingHandler(
	strategyService *service.StrategyService,
	backtestService *service.BacktestService,
	indicators *service.IndicatorService,
	tradingLoop *service.TradingLoop,
	hub *notify.Hub,
	mock *exchange.MockExchange,
	logger *zap.Logger,
) *TradingHandler {
	return &TradingHandler{
		logger:          logger,
		strategyService: strategyService,
		backtestService: backtestService,
		indicators:      indicators,
		tradingLoop:     tradingLoop,
		hub:             hub,
		mock:            mock,
	}
}

// ListStrategies 策略列表
// GET /api/strategies
func (h *TradingHandler) ListStrategies(c echo.Context) error {
	ctx := c.Request().Context()
	strategies, err := h.strategyService.FindAll(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, strategies)
}

// CreateStrategy 创建策略
// POST /api/strategies
func (h *TradingHandler) CreateStrategy(c echo.Context) error {
	ctx := c.Request().Context()

	var cfg service.StrategyConfig
	if err := c.Bind(&cfg); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&cfg); err != nil {
		return err
	}

	st, err := h.strategyService.Create(ctx, &cfg)
	if err != nil {
		return err
	}
	h.logger.Info("strategy created",
		zap.String("id", st.ID), zap.String("name", st.Name), zap.String("ticker", st.Ticker))
	return c.JSON(http.StatusOK, st)
}

// UpdateStrategy 更新配置，可调字段整体替换
// PUT /api/strategies/:id
func (h *TradingHandler) UpdateStrategy(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var cfg service.StrategyConfig
	if err := c.Bind(&cfg); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&cfg); err != nil {
		return err
	}

	st, err := h.strategyService.Update(ctx, id, &cfg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// RenameStrategy 重命名
// POST /api/strategies/:id/rename
func (h *TradingHandler) RenameStrategy(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req struct {
		Name string `json:"name" validate:"required,max=100"`
	}
	if err := c.Bind(&req); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.strategyService.Rename(ctx, id, req.Name); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "ok"})
}

// DeleteStrategy 删除策略及其全部分仓/交易/事件
// DELETE /api/strategies/:id
func (h *TradingHandler) DeleteStrategy(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.strategyService.Delete(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "ok"})
}

// StartStrategy 启动tick循环
// POST /api/strategies/:id/start
func (h *TradingHandler) StartStrategy(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.tradingLoop.Start(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "ok"})
}

// StopStrategy 停止tick循环，进行中的tick会跑完
// POST /api/strategies/:id/stop
func (h *TradingHandler) StopStrategy(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.tradingLoop.Stop(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "ok"})
}

// ResetStrategy 撤单、清空分仓与交易历史，保留账户余额
// POST /api/strategies/:id/reset
func (h *TradingHandler) ResetStrategy(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.strategyService.Reset(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "ok"})
}

// GetStatus 状态面板：当前价、分仓、交易、指标、观察状态
// GET /api/strategies/:id/status
func (h *TradingHandler) GetStatus(c echo.Context) error {
	ctx := c.Request().Context()
	status, err := h.strategyService.Status(ctx, c.Param("id"), h.indicators)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// ExportTrades 导出交易历史CSV
// GET /api/strategies/:id/trades/export
func (h *TradingHandler) ExportTrades(c echo.Context) error {
	ctx := c.Request().Context()
	trades, err := h.strategyService.ExportTrades(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="trades.csv"`)
	c.Response().WriteHeader(http.StatusOK)

	fmt.Fprintln(c.Response(), "split_id,ticker,buy_price,sell_price,coin_volume,buy_amount,sell_amount,gross_profit,total_fee,net_profit,profit_rate,bought_at,sold_at")
	for _, t := range trades {
		fmt.Fprintf(c.Response(), "%d,%s,%g,%g,%g,%g,%g,%g,%g,%g,%g,%s,%s\n",
			t.SplitID, t.Ticker, t.BuyPrice, t.SellPrice, t.CoinVolume,
			t.BuyAmount, t.SellAmount, t.GrossProfit, t.TotalFee, t.NetProfit, t.ProfitRate,
			t.BoughtAt.Format(time.RFC3339), t.SoldAt.Format(time.RFC3339))
	}
	return nil
}

// RunBacktest 以指定策略的配置跑一次回测
// POST /api/strategies/:id/backtest
func (h *TradingHandler) RunBacktest(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Interval       string  `json:"interval"`
		Count          int     `json:"count" validate:"gte=0,lte=100000"`
		InitialBalance float64 `json:"initial_balance" validate:"gte=0"`
		StartIndex     int     `json:"start_index" validate:"gte=0"`
	}
	if err := c.Bind(&req); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	st, err := h.strategyService.FindByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	initialBalance := req.InitialBalance
	if initialBalance <= 0 {
		initialBalance = st.Budget
	}

	result, err := h.backtestService.Run(ctx, service.BacktestConfig{
		Strategy:       st,
		Interval:       req.Interval,
		Count:          req.Count,
		InitialBalance: initialBalance,
		StartIndex:     req.StartIndex,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// SetMockPrice 模拟盘手动定价并保持，仅mock模式
// POST /api/mock/price
func (h *TradingHandler) SetMockPrice(c echo.Context) error {
	if h.mock == nil {
		return xe.ErrMockOnly
	}
	ctx := c.Request().Context()

	var req struct {
		Market string  `json:"market" validate:"required"`
		Price  float64 `json:"price" validate:"gt=0"`
	}
	if err := c.Bind(&req); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	h.mock.SetPrice(ctx, req.Market, req.Price)
	h.logger.Info("mock price held",
		zap.String("market", req.Market), zap.Float64("price", req.Price))
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "ok"})
}

// ReleaseMockPrice 解除手动定价，恢复实时价格
// DELETE /api/mock/price/:market
func (h *TradingHandler) ReleaseMockPrice(c echo.Context) error {
	if h.mock == nil {
		return xe.ErrMockOnly
	}
	h.mock.ReleasePrice(c.Param("market"))
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "ok"})
}

// GetMockBalances 模拟账户余额
// GET /api/mock/balances
func (h *TradingHandler) GetMockBalances(c echo.Context) error {
	if h.mock == nil {
		return xe.ErrMockOnly
	}
	balances, err := h.mock.Balances(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, balances)
}

// SetMockBalance 直接设置模拟账户某币种余额
// PUT /api/mock/balance
func (h *TradingHandler) SetMockBalance(c echo.Context) error {
	if h.mock == nil {
		return xe.ErrMockOnly
	}
	ctx := c.Request().Context()

	var req struct {
		Currency    string  `json:"currency" validate:"required"`
		Balance     float64 `json:"balance" validate:"gte=0"`
		AvgBuyPrice float64 `json:"avg_buy_price" validate:"gte=0"`
	}
	if err := c.Bind(&req); err != nil {
		return xe.ErrInvalidParams
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	h.mock.SetBalance(ctx, req.Currency, req.Balance, req.AvgBuyPrice)
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "ok"})
}

// ServeWS websocket推送通道
// GET /api/ws
func (h *TradingHandler) ServeWS(c echo.Context) error {
	return h.hub.ServeWS(c.Response(), c.Request())
}

// RegisterRoutes 注册需要认证的路由
func (h *TradingHandler) RegisterRoutes(g *echo.Group) {
	strategies := g.Group("/strategies")
	strategies.GET("", h.ListStrategies)
	strategies.POST("", h.CreateStrategy)
	strategies.PUT("/:id", h.UpdateStrategy)
	strategies.POST("/:id/rename", h.RenameStrategy)
	strategies.DELETE("/:id", h.DeleteStrategy)
	strategies.POST("/:id/start", h.StartStrategy)
	strategies.POST("/:id/stop", h.StopStrategy)
	strategies.POST("/:id/reset", h.ResetStrategy)
	strategies.GET("/:id/status", h.GetStatus)
	strategies.GET("/:id/trades/export", h.ExportTrades)
	strategies.POST("/:id/backtest", h.RunBacktest)

	mock := g.Group("/mock")
	mock.POST("/price", h.SetMockPrice)
	mock.DELETE("/price/:market", h.ReleaseMockPrice)
	mock.GET("/balances", h.GetMockBalances)
	mock.PUT("/balance", h.SetMockBalance)
}
