package internal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-orz/orz"
	"github.com/go-playground/validator/v10"
	"github.com/kimdaeho/sevensplit/internal/config"
	"github.com/kimdaeho/sevensplit/internal/handler"
	mw "github.com/kimdaeho/sevensplit/internal/middleware"
	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/internal/notify"
	"github.com/kimdaeho/sevensplit/internal/service"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"github.com/kimdaeho/sevensplit/pkg/nostd"
	"github.com/kimdaeho/sevensplit/web"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func Run(configPath string) error {
	app := NewSevensplitApp()

	framework, err := orz.NewFramework(
		orz.WithConfig(configPath),
		orz.WithLoggerFromConfig(),
		orz.WithDatabase(),
		orz.WithHTTP(),
		orz.WithApplication(app),
	)
	if err != nil {
		return err
	}

	return framework.Run()
}

func NewSevensplitApp() orz.Application {
	return &SevensplitApp{}
}

var _ orz.Application = (*SevensplitApp)(nil)

type AppComponents struct {
	AuthHandler    *handler.AuthHandler
	SetupHandler   *handler.SetupHandler
	TradingHandler *handler.TradingHandler

	AuthService     *service.AuthService
	StrategyService *service.StrategyService
	TradingLoop     *service.TradingLoop
	Hub             *notify.Hub

	Gateway exchange.Exchange
	Mock    *exchange.MockExchange
}

type SevensplitApp struct {
	components *AppComponents
	conf       *config.Config
	cron       *cron.Cron
}

// GetComponents 获取应用组件
func (r *SevensplitApp) GetComponents() *AppComponents {
	return r.components
}

func (r *SevensplitApp) Configure(app *orz.App) error {
	logger := app.Logger()
	e := app.GetEcho()
	db := app.GetDatabase()

	var conf config.Config
	err := app.GetConfig().App.Unmarshal(&conf)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %v", err)
	}

	components, err := InitializeApp(logger, db, &conf)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %v", err)
	}
	r.components = components
	r.conf = &conf

	if err := db.AutoMigrate(
		models.AdminUser{},
		models.Strategy{}, models.Split{}, models.Trade{}, models.SystemEvent{},
		models.MockAccount{}, models.MockOrder{},
	); err != nil {
		logger.Fatal("database auto migrate failed", zap.Error(err))
	}

	if err := r.Init(logger); err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}

	e.HidePort = true
	e.HideBanner = true

	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		Skipper:      middleware.DefaultSkipper,
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			sugar := logger.Sugar()
			sugar.Error(fmt.Sprintf("[PANIC RECOVER] %v %s\n", err, stack))
			return err
		},
	}))
	e.Use(WithErrorHandler(logger))
	customValidator := nostd.CustomValidator{Validator: validator.New()}
	if err := customValidator.TransInit(); err != nil {
		logger.Sugar().Fatal("failed to init custom validator", zap.Error(err))
	}
	e.Validator = &customValidator

	e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().RequestURI
			if strings.HasPrefix(path, "/api") {
				return true
			}
			return false
		},
		Root:       "",
		Index:      "index.html",
		HTML5:      true,
		Browse:     false,
		IgnoreBase: false,
		Filesystem: http.FS(web.Assets()),
	}))

	api := e.Group("/api")
	{
		// 公开接口：初始化、登录、websocket推送
		r.components.SetupHandler.RegisterRoutes(api)
		r.components.AuthHandler.RegisterRoutes(api)
		api.GET("/ws", r.components.TradingHandler.ServeWS)

		// 其余接口全部要求JWT认证
		protected := api.Group("", mw.JWTAuth(mw.JWTAuthConfig{
			AuthService: r.components.AuthService,
			Logger:      logger,
		}))
		r.components.AuthHandler.RegisterProtectedRoutes(protected.Group("/auth"))
		r.components.TradingHandler.RegisterRoutes(protected)
	}

	return nil
}

func (r *SevensplitApp) Init(logger *zap.Logger) error {
	logger.Info("=================================================")
	logger.Info("Sevensplit Trading System Starting...")
	logger.Info("=================================================")

	components := r.GetComponents()
	if components == nil {
		return fmt.Errorf("components not initialized")
	}

	ctx := context.Background()

	if components.Mock != nil {
		if err := components.Mock.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore mock exchange: %w", err)
		}
		r.seedMockBalance(ctx, logger)

		refresh := r.conf.Exchange.RefreshSeconds
		if refresh <= 0 {
			refresh = 5
		}
		go components.Mock.Run(ctx, time.Duration(refresh)*time.Second)
		logger.Info("mock exchange started", zap.Int("refresh_seconds", refresh))
	}

	if err := components.TradingLoop.ResumeAll(ctx); err != nil {
		return err
	}

	// 组合级余额快照周期推送
	r.cron = cron.New()
	_, err := r.cron.AddFunc("@every 1m", func() {
		balances, err := components.Gateway.Balances(context.Background())
		if err != nil {
			logger.Warn("failed to fetch balances for portfolio snapshot", zap.Error(err))
			return
		}
		components.Hub.BroadcastPortfolio(balances)
	})
	if err != nil {
		return err
	}
	r.cron.Start()

	return nil
}

// seedMockBalance 首次启动时给模拟账户注入初始资金
func (r *SevensplitApp) seedMockBalance(ctx context.Context, logger *zap.Logger) {
	initial := r.conf.Exchange.InitialBalance
	if initial <= 0 {
		return
	}
	balances, err := r.components.Mock.Balances(ctx)
	if err != nil || len(balances) > 0 {
		return
	}
	quote := r.conf.Exchange.QuoteCurrency
	if quote == "" {
		quote = "USDT"
	}
	r.components.Mock.SetBalance(ctx, quote, initial, 0)
	logger.Info("mock account seeded",
		zap.String("currency", quote), zap.Float64("balance", initial))
}
