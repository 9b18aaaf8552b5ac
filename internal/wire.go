//go:build wireinject
// +build wireinject

package internal

import (
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/kimdaeho/sevensplit/internal/config"
	"github.com/kimdaeho/sevensplit/internal/handler"
	"github.com/kimdaeho/sevensplit/internal/notify"
	"github.com/kimdaeho/sevensplit/internal/service"
	"github.com/kimdaeho/sevensplit/internal/telegram"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const telegramHTTPTimeout = 10 * time.Second

var (
	handlerSet = wire.NewSet(
		handler.NewAuthHandler,
		handler.NewSetupHandler,
		handler.NewTradingHandler,
	)

	tradingSet = wire.NewSet(
		provideBinanceClient,
		provideMockExchange,
		provideExchange,
		provideAuthService,
		service.NewIndicatorService,
		service.NewStrategyService,
		provideBacktestService,
		service.NewTradingLoop,
		notify.NewHub,
	)
)

// InitializeApp 初始化应用
func InitializeApp(logger *zap.Logger, db *gorm.DB, conf *config.Config) (*AppComponents, error) {
	wire.Build(
		handlerSet,
		tradingSet,
		provideTelegram,
		provideNotifier,
		wire.Struct(new(AppComponents), "*"),
	)
	return nil, nil
}

// provideTelegram provides telegram instance
func provideTelegram(logger *zap.Logger, conf *config.Config) *telegram.Telegram {
	if !conf.Telegram.Enabled {
		return nil
	}

	httpClient := &http.Client{Timeout: telegramHTTPTimeout}

	tg, err := telegram.NewTelegram(logger, telegram.Settings{
		Token:  conf.Telegram.Token,
		ChatID: conf.Telegram.ChatID,
		Client: httpClient,
	})
	if err != nil {
		logger.Error("failed to init telegram", zap.Error(err))
		return nil
	}

	tg.Start()
	return tg
}

func provideNotifier(tg *telegram.Telegram, conf *config.Config, logger *zap.Logger) *telegram.Notifier {
	return telegram.NewNotifier(tg, conf.Telegram.ChatID, logger)
}

func provideAuthService(logger *zap.Logger, db *gorm.DB, conf *config.Config) *service.AuthService {
	return service.NewAuthService(logger, db, conf.Auth.JWTSecret)
}

// provideBinanceClient provides Binance client
func provideBinanceClient(conf *config.Config, logger *zap.Logger) *exchange.BinanceClient {
	client := exchange.NewBinanceClient(
		conf.Binance.APIKey,
		conf.Binance.Secret,
		conf.Binance.ProxyURL,
		conf.Binance.Testnet,
		logger,
	)

	if conf.Binance.APIKey == "" || conf.Binance.Secret == "" {
		logger.Warn("Binance API credentials not configured; some private endpoints may fail")
	}

	logger.Info("Binance client initialized",
		zap.Bool("testnet", conf.Binance.Testnet),
		zap.Bool("has_credentials", conf.Binance.APIKey != "" && conf.Binance.Secret != ""),
	)
	return client
}

// provideMockExchange 模拟撮合引擎，real模式下为nil
func provideMockExchange(conf *config.Config, db *gorm.DB, binance *exchange.BinanceClient, logger *zap.Logger) *exchange.MockExchange {
	if !conf.Exchange.IsMock() {
		return nil
	}

	feeRate := conf.Exchange.FeeRate
	if feeRate <= 0 {
		feeRate = 0.0005
	}
	quote := conf.Exchange.QuoteCurrency
	if quote == "" {
		quote = "USDT"
	}

	return exchange.NewMockExchange(binance, service.NewMockStore(db), feeRate, quote, logger)
}

// provideBacktestService 回测的历史K线永远取真实行情，与运行模式无关
func provideBacktestService(binance *exchange.BinanceClient, logger *zap.Logger) *service.BacktestService {
	return service.NewBacktestService(binance, logger)
}

// provideExchange 策略侧统一的交易所网关
func provideExchange(conf *config.Config, mock *exchange.MockExchange, binance *exchange.BinanceClient, logger *zap.Logger) exchange.Exchange {
	if mock != nil {
		logger.Info("running in mock exchange mode")
		return mock
	}
	logger.Info("running in real exchange mode")
	return binance
}
