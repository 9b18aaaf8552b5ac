package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/internal/service"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var opts struct {
	ticker         string
	interval       string
	count          int
	startIndex     int
	initialBalance float64
	proxyURL       string
	asJSON         bool

	investment float64
	minPrice   float64
	maxPrice   float64
	buyRate    float64
	sellRate   float64
	feeRate    float64

	mode                 string
	rsiPeriod            int
	rsiBuyMax            float64
	rsiBuyFirstThreshold float64
	rsiBuyFirstAmount    int

	useTrailingBuy bool
	reboundPercent float64
	trailingBatch  bool
}

var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "用真实历史K线回放一套分仓网格配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.ticker, "ticker", "BTCUSDT", "交易对")
	f.StringVar(&opts.interval, "interval", "1h", "K线周期")
	f.IntVar(&opts.count, "count", 2000, "K线数量")
	f.IntVar(&opts.startIndex, "start", 0, "回放起始下标")
	f.Float64Var(&opts.initialBalance, "balance", 10000, "初始余额")
	f.StringVar(&opts.proxyURL, "proxy", "", "HTTP代理地址")
	f.BoolVar(&opts.asJSON, "json", false, "以JSON输出完整结果")

	f.Float64Var(&opts.investment, "investment", 100, "每个分仓的投入金额")
	f.Float64Var(&opts.minPrice, "min-price", 0, "网格下界")
	f.Float64Var(&opts.maxPrice, "max-price", 0, "网格上界")
	f.Float64Var(&opts.buyRate, "buy-rate", 0.02, "网格间距")
	f.Float64Var(&opts.sellRate, "sell-rate", 0.02, "止盈幅度")
	f.Float64Var(&opts.feeRate, "fee-rate", 0.0005, "手续费率")

	f.StringVar(&opts.mode, "mode", "PRICE", "策略模式: PRICE 或 RSI")
	f.IntVar(&opts.rsiPeriod, "rsi-period", 14, "RSI周期")
	f.Float64Var(&opts.rsiBuyMax, "rsi-buy-max", 30, "RSI超卖门槛")
	f.Float64Var(&opts.rsiBuyFirstThreshold, "rsi-buy-threshold", 5, "日内RSI回升触发幅度")
	f.IntVar(&opts.rsiBuyFirstAmount, "rsi-buy-amount", 1, "RSI触发时买入的分仓数")

	f.BoolVar(&opts.useTrailingBuy, "trailing-buy", false, "启用追踪买入")
	f.Float64Var(&opts.reboundPercent, "rebound", 1.0, "追踪买入反弹百分比")
	f.BoolVar(&opts.trailingBatch, "trailing-batch", false, "反弹时批量补齐跳过的层级")
}

func run(ctx context.Context) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	client := exchange.NewBinanceClient("", "", opts.proxyURL, false, logger)

	st := &models.Strategy{
		ID:                        "backtest",
		Name:                      "backtest",
		Ticker:                    opts.ticker,
		InvestmentPerSplit:        opts.investment,
		MinPrice:                  opts.minPrice,
		MaxPrice:                  opts.maxPrice,
		BuyRate:                   opts.buyRate,
		SellRate:                  opts.sellRate,
		FeeRate:                   opts.feeRate,
		RebuyStrategy:             models.RebuyResetOnClear,
		StrategyMode:              models.StrategyMode(opts.mode),
		RSIPeriod:                 opts.rsiPeriod,
		RSIBuyMax:                 opts.rsiBuyMax,
		RSIBuyFirstThreshold:      opts.rsiBuyFirstThreshold,
		RSIBuyFirstAmount:         opts.rsiBuyFirstAmount,
		UseTrailingBuy:            opts.useTrailingBuy,
		TrailingBuyReboundPercent: opts.reboundPercent,
		TrailingBuyBatch:          opts.trailingBatch,
		NextSplitID:               1,
	}

	svc := service.NewBacktestService(client, logger)
	result, err := svc.Run(ctx, service.BacktestConfig{
		Strategy:       st,
		Interval:       opts.interval,
		Count:          opts.count,
		InitialBalance: opts.initialBalance,
		StartIndex:     opts.startIndex,
	})
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("trades:            %d\n", len(result.Trades))
	fmt.Printf("open splits:       %d\n", len(result.FinalSplits))
	fmt.Printf("final balance:     %.2f\n", result.FinalBalance)
	fmt.Printf("total profit:      %.2f\n", result.TotalProfit)
	fmt.Printf("unrealized profit: %.2f\n", result.UnrealizedProfit)
	for _, line := range result.DebugLog {
		fmt.Printf("debug: %s\n", line)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
