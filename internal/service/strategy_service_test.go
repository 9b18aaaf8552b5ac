package service

import (
	"testing"

	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/internal/xe"
	"github.com/stretchr/testify/assert"
)

func validStrategyConfig() *StrategyConfig {
	return &StrategyConfig{
		Name:               "테스트",
		Ticker:             "BTCUSDT",
		InvestmentPerSplit: 100,
		MinPrice:           50_000_000,
		MaxPrice:           150_000_000,
		BuyRate:            0.01,
		SellRate:           0.01,
		FeeRate:            0.0005,
		TickInterval:       10,
	}
}

func TestValidateConfigPriceRange(t *testing.T) {
	cfg := validStrategyConfig()
	assert.NoError(t, validateConfig(cfg))

	cfg.MinPrice = 150_000_000
	cfg.MaxPrice = 150_000_000
	assert.ErrorIs(t, validateConfig(cfg), xe.ErrInvalidPriceRange)

	cfg.MinPrice = 160_000_000
	assert.ErrorIs(t, validateConfig(cfg), xe.ErrInvalidPriceRange)
}

func TestValidateConfigSegmentsMustTileRange(t *testing.T) {
	cfg := validStrategyConfig()
	cfg.PriceSegments = []models.PriceSegment{
		{MinPrice: 50_000_000, MaxPrice: 100_000_000, InvestmentPerSplit: 100, MaxSplits: 5},
		{MinPrice: 100_000_000, MaxPrice: 150_000_000, InvestmentPerSplit: 200, MaxSplits: 3},
	}
	assert.NoError(t, validateConfig(cfg))

	// 区间之间有缺口
	cfg.PriceSegments[1].MinPrice = 110_000_000
	assert.ErrorIs(t, validateConfig(cfg), xe.ErrInvalidSegments)

	// 末段没有覆盖到max_price
	cfg.PriceSegments[1].MinPrice = 100_000_000
	cfg.PriceSegments[1].MaxPrice = 140_000_000
	assert.ErrorIs(t, validateConfig(cfg), xe.ErrInvalidSegments)
}

func TestApplyConfigDefaults(t *testing.T) {
	st := &models.Strategy{}
	applyConfig(st, validStrategyConfig())

	assert.Equal(t, models.RebuyResetOnClear, st.RebuyStrategy)
	assert.Equal(t, models.StrategyModePrice, st.StrategyMode)
}

func TestWatchStatus(t *testing.T) {
	st := &models.Strategy{IsRunning: false}
	assert.Equal(t, "Stopped", WatchStatus(st, 0))

	st.IsRunning = true
	st.IsWatching = true
	assert.Equal(t, "Watching", WatchStatus(st, 0))

	st.IsWatching = false
	st.MaxHoldings = 3
	assert.Equal(t, "Max Limit", WatchStatus(st, 3))
	assert.Equal(t, "Normal", WatchStatus(st, 2))
}
