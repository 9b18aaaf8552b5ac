package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/kimdaeho/sevensplit/internal/models"
	"gorm.io/gorm"
)

func NewTradeRepo(db *gorm.DB) *TradeRepo {
	return &TradeRepo{
		Repository: orz.NewRepository[models.Trade, string](db),
	}
}

type TradeRepo struct {
	orz.Repository[models.Trade, string]
}

// FindByStrategyID 获取某策略的全部交易记录，按卖出时间倒序
func (r TradeRepo) FindByStrategyID(ctx context.Context, strategyID string) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("strategy_id = ?", strategyID).
		Order("sold_at DESC").
		Find(&trades).Error
	return trades, err
}

// CountClosedToday 统计某策略今天平仓的笔数
func (r TradeRepo) CountClosedToday(ctx context.Context, strategyID, date string) (int64, error) {
	var count int64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("strategy_id = ? AND DATE(sold_at) = ?", strategyID, date).
		Count(&count).Error
	return count, err
}

// SumNetProfit 某策略累计净收益
func (r TradeRepo) SumNetProfit(ctx context.Context, strategyID string) (float64, error) {
	var total float64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Select("COALESCE(SUM(net_profit), 0)").
		Where("strategy_id = ?", strategyID).
		Scan(&total).Error
	return total, err
}

// DeleteByStrategyID 清空某策略的交易历史
func (r TradeRepo) DeleteByStrategyID(ctx context.Context, strategyID string) error {
	db := r.GetDB(ctx)
	return db.Where("strategy_id = ?", strategyID).Delete(&models.Trade{}).Error
}
