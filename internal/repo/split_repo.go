package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/kimdaeho/sevensplit/internal/models"
	"gorm.io/gorm"
)

func NewSplitRepo(db *gorm.DB) *SplitRepo {
	return &SplitRepo{
		Repository: orz.NewRepository[models.Split, string](db),
	}
}

type SplitRepo struct {
	orz.Repository[models.Split, string]
}

// FindByStrategyID 查找某策略的全部在场分仓，按分仓编号排序
func (r SplitRepo) FindByStrategyID(ctx context.Context, strategyID string) ([]models.Split, error) {
	var splits []models.Split
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("strategy_id = ?", strategyID).
		Order("split_id ASC").
		Find(&splits).Error
	return splits, err
}

// CountCreatedToday 统计某策略今天创建的分仓数
func (r SplitRepo) CountCreatedToday(ctx context.Context, strategyID, date string) (int64, error) {
	var count int64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("strategy_id = ? AND DATE(created_at) = ?", strategyID, date).
		Count(&count).Error
	return count, err
}

// DeleteByStrategyID 清空某策略的全部分仓
func (r SplitRepo) DeleteByStrategyID(ctx context.Context, strategyID string) error {
	db := r.GetDB(ctx)
	return db.Where("strategy_id = ?", strategyID).Delete(&models.Split{}).Error
}
