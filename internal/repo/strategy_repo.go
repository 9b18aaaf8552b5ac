package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/kimdaeho/sevensplit/internal/models"
	"gorm.io/gorm"
)

func NewStrategyRepo(db *gorm.DB) *StrategyRepo {
	return &StrategyRepo{
		Repository: orz.NewRepository[models.Strategy, string](db),
	}
}

type StrategyRepo struct {
	orz.Repository[models.Strategy, string]
}

// FindRunning 查找所有运行中的策略
func (r StrategyRepo) FindRunning(ctx context.Context) ([]models.Strategy, error) {
	var strategies []models.Strategy
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("is_running = ?", true).
		Find(&strategies).Error
	return strategies, err
}

// UpdateRunning 更新运行标记
func (r StrategyRepo) UpdateRunning(ctx context.Context, id string, running bool) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("is_running", running).Error
}
