package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/kimdaeho/sevensplit/internal/models"
	"gorm.io/gorm"
)

func NewSystemEventRepo(db *gorm.DB) *SystemEventRepo {
	return &SystemEventRepo{
		Repository: orz.NewRepository[models.SystemEvent, string](db),
	}
}

type SystemEventRepo struct {
	orz.Repository[models.SystemEvent, string]
}

// FindRecentByStrategyID 获取某策略最近的事件
func (r SystemEventRepo) FindRecentByStrategyID(ctx context.Context, strategyID string, limit int) ([]models.SystemEvent, error) {
	var events []models.SystemEvent
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("strategy_id = ?", strategyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// DeleteByStrategyID 清空某策略的事件记录
func (r SystemEventRepo) DeleteByStrategyID(ctx context.Context, strategyID string) error {
	db := r.GetDB(ctx)
	return db.Where("strategy_id = ?", strategyID).Delete(&models.SystemEvent{}).Error
}
