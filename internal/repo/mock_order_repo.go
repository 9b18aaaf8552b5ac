package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/kimdaeho/sevensplit/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewMockOrderRepo(db *gorm.DB) *MockOrderRepo {
	return &MockOrderRepo{
		Repository: orz.NewRepository[models.MockOrder, string](db),
	}
}

type MockOrderRepo struct {
	orz.Repository[models.MockOrder, string]
}

// Upsert 按uuid写入订单
func (r MockOrderRepo) Upsert(ctx context.Context, order *models.MockOrder) error {
	db := r.GetDB(ctx)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		UpdateAll: true,
	}).Create(order).Error
}

// FindOpenOrders 查找所有未成交订单
func (r MockOrderRepo) FindOpenOrders(ctx context.Context) ([]models.MockOrder, error) {
	var orders []models.MockOrder
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("state = ?", "wait").
		Find(&orders).Error
	return orders, err
}
