package repo

import (
	"context"

	"github.com/go-orz/orz"
	"github.com/kimdaeho/sevensplit/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewMockAccountRepo(db *gorm.DB) *MockAccountRepo {
	return &MockAccountRepo{
		Repository: orz.NewRepository[models.MockAccount, string](db),
	}
}

type MockAccountRepo struct {
	orz.Repository[models.MockAccount, string]
}

// Upsert 按币种写入余额
func (r MockAccountRepo) Upsert(ctx context.Context, account *models.MockAccount) error {
	db := r.GetDB(ctx)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "currency"}},
		UpdateAll: true,
	}).Create(account).Error
}
