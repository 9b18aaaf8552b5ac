package service

import (
	"context"

	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/kimdaeho/sevensplit/internal/repo"
	"github.com/kimdaeho/sevensplit/pkg/exchange"
	"gorm.io/gorm"
)

// MockStore 把模拟撮合引擎的账户与订单落到数据库，重启后可恢复。
type MockStore struct {
	accountRepo *repo.MockAccountRepo
	orderRepo   *repo.MockOrderRepo
}

var _ exchange.MockStore = (*MockStore)(nil)

// NewMockStore 创建模拟账户持久化适配器
func NewMockStore(db *gorm.DB) *MockStore {
	return &MockStore{
		accountRepo: repo.NewMockAccountRepo(db),
		orderRepo:   repo.NewMockOrderRepo(db),
	}
}

func (s *MockStore) SaveAccount(ctx context.Context, balance *exchange.Balance) error {
	return s.accountRepo.Upsert(ctx, &models.MockAccount{
		Currency:    balance.Currency,
		Balance:     balance.Balance,
		Locked:      balance.Locked,
		AvgBuyPrice: balance.AvgBuyPrice,
	})
}

func (s *MockStore) SaveOrder(ctx context.Context, order *exchange.Order) error {
	return s.orderRepo.Upsert(ctx, &models.MockOrder{
		UUID:           order.UUID,
		Market:         order.Market,
		Side:           order.Side.String(),
		OrdType:        order.Type.String(),
		Price:          order.Price,
		Volume:         order.Volume,
		State:          order.State.String(),
		ExecutedVolume: order.ExecutedVolume,
		ExecutedPrice:  order.ExecutedPrice,
		PaidFee:        order.PaidFee,
		Locked:         order.Locked,
		CreatedAt:      order.CreatedAt,
	})
}

func (s *MockStore) LoadAccounts(ctx context.Context) ([]*exchange.Balance, error) {
	accounts, err := s.accountRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	balances := make([]*exchange.Balance, 0, len(accounts))
	for _, a := range accounts {
		balances = append(balances, &exchange.Balance{
			Currency:    a.Currency,
			Balance:     a.Balance,
			Locked:      a.Locked,
			AvgBuyPrice: a.AvgBuyPrice,
		})
	}
	return balances, nil
}

func (s *MockStore) LoadOpenOrders(ctx context.Context) ([]*exchange.Order, error) {
	orders, err := s.orderRepo.FindOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*exchange.Order, 0, len(orders))
	for _, o := range orders {
		result = append(result, &exchange.Order{
			UUID:           o.UUID,
			Market:         o.Market,
			Side:           exchange.OrderSide(o.Side),
			Type:           exchange.OrderType(o.OrdType),
			Price:          o.Price,
			Volume:         o.Volume,
			State:          exchange.OrderState(o.State),
			ExecutedVolume: o.ExecutedVolume,
			ExecutedPrice:  o.ExecutedPrice,
			PaidFee:        o.PaidFee,
			Locked:         o.Locked,
			CreatedAt:      o.CreatedAt,
		})
	}
	return result, nil
}
