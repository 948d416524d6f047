package service

import (
	"context"
	"strings"

	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the read-only balance lookup behind the HTTP query surface.
// It never mutates state; mutations go through the event router only.
type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo ledgerdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo ledgerdomain.Repository
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("ledger.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetBalance(ctx context.Context, userID string) (ledgerdomain.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidUser
	}

	balance, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}
	if balance == nil {
		return ledgerdomain.Balance{}, ledgerdomain.ErrBalanceNotFound
	}
	return *balance, nil
}
