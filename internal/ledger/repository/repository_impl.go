package repository

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*ledgerdomain.Balance, error) {
	var balance ledgerdomain.Balance
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (r *repo) FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*ledgerdomain.Balance, error) {
	query := db.WithContext(ctx)
	// sqlite has no row locks; the version check still catches races there.
	if db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var balance ledgerdomain.Balance
	err := query.
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, balance *ledgerdomain.Balance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO point_balances (id, user_id, points, subscribed, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		balance.ID,
		balance.UserID,
		balance.Points,
		balance.Subscribed,
		balance.CreatedAt,
		balance.UpdatedAt,
	).Error
}

func (r *repo) UpdateWithVersion(ctx context.Context, db *gorm.DB, balance *ledgerdomain.Balance, expectedVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE point_balances
		 SET points = ?, subscribed = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		balance.Points,
		balance.Subscribed,
		expectedVersion+1,
		time.Now().UTC(),
		balance.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ledgerdomain.ErrVersionConflict
	}
	balance.Version = expectedVersion + 1
	return nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, marker *ledgerdomain.ProcessedEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO processed_events (event_id, user_id, event_kind, processed_at)
		 VALUES (?, ?, ?, ?)`,
		marker.EventID,
		marker.UserID,
		marker.EventKind,
		marker.ProcessedAt,
	).Error
}

func (r *repo) IsProcessed(ctx context.Context, db *gorm.DB, eventID string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM processed_events WHERE event_id = ?`,
		eventID,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
