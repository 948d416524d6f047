package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository persists balances. Methods take *gorm.DB so callers decide the
// transaction boundary; the event router always passes its own tx handle.
type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Balance, error)
	FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*Balance, error)
	Insert(ctx context.Context, db *gorm.DB, balance *Balance) error
	// UpdateWithVersion writes the balance only when the stored version still
	// matches expectedVersion, bumping it by one. Returns ErrVersionConflict
	// when another writer got there first.
	UpdateWithVersion(ctx context.Context, db *gorm.DB, balance *Balance, expectedVersion int64) error
	MarkProcessed(ctx context.Context, db *gorm.DB, marker *ProcessedEvent) error
	IsProcessed(ctx context.Context, db *gorm.DB, eventID string) (bool, error)
}
