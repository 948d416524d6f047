// Package domain contains the point balance aggregate and its transitions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Balance is the per-user point balance aggregate. It is mutated only by
// the event router inside a store transaction; Version backs the
// conditional write that catches cross-worker contention.
type Balance struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     string       `gorm:"type:text;not null;uniqueIndex:ux_point_balances_user"`
	Points     int64        `gorm:"not null;default:0"`
	Subscribed bool         `gorm:"not null;default:false"`
	Version    int64        `gorm:"not null;default:0"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Balance) TableName() string { return "point_balances" }

// ProcessedEvent marks an inbound event as applied. Inserted in the same
// transaction as the balance mutation so redelivery never double-applies.
type ProcessedEvent struct {
	EventID     string    `gorm:"type:text;primaryKey"`
	UserID      string    `gorm:"type:text;not null;index"`
	EventKind   string    `gorm:"type:text;not null"`
	ProcessedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProcessedEvent) TableName() string { return "processed_events" }

// NewBalance initializes a balance record for a user not seen before.
func NewBalance(id snowflake.ID, userID string, starting int64, subscribed bool, now time.Time) *Balance {
	return &Balance{
		ID:         id,
		UserID:     userID,
		Points:     starting,
		Subscribed: subscribed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
