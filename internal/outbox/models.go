// Package outbox implements the transactional outbox: outbound events are
// written in the same transaction as the balance mutation that produced
// them and published to the broker only after that transaction committed.
package outbox

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event is a pending outbound event. Rows are append-only until the
// dispatcher marks them published; they are never rolled back to
// compensate for a publish failure.
type Event struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	EventType     string         `gorm:"type:text;not null;index"`
	Topic         string         `gorm:"type:text;not null"`
	UserID        string         `gorm:"type:text;not null;index"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null"`
	DedupeKey     *string        `gorm:"type:text;uniqueIndex:ux_point_events_dedupe"`
	Published     bool           `gorm:"not null;default:false;index"`
	PublishedAt   *time.Time     `gorm:""`
	Attempts      int            `gorm:"not null;default:0"`
	LastError     *string        `gorm:"type:text"`
	NextAttemptAt *time.Time     `gorm:""`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "point_events" }
