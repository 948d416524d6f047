package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/event"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Publisher stages outbound events. Stage must be called with the
// transaction handle of the mutation that produced the events so both
// commit or neither does.
type Publisher struct {
	genID *snowflake.Node
}

func NewPublisher(genID *snowflake.Node) *Publisher {
	return &Publisher{genID: genID}
}

// Stage inserts one outbox row per event inside the caller's transaction.
// dedupeKey ties the rows to the inbound event that produced them so a
// redelivered inbound event cannot stage the same outbound event twice.
func (p *Publisher) Stage(ctx context.Context, tx *gorm.DB, dedupeKey string, events ...event.Outbound) error {
	now := time.Now().UTC()
	for i, out := range events {
		payload, err := out.Payload()
		if err != nil {
			return fmt.Errorf("marshal %s: %w", out.Type(), err)
		}

		var key *string
		if dedupeKey != "" {
			k := fmt.Sprintf("%s/%d", dedupeKey, i)
			key = &k
		}

		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO point_events (id, event_type, topic, user_id, payload, dedupe_key, published, attempts, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, false, 0, ?)`,
			p.genID.Generate(),
			out.Type(),
			out.Topic(),
			out.User(),
			datatypes.JSON(payload),
			key,
			now,
		).Error; err != nil {
			return fmt.Errorf("stage %s: %w", out.Type(), err)
		}
	}
	return nil
}
