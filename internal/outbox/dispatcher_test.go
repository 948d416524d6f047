package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/smallbiznis/pointledger/internal/event"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type published struct {
	topic     string
	key       string
	eventType string
	payload   []byte
}

type fakeBroker struct {
	sent []published
	fail error
}

func (f *fakeBroker) Publish(_ context.Context, topic, key, eventType string, payload []byte) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, published{topic: topic, key: key, eventType: eventType, payload: payload})
	return nil
}

func setup(t *testing.T) (*gorm.DB, *Publisher, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&Event{}))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)
	return db, NewPublisher(node), node
}

func newDispatcher(db *gorm.DB, pub *fakeBroker, cfg config.EngineConfig) (*Dispatcher, *clock.FakeClock) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	d := NewDispatcher(DispatcherParams{
		DB:        db,
		Log:       zap.NewNop(),
		Publisher: pub,
		Holder:    config.NewStaticEngineConfigHolder(cfg),
		Clock:     clk,
	})
	return d, clk
}

func TestStage_WritesRowsInTransaction(t *testing.T) {
	db, publisher, _ := setup(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		return publisher.Stage(ctx, tx, "evt-1",
			event.PointsDecreased{UserID: "user-1", NewBalance: 700},
		)
	})
	assert.NoError(t, err)

	var events []Event
	assert.NoError(t, db.Find(&events).Error)
	assert.Len(t, events, 1)
	assert.Equal(t, "PointsDecreased", events[0].EventType)
	assert.Equal(t, event.TopicPointsDecreased, events[0].Topic)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.False(t, events[0].Published)
}

func TestStage_RollbackStagesNothing(t *testing.T) {
	db, publisher, _ := setup(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := publisher.Stage(ctx, tx, "evt-1",
			event.PointsDecreased{UserID: "user-1", NewBalance: 700},
		); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	assert.NoError(t, db.Raw(`SELECT COUNT(1) FROM point_events`).Scan(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestStage_DedupeKeyCollision(t *testing.T) {
	db, publisher, _ := setup(t)
	ctx := context.Background()

	stage := func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			return publisher.Stage(ctx, tx, "evt-1",
				event.PointsDecreased{UserID: "user-1", NewBalance: 700},
			)
		})
	}
	assert.NoError(t, stage())
	assert.Error(t, stage())

	var count int64
	assert.NoError(t, db.Raw(`SELECT COUNT(1) FROM point_events`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDrainOnce_PublishesAndMarks(t *testing.T) {
	db, publisher, _ := setup(t)
	ctx := context.Background()

	assert.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := publisher.Stage(ctx, tx, "evt-1",
			event.PointsRegistered{UserID: "user-1", Amount: 1000, NewBalance: 1000},
		); err != nil {
			return err
		}
		return publisher.Stage(ctx, tx, "evt-2",
			event.PointsDecreased{UserID: "user-2", NewBalance: 300},
		)
	}))

	broker := &fakeBroker{}
	d, _ := newDispatcher(db, broker, config.DefaultEngineConfig())
	assert.NoError(t, d.DrainOnce(ctx))

	assert.Len(t, broker.sent, 2)
	assert.Equal(t, "PointsRegistered", broker.sent[0].eventType)
	assert.Equal(t, "PointsDecreased", broker.sent[1].eventType)
	assert.Equal(t, "user-1", broker.sent[0].key)

	var pending int64
	assert.NoError(t, db.Raw(`SELECT COUNT(1) FROM point_events WHERE published = false`).Scan(&pending).Error)
	assert.Equal(t, int64(0), pending)
}

func TestDrainOnce_FailureKeepsRowPending(t *testing.T) {
	db, publisher, _ := setup(t)
	ctx := context.Background()

	assert.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return publisher.Stage(ctx, tx, "evt-1",
			event.PointsDecreased{UserID: "user-1", NewBalance: 700},
		)
	}))

	broker := &fakeBroker{fail: errors.New("broker down")}
	d, clk := newDispatcher(db, broker, config.DefaultEngineConfig())
	assert.NoError(t, d.DrainOnce(ctx))

	var ev Event
	assert.NoError(t, db.First(&ev).Error)
	assert.False(t, ev.Published)
	assert.Equal(t, 1, ev.Attempts)
	assert.NotNil(t, ev.LastError)

	// Broker recovers; once the backoff passes the row is delivered.
	broker.fail = nil
	clk.Advance(time.Minute)
	assert.NoError(t, d.DrainOnce(ctx))
	assert.Len(t, broker.sent, 1)

	assert.NoError(t, db.First(&ev).Error)
	assert.True(t, ev.Published)
	assert.NotNil(t, ev.PublishedAt)
}

func TestDrainOnce_RespectsMaxAttempts(t *testing.T) {
	db, publisher, _ := setup(t)
	ctx := context.Background()

	assert.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return publisher.Stage(ctx, tx, "evt-1",
			event.PointsDecreased{UserID: "user-1", NewBalance: 700},
		)
	}))

	cfg := config.DefaultEngineConfig()
	cfg.OutboxMaxAttempts = 2
	broker := &fakeBroker{fail: errors.New("broker down")}
	d, clk := newDispatcher(db, broker, cfg)

	for i := 0; i < 5; i++ {
		assert.NoError(t, d.DrainOnce(ctx))
		clk.Advance(time.Minute)
	}

	var ev Event
	assert.NoError(t, db.First(&ev).Error)
	assert.False(t, ev.Published)
	assert.Equal(t, 2, ev.Attempts)

	// The row is never dropped; only reported.
	assert.NoError(t, d.ReportStuck(ctx))
	var count int64
	assert.NoError(t, db.Raw(`SELECT COUNT(1) FROM point_events`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDrainOnce_BacksOffFailedRows(t *testing.T) {
	db, publisher, _ := setup(t)
	ctx := context.Background()

	assert.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return publisher.Stage(ctx, tx, "evt-1",
			event.PointsDecreased{UserID: "user-1", NewBalance: 700},
		)
	}))

	cfg := config.DefaultEngineConfig()
	cfg.OutboxRetryBackoff = time.Second
	broker := &fakeBroker{fail: errors.New("broker down")}
	d, clk := newDispatcher(db, broker, cfg)

	assert.NoError(t, d.DrainOnce(ctx))

	var ev Event
	assert.NoError(t, db.First(&ev).Error)
	assert.Equal(t, 1, ev.Attempts)
	assert.NotNil(t, ev.NextAttemptAt)
	assert.WithinDuration(t, clk.Now().Add(time.Second), *ev.NextAttemptAt, time.Millisecond)

	// Draining again before the backoff passes must not touch the row.
	assert.NoError(t, d.DrainOnce(ctx))
	assert.NoError(t, db.First(&ev).Error)
	assert.Equal(t, 1, ev.Attempts)

	// After the backoff the row is retried and the wait doubles.
	clk.Advance(time.Second)
	assert.NoError(t, d.DrainOnce(ctx))
	assert.NoError(t, db.First(&ev).Error)
	assert.Equal(t, 2, ev.Attempts)
	assert.WithinDuration(t, clk.Now().Add(2*time.Second), *ev.NextAttemptAt, time.Millisecond)
}

func TestRetryBackoff_DoublesAndCaps(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, base, retryBackoff(base, 0))
	assert.Equal(t, time.Second, retryBackoff(base, 1))
	assert.Equal(t, 4*time.Second, retryBackoff(base, 3))
	assert.Equal(t, time.Minute, retryBackoff(base, 20))
	assert.Equal(t, time.Duration(0), retryBackoff(0, 5))
}
