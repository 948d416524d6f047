package outbox

import (
	"context"
	"time"

	"github.com/smallbiznis/pointledger/internal/broker"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/smallbiznis/pointledger/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dispatchLockKey = "pointledger:outbox:dispatch"

// Dispatcher drains pending outbox rows to the broker. It runs strictly
// after the transactions that staged the rows, so every publish happens
// after commit. Rows survive process crashes; attempts and last_error
// track rows stuck on transient broker failures.
type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	publisher broker.Publisher
	holder    *config.EngineConfigHolder
	clock     clock.Clock
	locker    *Locker
	metrics   *metrics.Metrics
}

type DispatcherParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Publisher broker.Publisher
	Holder    *config.EngineConfigHolder
	Clock     clock.Clock
	Locker    *Locker          `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("outbox.dispatcher"),
		publisher: p.Publisher,
		holder:    p.Holder,
		clock:     p.Clock,
		locker:    p.Locker,
		metrics:   p.Metrics,
	}
}

// Run polls until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	var polls int
	for {
		interval := d.holder.Get().OutboxPollInterval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := d.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("outbox drain failed", zap.Error(err))
		}

		polls++
		if polls%60 == 0 {
			if err := d.ReportStuck(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("stuck outbox check failed", zap.Error(err))
			}
		}
	}
}

// DrainOnce publishes one batch of pending rows in commit order.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	cfg := d.holder.Get()

	if d.locker != nil {
		token, ok, err := d.locker.TryLock(ctx, dispatchLockKey, 2*cfg.OutboxPollInterval+time.Second)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		defer func() {
			_ = d.locker.Release(ctx, dispatchLockKey, token)
		}()
	}

	var events []Event
	err := d.db.WithContext(ctx).
		Where("published = false").
		Where("attempts < ?", cfg.OutboxMaxAttempts).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", d.clock.Now()).
		Order("created_at ASC, id ASC").
		Limit(cfg.OutboxBatchSize).
		Find(&events).Error
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := d.publishOne(ctx, cfg, ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Keep going: a failure on one topic must not starve the rest.
			d.log.Warn("publish failed",
				zap.String("event_type", ev.EventType),
				zap.String("user_id", ev.UserID),
				zap.Int("attempts", ev.Attempts+1),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (d *Dispatcher) publishOne(ctx context.Context, cfg config.EngineConfig, ev Event) error {
	err := d.publisher.Publish(ctx, ev.Topic, ev.UserID, ev.EventType, []byte(ev.Payload))
	now := d.clock.Now()

	if err != nil {
		if d.metrics != nil {
			d.metrics.OutboxFailures.Inc()
		}
		msg := err.Error()
		// Each failure doubles the wait before the next attempt, so a down
		// broker is not hammered on every poll.
		next := now.Add(retryBackoff(cfg.OutboxRetryBackoff, ev.Attempts))
		if updateErr := d.db.WithContext(ctx).Exec(
			`UPDATE point_events SET attempts = attempts + 1, last_error = ?, next_attempt_at = ? WHERE id = ?`,
			msg,
			next,
			ev.ID,
		).Error; updateErr != nil {
			d.log.Warn("failed to record publish failure", zap.Error(updateErr))
		}
		return err
	}

	if d.metrics != nil {
		d.metrics.OutboxPublished.Inc()
	}
	return d.db.WithContext(ctx).Exec(
		`UPDATE point_events SET published = true, published_at = ?, attempts = attempts + 1 WHERE id = ?`,
		now,
		ev.ID,
	).Error
}

// retryBackoff doubles base per prior attempt, capped at one minute.
func retryBackoff(base time.Duration, attempts int) time.Duration {
	const ceiling = time.Minute
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

// ReportStuck logs rows that exhausted their publish attempts so operators
// notice them; the rows stay in the table and are never dropped.
func (d *Dispatcher) ReportStuck(ctx context.Context) error {
	cfg := d.holder.Get()

	var count int64
	if err := d.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM point_events WHERE published = false AND attempts >= ?`,
		cfg.OutboxMaxAttempts,
	).Scan(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		d.log.Error("outbox events exhausted publish attempts",
			zap.Int64("count", count),
			zap.Int("max_attempts", cfg.OutboxMaxAttempts),
		)
	}
	return nil
}
