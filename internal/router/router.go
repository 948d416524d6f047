// Package router maps inbound domain events onto balance transitions. Each
// dispatch runs as one store transaction: dedup marker, balance mutation
// and staged outbound events commit together or not at all.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/smallbiznis/pointledger/internal/event"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/metrics"
	"github.com/smallbiznis/pointledger/internal/outbox"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrMissingEventID = errors.New("inbound event has no event id")

type Router struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	outbox  *outbox.Publisher
	holder  *config.EngineConfigHolder
	metrics *metrics.Metrics
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ledgerdomain.Repository
	Outbox  *outbox.Publisher
	Holder  *config.EngineConfigHolder
	Metrics *metrics.Metrics `optional:"true"`
}

func New(p Params) *Router {
	return &Router{
		db:      p.DB,
		log:     p.Log.Named("router"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		outbox:  p.Outbox,
		holder:  p.Holder,
		metrics: p.Metrics,
	}
}

// Dispatch applies one inbound event. Version conflicts are retried here
// with a bounded backoff; any error that escapes is transient and the
// caller must leave the message unacked for redelivery.
func (r *Router) Dispatch(ctx context.Context, ev event.Inbound) error {
	if ev.Dedup() == "" {
		return ErrMissingEventID
	}

	cfg := r.holder.Get()
	ctx, cancel := context.WithTimeout(ctx, cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		err = r.dispatchOnce(ctx, ev)
		if !errors.Is(err, ledgerdomain.ErrVersionConflict) {
			break
		}
		if r.metrics != nil {
			r.metrics.VersionConflicts.Inc()
		}
		if attempt >= cfg.ConflictRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.ConflictBackoff * time.Duration(attempt+1)):
		}
	}

	if r.metrics != nil {
		r.metrics.DispatchDuration.WithLabelValues(string(ev.Kind())).Observe(time.Since(start).Seconds())
	}
	return err
}

func (r *Router) dispatchOnce(ctx context.Context, ev event.Inbound) error {
	var duplicate bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		processed, err := r.repo.IsProcessed(ctx, tx, ev.Dedup())
		if err != nil {
			return err
		}
		if processed {
			// Redelivery of an applied event. The outbox already holds
			// whatever this event produced, so skipping is safe.
			r.log.Debug("skipping already processed event",
				zap.String("event_id", ev.Dedup()),
				zap.String("kind", string(ev.Kind())),
			)
			duplicate = true
			return nil
		}

		if err := r.apply(ctx, tx, ev); err != nil {
			return err
		}

		marker := &ledgerdomain.ProcessedEvent{
			EventID:     ev.Dedup(),
			UserID:      ev.User(),
			EventKind:   string(ev.Kind()),
			ProcessedAt: r.clock.Now(),
		}
		// The unique key on event_id is the backstop for two workers racing
		// past the IsProcessed check: one commit wins, the other aborts and
		// resolves on redelivery.
		return r.repo.MarkProcessed(ctx, tx, marker)
	})

	// Counters move only after the commit, so an event whose transaction
	// rolled back is never reported as processed.
	if err == nil && r.metrics != nil {
		if duplicate {
			r.metrics.EventsDuplicate.WithLabelValues(string(ev.Kind())).Inc()
		} else {
			r.metrics.EventsProcessed.WithLabelValues(string(ev.Kind())).Inc()
		}
	}
	return err
}

func (r *Router) apply(ctx context.Context, tx *gorm.DB, ev event.Inbound) error {
	switch ev := ev.(type) {
	case event.UserRegistered:
		// Registration alone moves no points; the signup grant arrives as
		// its own PointsGranted event.
		return nil
	case event.PointsGranted:
		return r.applyGrant(ctx, tx, ev)
	case event.SubscriptionCharged:
		return r.applyCharge(ctx, tx, ev)
	case event.PointsPurchased:
		return r.applyPurchase(ctx, tx, ev)
	default:
		return fmt.Errorf("%w: %T", event.ErrUnknownKind, ev)
	}
}

func (r *Router) applyGrant(ctx context.Context, tx *gorm.DB, ev event.PointsGranted) error {
	if ev.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	balance, err := r.repo.FindByUserIDForUpdate(ctx, tx, ev.UserID)
	if err != nil {
		return err
	}

	if balance == nil {
		balance = ledgerdomain.NewBalance(r.genID.Generate(), ev.UserID, 0, ev.Subscribed, r.clock.Now())
		if err := balance.Credit(ev.Amount); err != nil {
			return err
		}
		if err := r.repo.Insert(ctx, tx, balance); err != nil {
			return err
		}
	} else {
		if err := balance.Credit(ev.Amount); err != nil {
			return err
		}
		balance.Subscribed = ev.Subscribed
		if err := r.repo.UpdateWithVersion(ctx, tx, balance, balance.Version); err != nil {
			return err
		}
	}

	return r.outbox.Stage(ctx, tx, ev.Dedup(), event.PointsRegistered{
		UserID:     ev.UserID,
		Amount:     ev.Amount,
		Subscribed: ev.Subscribed,
		NewBalance: balance.Points,
	})
}

func (r *Router) applyCharge(ctx context.Context, tx *gorm.DB, ev event.SubscriptionCharged) error {
	if ev.Cost <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	balance, err := r.repo.FindByUserIDForUpdate(ctx, tx, ev.UserID)
	if err != nil {
		return err
	}

	if balance == nil {
		// No record means a zero balance for the success check. No record
		// is fabricated; the charge simply cannot be covered.
		if r.metrics != nil {
			r.metrics.InsufficientFunds.Inc()
		}
		return r.outbox.Stage(ctx, tx, ev.Dedup(), event.InsufficientBalance{
			UserID:         ev.UserID,
			AttemptedCost:  ev.Cost,
			CurrentBalance: 0,
		})
	}

	result, err := balance.Debit(ev.Cost)
	if err != nil {
		return err
	}
	if result.Insufficient {
		if r.metrics != nil {
			r.metrics.InsufficientFunds.Inc()
		}
		return r.outbox.Stage(ctx, tx, ev.Dedup(), event.InsufficientBalance{
			UserID:         ev.UserID,
			AttemptedCost:  result.Attempted,
			CurrentBalance: result.Current,
		})
	}

	if err := r.repo.UpdateWithVersion(ctx, tx, balance, balance.Version); err != nil {
		return err
	}
	return r.outbox.Stage(ctx, tx, ev.Dedup(), event.PointsDecreased{
		UserID:     ev.UserID,
		NewBalance: result.NewBalance,
	})
}

func (r *Router) applyPurchase(ctx context.Context, tx *gorm.DB, ev event.PointsPurchased) error {
	if ev.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	balance, err := r.repo.FindByUserIDForUpdate(ctx, tx, ev.UserID)
	if err != nil {
		return err
	}
	if balance == nil {
		// Unknown user: nothing to spend from, nothing to create.
		return nil
	}

	result, err := balance.Debit(ev.Amount)
	if err != nil {
		return err
	}
	if result.Insufficient {
		if r.metrics != nil {
			r.metrics.InsufficientFunds.Inc()
		}
		return r.outbox.Stage(ctx, tx, ev.Dedup(), event.InsufficientBalance{
			UserID:         ev.UserID,
			AttemptedCost:  result.Attempted,
			CurrentBalance: result.Current,
		})
	}

	if err := r.repo.UpdateWithVersion(ctx, tx, balance, balance.Version); err != nil {
		return err
	}
	return r.outbox.Stage(ctx, tx, ev.Dedup(), event.PointsPurchaseCompleted{
		UserID:      ev.UserID,
		NewBalance:  result.NewBalance,
		AmountSpent: result.Attempted,
	})
}
