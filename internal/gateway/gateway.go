// Package gateway consumes inbound topics and feeds the event router. A
// sharded worker pool keyed by user id keeps all events for one user on
// one goroutine, so no two transitions for the same user run concurrently.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/smallbiznis/pointledger/internal/broker"
	"github.com/smallbiznis/pointledger/internal/config"
	"github.com/smallbiznis/pointledger/internal/event"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	"github.com/smallbiznis/pointledger/internal/metrics"
	"github.com/smallbiznis/pointledger/internal/router"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type task struct {
	ev     event.Inbound
	result chan error
}

type Gateway struct {
	log      *zap.Logger
	consumer broker.Consumer
	router   *router.Router
	metrics  *metrics.Metrics

	shards []chan task
	wg     sync.WaitGroup
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Consumer broker.Consumer
	Router   *router.Router
	Metrics  *metrics.Metrics `optional:"true"`
}

func New(p Params) *Gateway {
	count := p.Config.WorkerShards
	if count <= 0 {
		count = 1
	}
	shards := make([]chan task, count)
	for i := range shards {
		shards[i] = make(chan task)
	}
	return &Gateway{
		log:      p.Log.Named("gateway"),
		consumer: p.Consumer,
		router:   p.Router,
		metrics:  p.Metrics,
		shards:   shards,
	}
}

// Start launches the shard workers and one consume loop per inbound topic.
func (g *Gateway) Start(ctx context.Context) {
	for i, shard := range g.shards {
		g.wg.Add(1)
		go g.runShard(ctx, i, shard)
	}

	for _, topic := range event.InboundTopics() {
		topic := topic
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			err := g.consumer.Consume(ctx, []string{topic}, g.handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				g.log.Error("consume loop exited", zap.String("topic", topic), zap.Error(err))
			}
		}()
	}
}

// Wait blocks until every worker observed cancellation.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) runShard(ctx context.Context, id int, tasks <-chan task) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-tasks:
			t.result <- g.router.Dispatch(ctx, t.ev)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg broker.Message) error {
	ev, err := event.DecodeInbound(msg.Type, msg.Payload)
	if err != nil {
		// Malformed input will not self-correct; ack so it is not retried.
		g.log.Warn("dropping undecodable message",
			zap.String("topic", msg.Topic),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		if g.metrics != nil {
			g.metrics.EventsRejected.WithLabelValues(msg.Type).Inc()
		}
		return nil
	}

	ev = withDedup(ev, msg)

	t := task{ev: ev, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case g.shardFor(ev.User()) <- t:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err = <-t.result:
	}

	if err == nil {
		return nil
	}
	if isPermanent(err) {
		g.log.Warn("rejecting event",
			zap.String("kind", string(ev.Kind())),
			zap.String("user_id", ev.User()),
			zap.Error(err),
		)
		if g.metrics != nil {
			g.metrics.EventsRejected.WithLabelValues(string(ev.Kind())).Inc()
		}
		return nil
	}
	return err
}

func (g *Gateway) shardFor(userID string) chan task {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return g.shards[int(h.Sum32())%len(g.shards)]
}

func isPermanent(err error) bool {
	return errors.Is(err, ledgerdomain.ErrInvalidAmount) ||
		errors.Is(err, router.ErrMissingEventID) ||
		errors.Is(err, event.ErrUnknownKind)
}

// withDedup fills in a deterministic dedup key for producers that do not
// set an event id, derived from the broker message id so redeliveries of
// the same entry still collide.
func withDedup(ev event.Inbound, msg broker.Message) event.Inbound {
	if ev.Dedup() != "" {
		return ev
	}
	id := fmt.Sprintf("%s:%s", msg.Topic, msg.ID)
	switch ev := ev.(type) {
	case event.UserRegistered:
		ev.EventID = id
		return ev
	case event.SubscriptionCharged:
		ev.EventID = id
		return ev
	case event.PointsPurchased:
		ev.EventID = id
		return ev
	case event.PointsGranted:
		ev.EventID = id
		return ev
	default:
		return ev
	}
}
