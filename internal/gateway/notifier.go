package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/smallbiznis/pointledger/internal/broker"
	"github.com/smallbiznis/pointledger/internal/event"
	"go.uber.org/zap"
)

// Notifier watches the insufficient-balance topic and surfaces each case
// in the logs. Placeholder for a real user notification integration
// (email, push) that consumes the same topic.
type Notifier struct {
	log      *zap.Logger
	consumer broker.Consumer
	done     chan struct{}
}

func NewNotifier(log *zap.Logger, consumer broker.Consumer) *Notifier {
	return &Notifier{
		log:      log.Named("gateway.notifier"),
		consumer: consumer,
		done:     make(chan struct{}),
	}
}

func (n *Notifier) Start(ctx context.Context) {
	go func() {
		defer close(n.done)
		err := n.consumer.Consume(ctx, []string{event.TopicInsufficientBalance}, n.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			n.log.Error("notifier loop exited", zap.Error(err))
		}
	}()
}

// Wait blocks until the consume loop observed cancellation.
func (n *Notifier) Wait() {
	<-n.done
}

func (n *Notifier) handle(_ context.Context, msg broker.Message) error {
	var out event.InsufficientBalance
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		n.log.Warn("dropping undecodable notification", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	n.log.Warn("insufficient balance",
		zap.String("user_id", out.UserID),
		zap.Int64("attempted_cost", out.AttemptedCost),
		zap.Int64("current_balance", out.CurrentBalance),
	)
	return nil
}
