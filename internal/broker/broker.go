// Package broker connects the service to its message channels. Delivery is
// at-least-once in both directions: consumers must deduplicate, publishers
// must tolerate redundant sends.
package broker

import "context"

// Message is one delivered broker entry. Ack is deferred until the handler
// committed its work; an unacked message is redelivered.
type Message struct {
	ID      string
	Topic   string
	Type    string
	Payload []byte
}

// Publisher appends an event to a topic. Key carries the user id so
// downstream consumers can partition by user.
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, payload []byte) error
}

// Handler processes one message. A nil return acks the message; an error
// leaves it pending so the group redelivers it. Permanent rejects must be
// swallowed (logged, nil returned) by the handler itself.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads one or more topics as part of a consumer group.
type Consumer interface {
	// Consume blocks until ctx is canceled, delivering messages to handle
	// and acking according to the Handler contract.
	Consume(ctx context.Context, topics []string, handle Handler) error
}
