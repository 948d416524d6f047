package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pointledger/internal/config"
	"go.uber.org/zap"
)

// RedisBroker publishes to and consumes from Redis Streams. One stream per
// topic; inbound consumption uses a consumer group so delivery is
// at-least-once and unacked entries are reclaimed after a crash.
type RedisBroker struct {
	client *redis.Client
	log    *zap.Logger

	group        string
	consumer     string
	blockTimeout time.Duration
}

func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func NewRedisBroker(client *redis.Client, cfg config.Config, holder *config.EngineConfigHolder, log *zap.Logger) *RedisBroker {
	return &RedisBroker{
		client:       client,
		log:          log.Named("broker.redis"),
		group:        cfg.ConsumerGroup,
		consumer:     cfg.ConsumerName,
		blockTimeout: holder.Get().InboundBlockTimeout,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, topic, key, eventType string, payload []byte) error {
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			"type":    eventType,
			"key":     key,
			"payload": string(payload),
		},
	}).Err()
}

func (b *RedisBroker) ensureGroups(ctx context.Context, topics []string) error {
	for _, topic := range topics {
		err := b.client.XGroupCreateMkStream(ctx, topic, b.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

func (b *RedisBroker) Consume(ctx context.Context, topics []string, handle Handler) error {
	if len(topics) == 0 {
		return errors.New("no topics to consume")
	}
	if err := b.ensureGroups(ctx, topics); err != nil {
		return err
	}

	// Reclaim entries a dead consumer left pending before reading new ones.
	for _, topic := range topics {
		if err := b.claimStale(ctx, topic, handle); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Warn("failed to reclaim pending entries", zap.String("topic", topic), zap.Error(err))
		}
	}

	streams := make([]string, 0, len(topics)*2)
	streams = append(streams, topics...)
	for range topics {
		streams = append(streams, ">")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumer,
			Streams:  streams,
			Count:    int64(16),
			Block:    b.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			b.log.Warn("read group failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range res {
			for _, entry := range stream.Messages {
				b.deliver(ctx, stream.Stream, entry, handle)
			}
		}
	}
}

func (b *RedisBroker) claimStale(ctx context.Context, topic string, handle Handler) error {
	var cursor = "0-0"
	for {
		entries, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    b.group,
			Consumer: b.consumer,
			MinIdle:  time.Minute,
			Start:    cursor,
			Count:    100,
		}).Result()
		if err != nil {
			return err
		}
		for _, entry := range entries {
			b.deliver(ctx, topic, entry, handle)
		}
		if next == "0-0" || len(entries) == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *RedisBroker) deliver(ctx context.Context, topic string, entry redis.XMessage, handle Handler) {
	msg := Message{
		ID:      entry.ID,
		Topic:   topic,
		Type:    stringValue(entry.Values, "type"),
		Payload: []byte(stringValue(entry.Values, "payload")),
	}

	if err := handle(ctx, msg); err != nil {
		b.log.Warn("message left pending for redelivery",
			zap.String("topic", topic),
			zap.String("message_id", entry.ID),
			zap.Error(err),
		)
		return
	}

	if err := b.client.XAck(ctx, topic, b.group, entry.ID).Err(); err != nil {
		// The handler committed; a failed ack only means one extra
		// redelivery, which the router's dedup absorbs.
		b.log.Warn("ack failed", zap.String("topic", topic), zap.String("message_id", entry.ID), zap.Error(err))
	}
}

func stringValue(values map[string]any, key string) string {
	if raw, ok := values[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}
