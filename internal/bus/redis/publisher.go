// Package redis fans committed pool events out over Redis: Pub/Sub for live
// subscribers and a capped stream for consumers that need replay.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"ammpool-backend/internal/pool"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config names the Redis keys events are written to.
type Config struct {
	Channel      string // Pub/Sub channel; per-pool events also go to Channel:<pool_id>
	Stream       string
	StreamMaxLen int64
}

// Bus publishes pool events to Redis and implements pool.EventSink.
type Bus struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cc ClientConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cc.Addr,
		Password: cc.Password,
		DB:       cc.DB,
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// New creates a Bus on an existing client.
func New(rdb *redis.Client, cfg Config, logger *slog.Logger) *Bus {
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "redis-bus")),
	}
}

// PoolChannel returns the Pub/Sub channel carrying only poolID's events.
func (b *Bus) PoolChannel(poolID uint64) string {
	return b.cfg.Channel + ":" + strconv.FormatUint(poolID, 10)
}

// Publish sends ev to the global channel, the pool channel and the stream
// in one pipeline.
func (b *Bus) Publish(ctx context.Context, ev pool.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, b.cfg.Channel, payload)
	pipe.Publish(ctx, b.PoolChannel(ev.PoolID), payload)
	if b.cfg.Stream != "" {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.Stream,
			MaxLen: b.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"pool_id": ev.PoolID,
				"seq":     ev.Seq,
				"type":    string(ev.Type),
				"payload": payload,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s seq %d: %w", ev.Type, ev.Seq, err)
	}
	return nil
}

// Subscribe streams events from the global channel until ctx is cancelled.
// Payloads that do not decode are logged and dropped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan pool.Event, error) {
	pubsub := b.rdb.Subscribe(ctx, b.cfg.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", b.cfg.Channel, err)
	}

	out := make(chan pool.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev pool.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("redis: dropping undecodable event", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Replay reads up to count events from the stream after lastID ("0" for the
// beginning). It returns the events and the ID to resume from.
func (b *Bus) Replay(ctx context.Context, lastID string, count int64) ([]pool.Event, string, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.cfg.Stream, lastID},
		Count:   count,
		Block:   -1,
	}).Result()
	if err == redis.Nil {
		return nil, lastID, nil
	}
	if err != nil {
		return nil, lastID, fmt.Errorf("redis: replay %s: %w", b.cfg.Stream, err)
	}

	var events []pool.Event
	for _, stream := range res {
		for _, msg := range stream.Messages {
			lastID = msg.ID
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				continue
			}
			var ev pool.Event
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, lastID, nil
}
