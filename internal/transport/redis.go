package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashureev/nudge/internal/domain"
)

// RedisConfig configures the Redis Streams transport.
type RedisConfig struct {
	InboundStream  string
	OutboundStream string
	Group          string
	Consumer       string
	BatchSize      int64
	Block          time.Duration
}

// RedisStreams is a Transport that consumes inbound messages from a stream
// through a consumer group and publishes outbound messages to another stream.
type RedisStreams struct {
	client *redis.Client
	cfg    RedisConfig
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Transport = (*RedisStreams)(nil)

// NewRedisStreams creates the transport and ensures the consumer group exists.
func NewRedisStreams(ctx context.Context, client *redis.Client, cfg RedisConfig, logger *slog.Logger) (*RedisStreams, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	r := &RedisStreams{client: client, cfg: cfg, logger: logger}
	if err := r.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RedisStreams) ensureGroup(ctx context.Context) error {
	// "$" skips history: messages observed while the daemon was down are not replayed as fresh activity.
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.InboundStream, r.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Receive starts the consumer loop.
func (r *RedisStreams) Receive(ctx context.Context) (<-chan domain.InboundMessage, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	out := make(chan domain.InboundMessage, 64)
	go func() {
		defer r.wg.Done()
		defer close(out)
		r.consume(ctx, out)
	}()
	return out, nil
}

func (r *RedisStreams) consume(ctx context.Context, out chan<- domain.InboundMessage) {
	for ctx.Err() == nil {
		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			Streams:  []string{r.cfg.InboundStream, ">"},
			Count:    r.cfg.BatchSize,
			Block:    r.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			r.logger.Warn("Reading inbound stream failed", "stream", r.cfg.InboundStream, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, xmsg := range stream.Messages {
				msg, err := DecodeStreamMessage(xmsg.Values, time.Now())
				if err != nil {
					r.logger.Warn("Dropping malformed stream entry", "id", xmsg.ID, "error", err)
				} else {
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
				if err := r.client.XAck(ctx, r.cfg.InboundStream, r.cfg.Group, xmsg.ID).Err(); err != nil {
					r.logger.Warn("Acknowledging stream entry failed", "id", xmsg.ID, "error", err)
				}
			}
		}
	}
}

// Send appends an outbound entry for the chat gateway.
func (r *RedisStreams) Send(ctx context.Context, conversationID, content string) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	id := uuid.NewString()
	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.cfg.OutboundStream,
		Values: EncodeStreamSend(id, conversationID, content, time.Now()),
	}).Err(); err != nil {
		return fmt.Errorf("xadd outbound (stream=%s): %w", r.cfg.OutboundStream, err)
	}

	r.logger.Debug("Queued outbound message", "id", id, "conversation_id", conversationID)
	return nil
}

// Close closes the Redis client and waits for the consumer loop.
func (r *RedisStreams) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.client.Close()
	r.wg.Wait()
	if err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
