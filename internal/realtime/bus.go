package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Envelope is one event addressed to all connections of a user.
type Envelope struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// Bus fans envelopes out to every instance. Start registers the callback
// that hands received envelopes to the local hub.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Start(ctx context.Context, onMsg func(Envelope)) error
	Close() error
}

// LocalBus delivers in-process. It is the bus of a single-instance deploy.
type LocalBus struct {
	mu    sync.RWMutex
	onMsg func(Envelope)
}

// NewLocalBus creates a LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	onMsg := b.onMsg
	b.mu.RUnlock()
	if onMsg == nil {
		return errors.New("local bus not started")
	}
	onMsg(env)
	return nil
}

func (b *LocalBus) Start(_ context.Context, onMsg func(Envelope)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}
	b.mu.Lock()
	b.onMsg = onMsg
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Close() error { return nil }

// RedisBus publishes envelopes on a Redis pub/sub channel that every
// instance subscribes to.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBus connects to addr and verifies the connection.
func NewRedisBus(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisBus, error) {
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	if channel == "" {
		channel = "codetutor:chat"
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{rdb: rdb, channel: channel, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Start subscribes and forwards messages until ctx is done.
func (b *RedisBus) Start(ctx context.Context, onMsg func(Envelope)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.logger.Warn("Bad chat bus payload", "error", err)
					continue
				}
				onMsg(env)
			}
		}
	}()

	b.logger.Info("Chat bus subscribed", "channel", b.channel)
	return nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
