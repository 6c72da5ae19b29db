// Package redishost provides a Redis-backed sessions.SessionHost so a
// category-routed server can run as multiple stateless nodes behind a load
// balancer: any node can resume any session. Metadata is stored as a JSON
// string with the session's TTL; the message stream uses a Redis stream per
// session.
package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/routeview/mcp-routing-go/sessions"
)

// Config for the Redis-backed host. Defaults can be loaded from the
// environment via NewFromEnv.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys written by this host. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcproute:sessions:"`
	// StreamMaxLen caps each session stream (approximate trimming). Zero
	// disables trimming. ENV: SESSIONS_STREAM_MAXLEN
	StreamMaxLen int64 `env:"SESSIONS_STREAM_MAXLEN,default=1024"`
}

// Host is a Redis implementation of sessions.SessionHost.
type Host struct {
	client       *redis.Client
	keyPrefix    string
	streamMaxLen int64
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcproute:sessions:"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Host{client: cl, keyPrefix: prefix, streamMaxLen: cfg.StreamMaxLen}, nil
}

// NewFromEnv builds a Host from REDIS_ADDR / SESSIONS_* environment variables.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode redis host config: %w", err)
	}
	return New(cfg)
}

// Close closes the underlying Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) metaKey(sessionID string) string   { return h.keyPrefix + "meta:" + sessionID }
func (h *Host) streamKey(sessionID string) string { return h.keyPrefix + "stream:" + sessionID }

// SaveSession implements sessions.SessionHost.
func (h *Host) SaveSession(ctx context.Context, meta sessions.Metadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	return h.client.Set(ctx, h.metaKey(meta.SessionID), b, meta.TTL).Err()
}

// LoadSession implements sessions.SessionHost.
func (h *Host) LoadSession(ctx context.Context, sessionID string) (sessions.Metadata, error) {
	b, err := h.client.Get(ctx, h.metaKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessions.Metadata{}, sessions.ErrSessionNotFound
		}
		return sessions.Metadata{}, err
	}
	var meta sessions.Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return sessions.Metadata{}, fmt.Errorf("unmarshal session metadata: %w", err)
	}
	return meta, nil
}

// DeleteSession implements sessions.SessionHost.
func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	return h.client.Del(ctx, h.metaKey(sessionID), h.streamKey(sessionID)).Err()
}

// PublishSession implements sessions.SessionHost. The session's metadata key
// gates the write so a deleted or expired session's stream is not recreated.
func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	n, err := h.client.Exists(ctx, h.metaKey(sessionID)).Result()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", sessions.ErrSessionNotFound
	}
	args := &redis.XAddArgs{
		Stream: h.streamKey(sessionID),
		Values: map[string]any{"d": data},
	}
	if h.streamMaxLen > 0 {
		args.MaxLen = h.streamMaxLen
		args.Approx = true
	}
	return h.client.XAdd(ctx, args).Result()
}

// SubscribeSession implements sessions.SessionHost.
func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	key := h.streamKey(sessionID)
	start := lastEventID
	if start == "" {
		start = "$" // only messages published after this call
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := h.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, start},
			Count:   16,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}
		for _, stream := range res {
			for _, m := range stream.Messages {
				start = m.ID
				var payload []byte
				switch v := m.Values["d"].(type) {
				case string:
					payload = []byte(v)
				case []byte:
					payload = v
				default:
					payload = []byte(fmt.Sprintf("%v", v))
				}
				if err := handler(ctx, m.ID, payload); err != nil {
					return err
				}
			}
		}
	}
}
