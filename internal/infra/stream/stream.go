// Package stream adapts Redis Streams to the append-only per-key event log
// consumed by the pipeline: idempotent create, ordered publish, and drain-
// aware iteration.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
)

const (
	fieldKey  = "key"
	fieldData = "data"

	// bootstrapGroup exists only so create-if-absent has something to create;
	// readers never consume through it.
	bootstrapGroup = "init"

	readBatchSize   = 64
	publishAttempts = 5
)

// Dial opens a Redis client from a redis:// URI or a bare host:port address.
func Dial(uri string) (*redis.Client, error) {
	trimmed := strings.TrimSpace(uri)
	if trimmed == "" {
		return nil, errs.New("stream", errs.CodeConfig, errs.WithMessage("redis uri required"))
	}
	if strings.Contains(trimmed, "://") {
		opts, err := redis.ParseURL(trimmed)
		if err != nil {
			return nil, errs.New("stream", errs.CodeConfig,
				errs.WithMessage("parse redis uri"), errs.WithField("uri", trimmed), errs.WithCause(err))
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: trimmed}), nil
}

// Client namespaces stream keys under a scope and hands out writers and
// readers bound to that scope.
type Client struct {
	rdb         *redis.Client
	scope       string
	readTimeout time.Duration
}

// NewClient wraps an established Redis connection. readTimeout is the drain
// probe window used by readers.
func NewClient(rdb *redis.Client, scope string, readTimeout time.Duration) *Client {
	return &Client{rdb: rdb, scope: strings.TrimSpace(scope), readTimeout: readTimeout}
}

// StreamKey returns the namespaced Redis key for a stream name.
func (c *Client) StreamKey(name string) string {
	return c.scope + ":" + name
}

// EnsureStream creates the stream if it does not exist yet. Safe to call on
// every startup.
func (c *Client) EnsureStream(ctx context.Context, name string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.StreamKey(name), bootstrapGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return errs.New("stream", errs.CodeUnavailable,
			errs.WithMessage("ensure stream"), errs.WithField("stream", c.StreamKey(name)), errs.WithCause(err))
	}
	return nil
}

// DeleteStream removes the stream and everything in it.
func (c *Client) DeleteStream(ctx context.Context, name string) error {
	if err := c.rdb.Del(ctx, c.StreamKey(name)).Err(); err != nil {
		return errs.New("stream", errs.CodeUnavailable,
			errs.WithMessage("delete stream"), errs.WithField("stream", c.StreamKey(name)), errs.WithCause(err))
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
