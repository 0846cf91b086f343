package stream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
)

// Writer appends records to a single stream. Records sharing a partition key
// are stored and replayed in publish order.
type Writer struct {
	rdb  *redis.Client
	key  string
	name string
}

// Writer returns an appender for the named stream.
func (c *Client) Writer(name string) *Writer {
	return &Writer{rdb: c.rdb, key: c.StreamKey(name), name: name}
}

// Publish appends one record under the given partition key, retrying
// transient failures with exponential backoff before giving up.
func (w *Writer) Publish(ctx context.Context, partitionKey string, payload []byte) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 50 * time.Millisecond
	backoffCfg.MaxInterval = time.Second

	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		err := w.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: w.key,
			Values: map[string]any{fieldKey: partitionKey, fieldData: payload},
		}).Err()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return errs.New("stream/writer", errs.CodeUnavailable,
		errs.WithMessage("publish"), errs.WithField("stream", w.key), errs.WithCause(lastErr))
}
