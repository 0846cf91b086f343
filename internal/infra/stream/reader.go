package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
)

// Reader iterates a stream from its first record using a throwaway consumer
// group, so every new Reader observes the full history regardless of prior
// consumers.
//
// Next reports io.EOF once the stream is drained: all stored records have
// been delivered and either waitForEvents is off, or at least one record was
// delivered during this Reader's lifetime.
type Reader struct {
	rdb           *redis.Client
	key           string
	group         string
	consumer      string
	readTimeout   time.Duration
	waitForEvents bool

	pending   []redis.XMessage
	delivered int64
	haveRead  bool
	closed    bool
}

// Reader opens an iterator over the named stream. waitForEvents keeps an
// empty stream open until the first record arrives.
func (c *Client) Reader(ctx context.Context, name string, waitForEvents bool) (*Reader, error) {
	key := c.StreamKey(name)
	group := "reader-" + uuid.NewString()
	if err := c.rdb.XGroupCreateMkStream(ctx, key, group, "0").Err(); err != nil && !isBusyGroup(err) {
		return nil, errs.New("stream/reader", errs.CodeUnavailable,
			errs.WithMessage("create reader group"), errs.WithField("stream", key), errs.WithCause(err))
	}
	return &Reader{
		rdb:           c.rdb,
		key:           key,
		group:         group,
		consumer:      "worker",
		readTimeout:   c.readTimeout,
		waitForEvents: waitForEvents,
	}, nil
}

// Next returns the next record payload. It blocks in readTimeout windows and
// returns io.EOF when the stream is drained, or the context error when
// cancelled.
func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	for {
		if len(r.pending) > 0 {
			msg := r.pending[0]
			r.pending = r.pending[1:]
			r.delivered++
			r.haveRead = true
			return payloadOf(msg)
		}
		if r.closed {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.key, ">"},
			Count:    readBatchSize,
			Block:    r.readTimeout,
		}).Result()
		switch {
		case err == nil:
			for _, s := range res {
				r.pending = append(r.pending, s.Messages...)
			}
		case errors.Is(err, redis.Nil):
			drained, derr := r.drained(ctx)
			if derr != nil {
				return nil, derr
			}
			if drained {
				return nil, io.EOF
			}
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Transient read failure: wait one window and poll again.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.readTimeout):
			}
		}
	}
}

func (r *Reader) drained(ctx context.Context) (bool, error) {
	length, err := r.rdb.XLen(ctx, r.key).Result()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	if length > r.delivered {
		return false, nil
	}
	if r.waitForEvents && !r.haveRead {
		return false, nil
	}
	return true, nil
}

// Close tears down the throwaway consumer group. The Reader reports io.EOF
// afterwards.
func (r *Reader) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.rdb.XGroupDestroy(ctx, r.key, r.group).Err(); err != nil {
		return errs.New("stream/reader", errs.CodeUnavailable,
			errs.WithMessage("destroy reader group"), errs.WithField("stream", r.key), errs.WithCause(err))
	}
	return nil
}

func payloadOf(msg redis.XMessage) ([]byte, error) {
	raw, ok := msg.Values[fieldData]
	if !ok {
		return nil, errs.New("stream/reader", errs.CodeMalformed,
			errs.WithMessage("record missing data field"), errs.WithField("id", msg.ID))
	}
	switch v := raw.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, errs.New("stream/reader", errs.CodeMalformed,
			errs.WithMessage("record data has unexpected type"), errs.WithField("id", msg.ID))
	}
}
