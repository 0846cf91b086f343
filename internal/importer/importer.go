// Package importer reads simulator output (JSON lines) and routes each event
// into its center's input stream, closing every stream with an end-of-stream
// sentinel.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

const (
	// sentinelDelaySeconds puts the sentinel a full day after the last real
	// event, safely beyond any delayed-package shift.
	sentinelDelaySeconds = int64(86400)

	// sentinelPackageID marks sentinel records; stages skip them by
	// scanner_id, the id just keeps the partition key non-empty.
	sentinelPackageID = "none"

	maxLineBytes = 1 << 20
)

// Result reports what one import run moved.
type Result struct {
	Events        int64
	LastEventTime int64
	Sentinels     int
}

// Importer routes events into the four per-center input streams.
type Importer struct {
	streams *stream.Client
	log     *zap.Logger
}

// New builds an Importer over the stream client.
func New(streams *stream.Client, log *zap.Logger) (*Importer, error) {
	if streams == nil {
		return nil, fmt.Errorf("stream client required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{streams: streams, log: log.Named("importer")}, nil
}

// Run parses input line by line and publishes each event to
// sorting-center-input-<center>, partitioned by package id. After EOF it
// appends one sentinel per center at the maximum observed event_time plus a
// day, so workers can bound their drain. A malformed line aborts the import.
func (i *Importer) Run(ctx context.Context, input io.Reader) (Result, error) {
	var mu sync.Mutex
	var ensureErrs []error
	p := pool.New().WithMaxGoroutines(len(schema.CenterCodes))
	for _, center := range schema.CenterCodes {
		name := schema.InputStreamName(center)
		p.Go(func() {
			if err := i.streams.EnsureStream(ctx, name); err != nil {
				mu.Lock()
				ensureErrs = append(ensureErrs, err)
				mu.Unlock()
			}
		})
	}
	p.Wait()
	if err := errors.Join(ensureErrs...); err != nil {
		return Result{}, err
	}

	writers := make(map[schema.CenterCode]*stream.Writer, len(schema.CenterCodes))
	for _, center := range schema.CenterCodes {
		writers[center] = i.streams.Writer(schema.InputStreamName(center))
	}

	var res Result
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := schema.DecodeEvent(line)
		if err != nil {
			i.log.Error("malformed input line", zap.ByteString("payload", line), zap.Error(err))
			return res, err
		}
		payload, err := ev.Encode()
		if err != nil {
			return res, err
		}
		if err := writers[ev.SortingCenter].Publish(ctx, ev.PackageID, payload); err != nil {
			return res, err
		}
		res.Events++
		if ev.EventTime > res.LastEventTime {
			res.LastEventTime = ev.EventTime
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read input: %w", err)
	}

	if res.Events == 0 {
		i.log.Warn("no events imported, skipping sentinels")
		return res, nil
	}

	sentinelTime := res.LastEventTime + sentinelDelaySeconds
	for _, center := range schema.CenterCodes {
		sentinel := &schema.Event{
			EventTime:     sentinelTime,
			SortingCenter: center,
			PackageID:     sentinelPackageID,
			ScannerID:     schema.ScannerEndOfStream,
		}
		payload, err := sentinel.Encode()
		if err != nil {
			return res, err
		}
		if err := writers[center].Publish(ctx, sentinel.PackageID, payload); err != nil {
			return res, err
		}
		res.Sentinels++
	}
	i.log.Info("import complete",
		zap.Int64("events", res.Events),
		zap.Int64("last_event_time", res.LastEventTime))
	return res, nil
}
