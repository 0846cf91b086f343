package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

// Extract replays one center's input stream and collects the events for a
// single package, stopping after its output scan. It filters the full stream
// rather than seeking; see the stream-cut hints in HintStage for the planned
// shortcut.
func Extract(ctx context.Context, streams *stream.Client, center schema.CenterCode, packageID string) ([]*schema.Event, error) {
	reader, err := streams.Reader(ctx, schema.InputStreamName(center), false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close(context.WithoutCancel(ctx)) }()

	var matched []*schema.Event
	for {
		payload, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return matched, nil
		}
		if err != nil {
			return nil, err
		}
		ev, err := schema.DecodeEvent(payload)
		if err != nil {
			return nil, err
		}
		if ev.PackageID != packageID {
			continue
		}
		matched = append(matched, ev)
		if ev.ScannerID == schema.ScannerOutput {
			return matched, nil
		}
	}
}
