// Package admin clears a deployment scope so a run starts from nothing:
// streams, package tables, and coordination keys.
package admin

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/coord"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

// Purger deletes tracker state. Its two operations are independent: a
// re-run after a crash purges coordination only, keeping streams and tables.
type Purger struct {
	streams *stream.Client
	tables  kvtable.Store
	coord   *coord.Store
	log     *zap.Logger
}

// NewPurger wires a Purger over the three state surfaces.
func NewPurger(streams *stream.Client, tables kvtable.Store, store *coord.Store, log *zap.Logger) (*Purger, error) {
	if streams == nil {
		return nil, fmt.Errorf("stream client required")
	}
	if tables == nil {
		return nil, fmt.Errorf("table store required")
	}
	if store == nil {
		return nil, fmt.Errorf("coordination store required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Purger{streams: streams, tables: tables, coord: store, log: log.Named("purge")}, nil
}

// PurgeScope deletes the four center input streams, the trouble stream, and
// both package tables.
func (p *Purger) PurgeScope(ctx context.Context) error {
	for _, center := range schema.CenterCodes {
		name := schema.InputStreamName(center)
		p.log.Debug("deleting stream", zap.String("stream", name))
		if err := p.streams.DeleteStream(ctx, name); err != nil {
			return err
		}
	}
	p.log.Debug("deleting stream", zap.String("stream", schema.TroubleStreamName))
	if err := p.streams.DeleteStream(ctx, schema.TroubleStreamName); err != nil {
		return err
	}
	for _, table := range []string{schema.TablePackageAttributes, schema.TablePackageEvents} {
		p.log.Debug("deleting table", zap.String("table", table))
		if err := p.tables.DeleteTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// PurgeCoordination drops the shared coordination keys: the next-expected
// index, the scanner hash, the late set, and the clock.
func (p *Purger) PurgeCoordination(ctx context.Context) error {
	p.log.Debug("deleting coordination keys", zap.Int("keys", len(coord.AllKeys())))
	return p.coord.Del(ctx, coord.AllKeys()...)
}

// PurgeAll runs both purges.
func (p *Purger) PurgeAll(ctx context.Context) error {
	if err := p.PurgeScope(ctx); err != nil {
		return err
	}
	return p.PurgeCoordination(ctx)
}
