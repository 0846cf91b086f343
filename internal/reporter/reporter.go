// Package reporter tails the trouble stream and prints one human-readable
// line per delayed, late, or lost package, joined with the package's
// attribute record.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

const timeLayout = "01-02 15:04"

// Config assembles the reporter's collaborators.
type Config struct {
	Streams *stream.Client
	Tables  kvtable.Store
	Out     io.Writer
	Logger  *zap.Logger

	// WaitForEvents keeps an empty trouble stream open until the first
	// record arrives.
	WaitForEvents bool
}

// Reporter consumes trouble events and renders report lines to Out.
type Reporter struct {
	cfg Config
	log *zap.Logger
}

// New validates the configuration and builds a Reporter.
func New(cfg Config) (*Reporter, error) {
	if cfg.Streams == nil {
		return nil, fmt.Errorf("stream client required")
	}
	if cfg.Tables == nil {
		return nil, fmt.Errorf("table store required")
	}
	if cfg.Out == nil {
		return nil, fmt.Errorf("output writer required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{cfg: cfg, log: log.Named("reporter")}, nil
}

// Run drains the trouble stream, printing one line per event. It returns
// once the stream is drained or the context is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	if err := r.cfg.Streams.EnsureStream(ctx, schema.TroubleStreamName); err != nil {
		return err
	}
	reader, err := r.cfg.Streams.Reader(ctx, schema.TroubleStreamName, r.cfg.WaitForEvents)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reader.Close(context.WithoutCancel(ctx)); cerr != nil {
			r.log.Warn("close reader", zap.Error(cerr))
		}
	}()

	var reported int64
	for {
		payload, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.log.Info("trouble stream drained", zap.Int64("reported", reported))
			return nil
		}
		if err != nil {
			return err
		}
		tev, err := schema.DecodeTroubleEvent(payload)
		if err != nil {
			r.log.Error("malformed trouble event", zap.ByteString("payload", payload), zap.Error(err))
			return err
		}
		attrs, err := r.attributes(ctx, tev.PackageID)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(r.cfg.Out, FormatLine(tev, attrs)); err != nil {
			return fmt.Errorf("write report line: %w", err)
		}
		reported++
	}
}

func (r *Reporter) attributes(ctx context.Context, packageID string) (*schema.PackageAttributes, error) {
	raw, err := r.cfg.Tables.Get(ctx, schema.TablePackageAttributes, packageID)
	if kvtable.IsNotFound(err) {
		// Trouble can outrun the attribute write; report what we have.
		return &schema.PackageAttributes{}, nil
	}
	if err != nil {
		return nil, err
	}
	return schema.DecodeAttributes(raw)
}

// FormatLine renders one report line. Attribute fields that were never
// written render as "?".
func FormatLine(tev *schema.TroubleEvent, attrs *schema.PackageAttributes) string {
	info := packageInfo(tev, attrs)
	at := formatTime(tev.EventTime)
	switch tev.EventType {
	case schema.TroubleLateDelivery:
		return fmt.Sprintf("at %s late  %s", at, info)
	case schema.TroubleLostPackage:
		return fmt.Sprintf("at %s LOST  %s", at, info)
	case schema.TroubleDelayedPackage:
		return fmt.Sprintf("at %s delay %s before %s", at, info, tev.NextScannerID)
	default:
		return fmt.Sprintf("at %s %s %s", at, string(tev.EventType), info)
	}
}

func packageInfo(tev *schema.TroubleEvent, attrs *schema.PackageAttributes) string {
	weight := "?"
	if attrs.Weight != nil {
		weight = attrs.Weight.String()
	}
	value := "?"
	if attrs.DeclaredValue != nil {
		value = attrs.DeclaredValue.String()
	}
	origin := "?"
	if attrs.Origin != "" {
		origin = string(attrs.Origin)
	}
	dest := "?"
	if attrs.Destination != "" {
		dest = string(attrs.Destination)
	}
	estimated := "?"
	if attrs.EstimatedDeliveryTime > 0 {
		estimated = formatTime(attrs.EstimatedDeliveryTime)
	}
	return fmt.Sprintf("pkg %-5.5s weight %-2.2s value $%s origin %s dest %s est. del %s",
		tev.PackageID, weight, value, origin, dest, estimated)
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(timeLayout)
}
