// internal/sink/sink.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"instrument-logger/internal/metrics"
	"instrument-logger/internal/model"
)

// Sink is a durable append target for emitted rows. Record never returns an
// error: a sink logs its own failures so the next sink and the next cycle
// are unaffected.
type Sink interface {
	Name() string
	EnsureReady(ctx context.Context) error
	Record(ctx context.Context, ts time.Time, values []any)
	Close() error
}

// Dispatcher fans a row out to every sink in a fixed order
type Dispatcher struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher over sinks, in the given order
func NewDispatcher(logger *zap.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Sinks returns the configured sinks
func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

// Prepare readies every sink. A sink that fails here is kept; it retries on
// its next record.
func (d *Dispatcher) Prepare(ctx context.Context) {
	for _, s := range d.sinks {
		if err := s.EnsureReady(ctx); err != nil {
			d.logger.Warn("Sink not ready",
				zap.String("sink", s.Name()),
				zap.Error(model.Wrap(model.ErrSink, "prepare", err)))
		}
	}
}

// Dispatch hands the row to every sink, sequentially
func (d *Dispatcher) Dispatch(ctx context.Context, ts time.Time, values []any) {
	for _, s := range d.sinks {
		d.record(ctx, s, ts, values)
	}
}

func (d *Dispatcher) record(ctx context.Context, s Sink, ts time.Time, values []any) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			d.logger.Error("Sink panicked",
				zap.String("sink", s.Name()),
				zap.Any("panic", r))
		}
	}()

	row := make([]any, len(values))
	copy(row, values)
	s.Record(ctx, ts, row)
}

// Close closes every sink
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func observe(logger *zap.Logger, name string, err error) {
	if err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(name).Inc()
		logger.Error("Failed to record row",
			zap.String("sink", name),
			zap.Error(model.Wrap(model.ErrSink, "record", err)))
		return
	}
	metrics.SinkRecordsTotal.WithLabelValues(name).Inc()
}

// formatValue renders numbers with six significant digits and everything
// else in its textual form. nil renders empty.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'g', 6, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', 6, 32)
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'g', 6, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// numericValue converts v for a nullable float column
func numericValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return numericValue(float64(x))
	case *float64:
		if x == nil {
			return nil
		}
		return numericValue(*x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint16:
		return float64(x)
	case bool:
		if x {
			return 1.0
		}
		return 0.0
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil
		}
		return numericValue(f)
	default:
		return nil
	}
}
