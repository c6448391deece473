// internal/sink/csv_sink.go
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimestampLayout is the local-time layout of the timestamp column
const TimestampLayout = "2006-01-02 15:04:05"

// ColumnNamer names n value columns
type ColumnNamer func(n int) []string

// DefaultColumns names columns ch1..chN
func DefaultColumns(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("ch%d", i+1)
	}
	return names
}

// CSVOption configures a CSVSink
type CSVOption func(*CSVSink)

// WithColumnNames replaces the ch1..chN header naming
func WithColumnNames(namer ColumnNamer) CSVOption {
	return func(s *CSVSink) {
		s.columns = namer
	}
}

// CSVSink appends rows to a comma-separated file. The header is written
// once, when a row is recorded into an empty or missing file, and takes its
// width from that row.
type CSVSink struct {
	mu      sync.Mutex
	path    string
	columns ColumnNamer
	file    *os.File
	writer  *csv.Writer
	logger  *zap.Logger
}

// NewCSVSink creates a sink writing to path
func NewCSVSink(path string, logger *zap.Logger, opts ...CSVOption) *CSVSink {
	s := &CSVSink{
		path:    path,
		columns: DefaultColumns,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the sink in logs and metrics
func (s *CSVSink) Name() string {
	return "csv:" + s.path
}

// EnsureReady creates parent directories and opens the file for append
func (s *CSVSink) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open()
}

func (s *CSVSink) open() error {
	if s.file != nil {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	s.file = f
	s.writer = csv.NewWriter(f)

	s.logger.Info("CSV sink opened", zap.String("path", s.path))
	return nil
}

// Record appends one row
func (s *CSVSink) Record(ctx context.Context, ts time.Time, values []any) {
	observe(s.logger, s.Name(), s.write(ts, values))
}

func (s *CSVSink) write(ts time.Time, values []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.open(); err != nil {
		return err
	}

	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	if info.Size() == 0 {
		header := append([]string{"timestamp"}, s.columns(len(values))...)
		if err := s.writer.Write(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	row := make([]string, 0, len(values)+1)
	row = append(row, ts.Local().Format(TimestampLayout))
	for _, v := range values {
		row = append(row, formatValue(v))
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	s.writer.Flush()
	return s.writer.Error()
}

// Close flushes and closes the file
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	err := s.file.Close()
	s.file = nil
	s.writer = nil
	return err
}
