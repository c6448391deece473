// internal/sink/sql_sink.go
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"instrument-logger/internal/metrics"
)

const countColumnsQuery = `SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name ~ '^ch[0-9]+$'`

// SQLSink appends rows to a PostgreSQL table whose numeric columns
// ch1..chN grow to fit the widest row seen. Columns are never dropped or
// renamed.
type SQLSink struct {
	mu      sync.Mutex
	db      *sql.DB
	table   string
	columns int
	ready   bool
	logger  *zap.Logger
}

// NewSQLSink creates a sink writing to table
func NewSQLSink(db *sql.DB, table string, logger *zap.Logger) *SQLSink {
	return &SQLSink{
		db:     db,
		table:  table,
		logger: logger,
	}
}

// Name identifies the sink in logs and metrics
func (s *SQLSink) Name() string {
	return "postgres:" + s.table
}

// Columns returns the known number of numeric columns
func (s *SQLSink) Columns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columns
}

// EnsureReady creates the table if needed and loads its column count
func (s *SQLSink) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureReady(ctx)
}

func (s *SQLSink) ensureReady(ctx context.Context) error {
	if s.ready {
		return nil
	}

	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id BIGSERIAL PRIMARY KEY, %s TIMESTAMPTZ NOT NULL, %s DOUBLE PRECISION)",
		pq.QuoteIdentifier(s.table), pq.QuoteIdentifier("timestamp"), pq.QuoteIdentifier(channelColumn(1)))
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, countColumnsQuery, s.table).Scan(&n); err != nil {
		return fmt.Errorf("failed to count columns of %s: %w", s.table, err)
	}

	s.columns = n
	s.ready = true
	metrics.SinkColumns.WithLabelValues(s.table).Set(float64(n))

	s.logger.Info("Relational sink ready",
		zap.String("table", s.table),
		zap.Int("columns", n))
	return nil
}

// EnsureColumns adds the missing numeric columns so that at least required
// exist. The column count never decreases.
func (s *SQLSink) EnsureColumns(ctx context.Context, required int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureColumns(ctx, required)
}

func (s *SQLSink) ensureColumns(ctx context.Context, required int) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}

	for i := s.columns + 1; i <= required; i++ {
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s DOUBLE PRECISION",
			pq.QuoteIdentifier(s.table), pq.QuoteIdentifier(channelColumn(i)))
		if _, err := s.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", channelColumn(i), s.table, err)
		}
		s.columns = i
		s.logger.Info("Column added",
			zap.String("table", s.table),
			zap.String("column", channelColumn(i)))
	}
	metrics.SinkColumns.WithLabelValues(s.table).Set(float64(s.columns))
	return nil
}

// Record inserts one row with exactly len(values) numeric columns.
// Values that are not numeric are stored as NULL.
func (s *SQLSink) Record(ctx context.Context, ts time.Time, values []any) {
	if len(values) == 0 {
		return
	}
	observe(s.logger, s.Name(), s.write(ctx, ts, values))
}

func (s *SQLSink) write(ctx context.Context, ts time.Time, values []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureColumns(ctx, len(values)); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, insertStatement(s.table, len(values)), insertArgs(ts, values)...)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", s.table, err)
	}
	return nil
}

// Close is a no-op; the connection pool belongs to the caller
func (s *SQLSink) Close() error {
	return nil
}

func channelColumn(i int) string {
	return "ch" + strconv.Itoa(i)
}

func insertStatement(table string, n int) string {
	cols := make([]string, 0, n+1)
	params := make([]string, 0, n+1)
	cols = append(cols, pq.QuoteIdentifier("timestamp"))
	params = append(params, "$1")
	for i := 1; i <= n; i++ {
		cols = append(cols, pq.QuoteIdentifier(channelColumn(i)))
		params = append(params, "$"+strconv.Itoa(i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pq.QuoteIdentifier(table), strings.Join(cols, ", "), strings.Join(params, ", "))
}

func insertArgs(ts time.Time, values []any) []any {
	args := make([]any, 0, len(values)+1)
	args = append(args, ts)
	for _, v := range values {
		args = append(args, numericValue(v))
	}
	return args
}
