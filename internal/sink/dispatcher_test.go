package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type recordingSink struct {
	name     string
	calls    *[]string
	rows     [][]any
	panics   bool
	readyErr error
	closeErr error
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) EnsureReady(ctx context.Context) error { return r.readyErr }

func (r *recordingSink) Record(ctx context.Context, ts time.Time, values []any) {
	*r.calls = append(*r.calls, r.name)
	if r.panics {
		panic("boom")
	}
	r.rows = append(r.rows, values)
}

func (r *recordingSink) Close() error { return r.closeErr }

func TestDispatcher_FixedOrderAndIsolation(t *testing.T) {
	var calls []string
	first := &recordingSink{name: "first", calls: &calls, panics: true}
	second := &recordingSink{name: "second", calls: &calls}
	third := &recordingSink{name: "third", calls: &calls}

	d := NewDispatcher(zap.NewNop(), first, second, third)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), time.Now(), []any{1.0})
		d.Dispatch(context.Background(), time.Now(), []any{2.0})
	})

	assert.Equal(t, []string{"first", "second", "third", "first", "second", "third"}, calls)
	assert.Equal(t, [][]any{{1.0}, {2.0}}, second.rows)
	assert.Equal(t, [][]any{{1.0}, {2.0}}, third.rows)
}

func TestDispatcher_RowsAreCopied(t *testing.T) {
	var calls []string
	s := &recordingSink{name: "s", calls: &calls}
	d := NewDispatcher(zap.NewNop(), s)

	row := []any{1.0}
	d.Dispatch(context.Background(), time.Now(), row)
	row[0] = 99.0
	assert.Equal(t, 1.0, s.rows[0][0])
}

func TestDispatcher_PrepareAndClose(t *testing.T) {
	var calls []string
	bad := &recordingSink{name: "bad", calls: &calls, readyErr: errors.New("no db"), closeErr: errors.New("close failed")}
	good := &recordingSink{name: "good", calls: &calls}

	d := NewDispatcher(zap.NewNop(), bad, good)
	d.Prepare(context.Background())
	assert.Len(t, d.Sinks(), 2)

	err := d.Close()
	assert.ErrorContains(t, err, "close bad")
}
