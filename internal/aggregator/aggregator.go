// internal/aggregator/aggregator.go
package aggregator

import (
	"fmt"
	"sync"
	"time"

	"instrument-logger/internal/frame"
	"instrument-logger/internal/model"
)

// Layout selects how channels are arranged into rows
type Layout string

const (
	// LayoutDisplay arranges up to three meter displays (upper, middle,
	// lower) as values, then units, then polarities.
	LayoutDisplay Layout = "display"
	// LayoutRegisters arranges register channels as plain values in the
	// order they were first seen.
	LayoutRegisters Layout = "registers"
)

var displayHeaders = []string{frame.HeaderUpper, frame.HeaderMiddle, frame.HeaderLower}

// Row is one emitted record. Values excludes the timestamp.
type Row struct {
	Timestamp time.Time
	Values    []any
}

// Fields returns the row arity including the timestamp
func (r Row) Fields() int {
	return len(r.Values) + 1
}

// Aggregator keeps the last reading per logical channel and decides when a
// row is due. Row width never shrinks during a session.
type Aggregator struct {
	mu sync.RWMutex

	layout   Layout
	slots    map[string]int
	channels []string
	states   []*model.Reading
	tiers    int

	lastEmit time.Time
	emitted  bool
}

// New creates an aggregator for the given layout
func New(layout Layout) *Aggregator {
	a := &Aggregator{layout: layout}
	a.Reset()
	return a
}

// Layout returns the row layout
func (a *Aggregator) Layout() Layout {
	return a.layout
}

// Reset forgets every channel state and the emission clock
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.slots = make(map[string]int)
	a.channels = nil
	a.states = nil
	a.tiers = 0
	a.emitted = false
	a.lastEmit = time.Time{}

	if a.layout == LayoutDisplay {
		for i, h := range displayHeaders {
			a.slots[h] = i
		}
		a.channels = append(a.channels, displayHeaders...)
		a.states = make([]*model.Reading, len(displayHeaders))
	}
}

// ResetClock makes the next gated emission pass immediately
func (a *Aggregator) ResetClock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emitted = false
	a.lastEmit = time.Time{}
}

// Update stores r as the latest state of its channel. It returns false when
// the channel has no place in the layout.
func (a *Aggregator) Update(r model.Reading) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot, ok := a.slots[r.ChannelID]
	if !ok {
		if a.layout == LayoutDisplay {
			return false
		}
		slot = len(a.channels)
		a.slots[r.ChannelID] = slot
		a.channels = append(a.channels, r.ChannelID)
		a.states = append(a.states, nil)
	}

	stored := r
	a.states[slot] = &stored

	if a.layout == LayoutDisplay && slot+1 > a.tiers {
		a.tiers = slot + 1
	}
	return true
}

// ShouldEmit reports whether a row is due: the primary channel has a reading
// and at least interval has passed since the previous emission.
func (a *Aggregator) ShouldEmit(now time.Time, interval time.Duration) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.states) == 0 || a.states[0] == nil {
		return false
	}
	if !a.emitted {
		return true
	}
	return now.Sub(a.lastEmit) >= interval
}

// Emit builds the current row and restarts the emission clock
func (a *Aggregator) Emit(now time.Time) Row {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastEmit = now
	a.emitted = true

	row := Row{Timestamp: now}
	if a.layout == LayoutRegisters {
		row.Values = make([]any, 0, len(a.states))
		for _, s := range a.states {
			row.Values = append(row.Values, valueOf(s))
		}
		return row
	}

	tiers := a.tiers
	if tiers == 0 {
		tiers = 1
	}
	row.Values = make([]any, 0, tiers*3)
	for i := 0; i < tiers; i++ {
		row.Values = append(row.Values, valueOf(a.states[i]))
	}
	for i := 0; i < tiers; i++ {
		row.Values = append(row.Values, unitOf(a.states[i]))
	}
	for i := 0; i < tiers; i++ {
		row.Values = append(row.Values, polarityOf(a.states[i]))
	}
	return row
}

// Fields returns the arity, timestamp included, of the next row
func (a *Aggregator) Fields() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.layout == LayoutRegisters {
		return len(a.states) + 1
	}
	tiers := a.tiers
	if tiers == 0 {
		tiers = 1
	}
	return tiers*3 + 1
}

// Header returns the column names, timestamp first, of the next row
func (a *Aggregator) Header() []string {
	return append([]string{"timestamp"}, ColumnNames(a.layout, a.Fields()-1)...)
}

// Snapshot returns a copy of every channel state that has a reading
func (a *Aggregator) Snapshot() []model.Reading {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.Reading, 0, len(a.states))
	for _, s := range a.states {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// ColumnNames names n value columns for a layout. Display rows are named
// after the meter displays; anything else is ch1..chN.
func ColumnNames(layout Layout, n int) []string {
	if layout == LayoutDisplay && n > 0 && n%3 == 0 && n <= 9 {
		tiers := n / 3
		names := make([]string, 0, n)
		for _, prefix := range []string{"", "unit_", "polarity_"} {
			for _, h := range displayHeaders[:tiers] {
				names = append(names, prefix+frame.DisplayName(h))
			}
		}
		return names
	}

	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("ch%d", i+1)
	}
	return names
}

func valueOf(r *model.Reading) any {
	if r == nil || r.Value == nil {
		return nil
	}
	return *r.Value
}

func unitOf(r *model.Reading) any {
	if r == nil {
		return ""
	}
	return r.Unit
}

func polarityOf(r *model.Reading) any {
	if r == nil {
		return ""
	}
	return string(r.Polarity)
}
