// internal/frame/extractor.go
package frame

import "bytes"

// Frame delimiters of the meter serial protocol
const (
	STX byte = 0x02
	CR  byte = 0x0D
)

// DefaultMaxPending bounds the bytes kept between reads while a frame is incomplete
const DefaultMaxPending = 4096

// Extract splits buf into the frames it contains. Each frame is the bytes
// between a start marker and the next terminator, both excluded. Bytes before
// a start marker are dropped. remainder holds an unterminated frame, starting
// at its start marker, and is nil when there is none.
func Extract(buf []byte) (frames [][]byte, remainder []byte) {
	for {
		start := bytes.IndexByte(buf, STX)
		if start < 0 {
			return frames, nil
		}

		end := bytes.IndexByte(buf[start+1:], CR)
		if end < 0 {
			return frames, buf[start:]
		}

		body := buf[start+1 : start+1+end]
		frames = append(frames, append([]byte(nil), body...))
		buf = buf[start+1+end+1:]
	}
}

// Extractor carries the unconsumed remainder of a byte stream across reads
type Extractor struct {
	pending    []byte
	maxPending int
	overflows  int
}

// NewExtractor creates an extractor. maxPending <= 0 selects DefaultMaxPending.
func NewExtractor(maxPending int) *Extractor {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Extractor{maxPending: maxPending}
}

// Feed appends data to the pending bytes and returns every complete frame
func (e *Extractor) Feed(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}

	buf := append(e.pending, data...)
	frames, remainder := Extract(buf)

	if len(remainder) > e.maxPending {
		// a start marker that never terminates; resync on the next one
		e.overflows++
		remainder = nil
	}
	e.pending = append(e.pending[:0:0], remainder...)
	return frames
}

// Pending returns the number of buffered bytes
func (e *Extractor) Pending() int {
	return len(e.pending)
}

// Overflows returns how many times pending bytes were discarded
func (e *Extractor) Overflows() int {
	return e.overflows
}

// Reset drops pending bytes
func (e *Extractor) Reset() {
	e.pending = nil
}
