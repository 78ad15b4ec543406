package serial

// DefaultBufferCapacity is the accumulation buffer size used when none is configured.
// One byte of the capacity is never filled, so a line holds at most 255 bytes.
const DefaultBufferCapacity = 256

// AccumulatorStats holds cumulative byte and line counters of a LineAccumulator.
type AccumulatorStats struct {
	Accepted   uint64 // printable bytes stored in the buffer
	Filtered   uint64 // non-printable bytes discarded
	Overflowed uint64 // printable bytes discarded because the buffer was full
	Lines      uint64 // terminators seen, i.e. raw lines emitted
}

// LineAccumulator folds raw byte chunks into newline or carriage-return
// delimited lines. It keeps a partial line across calls.
//
// A LineAccumulator is not safe for concurrent use. Chunks must be ingested
// strictly one after another, in the order they were received.
type LineAccumulator struct {
	buf       []byte
	truncated bool
	stats     AccumulatorStats
}

// NewLineAccumulator returns an accumulator whose buffer holds capacity-1 bytes.
// A capacity below 2 selects DefaultBufferCapacity.
func NewLineAccumulator(capacity int) *LineAccumulator {
	if capacity < 2 {
		capacity = DefaultBufferCapacity
	}
	return &LineAccumulator{buf: make([]byte, 0, capacity-1)}
}

func isTerminator(b byte) bool {
	return b == '\n' || b == '\r'
}

func isPrintable(b byte) bool {
	return b >= 0x20 && b <= 0x7E
}

// Ingest processes chunk byte by byte and calls emit once per terminator
// found, in order. The slice passed to emit aliases the internal buffer and
// is only valid until emit returns. Two consecutive terminators produce an
// empty line.
func (a *LineAccumulator) Ingest(chunk []byte, emit func(raw []byte)) {
	for _, b := range chunk {
		switch {
		case isTerminator(b):
			a.stats.Lines++
			if emit != nil {
				emit(a.buf)
			}
			a.Reset()
		case !isPrintable(b):
			a.stats.Filtered++
		case len(a.buf) < cap(a.buf):
			a.buf = append(a.buf, b)
			a.stats.Accepted++
		default:
			a.truncated = true
			a.stats.Overflowed++
		}
	}
}

// IngestAll is like Ingest but returns copies of the emitted lines.
func (a *LineAccumulator) IngestAll(chunk []byte) [][]byte {
	var lines [][]byte
	a.Ingest(chunk, func(raw []byte) {
		lines = append(lines, append([]byte{}, raw...))
	})
	return lines
}

// Len reports the number of bytes buffered for the current line.
func (a *LineAccumulator) Len() int { return len(a.buf) }

// Cap reports the configured capacity, including the reserved byte.
func (a *LineAccumulator) Cap() int { return cap(a.buf) + 1 }

// Buffered returns a copy of the unterminated line held so far.
func (a *LineAccumulator) Buffered() []byte {
	return append([]byte{}, a.buf...)
}

// Truncated reports whether bytes of the current line were dropped because
// the buffer was full. Inside an emit callback it describes the emitted line.
func (a *LineAccumulator) Truncated() bool { return a.truncated }

// Stats returns the cumulative counters.
func (a *LineAccumulator) Stats() AccumulatorStats { return a.stats }

// Reset discards the partial line.
func (a *LineAccumulator) Reset() {
	a.buf = a.buf[:0]
	a.truncated = false
}
