package serial

import (
	"fmt"
	"io"
	"log/slog"
)

// Mirror receives a copy of every echoed line, e.g. an MQTT publisher.
type Mirror interface {
	Publish(line []byte) error
}

// Echoer turns received chunks into cleaned lines and writes each one back
// to its sink.
//
// HandleChunk is not reentrant. Chunks from one transport must be handed
// over from a single goroutine, which is what Port.ReadChunksLoop does.
type Echoer struct {
	sink      io.Writer
	acc       *LineAccumulator
	logger    *slog.Logger
	metrics   *Metrics
	mirror    Mirror
	suffix    []byte
	skipEmpty bool
	capacity  int
	out       []byte
}

// EchoerOption configures an Echoer.
type EchoerOption func(*Echoer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) EchoerOption {
	return func(e *Echoer) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCapacity sets the accumulation buffer capacity.
func WithCapacity(capacity int) EchoerOption {
	return func(e *Echoer) { e.capacity = capacity }
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *Metrics) EchoerOption {
	return func(e *Echoer) { e.metrics = m }
}

// WithMirror publishes every echoed line to m as well.
func WithMirror(m Mirror) EchoerOption {
	return func(e *Echoer) { e.mirror = m }
}

// WithSuffix appends suffix to every echoed line. Empty by default, so lines
// are echoed exactly as cleaned.
func WithSuffix(suffix string) EchoerOption {
	return func(e *Echoer) { e.suffix = []byte(suffix) }
}

// WithSkipEmpty suppresses writes for lines that are empty after cleaning.
func WithSkipEmpty(skip bool) EchoerOption {
	return func(e *Echoer) { e.skipEmpty = skip }
}

// NewEchoer returns an Echoer writing to sink.
func NewEchoer(sink io.Writer, opts ...EchoerOption) *Echoer {
	e := &Echoer{
		sink:     sink,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		capacity: DefaultBufferCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.acc = NewLineAccumulator(e.capacity)
	return e
}

// Accumulator exposes the line state, mostly for inspection in tests.
func (e *Echoer) Accumulator() *LineAccumulator { return e.acc }

// HandleChunk processes one received chunk. It never fails: write errors are
// logged and the next line is processed as usual.
func (e *Echoer) HandleChunk(chunk []byte) {
	before := e.acc.Stats()
	e.acc.Ingest(chunk, e.handleLine)
	e.metrics.observe(before, e.acc.Stats(), e.acc.Len())
}

func (e *Echoer) handleLine(raw []byte) {
	if e.acc.Truncated() {
		e.logger.Debug("line exceeded buffer, excess bytes dropped",
			"bytes", len(raw), "capacity", e.acc.Cap())
	}

	cleaned := Sanitize(raw)
	e.logger.Info("cleaned message", "line", string(cleaned))

	if len(cleaned) == 0 && e.skipEmpty {
		e.metrics.line("skipped")
		return
	}

	if err := e.write(cleaned); err != nil {
		e.metrics.writeFailed()
		e.metrics.line("failed")
		e.logger.Error("failed to send response", "line", string(cleaned), "err", err)
	} else {
		e.metrics.line("echoed")
		e.logger.Info("sent response", "line", string(cleaned))
	}

	if e.mirror != nil {
		if err := e.mirror.Publish(cleaned); err != nil {
			e.metrics.mirrorFailed()
			e.logger.Warn("mirror publish failed", "line", string(cleaned), "err", err)
		}
	}
}

func (e *Echoer) write(line []byte) error {
	out := line
	if len(e.suffix) > 0 {
		e.out = append(append(e.out[:0], line...), e.suffix...)
		out = e.out
	}
	n, err := e.sink.Write(out)
	e.metrics.written(n)
	if err != nil {
		return fmt.Errorf("write %d bytes: %w", len(out), err)
	}
	if n < len(out) {
		return fmt.Errorf("write %d bytes: %w", len(out), io.ErrShortWrite)
	}
	return nil
}
