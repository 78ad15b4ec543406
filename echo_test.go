package serial

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// recordingSink keeps every write separately.
type recordingSink struct {
	writes []string
	err    error
	short  bool
}

func (s *recordingSink) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.writes = append(s.writes, string(p))
	if s.short && len(p) > 0 {
		return len(p) - 1, nil
	}
	return len(p), nil
}

type fakeMirror struct {
	lines []string
	err   error
}

func (m *fakeMirror) Publish(line []byte) error {
	m.lines = append(m.lines, string(line))
	return m.err
}

func TestEchoer_EchoesCleanedLines(t *testing.T) {
	sink := &recordingSink{}
	e := NewEchoer(sink)

	e.HandleChunk([]byte("  hello world  \n"))
	e.HandleChunk([]byte("par"))
	e.HandleChunk([]byte("tial\x01 \r"))

	require.Equal(t, []string{"hello world", "partial"}, sink.writes)
}

func TestEchoer_EmptyLines(t *testing.T) {
	sink := &recordingSink{}
	NewEchoer(sink).HandleChunk([]byte("a\r\n"))
	require.Equal(t, []string{"a", ""}, sink.writes)

	sink = &recordingSink{}
	NewEchoer(sink, WithSkipEmpty(true)).HandleChunk([]byte("a\r\n   \n"))
	require.Equal(t, []string{"a"}, sink.writes)
}

func TestEchoer_Suffix(t *testing.T) {
	sink := &recordingSink{}
	e := NewEchoer(sink, WithSuffix("\r\n"))
	e.HandleChunk([]byte("one\ntwo\n"))
	require.Equal(t, []string{"one\r\n", "two\r\n"}, sink.writes)
}

func TestEchoer_WriteFailureIsLoggedAndIgnored(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := &recordingSink{err: errors.New("line down")}
	mirror := &fakeMirror{}
	metrics := NewMetrics(prometheus.NewRegistry())

	e := NewEchoer(sink, WithLogger(logger), WithMetrics(metrics), WithMirror(mirror))
	e.HandleChunk([]byte("first\nsecond\n"))

	require.Equal(t, 2, strings.Count(logs.String(), "failed to send response"))
	require.Contains(t, logs.String(), "line down")
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.WriteFailures))
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.LinesTotal.WithLabelValues("failed")))

	// Processing continues after failures
	sink.err = nil
	e.HandleChunk([]byte("third\n"))
	require.Equal(t, []string{"third"}, sink.writes)
	require.Equal(t, []string{"first", "second", "third"}, mirror.lines)
	require.Contains(t, logs.String(), "sent response")
}

func TestEchoer_ShortWrite(t *testing.T) {
	var logs bytes.Buffer
	sink := &recordingSink{short: true}
	e := NewEchoer(sink, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	e.HandleChunk([]byte("abc\n"))
	require.Contains(t, logs.String(), "short write")
}

func TestEchoer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sink := &recordingSink{}
	e := NewEchoer(sink, WithMetrics(metrics), WithCapacity(4))

	e.HandleChunk([]byte("abcdef\x01\x02\n"))
	e.HandleChunk([]byte("xy"))

	require.Equal(t, []string{"abc"}, sink.writes)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.LinesTotal.WithLabelValues("echoed")))
	require.Equal(t, float64(3), testutil.ToFloat64(metrics.DroppedBytesTotal.WithLabelValues("overflow")))
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.DroppedBytesTotal.WithLabelValues("filtered")))
	require.Equal(t, float64(3), testutil.ToFloat64(metrics.BytesWrittenTotal))
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.BufferedBytes))
	require.Equal(t, "xy", string(e.Accumulator().Buffered()))
	require.Equal(t, uint64(1), e.Accumulator().Stats().Lines)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Positive(t, count)
}

func TestEchoer_MirrorFailureDoesNotStopEcho(t *testing.T) {
	sink := &recordingSink{}
	mirror := &fakeMirror{err: errors.New("broker gone")}
	metrics := NewMetrics(nil)
	e := NewEchoer(sink, WithMirror(mirror), WithMetrics(metrics))

	e.HandleChunk([]byte("x\ny\n"))
	require.Equal(t, []string{"x", "y"}, sink.writes)
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.MirrorFailures))
}

func TestEchoer_TruncatedLineIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := &recordingSink{}
	e := NewEchoer(sink, WithLogger(logger))

	e.HandleChunk(append(bytes.Repeat([]byte{'z'}, 300), '\n'))
	require.Len(t, sink.writes, 1)
	require.Len(t, sink.writes[0], 255)
	require.Contains(t, logs.String(), "excess bytes dropped")
}

func TestEchoer_OverPTY(t *testing.T) {
	port, master := openPTY(t, Config{})
	e := NewEchoer(port)

	errs := make(chan error, 1)
	go port.ReadChunksLoop(e.HandleChunk, func(err error) { errs <- err })

	_, err := master.Write([]byte("  hi there \r\n"))
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := master.Read(buf)
		if err != nil {
			errs <- err
			return
		}
		got <- string(buf[:n])
	}()

	select {
	case msg := <-got:
		require.Equal(t, "hi there", msg)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for echo")
	}
}
