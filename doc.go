// Package serial implements a line echo protocol on top of a raw Linux
// serial port.
//
// Received bytes arrive in chunks of any size. A LineAccumulator folds them
// into lines terminated by '\n' or '\r', keeping only printable ASCII and
// never holding more than capacity-1 bytes (256 by default). Excess bytes of
// an overlong line are dropped without error. Each line is trimmed of
// surrounding spaces and terminators by Sanitize and written back by an
// Echoer.
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Bounded line framing that survives any fragmentation
//   - Write failures are logged and never stop processing
//   - Self-pipe mechanism for killability
//   - Optional Prometheus counters and line mirroring
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serial.Open(serial.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	echoer := serial.NewEchoer(port, serial.WithLogger(slog.Default()))
//
//	// All chunks are delivered from this one goroutine
//	go port.ReadChunksLoop(echoer.HandleChunk, func(err error) {
//	    log.Println("Read error:", err)
//	})
//
//	// ... to stop echoing, call port.Close() from another goroutine
//
// The accumulator and the Echoer are not safe for concurrent use; chunks
// from one device must be handed over one at a time, in order.
package serial
