package serial

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrClosed is returned by reads on a port that has been closed.
	ErrClosed = errors.New("serial port closed")
	// ErrTimeout is returned by ReadLine when Config.ReadTimeout elapses without a line.
	ErrTimeout = errors.New("serial read timeout")
	// ErrUnsupportedBaud is returned for baud rates the termios layer cannot express.
	ErrUnsupportedBaud = errors.New("unsupported baud rate")
)

// DefaultBaudRate is applied when Config.BaudRate is zero.
const DefaultBaudRate = 115200

const readChunkSize = 4096

// Port is a raw, killable Linux serial endpoint. Received bytes are framed
// into lines by a LineAccumulator owned by the port.
//
// Write and Close may be called from any goroutine. The read methods share
// the accumulator and must not run concurrently with each other.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd

	acc     *LineAccumulator
	pending []string
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device         string
	BaudRate       int           // default 115200
	ReadTimeout    time.Duration // ReadLine only; zero waits forever
	BufferCapacity int           // default 256
}

// Open opens a serial port using the provided Config and returns a Port.
// The port is configured for raw, low-latency, non-buffered operation.
func Open(cfg Config) (*Port, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, fmt.Errorf("open %s: %w: %d", cfg.Device, ErrUnsupportedBaud, cfg.BaudRate)
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	setSpeed(termios, baud)

	// VMIN=1, VTIME=0: a read returns as soon as one byte is available
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	// Back to blocking mode now that config is done
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	// Self-pipe wakes a blocked poll on Close
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	return &Port{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
		acc:    NewLineAccumulator(cfg.BufferCapacity),
	}, nil
}

// Name returns the device path.
func (s *Port) Name() string { return s.config.Device }

// SetBaudRate changes the line speed of an open port.
func (s *Port) SetBaudRate(baud int) error {
	speed, ok := baudToUnix(baud)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, baud)
	}
	termios, err := unix.IoctlGetTermios(s.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	setSpeed(termios, speed)
	if err := unix.IoctlSetTermios(s.fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	s.config.BaudRate = baud
	return nil
}

// Write writes raw bytes to the port. It implements io.Writer.
func (s *Port) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// WriteLine writes a line (with specified newline) to the serial port.
func (s *Port) WriteLine(line string, newline string) error {
	_, err := s.file.WriteString(line + newline)
	return err
}

// wait blocks until the port is readable, the port is closed, or timeout
// elapses. A negative timeout waits forever.
func (s *Port) wait(timeout int) (readable bool, err error) {
	pfd := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN},
		{Fd: int32(s.pipeR), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(pfd, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		select {
		case <-s.done:
			return false, ErrClosed
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			var b [1]byte
			unix.Read(s.pipeR, b[:])
			return false, ErrClosed
		}
		if n == 0 {
			return false, nil
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return true, nil
		}
	}
}

// ReadChunksLoop hands every chunk read from the port to onChunk, in order,
// from the calling goroutine. The chunk is only valid until onChunk returns.
// It returns after Close or after reporting a read error to onError.
func (s *Port) ReadChunksLoop(onChunk func([]byte), onError func(error)) {
	buf := make([]byte, readChunkSize)
	for {
		readable, err := s.wait(-1)
		if errors.Is(err, ErrClosed) {
			return
		}
		if err != nil {
			onError(err)
			return
		}
		if !readable {
			continue
		}
		n, err := s.file.Read(buf)
		if err != nil {
			onError(err)
			return
		}
		onChunk(buf[:n])
	}
}

// ReadLine blocks until a complete line has been received and returns it
// cleaned. Lines that arrive together in one chunk are returned by
// subsequent calls. With a non-zero Config.ReadTimeout it returns ErrTimeout
// when no line completes in time.
func (s *Port) ReadLine() (string, error) {
	timeout := -1
	var deadline time.Time
	if s.config.ReadTimeout > 0 {
		deadline = time.Now().Add(s.config.ReadTimeout)
	}
	buf := make([]byte, readChunkSize)
	for len(s.pending) == 0 {
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return "", ErrTimeout
			}
			timeout = int((left + time.Millisecond - 1) / time.Millisecond)
		}
		readable, err := s.wait(timeout)
		if err != nil {
			return "", err
		}
		if !readable {
			continue
		}
		n, err := s.file.Read(buf)
		if err != nil {
			return "", err
		}
		s.acc.Ingest(buf[:n], func(raw []byte) {
			s.pending = append(s.pending, string(Sanitize(raw)))
		})
	}
	line := s.pending[0]
	s.pending = s.pending[1:]
	return line, nil
}

// ReadLinesLoop continuously reads from the port and invokes onLine for each
// cleaned line. If an error occurs, onError is called and the loop exits.
// Close ends the loop without calling onError.
func (s *Port) ReadLinesLoop(onLine func(string), onError func(error)) {
	for len(s.pending) > 0 {
		line := s.pending[0]
		s.pending = s.pending[1:]
		onLine(line)
	}
	s.ReadChunksLoop(func(chunk []byte) {
		s.acc.Ingest(chunk, func(raw []byte) {
			onLine(string(Sanitize(raw)))
		})
	}, onError)
}

// Close closes the serial port and unblocks any pending reads.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *Port) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		if s.pipeW > 0 {
			unix.Write(s.pipeW, []byte{1})
		}
		if s.file != nil {
			err = s.file.Close()
		}
		if s.pipeR > 0 {
			unix.Close(s.pipeR)
		}
		if s.pipeW > 0 {
			unix.Close(s.pipeW)
		}
	})
	return err
}

func setSpeed(termios *unix.Termios, baud uint32) {
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud
}

// SupportedBaudRate reports whether Open and SetBaudRate accept baud.
func SupportedBaudRate(baud int) bool {
	_, ok := baudToUnix(baud)
	return ok
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}
