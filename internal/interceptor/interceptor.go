// Package interceptor wraps the worker process, byte-faithfully piping
// its output to the host terminal while buffering the same bytes for
// analysis, and forwards host stdin to the child.
package interceptor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"
)

const (
	DefaultMaxBufferSize         = 8192
	DefaultBufferFlushInterval   = 2 * time.Second
	gracefulShutdownGracePeriod  = 5 * time.Second

	minReadChunkSize = 4096
	maxReadChunkSize = 64 * 1024
)

// readChunkSizeFor sizes the PTY read buffer off the analysis buffer's
// own flush threshold instead of a fixed constant, so a deployment that
// tunes MaxBufferSize down (tighter analysis latency) also reads the
// child's output in correspondingly smaller slices, and one that tunes
// it up doesn't force many small reads to assemble one flush.
func readChunkSizeFor(maxBufferSize int) int {
	switch {
	case maxBufferSize <= 0:
		return DefaultMaxBufferSize
	case maxBufferSize < minReadChunkSize:
		return minReadChunkSize
	case maxBufferSize > maxReadChunkSize:
		return maxReadChunkSize
	default:
		return maxBufferSize
	}
}

// Config configures one Interceptor run.
type Config struct {
	Command               string
	Args                  []string
	Dir                   string
	Env                   []string
	MaxBufferSize         int
	BufferFlushInterval   time.Duration

	// Stdout is the host stream the child's output (stdout and stderr,
	// merged by the PTY) is echoed to; defaults to os.Stdout when nil
	// (tests may substitute a buffer).
	Stdout io.Writer
	// Stdin is the host input stream forwarded to the child; defaults
	// to os.Stdin when nil.
	Stdin io.Reader
}

// Handlers are the Interceptor's event callbacks. Each is optional; a
// nil handler is simply not invoked. Handlers that panic are recovered
// so a misbehaving listener cannot crash the pump.
type Handlers struct {
	OnOutput func(chunk []byte)
	OnFlush  func(text string)
	OnExit   func(code int, err error)
	OnError  func(err error)
}

// Interceptor owns the child process and its buffered analysis stream.
// It is the exclusive owner of the child's standard streams.
type Interceptor struct {
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	child *childProcess

	mu     sync.Mutex
	buffer []byte

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs an Interceptor; defaults are applied for zero-valued
// buffer-policy fields.
func New(cfg Config, handlers Handlers, logger *slog.Logger) *Interceptor {
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.BufferFlushInterval <= 0 {
		cfg.BufferFlushInterval = DefaultBufferFlushInterval
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{cfg: cfg, handlers: handlers, logger: logger, done: make(chan struct{})}
}

// Start spawns the configured command and begins pumping its output to
// the host stream and the analysis buffer, and forwarding host stdin to
// the child. It returns once the child has been spawned; Wait blocks
// until the child exits.
func (i *Interceptor) Start(ctx context.Context) error {
	cp, err := spawn(i.cfg.Command, i.cfg.Args, i.cfg.Dir, i.cfg.Env, readChunkSizeFor(i.cfg.MaxBufferSize))
	if err != nil {
		i.emitError(err)
		return fmt.Errorf("spawn child: %w", err)
	}
	i.child = cp

	go i.pumpOutput()
	go i.pumpStdin()
	go i.flushTimer()

	return nil
}

// Wait blocks until the child exits and returns its exit code.
func (i *Interceptor) Wait() (int, error) {
	code, err := i.child.wait()
	i.flush()
	close(i.done)
	if i.handlers.OnExit != nil {
		safeCall(func() { i.handlers.OnExit(code, err) })
	}
	return code, err
}

func (i *Interceptor) pumpOutput() {
	for chunk := range i.child.output() {
		if _, err := i.cfg.Stdout.Write(chunk); err != nil {
			i.logger.Warn("host stdout write failed", "error", err)
		}
		if i.handlers.OnOutput != nil {
			safeCall(func() { i.handlers.OnOutput(chunk) })
		}
		i.append(chunk)
	}
}

func (i *Interceptor) pumpStdin() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-i.done:
			return
		default:
		}
		n, err := i.cfg.Stdin.Read(buf)
		if n > 0 {
			if _, werr := i.child.write(buf[:n]); werr != nil {
				i.emitError(fmt.Errorf("forward stdin: %w", werr))
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (i *Interceptor) flushTimer() {
	t := time.NewTicker(i.cfg.BufferFlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			i.flush()
		case <-i.done:
			return
		}
	}
}

func (i *Interceptor) append(chunk []byte) {
	i.mu.Lock()
	i.buffer = append(i.buffer, chunk...)
	shouldFlush := len(i.buffer) >= i.cfg.MaxBufferSize
	i.mu.Unlock()
	if shouldFlush {
		i.flush()
	}
}

// flush emits the accumulated buffer and atomically resets it. A flush
// of an empty buffer is a no-op.
func (i *Interceptor) flush() {
	i.mu.Lock()
	if len(i.buffer) == 0 {
		i.mu.Unlock()
		return
	}
	text := string(i.buffer)
	i.buffer = i.buffer[:0]
	i.mu.Unlock()

	if i.handlers.OnFlush != nil {
		safeCall(func() { i.handlers.OnFlush(text) })
	}
}

// Inject writes arbitrary bytes to the child's stdin, used by the
// injector to synthesize operator input. Returns an error if stdin is
// not writable (e.g. after the child has exited).
func (i *Interceptor) Inject(b []byte) error {
	if _, err := i.child.write(b); err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	return nil
}

// InjectLine appends a trailing newline then injects the result.
func (i *Interceptor) InjectLine(text string) error {
	return i.Inject([]byte(text + "\n"))
}

// Resize propagates a host terminal resize to the child's PTY.
func (i *Interceptor) Resize(rows, cols uint16) error {
	return i.child.resize(rows, cols)
}

// Stop flushes the buffer, requests graceful termination, and escalates
// to a forceful kill if the child is still alive after the grace period.
func (i *Interceptor) Stop() {
	i.stopOnce.Do(func() {
		i.flush()
		_ = i.child.signal(syscall.SIGTERM)
		select {
		case <-i.done:
		case <-time.After(gracefulShutdownGracePeriod):
			_ = i.child.signal(syscall.SIGKILL)
		}
	})
}

func (i *Interceptor) emitError(err error) {
	if i.handlers.OnError != nil {
		safeCall(func() { i.handlers.OnError(err) })
	}
}

func safeCall(f func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("interceptor listener panicked", "recover", r)
		}
	}()
	f()
}
