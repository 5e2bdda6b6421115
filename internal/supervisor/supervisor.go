// Package supervisor runs the ticket API behind a fixed pool of workers. The
// supervisor accepts on a single listening socket and distributes connections
// across the pool; each worker is an http.Server draining a channel-backed
// listener. Workers that terminate unexpectedly are restarted unless the pool
// has size one.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const timeoutBody = `{"error":{"code":"timeout","message":"request exceeded the handling deadline"}}`

// defaultRestartDelay spaces out restart attempts of a crashing worker.
const defaultRestartDelay = 250 * time.Millisecond

// Supervisor owns the accept loop and the worker pool.
type Supervisor struct {
	handler      http.Handler
	logger       *slog.Logger
	workerCount  int
	timeout      time.Duration
	restartDelay time.Duration

	// serveFn runs one worker until it exits; swapped in tests to exercise
	// the restart policy without a real listener.
	serveFn func(ctx context.Context, id int, handler http.Handler, conns <-chan net.Conn) error
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithRestartDelay overrides the pause between worker restarts.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) { s.restartDelay = d }
}

// New constructs a Supervisor serving handler with workerCount workers and a
// hard per-request timeout.
func New(handler http.Handler, workerCount int, timeout time.Duration, logger *slog.Logger, opts ...Option) (*Supervisor, error) {
	if workerCount < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workerCount)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive, got %s", timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		handler:      handler,
		logger:       logger,
		workerCount:  workerCount,
		timeout:      timeout,
		restartDelay: defaultRestartDelay,
	}
	s.serveFn = s.serveWorker
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve accepts connections on ln until ctx is cancelled, distributing them
// across the worker pool. It returns after all workers have drained.
func (s *Supervisor) Serve(ctx context.Context, ln net.Listener) error {
	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)

	go func() {
		defer close(conns)
		for {
			conn, err := ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			select {
			case conns <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	handler := withTimeout(s.handler, s.timeout)

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	fatal := make(chan error, s.workerCount)

	for i := 0; i < s.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.runWorker(workerCtx, id, handler, conns, fatal)
		}(i)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-fatal:
		// A dead single-worker pool cannot serve anything; surface the crash.
	case acceptedErr := <-acceptErr:
		if !errors.Is(acceptedErr, net.ErrClosed) {
			err = fmt.Errorf("accept: %w", acceptedErr)
		}
	}

	ln.Close()
	cancelWorkers()
	wg.Wait()
	return err
}

// withTimeout wraps handler in http.TimeoutHandler. TimeoutHandler writes
// the timeout body without a content type; the wrapper labels a 503 that
// arrives without one as JSON. Handler responses always set their own type
// before writing, so only the timeout write matches.
func withTimeout(handler http.Handler, timeout time.Duration) http.Handler {
	inner := http.TimeoutHandler(handler, timeout, timeoutBody)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(&timeoutLabelWriter{ResponseWriter: w}, r)
	})
}

type timeoutLabelWriter struct {
	http.ResponseWriter
}

func (w *timeoutLabelWriter) WriteHeader(status int) {
	if status == http.StatusServiceUnavailable && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.ResponseWriter.WriteHeader(status)
}

// runWorker keeps one worker serving until shutdown. In pools larger than one
// a crashed worker is restarted after a short delay; in a pool of one the
// crash is fatal so the operator sees it.
func (s *Supervisor) runWorker(ctx context.Context, id int, handler http.Handler, conns <-chan net.Conn, fatal chan<- error) {
	for {
		err := s.serveFn(ctx, id, handler, conns)
		if ctx.Err() != nil || err == nil {
			return
		}
		s.logger.Error("worker terminated", "worker", id, "error", err)
		if s.workerCount == 1 {
			select {
			case fatal <- fmt.Errorf("worker %d: %w", id, err):
			default:
			}
			return
		}
		s.logger.Info("restarting worker", "worker", id)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.restartDelay):
		}
	}
}

// serveWorker runs one http.Server over a channel-backed listener. A panic
// escaping the serve loop is converted to an error for the restart policy.
func (s *Supervisor) serveWorker(ctx context.Context, id int, handler http.Handler, conns <-chan net.Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	wl := newChanListener(ctx, conns)
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		close(done)
	}()

	serveErr := server.Serve(wl)
	if ctx.Err() != nil {
		<-done
		return nil
	}
	if errors.Is(serveErr, http.ErrServerClosed) || errors.Is(serveErr, net.ErrClosed) {
		return nil
	}
	return serveErr
}

// chanListener adapts the shared connection channel to net.Listener so each
// worker can run a stock http.Server.
type chanListener struct {
	ctx   context.Context
	conns <-chan net.Conn
	once  sync.Once
	done  chan struct{}
}

func newChanListener(ctx context.Context, conns <-chan net.Conn) *chanListener {
	return &chanListener{ctx: ctx, conns: conns, done: make(chan struct{})}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	case conn, ok := <-l.conns:
		if !ok {
			return nil, net.ErrClosed
		}
		return conn, nil
	}
}

func (l *chanListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *chanListener) Addr() net.Addr {
	return chanAddr{}
}

type chanAddr struct{}

func (chanAddr) Network() string { return "chan" }
func (chanAddr) String() string  { return "chan" }
