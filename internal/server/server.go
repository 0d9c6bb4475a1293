package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/sync/semaphore"
)

const shutdownTimeout = 5 * time.Second

var ErrServerClosed = errors.New("server closed")

// ConnHandler serves a single accepted connection and is responsible for
// closing it.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// Server accepts TCP connections and hands each one to a ConnHandler.
type Server struct {
	addr    string
	handler ConnHandler
	logger  *slog.Logger
	slots   *semaphore.Weighted

	mutex    sync.Mutex
	listener net.Listener

	// acceptCtx stops the accept loop; connCtx aborts in-flight connections
	// once the shutdown grace period is over.
	acceptCtx  context.Context
	stopAccept context.CancelFunc
	connCtx    context.Context
	abortConns context.CancelFunc
	closing    atomic.Bool
	conns      sync.WaitGroup
}

// New creates a server for addr that serves at most maxConns connections at
// once. Further connections wait in the listen backlog until a slot frees.
func New(addr string, handler ConnHandler, maxConns int64, logger *slog.Logger) (*Server, error) {
	if err := validateHost(addr); err != nil {
		return nil, err
	}

	if maxConns < 1 {
		return nil, fmt.Errorf("max connections must be positive, got %d", maxConns)
	}

	if logger == nil {
		logger = slog.Default()
	}

	acceptCtx, stopAccept := context.WithCancel(context.Background())
	connCtx, abortConns := context.WithCancel(context.Background())

	return &Server{
		addr:       addr,
		handler:    handler,
		logger:     logger,
		slots:      semaphore.NewWeighted(maxConns),
		acceptCtx:  acceptCtx,
		stopAccept: stopAccept,
		connCtx:    connCtx,
		abortConns: abortConns,
	}, nil
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	if s.closing.Load() {
		return ErrServerClosed
	}

	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.listener = l
	s.mutex.Unlock()

	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	s.mutex.Lock()
	l := s.listener
	s.mutex.Unlock()

	if l == nil {
		return errors.New("server is not listening")
	}

	s.logger.Info("Proxy listening", slog.String("address", l.Addr().String()))

	var backoff time.Duration

	for {
		if err := s.slots.Acquire(s.acceptCtx, 1); err != nil {
			return nil
		}

		conn, err := l.Accept()
		if err != nil {
			s.slots.Release(1)

			if s.closing.Load() {
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && !errors.Is(err, net.ErrClosed) {
				backoff = nextBackoff(backoff)
				s.logger.Error("Accept failed, retrying",
					slog.Any("err", err),
					slog.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}

			return err
		}
		backoff = 0

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer s.slots.Release(1)

			s.handler.ServeConn(s.connCtx, conn)
		}()
	}
}

// Start binds the listener and runs the accept loop.
// Returns an error unless the server is shut down cleanly.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting and waits up to 5 seconds, or until ctx is done,
// for in-flight connections to finish. Connections still running after that
// are aborted.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.closing.Store(true)
	s.stopAccept()

	s.mutex.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mutex.Unlock()

	drained := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return err
	case <-shutdownCtx.Done():
		s.abortConns()
		<-drained
		return shutdownCtx.Err()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

func validateHost(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)

	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cant be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
