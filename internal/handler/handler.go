package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/path-proxy/internal/backend"
	"github.com/angeloszaimis/path-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/path-proxy/internal/metrics"
	"github.com/angeloszaimis/path-proxy/internal/state"
	"github.com/angeloszaimis/path-proxy/internal/strategy"
	"github.com/angeloszaimis/path-proxy/internal/wire"
)

const DefaultReadBufferSize = 1024

// Forwarder sends a request to a backend address.
type Forwarder interface {
	Forward(ctx context.Context, req *wire.Request, addr string) (*wire.Response, error)
}

// Options bounds each stage of an exchange. Zero timeouts disable the
// corresponding deadline.
type Options struct {
	ReadBufferSize int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BackendTimeout time.Duration

	// Breakers fails requests fast for backends with an open circuit. Nil
	// disables circuit breaking.
	Breakers *circuitbreaker.Registry
}

type ConnHandler struct {
	logger    *slog.Logger
	state     *state.State
	client    Forwarder
	collector *metrics.Collector
	opts      Options
}

// stageError ties a failure to the pipeline stage that produced it.
type stageError struct {
	stage   string
	outcome string
	err     error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

// exchange is what ServeConn learned about one connection.
type exchange struct {
	app     string
	backend string
	status  int
}

func NewConnHandler(logger *slog.Logger, st *state.State, client Forwarder, collector *metrics.Collector, opts Options) *ConnHandler {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	return &ConnHandler{
		logger:    logger,
		state:     st,
		client:    client,
		collector: collector,
		opts:      opts,
	}
}

// ServeConn handles exactly one request on conn and closes it. Any failure
// closes the connection without writing a response. Cancelling ctx aborts
// pending reads, writes and the backend call.
func (h *ConnHandler) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	h.collector.ConnectionOpened()
	defer h.collector.ConnectionClosed()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	logger := h.logger.With(
		slog.String("req_id", uuid.NewString()),
		slog.String("remote", conn.RemoteAddr().String()),
	)

	ex, err := h.serve(ctx, conn, logger)

	app := ex.app
	if app == "" {
		app = metrics.UnknownApp
	}

	if err != nil {
		var se *stageError
		if !errors.As(err, &se) {
			se = &stageError{stage: "unknown", outcome: metrics.OutcomeReadError, err: err}
		}

		attrs := []any{
			slog.String("stage", se.stage),
			slog.String("app", ex.app),
			slog.Any("err", se.err),
		}
		if ex.backend != "" {
			attrs = append(attrs, slog.String("backend", ex.backend))
		}
		if se.outcome == metrics.OutcomeInvariantViolation {
			attrs = append(attrs, slog.Bool("invariant_violation", true))
		}
		logger.Error("Connection aborted", attrs...)

		h.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventRequestCompleted,
			App:     app,
			Outcome: se.outcome,
		})
		return
	}

	duration := time.Since(start)

	logger.Info("Request completed",
		slog.String("app", ex.app),
		slog.String("backend", ex.backend),
		slog.Int("status", ex.status),
		slog.Duration("duration", duration))

	h.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventRequestCompleted,
		App:     app,
		Outcome: metrics.OutcomeOK,
	})
	h.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		App:        app,
		Backend:    ex.backend,
		Duration:   duration,
		StatusCode: ex.status,
	})
}

// serve runs read, decode, resolve, select, forward, encode and write in
// order, stopping at the first failure.
func (h *ConnHandler) serve(ctx context.Context, conn net.Conn, logger *slog.Logger) (exchange, error) {
	var ex exchange

	raw, err := h.read(conn)
	if err != nil {
		return ex, &stageError{stage: "read", outcome: metrics.OutcomeReadError, err: err}
	}

	req, err := wire.Parse(raw)
	if err != nil {
		return ex, &stageError{stage: "decode", outcome: metrics.OutcomeDecodeError, err: err}
	}

	logger.Debug("Received request",
		slog.String("method", req.Method),
		slog.String("target", req.Target))

	app, ok := h.state.Routes.Resolve(req.Path())
	if !ok {
		return ex, &stageError{
			stage:   "resolve",
			outcome: metrics.OutcomeRouteError,
			err:     fmt.Errorf("no application matches path %q", req.Path()),
		}
	}
	ex.app = app

	addr, err := h.state.Balancers.Choose(app)
	if err != nil {
		outcome := metrics.OutcomeRouteError
		if errors.Is(err, strategy.ErrEmptyBackendSet) {
			outcome = metrics.OutcomeInvariantViolation
		}
		return ex, &stageError{stage: "select", outcome: outcome, err: err}
	}
	ex.backend = addr

	h.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventBackendSelected,
		App:     app,
		Backend: addr,
	})

	logger.Debug("Forwarding to backend",
		slog.String("app", app),
		slog.String("backend", addr))

	resp, err := h.forward(ctx, req, addr)
	if err != nil {
		return ex, &stageError{stage: "forward", outcome: metrics.OutcomeBackendError, err: err}
	}
	ex.status = resp.StatusCode

	if err := h.write(conn, wire.Serialize(resp)); err != nil {
		return ex, &stageError{stage: "write", outcome: metrics.OutcomeWriteError, err: err}
	}

	return ex, nil
}

// read performs a single read of at most ReadBufferSize bytes.
func (h *ConnHandler) read(conn net.Conn) ([]byte, error) {
	if h.opts.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, h.opts.ReadBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = errors.New("empty read")
		}
		return nil, err
	}

	return buf[:n], nil
}

func (h *ConnHandler) forward(ctx context.Context, req *wire.Request, addr string) (*wire.Response, error) {
	var cb *circuitbreaker.CircuitBreaker
	if h.opts.Breakers != nil {
		cb = h.opts.Breakers.GetBreaker(addr)
		if !cb.Allow() {
			return nil, &backend.SendError{Backend: addr, Err: circuitbreaker.ErrOpen}
		}
	}

	if h.opts.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.BackendTimeout)
		defer cancel()
	}

	resp, err := h.client.Forward(ctx, req, addr)

	if cb != nil {
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
	}

	return resp, err
}

func (h *ConnHandler) write(conn net.Conn, payload []byte) error {
	if h.opts.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout)); err != nil {
			return err
		}
	}

	_, err := conn.Write(payload)
	return err
}
