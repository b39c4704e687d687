// Package httpin serves the HTTP inbound channel and the operational
// endpoints.
package httpin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/metrics"
	"github.com/roach88/correlate/internal/registry"
	"github.com/roach88/correlate/internal/transport"
)

const (
	transportName = "http"

	// DefaultMaxBodySize limits an event request body.
	DefaultMaxBodySize = 1 << 20
)

// Server routes POST /channels/{channel}/events to the event receiver.
type Server struct {
	receiver    transport.EventReceiver
	logger      *zap.Logger
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	maxBodySize int64
	router      *mux.Router
	srv         *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the collectors and the gatherer served on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithMaxBodySize overrides DefaultMaxBodySize.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodySize = n
		}
	}
}

// NewServer builds the router.
func NewServer(receiver transport.EventReceiver, opts ...Option) *Server {
	s := &Server{
		receiver:    receiver,
		logger:      zap.NewNop(),
		metrics:     metrics.NewUnregistered(),
		gatherer:    prometheus.NewRegistry(),
		maxBodySize: DefaultMaxBodySize,
		router:      mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.HandleFunc("/channels/{channel}/events", s.handleEvent).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http bridge listening", zap.String("addr", addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

type acceptedResponse struct {
	OccurrenceID string `json:"occurrence_id"`
	EventType    string `json:"event_type"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, channel, http.StatusRequestEntityTooLarge, transport.ReasonPermanent, err)
			return
		}
		s.reject(w, channel, http.StatusBadRequest, transport.ReasonPermanent, err)
		return
	}

	text, err := transport.PayloadText(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.reject(w, channel, http.StatusUnsupportedMediaType, transport.ReasonUnsupportedPayload, err)
		return
	}

	occ, err := s.receiver.EventReceived(r.Context(), channel, text)
	if err != nil {
		s.reject(w, channel, statusFor(err), transport.Reason(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{OccurrenceID: occ.ID, EventType: occ.ModelKey})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrUnknownEvent), errors.Is(err, registry.ErrMalformedEvent):
		return http.StatusBadRequest
	case transport.Retryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) reject(w http.ResponseWriter, channel string, status int, reason string, err error) {
	s.metrics.MessagesRejected.WithLabelValues(transportName, reason).Inc()

	log := s.logger.Warn
	if status >= http.StatusInternalServerError || reason == transport.ReasonUnsupportedPayload {
		log = s.logger.Error
	}
	log("event request rejected",
		zap.String("channel", channel),
		zap.Int("status_code", status),
		zap.String("reason", reason),
		zap.Error(err),
	)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
