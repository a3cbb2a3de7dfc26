package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/application/service"
	"github.com/kchenfs/PrepDeck/internal/domain"
	"github.com/kchenfs/PrepDeck/internal/observability"
)

//go:generate mockgen -source httpapi.go -destination=mock_httpapi_test.go -package=httpapi

const (
	SignatureHeader = "X-Uber-Signature"
	maxWebhookBody  = 1 << 20
)

type OrderReader interface {
	GetByIDWithStats(ctx context.Context, orderID string) (*domain.PersistedOrder, service.LookupStats, error)
}

type Ingestor interface {
	Ingest(ctx context.Context, body []byte, signature string) (domain.WebhookNotification, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	orders  OrderReader
	ingest  Ingestor
	health  Pinger
	promh   http.Handler
	router  chi.Router
	logger  *zap.Logger
	metrics observability.Metrics
}

type Option func(*Server)

// WithHealth makes /healthz report 503 when the pinger fails.
func WithHealth(p Pinger) Option { return func(s *Server) { s.health = p } }

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.promh = h } }

func New(orders OrderReader, ingest Ingestor, logger *zap.Logger, metrics observability.Metrics, opts ...Option) *Server {
	if metrics == nil {
		metrics = observability.NewNoop()
	}
	s := &Server{
		orders:  orders,
		ingest:  ingest,
		logger:  logger,
		metrics: metrics,
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Recoverer(s.logger))
	r.Use(Instrument(s.metrics))

	r.Post("/webhooks/ubereats", s.webhook)
	r.Get("/orders/{id}", s.getOrder)
	r.Get("/healthz", s.healthz)
	if s.promh != nil {
		r.Method(http.MethodGet, "/metrics", s.promh)
	}
	s.router = r
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.metrics.ObserveWebhook("invalid")
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	n, err := s.ingest.Ingest(r.Context(), body, r.Header.Get(SignatureHeader))
	var vErr *domain.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSignatureInvalid):
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	case errors.As(err, &vErr):
		http.Error(w, vErr.Error(), http.StatusBadRequest)
		return
	default:
		s.logger.Error("Webhook not queued",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	s.logger.Debug("Webhook accepted",
		zap.String("order_id", n.OrderID()),
		zap.String("event_type", n.EventType),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "order id required", http.StatusBadRequest)
		return
	}

	order, st, err := s.orders.GetByIDWithStats(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "no order with this id", http.StatusNotFound)
			return
		}
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	observability.AppendServerTiming(w, "cache", st.CacheMs, "")
	observability.AppendServerTiming(w, "db", st.DBMs, "")
	observability.AppendServerTiming(w, "source", 0, string(st.Source))
	w.Header().Set("X-Source", string(st.Source))
	observability.SetIfPos(w, "X-Cache-Time", st.CacheMs)
	observability.SetIfPos(w, "X-DB-Time", st.DBMs)

	writeJSON(w, http.StatusOK, order)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("Health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests for up to grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		errCh <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errCh
}

func (s *Server) Handler() http.Handler { return s.router }
