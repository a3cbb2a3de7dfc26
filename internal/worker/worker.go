// Package worker runs one queued webhook through the order pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/domain"
	"github.com/kchenfs/PrepDeck/internal/observability"
	"github.com/kchenfs/PrepDeck/internal/queue"
)

type State string

const (
	StateReceived   State = "RECEIVED"
	StateTokenReady State = "TOKEN_READY"
	StateAccepted   State = "ACCEPTED"
	StateFetched    State = "FETCHED"
	StateEnriched   State = "ENRICHED"
	StatePublished  State = "PUBLISHED"
	StateSkipped    State = "SKIPPED"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

//go:generate mockgen -source worker.go -destination=mock_worker_test.go -package=worker

type TokenSource interface {
	GetToken(ctx context.Context, provider string) (domain.AccessToken, error)
	Invalidate(ctx context.Context, provider, token string)
}

type OrderClient interface {
	Accept(ctx context.Context, orderID, token string) (bool, error)
	FetchDetails(ctx context.Context, href, token string) (domain.RawOrder, error)
}

type Enricher interface {
	Enrich(ctx context.Context, raw domain.RawOrder) (domain.FilteredOrder, error)
}

type Publisher interface {
	Publish(ctx context.Context, order domain.FilteredOrder) error
}

type Worker struct {
	tokens    TokenSource
	orders    OrderClient
	enricher  Enricher
	publisher Publisher
	provider  string
	logger    *zap.Logger
	metrics   observability.Metrics
	now       func() time.Time
}

func New(tokens TokenSource, orders OrderClient, enricher Enricher, publisher Publisher, logger *zap.Logger, metrics observability.Metrics) *Worker {
	if metrics == nil {
		metrics = observability.NewNoop()
	}
	return &Worker{
		tokens:    tokens,
		orders:    orders,
		enricher:  enricher,
		publisher: publisher,
		provider:  domain.ProviderUberEats,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Handle implements queue.MessageHandler. A nil return acknowledges the
// message; an error wrapping queue.ErrPoison sends it straight to the
// dead-letter topic; any other error schedules a redelivery.
func (w *Worker) Handle(ctx context.Context, msg kafkago.Message) error {
	start := w.now()
	n, err := domain.DecodeNotification(msg.Value)
	if err != nil {
		w.logger.Error("undecodable notification",
			zap.String("key", string(msg.Key)),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		w.metrics.ObserveOrder("poison", ms(w.now().Sub(start)))
		return fmt.Errorf("%w: %v", queue.ErrPoison, err)
	}
	n.ReceivedAt = queue.ReceivedAt(msg)

	state, err := w.Process(ctx, n)
	took := ms(w.now().Sub(start))
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			w.metrics.ObserveOrder("poison", took)
			return fmt.Errorf("%w: %v", queue.ErrPoison, err)
		}
		w.metrics.ObserveOrder("failed", took)
		return err
	}
	w.metrics.ObserveOrder(strings.ToLower(string(state)), took)
	w.logger.Debug("order state",
		zap.String("order_id", n.OrderID()),
		zap.String("state", string(StateDone)),
		zap.String("outcome", string(state)),
	)
	return nil
}

// Process runs the pipeline for n and returns the terminal state reached:
// StatePublished or StateSkipped on success, StateFailed with the cause
// otherwise.
func (w *Worker) Process(ctx context.Context, n domain.WebhookNotification) (State, error) {
	orderID := n.OrderID()
	log := w.logger.With(zap.String("order_id", orderID), zap.String("event_id", n.EventID))
	log.Info("order state", zap.String("state", string(StateReceived)))
	if !n.ReceivedAt.IsZero() {
		log.Debug("queue latency", zap.Duration("waited", w.now().Sub(n.ReceivedAt)))
	}

	fail := func(from State, err error) (State, error) {
		log.Warn("order state",
			zap.String("state", string(StateFailed)),
			zap.String("from", string(from)),
			zap.Error(err),
		)
		return StateFailed, err
	}

	tok, err := w.tokens.GetToken(ctx, w.provider)
	if err != nil {
		return fail(StateReceived, fmt.Errorf("get token: %w", err))
	}
	log.Debug("order state", zap.String("state", string(StateTokenReady)))

	if ok, err := w.orders.Accept(ctx, orderID, tok.Token); !ok || err != nil {
		log.Warn("accept failed, continuing", zap.Error(err))
	} else {
		log.Debug("order state", zap.String("state", string(StateAccepted)))
	}

	raw, err := w.orders.FetchDetails(ctx, n.ResourceHref, tok.Token)
	if domain.IsFetchKind(err, domain.FetchUnauthorized) {
		log.Info("token rejected by order api, refreshing")
		w.tokens.Invalidate(ctx, w.provider, tok.Token)
		tok, err = w.tokens.GetToken(ctx, w.provider)
		if err != nil {
			return fail(StateTokenReady, fmt.Errorf("refresh token: %w", err))
		}
		raw, err = w.orders.FetchDetails(ctx, n.ResourceHref, tok.Token)
	}
	if err != nil {
		return fail(StateTokenReady, fmt.Errorf("fetch order: %w", err))
	}
	if raw.ID == "" {
		raw.ID = orderID
	}
	log.Debug("order state", zap.String("state", string(StateFetched)), zap.Int("cart_items", len(raw.Items())))

	filtered, err := w.enricher.Enrich(ctx, raw)
	if errors.Is(err, domain.ErrNoRelevantItems) {
		log.Info("order state", zap.String("state", string(StateSkipped)), zap.String("reason", "no kitchen items"))
		return StateSkipped, nil
	}
	if err != nil {
		return fail(StateFetched, fmt.Errorf("enrich: %w", err))
	}
	log.Debug("order state", zap.String("state", string(StateEnriched)), zap.Int("items", len(filtered.Items)))

	if err := w.publisher.Publish(ctx, filtered); err != nil {
		return fail(StateEnriched, fmt.Errorf("publish: %w", err))
	}
	log.Info("order state", zap.String("state", string(StatePublished)), zap.String("display_id", filtered.DisplayID))
	return StatePublished, nil
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
