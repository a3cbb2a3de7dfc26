// Package ingest authenticates provider webhooks and hands them to the queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/domain"
	"github.com/kchenfs/PrepDeck/internal/observability"
	"github.com/kchenfs/PrepDeck/internal/pkg/signature"
)

var ErrEnqueue = errors.New("enqueue failed")

//go:generate mockgen -source ingest.go -destination=mock_enqueuer_test.go -package=ingest

// Enqueuer durably stores a notification body. key groups messages of one order.
type Enqueuer interface {
	Enqueue(ctx context.Context, key string, body []byte, receivedAt time.Time) error
}

type Ingestor struct {
	secret  string
	queue   Enqueuer
	timeout time.Duration
	logger  *zap.Logger
	metrics observability.Metrics
	now     func() time.Time
}

func New(secret string, queue Enqueuer, timeout time.Duration, logger *zap.Logger, metrics observability.Metrics) *Ingestor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if metrics == nil {
		metrics = observability.NewNoop()
	}
	return &Ingestor{
		secret:  secret,
		queue:   queue,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Ingest verifies sig over body, validates it and enqueues it unchanged.
// Errors are domain.ErrSignatureInvalid, *domain.ValidationError or ErrEnqueue.
// Nothing is enqueued unless the signature and body are valid.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, sig string) (domain.WebhookNotification, error) {
	if !signature.Verify(i.secret, body, sig) {
		i.metrics.ObserveWebhook("bad_signature")
		i.logger.Warn("webhook signature rejected", zap.Int("bytes", len(body)))
		return domain.WebhookNotification{}, domain.ErrSignatureInvalid
	}

	n, err := domain.DecodeNotification(body)
	if err != nil {
		i.metrics.ObserveWebhook("invalid")
		i.logger.Warn("webhook rejected", zap.Error(err))
		return domain.WebhookNotification{}, err
	}
	n.ReceivedAt = i.now().UTC()

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	if err := i.queue.Enqueue(ctx, n.OrderID(), body, n.ReceivedAt); err != nil {
		i.metrics.ObserveWebhook("enqueue_error")
		i.logger.Error("enqueue failed",
			zap.String("order_id", n.OrderID()),
			zap.String("event_id", n.EventID),
			zap.Error(err),
		)
		return domain.WebhookNotification{}, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	i.metrics.ObserveWebhook("accepted")
	i.logger.Info("webhook accepted",
		zap.String("order_id", n.OrderID()),
		zap.String("event_id", n.EventID),
		zap.String("event_type", n.EventType),
	)
	return n, nil
}
