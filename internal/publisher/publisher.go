// Package publisher persists filtered orders and pushes them to the kitchen
// display backend.
package publisher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/config"
	"github.com/kchenfs/PrepDeck/internal/domain"
	"github.com/kchenfs/PrepDeck/internal/observability"
	"github.com/kchenfs/PrepDeck/internal/pkg/retry"
	"github.com/kchenfs/PrepDeck/internal/pkg/signature"
)

const newOrderMutation = `mutation NewOrder($order: AWSJSON!) { newOrder(order: $order) { OrderID DisplayID State } }`

const (
	HeaderSignature = "X-PrepDeck-Signature"
	HeaderTimestamp = "X-PrepDeck-Timestamp"
	HeaderOrderID   = "X-PrepDeck-Order-ID"
)

//go:generate mockgen -source publisher.go -destination=mock_publisher_test.go -package=publisher

type brk interface {
	Allow() error
	Success()
	Failure()
}

type Publisher struct {
	repo        domain.OrderRepository
	breaker     brk
	client      *http.Client
	cfg         config.Publish
	retryPolicy config.Retry
	logger      *zap.Logger
	metrics     observability.Metrics
	now         func() time.Time
}

func New(
	repo domain.OrderRepository,
	breaker brk,
	cfg config.Publish,
	retryPolicy config.Retry,
	client *http.Client,
	logger *zap.Logger,
	metrics observability.Metrics,
) *Publisher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = observability.NewNoop()
	}
	return &Publisher{
		repo:        repo,
		breaker:     breaker,
		client:      client,
		cfg:         cfg,
		retryPolicy: retryPolicy,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Digest is the hex SHA-256 of the order's JSON encoding.
func Digest(order domain.FilteredOrder) (string, []byte, error) {
	b, err := json.Marshal(order)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

// Publish stores order and pushes it downstream. Calling it again with the
// same order leaves one stored record and does not push twice once the first
// push succeeded.
func (p *Publisher) Publish(ctx context.Context, order domain.FilteredOrder) error {
	start := p.now()
	digest, payload, err := Digest(order)
	if err != nil {
		return &domain.PublishError{Kind: domain.PublishRejected, Err: err}
	}

	var stored domain.PersistedOrder
	dbStart := p.now()
	if err := retry.Do(ctx, p.retryPolicy, func(ctx context.Context) error {
		var err error
		stored, err = p.repo.Upsert(ctx, domain.PersistedOrder{FilteredOrder: order, Digest: digest})
		return err
	}); err != nil {
		p.logger.Error("persist order failed after retries",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		p.metrics.ObservePublish("store_error", ms(p.now().Sub(start)))
		return &domain.PublishError{Kind: domain.PublishUnavailable, Err: fmt.Errorf("persist: %w", err)}
	}
	p.metrics.ObserveUpsert(ms(p.now().Sub(dbStart)))

	if stored.Published(digest) {
		p.logger.Info("order already published, push skipped",
			zap.String("order_id", order.OrderID),
			zap.String("digest", digest),
		)
		p.metrics.ObservePublish("duplicate", ms(p.now().Sub(start)))
		return nil
	}

	if err := p.breaker.Allow(); err != nil {
		p.logger.Warn("circuit breaker is open",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		p.metrics.ObservePublish("circuit_open", ms(p.now().Sub(start)))
		return &domain.PublishError{Kind: domain.PublishUnavailable, Err: err}
	}

	if err := p.push(ctx, order.OrderID, payload); err != nil {
		var pe *domain.PublishError
		if errors.As(err, &pe) && pe.Kind == domain.PublishRejected {
			p.breaker.Success()
		} else {
			p.breaker.Failure()
		}
		p.logger.Error("push failed",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		p.metrics.ObservePublish(string(kindOf(err)), ms(p.now().Sub(start)))
		return err
	}
	p.breaker.Success()

	if err := p.repo.MarkPublished(ctx, order.OrderID, digest); err != nil {
		p.logger.Warn("mark published failed",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
	}

	p.metrics.ObservePublish("ok", ms(p.now().Sub(start)))
	p.logger.Info("order published",
		zap.String("order_id", order.OrderID),
		zap.Int("items", len(order.Items)),
	)
	return nil
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *Publisher) push(ctx context.Context, orderID string, payload []byte) error {
	body, err := json.Marshal(gqlRequest{
		Query:     newOrderMutation,
		Variables: map[string]any{"order": string(payload)},
	})
	if err != nil {
		return &domain.PublishError{Kind: domain.PublishRejected, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &domain.PublishError{Kind: domain.PublishRejected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderOrderID, orderID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(p.now().Unix(), 10))
	if p.cfg.SigningSecret != "" {
		req.Header.Set(HeaderSignature, signature.Sign(p.cfg.SigningSecret, body))
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("x-api-key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &domain.PublishError{Kind: domain.PublishUnavailable, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if permanent(resp.StatusCode) {
			return &domain.PublishError{Kind: domain.PublishRejected, Err: err}
		}
		return &domain.PublishError{Kind: domain.PublishUnavailable, Err: err}
	}

	var gr gqlResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &gr); err != nil {
			return &domain.PublishError{Kind: domain.PublishUnavailable, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
		}
		return &domain.PublishError{Kind: domain.PublishRejected, Err: errors.New(strings.Join(msgs, "; "))}
	}
	return nil
}

func permanent(status int) bool {
	return status/100 == 4 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}

func kindOf(err error) domain.PublishErrorKind {
	var pe *domain.PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return domain.PublishUnavailable
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
