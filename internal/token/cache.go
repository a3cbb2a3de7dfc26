// Package token keeps one provider access token fresh for every worker in the
// process and, when a shared store is configured, for the whole fleet.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kchenfs/PrepDeck/internal/domain"
	"github.com/kchenfs/PrepDeck/internal/observability"
)

// Grant is the result of one credential exchange.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
	IssuedAt    time.Time
}

type Exchanger interface {
	Exchange(ctx context.Context) (Grant, error)
}

// SharedStore holds the token record and refresh lease shared across processes.
type SharedStore interface {
	Load(ctx context.Context, provider string) (domain.AccessToken, bool, error)
	Save(ctx context.Context, tok domain.AccessToken) error
	DeleteIfMatch(ctx context.Context, provider, token string) error
	AcquireLease(ctx context.Context, provider string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

type Options struct {
	SafetyMargin time.Duration
	// LeaseTTL is how long a refresh lease survives a holder that never
	// releases it.
	LeaseTTL     time.Duration
	PollInterval time.Duration
	// ExchangeTimeout bounds a refresh independently of the caller that
	// started it.
	ExchangeTimeout time.Duration
}

const (
	defaultSafetyMargin = 5 * time.Minute
	defaultLifetime     = time.Hour
)

type Cache struct {
	mu         sync.RWMutex
	tokens     map[string]domain.AccessToken
	exchangers map[string]Exchanger
	group      singleflight.Group

	shared  SharedStore
	opts    Options
	now     func() time.Time
	logger  *zap.Logger
	metrics observability.Metrics
}

func NewCache(exchangers map[string]Exchanger, shared SharedStore, opts Options, logger *zap.Logger, metrics observability.Metrics) *Cache {
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = defaultSafetyMargin
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 15 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = 15 * time.Second
	}
	if metrics == nil {
		metrics = observability.Noop{}
	}
	return &Cache{
		tokens:     make(map[string]domain.AccessToken),
		exchangers: exchangers,
		shared:     shared,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
		metrics:    metrics,
	}
}

// GetToken returns a token valid at the time of the call. Concurrent callers
// that find no valid token share one refresh.
func (c *Cache) GetToken(ctx context.Context, provider string) (domain.AccessToken, error) {
	if tok, ok := c.local(provider); ok {
		return tok, nil
	}

	ch := c.group.DoChan(provider, func() (any, error) {
		budget := c.opts.ExchangeTimeout
		if c.shared != nil {
			budget += c.opts.LeaseTTL
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
		defer cancel()
		return c.refresh(rctx, provider)
	})

	select {
	case <-ctx.Done():
		return domain.AccessToken{}, &domain.AuthError{Kind: domain.AuthUnreachable, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return domain.AccessToken{}, res.Err
		}
		return res.Val.(domain.AccessToken), nil
	}
}

// Invalidate drops token if it is still the cached one, so the next GetToken
// refreshes. A newer token stored by another worker is left alone.
func (c *Cache) Invalidate(ctx context.Context, provider, token string) {
	c.mu.Lock()
	if cur, ok := c.tokens[provider]; ok && cur.Token == token {
		delete(c.tokens, provider)
	}
	c.mu.Unlock()

	if c.shared == nil {
		return
	}
	if err := c.shared.DeleteIfMatch(ctx, provider, token); err != nil {
		c.logger.Warn("shared token invalidate failed", zap.String("provider", provider), zap.Error(err))
	}
}

func (c *Cache) local(provider string) (domain.AccessToken, bool) {
	c.mu.RLock()
	tok, ok := c.tokens[provider]
	c.mu.RUnlock()
	if ok && tok.ValidAt(c.now()) {
		return tok, true
	}
	return domain.AccessToken{}, false
}

func (c *Cache) store(tok domain.AccessToken) {
	c.mu.Lock()
	c.tokens[tok.Provider] = tok
	c.mu.Unlock()
}

func (c *Cache) refresh(ctx context.Context, provider string) (domain.AccessToken, error) {
	if tok, ok := c.local(provider); ok {
		return tok, nil
	}

	if c.shared != nil {
		if tok, ok := c.loadShared(ctx, provider); ok {
			return tok, nil
		}

		release, won, err := c.shared.AcquireLease(ctx, provider, c.opts.LeaseTTL)
		if err == nil && !won {
			var tok domain.AccessToken
			var found bool
			tok, found, release, won, err = c.awaitShared(ctx, provider)
			if found {
				return tok, nil
			}
		}
		switch {
		case err != nil:
			c.logger.Warn("token lease unavailable, refreshing locally", zap.String("provider", provider), zap.Error(err))
		case !won:
			return domain.AccessToken{}, &domain.AuthError{Kind: domain.AuthUnreachable, Err: fmt.Errorf("waiting for token lease: %w", ctx.Err())}
		default:
			defer release(context.WithoutCancel(ctx))
			// The previous holder may have finished between Load and the lease.
			if tok, ok := c.loadShared(ctx, provider); ok {
				return tok, nil
			}
		}
	}

	tok, err := c.exchange(ctx, provider)
	if err != nil {
		return domain.AccessToken{}, err
	}
	c.store(tok)

	if c.shared != nil {
		if err := c.shared.Save(ctx, tok); err != nil {
			c.logger.Warn("shared token save failed", zap.String("provider", provider), zap.Error(err))
		}
	}
	return tok, nil
}

func (c *Cache) exchange(ctx context.Context, provider string) (domain.AccessToken, error) {
	ex, ok := c.exchangers[provider]
	if !ok {
		return domain.AccessToken{}, &domain.AuthError{Kind: domain.AuthRejected, Err: fmt.Errorf("no credentials for provider %q", provider)}
	}

	c.logger.Info("requesting new access token", zap.String("provider", provider))
	ctx, cancel := context.WithTimeout(ctx, c.opts.ExchangeTimeout)
	defer cancel()
	grant, err := ex.Exchange(ctx)
	if err != nil {
		c.metrics.IncTokenRefresh(false)
		var ae *domain.AuthError
		if !errors.As(err, &ae) {
			err = &domain.AuthError{Kind: domain.AuthUnreachable, Err: err}
		}
		c.logger.Error("token exchange failed", zap.String("provider", provider), zap.Error(err))
		return domain.AccessToken{}, err
	}
	c.metrics.IncTokenRefresh(true)

	tok := domain.AccessToken{
		Provider:  provider,
		Token:     grant.AccessToken,
		ExpiresAt: c.expiresAt(grant),
	}
	c.logger.Info("access token refreshed",
		zap.String("provider", provider),
		zap.Time("expires_at", tok.ExpiresAt),
	)
	return tok, nil
}

// expiresAt is issuedAt + expiresIn - margin. Lifetimes shorter than the
// margin keep half of their lifetime instead of expiring on arrival.
func (c *Cache) expiresAt(g Grant) time.Time {
	issued := g.IssuedAt
	if issued.IsZero() {
		issued = c.now()
	}
	life := g.ExpiresIn
	if life <= 0 {
		life = defaultLifetime
	}
	if life <= c.opts.SafetyMargin {
		return issued.Add(life / 2)
	}
	return issued.Add(life - c.opts.SafetyMargin)
}

func (c *Cache) loadShared(ctx context.Context, provider string) (domain.AccessToken, bool) {
	tok, ok, err := c.shared.Load(ctx, provider)
	if err != nil {
		c.logger.Warn("shared token read failed", zap.String("provider", provider), zap.Error(err))
		return domain.AccessToken{}, false
	}
	if !ok || !tok.ValidAt(c.now()) {
		return domain.AccessToken{}, false
	}
	c.logger.Debug("found valid token in shared cache", zap.String("provider", provider))
	c.store(tok)
	return tok, true
}

// awaitShared polls until the lease holder publishes a token or the lease
// becomes free. A holder that failed releases the lease, so exactly one waiter
// wins it and refreshes. err is set only when the store itself fails.
func (c *Cache) awaitShared(ctx context.Context, provider string) (tok domain.AccessToken, found bool, release func(context.Context), won bool, err error) {
	tick := time.NewTicker(c.opts.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.AccessToken{}, false, nil, false, nil
		case <-tick.C:
			if tok, ok := c.loadShared(ctx, provider); ok {
				return tok, true, nil, false, nil
			}
			release, won, err := c.shared.AcquireLease(ctx, provider, c.opts.LeaseTTL)
			if err != nil || won {
				return domain.AccessToken{}, false, release, won, err
			}
		}
	}
}
