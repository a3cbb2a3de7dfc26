package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kchenfs/PrepDeck/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

//go:generate mockgen -source cache.go -destination=mock_repo_test.go -package=cache

type repo interface {
	GetByID(ctx context.Context, orderID string) (*domain.PersistedOrder, error)
	RecentOrderIDs(ctx context.Context, limit int) ([]string, error)
}

// Cache keeps recently read orders. Entries expire after ttl because the
// worker process writes the same rows this process serves.
type Cache struct {
	size int
	lru  *expirable.LRU[string, domain.PersistedOrder]
}

func New(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	return &Cache{
		size: size,
		lru:  expirable.NewLRU[string, domain.PersistedOrder](size, nil, ttl),
	}, nil
}

// Warm loads the most recently updated orders. Failures are skipped.
func (c *Cache) Warm(ctx context.Context, repo repo) int {
	ids, err := repo.RecentOrderIDs(ctx, c.size)
	if err != nil {
		return 0
	}
	n := 0
	for _, id := range ids {
		if o, err := repo.GetByID(ctx, id); err == nil {
			c.Set(o)
			n++
		}
	}
	return n
}

func (c *Cache) Get(orderID string) (*domain.PersistedOrder, bool) {
	order, ok := c.lru.Get(orderID)
	if !ok {
		return nil, false
	}
	return &order, true
}

func (c *Cache) Set(order *domain.PersistedOrder) {
	if order == nil || order.OrderID == "" {
		return
	}
	c.lru.Add(order.OrderID, *order)
}

func (c *Cache) Len() int { return c.lru.Len() }
