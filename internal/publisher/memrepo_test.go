package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/kchenfs/PrepDeck/internal/domain"
)

// memRepo mirrors the upsert semantics of the Postgres repository.
type memRepo struct {
	mu        sync.Mutex
	rows      map[string]domain.PersistedOrder
	upserts   int
	upsertErr error
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]domain.PersistedOrder{}} }

func (r *memRepo) Upsert(_ context.Context, o domain.PersistedOrder) (domain.PersistedOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if r.upsertErr != nil {
		return domain.PersistedOrder{}, r.upsertErr
	}
	now := time.Now()
	if prev, ok := r.rows[o.OrderID]; ok {
		o.CreatedAt = prev.CreatedAt
		if prev.Digest == o.Digest {
			o.PublishedAt = prev.PublishedAt
		}
	} else {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	r.rows[o.OrderID] = o
	return o, nil
}

func (r *memRepo) MarkPublished(_ context.Context, orderID, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.rows[orderID]
	if !ok || o.Digest != digest {
		return domain.ErrNotFound
	}
	now := time.Now()
	o.PublishedAt = &now
	r.rows[orderID] = o
	return nil
}

func (r *memRepo) GetByID(_ context.Context, orderID string) (*domain.PersistedOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.rows[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (r *memRepo) RecentOrderIDs(context.Context, int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	return ids, nil
}
