// Package menu resolves provider catalog ids to internal menu items.
package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/domain"
)

//go:generate mockgen -source resolver.go -destination=mock_source_test.go -package=menu

// Source looks up one catalog row. A miss is domain.ErrNotFound.
type Source interface {
	GetByExternalID(ctx context.Context, externalID string) (*domain.MenuItem, error)
}

// Resolver is read-only. Hits are kept in an LRU; misses are not, so items
// loaded into the catalog later resolve without a restart.
type Resolver struct {
	source Source
	cache  *lru.Cache[string, domain.MenuItem]
	logger *zap.Logger
}

func NewResolver(source Source, size int, logger *zap.Logger) (*Resolver, error) {
	if size < 1 {
		size = 1
	}
	c, err := lru.New[string, domain.MenuItem](size)
	if err != nil {
		return nil, err
	}
	return &Resolver{source: source, cache: c, logger: logger}, nil
}

// Resolve returns the item for externalID. ok is false on a catalog miss; err
// is only set when the catalog itself could not be read.
func (r *Resolver) Resolve(ctx context.Context, externalID string) (domain.MenuItem, bool, error) {
	id := strings.TrimSpace(externalID)
	if id == "" {
		return domain.MenuItem{}, false, nil
	}
	if item, ok := r.cache.Get(id); ok {
		return item, true, nil
	}

	item, err := r.source.GetByExternalID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Debug("menu miss", zap.String("external_id", id))
		return domain.MenuItem{}, false, nil
	}
	if err != nil {
		return domain.MenuItem{}, false, fmt.Errorf("menu lookup %q: %w", id, err)
	}
	r.cache.Add(id, *item)
	return *item, true, nil
}
