// Package enrich turns a provider order into the kitchen ticket: catalog
// lookups, location filtering, titles and quantities.
package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/domain"
	"github.com/kchenfs/PrepDeck/internal/observability"
)

// MaxModifierDepth bounds nested modifier groups.
const MaxModifierDepth = 3

//go:generate mockgen -source engine.go -destination=mock_resolver_test.go -package=enrich

type Resolver interface {
	Resolve(ctx context.Context, externalID string) (domain.MenuItem, bool, error)
}

// verdict is the per-selection outcome of a catalog lookup.
type verdict int

const (
	keep verdict = iota
	miss
	front
)

type tally struct{ kept, missed, dropped int }

func (t *tally) add(v verdict) {
	switch v {
	case keep:
		t.kept++
	case miss:
		t.missed++
	case front:
		t.dropped++
	}
}

type Engine struct {
	resolver Resolver
	logger   *zap.Logger
	metrics  observability.Metrics
}

func NewEngine(r Resolver, logger *zap.Logger, metrics observability.Metrics) *Engine {
	if metrics == nil {
		metrics = observability.NewNoop()
	}
	return &Engine{resolver: r, logger: logger, metrics: metrics}
}

// Enrich keeps the cart items prepared in the kitchen, in cart order.
// domain.ErrNoRelevantItems means nothing is left to cook. Any other error
// means the catalog could not be read.
func (e *Engine) Enrich(ctx context.Context, raw domain.RawOrder) (domain.FilteredOrder, error) {
	out := domain.FilteredOrder{
		OrderID:   raw.ID,
		DisplayID: raw.DisplayID,
		State:     raw.State,
		Items:     []domain.FilteredItem{},
	}
	if raw.Cart != nil {
		out.SpecialInstructions = raw.Cart.SpecialInstructions
	}

	var t tally
	for _, item := range raw.Items() {
		menuItem, v, err := e.lookup(ctx, raw.ID, item.ID)
		if err != nil {
			return domain.FilteredOrder{}, err
		}
		t.add(v)
		if v != keep {
			continue
		}

		mods, err := e.modifiers(ctx, raw.ID, item.SelectedModifierGroups, 1, &t)
		if err != nil {
			return domain.FilteredOrder{}, err
		}
		out.Items = append(out.Items, domain.FilteredItem{
			Title:               title(menuItem, item.Title),
			InternalSKU:         menuItem.ItemID,
			Quantity:            item.Count(),
			SpecialInstructions: item.Instructions(),
			Modifiers:           mods,
		})
	}

	e.logger.Debug("order enriched",
		zap.String("order_id", raw.ID),
		zap.Int("kept", t.kept),
		zap.Int("missed", t.missed),
		zap.Int("dropped", t.dropped),
	)
	if len(out.Items) == 0 {
		return domain.FilteredOrder{}, domain.ErrNoRelevantItems
	}
	return out, nil
}

func (e *Engine) modifiers(ctx context.Context, orderID string, groups []domain.RawModifierGroup, depth int, t *tally) ([]domain.FilteredModifier, error) {
	if depth > MaxModifierDepth {
		return nil, nil
	}
	var out []domain.FilteredModifier
	for _, g := range groups {
		for _, sel := range g.SelectedItems {
			menuItem, v, err := e.lookup(ctx, orderID, sel.ID)
			if err != nil {
				return nil, err
			}
			t.add(v)
			if v != keep {
				continue
			}
			nested, err := e.modifiers(ctx, orderID, sel.SelectedModifierGroups, depth+1, t)
			if err != nil {
				return nil, err
			}
			out = append(out, domain.FilteredModifier{
				Title:       title(menuItem, sel.Title),
				InternalSKU: menuItem.ItemID,
				Quantity:    sel.Count(),
				Group:       g.Title,
				Modifiers:   nested,
			})
		}
	}
	return out, nil
}

// lookup resolves externalID and decides whether it belongs on the ticket.
func (e *Engine) lookup(ctx context.Context, orderID, externalID string) (domain.MenuItem, verdict, error) {
	menuItem, ok, err := e.resolver.Resolve(ctx, externalID)
	if err != nil {
		return domain.MenuItem{}, miss, fmt.Errorf("resolve %q: %w", externalID, err)
	}
	if !ok {
		e.metrics.IncResolutionMiss()
		e.logger.Warn("menu item not in catalog, skipped",
			zap.String("order_id", orderID),
			zap.String("external_id", externalID),
		)
		return domain.MenuItem{}, miss, nil
	}
	if !menuItem.Location.Kitchen() {
		e.logger.Debug("front item dropped",
			zap.String("order_id", orderID),
			zap.String("external_id", externalID),
		)
		return domain.MenuItem{}, front, nil
	}
	return menuItem, keep, nil
}

func title(m domain.MenuItem, providerTitle string) string {
	switch {
	case m.LocalizedName != "":
		return m.LocalizedName
	case providerTitle != "":
		return providerTitle
	default:
		return m.DisplayName
	}
}
