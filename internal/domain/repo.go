package domain

import (
	"context"
)

type OrderRepository interface {
	Upsert(ctx context.Context, order PersistedOrder) (PersistedOrder, error)
	MarkPublished(ctx context.Context, orderID, digest string) error
	GetByID(ctx context.Context, orderID string) (*PersistedOrder, error)
	RecentOrderIDs(ctx context.Context, limit int) ([]string, error)
}

type MenuRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*MenuItem, error)
}
