package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kchenfs/PrepDeck/internal/config"
	"github.com/kchenfs/PrepDeck/internal/domain"
)

type OrderRepo struct {
	db     DBTX
	tables config.Tables
}

var _ domain.OrderRepository = (*OrderRepo)(nil)

func NewOrderRepo(db DBTX, t config.Tables) *OrderRepo { return &OrderRepo{db: db, tables: t} }

func qt(schema, tbl string) string { return fmt.Sprintf(`"%s"."%s"`, schema, tbl) }

func (r *OrderRepo) table() string { return qt(r.tables.Schema, r.tables.Orders) }

// Upsert stores the order keyed by OrderID. published_at survives only when the
// digest is unchanged. The stored row is returned.
func (r *OrderRepo) Upsert(ctx context.Context, o domain.PersistedOrder) (domain.PersistedOrder, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return domain.PersistedOrder{}, fmt.Errorf("encode items: %w", err)
	}

	err = r.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s AS o (order_id, display_id, state, special_instructions, items, digest, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		ON CONFLICT (order_id) DO UPDATE SET
		  display_id=EXCLUDED.display_id,
		  state=EXCLUDED.state,
		  special_instructions=EXCLUDED.special_instructions,
		  items=EXCLUDED.items,
		  digest=EXCLUDED.digest,
		  updated_at=now(),
		  published_at=CASE WHEN o.digest=EXCLUDED.digest THEN o.published_at ELSE NULL END
		RETURNING created_at, updated_at, published_at
	`, r.table()),
		o.OrderID, o.DisplayID, o.State, o.SpecialInstructions, items, o.Digest,
	).Scan(&o.CreatedAt, &o.UpdatedAt, &o.PublishedAt)
	if err != nil {
		return domain.PersistedOrder{}, err
	}
	return o, nil
}

func (r *OrderRepo) MarkPublished(ctx context.Context, orderID, digest string) error {
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET published_at=now() WHERE order_id=$1 AND digest=$2
	`, r.table()), orderID, digest)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OrderRepo) GetByID(ctx context.Context, orderID string) (*domain.PersistedOrder, error) {
	var (
		o     domain.PersistedOrder
		items []byte
	)
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT order_id, display_id, state, special_instructions, items, digest,
		       created_at, updated_at, published_at
		FROM %s WHERE order_id=$1
	`, r.table()), orderID).Scan(
		&o.OrderID, &o.DisplayID, &o.State, &o.SpecialInstructions, &items, &o.Digest,
		&o.CreatedAt, &o.UpdatedAt, &o.PublishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode items of %s: %w", orderID, err)
		}
	}
	return &o, nil
}

func (r *OrderRepo) RecentOrderIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT order_id FROM %s
		ORDER BY updated_at DESC
		LIMIT $1
	`, r.table()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
