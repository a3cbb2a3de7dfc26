package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kchenfs/PrepDeck/internal/config"
	"github.com/kchenfs/PrepDeck/internal/domain"
)

// MenuRepo reads the catalog table. It never writes.
type MenuRepo struct {
	db     DBTX
	tables config.Tables
}

var _ domain.MenuRepository = (*MenuRepo)(nil)

func NewMenuRepo(db DBTX, t config.Tables) *MenuRepo { return &MenuRepo{db: db, tables: t} }

func (r *MenuRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.MenuItem, error) {
	var it domain.MenuItem
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT item_id, external_id, item_name, COALESCE(name_mandarin, ''), location,
		       item_type, base_price, price_modifier
		FROM %s WHERE external_id=$1
	`, qt(r.tables.Schema, r.tables.Menu)), externalID).Scan(
		&it.ItemID, &it.ExternalID, &it.DisplayName, &it.LocalizedName, &it.Location,
		&it.ItemType, &it.BasePrice, &it.PriceModifier,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}
