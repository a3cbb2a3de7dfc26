package menu

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kchenfs/PrepDeck/internal/domain"
)

// Static is an in-memory catalog snapshot, usually loaded from MENU_FILE.
type Static struct {
	items map[string]domain.MenuItem
}

func NewStatic(items []domain.MenuItem) (*Static, error) {
	m := make(map[string]domain.MenuItem, len(items))
	for _, it := range items {
		if it.ExternalID == "" {
			continue
		}
		if _, dup := m[it.ExternalID]; dup {
			return nil, fmt.Errorf("duplicate external id %q", it.ExternalID)
		}
		m[it.ExternalID] = it
	}
	return &Static{items: m}, nil
}

// LoadFile reads a YAML (or JSON) list of menu items.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []domain.MenuItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return NewStatic(items)
}

func (s *Static) GetByExternalID(_ context.Context, externalID string) (*domain.MenuItem, error) {
	it, ok := s.items[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &it, nil
}

func (s *Static) Len() int { return len(s.items) }
