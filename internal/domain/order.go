package domain

import "time"

// RawOrder is the subset of the provider order document the pipeline reads.
// Every field is optional.
type RawOrder struct {
	ID        string   `json:"id"`
	DisplayID string   `json:"display_id"`
	State     string   `json:"state"`
	Cart      *RawCart `json:"cart,omitempty"`
}

type RawCart struct {
	Items               []RawItem `json:"items"`
	SpecialInstructions string    `json:"special_instructions,omitempty"`
}

type RawItem struct {
	ID                     string             `json:"id"`
	Title                  string             `json:"title"`
	Quantity               *RawQuantity       `json:"quantity,omitempty"`
	CustomerRequest        *RawRequest        `json:"customer_request,omitempty"`
	SelectedModifierGroups []RawModifierGroup `json:"selected_modifier_groups,omitempty"`
}

type RawQuantity struct {
	Amount          *int       `json:"amount,omitempty"`
	DefaultQuantity *RawAmount `json:"default_quantity,omitempty"`
}

type RawAmount struct {
	Amount *int `json:"amount,omitempty"`
}

type RawRequest struct {
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

type RawModifierGroup struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	SelectedItems []RawItem `json:"selected_items"`
}

// Items returns the cart items or nil when the order has no cart.
func (o RawOrder) Items() []RawItem {
	if o.Cart == nil {
		return nil
	}
	return o.Cart.Items
}

// Count resolves the ordered quantity: default_quantity.amount, then amount,
// then 1.
func (i RawItem) Count() int {
	q := i.Quantity
	if q == nil {
		return 1
	}
	if q.DefaultQuantity != nil && q.DefaultQuantity.Amount != nil && *q.DefaultQuantity.Amount > 0 {
		return *q.DefaultQuantity.Amount
	}
	if q.Amount != nil && *q.Amount > 0 {
		return *q.Amount
	}
	return 1
}

func (i RawItem) Instructions() string {
	if i.CustomerRequest == nil {
		return ""
	}
	return i.CustomerRequest.SpecialInstructions
}

// FilteredOrder is the kitchen-facing projection of a RawOrder.
type FilteredOrder struct {
	OrderID             string         `json:"OrderID"`
	DisplayID           string         `json:"DisplayID"`
	State               string         `json:"State"`
	Items               []FilteredItem `json:"Items"`
	SpecialInstructions string         `json:"SpecialInstructions,omitempty"`
}

type FilteredItem struct {
	Title               string             `json:"Title"`
	InternalSKU         string             `json:"InternalSKU"`
	Quantity            int                `json:"Quantity"`
	SpecialInstructions string             `json:"SpecialInstructions"`
	Modifiers           []FilteredModifier `json:"Modifiers,omitempty"`
}

type FilteredModifier struct {
	Title       string             `json:"Title"`
	InternalSKU string             `json:"InternalSKU"`
	Quantity    int                `json:"Quantity"`
	Group       string             `json:"Group,omitempty"`
	Modifiers   []FilteredModifier `json:"Modifiers,omitempty"`
}

// PersistedOrder is the durable record of a FilteredOrder.
type PersistedOrder struct {
	FilteredOrder
	Digest      string     `json:"digest"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Published reports whether the record was pushed downstream with the given
// content digest.
func (p PersistedOrder) Published(digest string) bool {
	return p.PublishedAt != nil && p.Digest == digest
}
