package domain

type Location string

const (
	LocationFront Location = "front"
	LocationBack  Location = "back"
	LocationBoth  Location = "both"
)

// Kitchen reports whether items at this location are prepared in the kitchen.
func (l Location) Kitchen() bool {
	return l == LocationBack || l == LocationBoth
}

type ItemType string

const (
	ItemTypeParent   ItemType = "PARENT"
	ItemTypeModifier ItemType = "MODIFIER"
)

// MenuItem is a catalog row. Tags follow the column names used by the catalog
// loader.
type MenuItem struct {
	ItemID        string   `json:"ItemID" yaml:"ItemID"`
	ExternalID    string   `json:"UberEatsID" yaml:"UberEatsID"`
	DisplayName   string   `json:"ItemName" yaml:"ItemName"`
	LocalizedName string   `json:"name_mandarin,omitempty" yaml:"name_mandarin"`
	Location      Location `json:"Location" yaml:"Location"`
	ItemType      ItemType `json:"ItemType,omitempty" yaml:"ItemType"`
	BasePrice     int64    `json:"BasePrice,omitempty" yaml:"BasePrice"`
	PriceModifier int64    `json:"PriceModifier,omitempty" yaml:"PriceModifier"`
}
