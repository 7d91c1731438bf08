package model

import "time"

// Item conditions accepted by donation intake.
const (
	ConditionNew       = "new"
	ConditionExcellent = "excellent"
	ConditionGood      = "good"
	ConditionFair      = "fair"
	ConditionPoor      = "poor"
)

// ItemVariant is one kind of borrowable item at one hub with a
// countable quantity.  QuantityTotal counts every unit ever accepted
// (minus decommissioned ones); QuantityAvailable counts the units not
// committed to a reservation.  The storage layer guarantees
// 0 <= QuantityAvailable <= QuantityTotal.
//
// Item variants are never deleted.  Setting IsActive to false excludes
// the variant from new reservations while existing reservations
// against it remain valid.
type ItemVariant struct {
	ID                uint64    `json:"id"`                 // item_variants.id
	HubID             uint64    `json:"hub_id"`             // item_variants.hub_id
	Name              string    `json:"name"`               // item_variants.name
	Category          string    `json:"category"`           // item_variants.category
	Condition         string    `json:"condition"`          // item_variants.item_condition
	QuantityTotal     int       `json:"quantity_total"`     // item_variants.quantity_total
	QuantityAvailable int       `json:"quantity_available"` // item_variants.quantity_available
	IsActive          bool      `json:"is_active"`          // item_variants.is_active
	Version           uint32    `json:"version"`            // item_variants.version, bumped on every ledger write
	CreatedAt         time.Time `json:"created_at"`         // item_variants.created_at
	UpdatedAt         time.Time `json:"updated_at"`         // item_variants.updated_at
}

// Committed returns the number of units currently out of circulation.
func (i ItemVariant) Committed() int { return i.QuantityTotal - i.QuantityAvailable }

// ValidCondition reports whether c is one of the known condition grades.
func ValidCondition(c string) bool {
	switch c {
	case ConditionNew, ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor:
		return true
	}
	return false
}
