package model

import "time"

// Hub represents a physical distribution point where items are
// donated, stored, picked up and returned.  Stewards are scoped to a
// single hub.  This struct corresponds to a row in the `hubs` table.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – unique hub name.
//  Address   – street address shown to borrowers.
//  IsActive  – whether the hub accepts new reservations.
//  CreatedAt – timestamp when the hub was created.
//  UpdatedAt – timestamp of last update.
type Hub struct {
	ID        uint64    `json:"id"`         // hubs.id
	Name      string    `json:"name"`       // hubs.name
	Address   string    `json:"address"`    // hubs.address
	IsActive  bool      `json:"is_active"`  // hubs.is_active
	CreatedAt time.Time `json:"created_at"` // hubs.created_at
	UpdatedAt time.Time `json:"updated_at"` // hubs.updated_at
}
