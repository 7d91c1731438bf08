package model

import "time"

// CommitToken is the ledger's record of exactly how much quantity a
// reservation took out of circulation.  A token is released at most
// once; ReleasedAt is nil until then.
type CommitToken struct {
	ID            string     `json:"id"`              // commit_tokens.id (UUIDv7)
	ItemVariantID uint64     `json:"item_variant_id"` // commit_tokens.item_variant_id
	Quantity      int        `json:"quantity"`        // commit_tokens.quantity
	CreatedAt     time.Time  `json:"created_at"`      // commit_tokens.created_at
	ReleasedAt    *time.Time `json:"released_at"`     // commit_tokens.released_at (nullable)
}

// Released reports whether the token has already been returned to the pool.
func (t CommitToken) Released() bool { return t.ReleasedAt != nil }
