package model

import "time"

// BorrowerStanding is the late-return record of one borrower.  It gates
// new reservations: while RestrictedUntil lies in the future the
// borrower cannot reserve.
type BorrowerStanding struct {
	BorrowerID      uint64     `json:"borrower_id"`                // borrower_standings.borrower_id
	LateCount       int        `json:"late_count"`                 // borrower_standings.late_count
	ConsecutiveLate int        `json:"consecutive_late"`           // borrower_standings.consecutive_late
	RestrictedUntil *time.Time `json:"restricted_until,omitempty"` // borrower_standings.restricted_until (nullable)
	UpdatedAt       time.Time  `json:"updated_at"`                 // borrower_standings.updated_at
}

// Restricted reports whether the borrower is barred from reserving at now.
func (s BorrowerStanding) Restricted(now time.Time) bool {
	return s.RestrictedUntil != nil && s.RestrictedUntil.After(now)
}
