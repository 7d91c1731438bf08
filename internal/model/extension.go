package model

import "time"

// ExtensionStatus is the outcome of a due-date extension request.
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionDenied   ExtensionStatus = "denied"
)

// ExtensionRequest is a borrower's request to move the expected return
// date of an active reservation.  At most one request per reservation
// can be pending at a time.
//
// Fields:
//  ID                  – primary key identifier.
//  ReservationID       – reservation the request belongs to.
//  RequestedReturnDate – the new return date asked for.
//  Status              – pending, approved or denied.
//  RequestedBy         – borrower who asked.
//  ResolvedBy          – steward who acted (nil while pending or when
//                        denied implicitly by the system).
//  ResolvedAt          – when the request was closed.
//  Reason              – free-text note from the resolver.
type ExtensionRequest struct {
	ID                  uint64          `json:"id"`                    // extension_requests.id
	ReservationID       uint64          `json:"reservation_id"`        // extension_requests.reservation_id
	RequestedReturnDate time.Time       `json:"requested_return_date"` // extension_requests.requested_return_date
	Status              ExtensionStatus `json:"status"`                // extension_requests.status
	RequestedBy         uint64          `json:"requested_by"`          // extension_requests.requested_by
	ResolvedBy          *uint64         `json:"resolved_by,omitempty"` // extension_requests.resolved_by (nullable)
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"` // extension_requests.resolved_at (nullable)
	Reason              string          `json:"reason,omitempty"`      // extension_requests.reason
	CreatedAt           time.Time       `json:"created_at"`            // extension_requests.created_at
}
