// Package access describes who is calling an operation and what hubs they
// may act on.
package access

import (
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/repository"
)

// Roles carried in the identity token.
const (
	RoleBorrower = "BORROWER"
	RoleSteward  = "STEWARD"
	RoleAdmin    = "ADMIN"
	RoleSystem   = "SYSTEM"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uint64
	Role   string
	// HubID scopes a steward to one hub.  A steward without a hub claim
	// may act on every hub.
	HubID *uint64
}

// System is the actor used by the scheduler and the CLI.
var System = Actor{Role: RoleSystem}

// CanManageHub reports whether the actor may run steward operations at hub.
func (a Actor) CanManageHub(hubID uint64) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleSteward:
		return a.HubID == nil || *a.HubID == hubID
	}
	return false
}

// RequireHub is CanManageHub as an error.
func (a Actor) RequireHub(hubID uint64) error {
	if !a.CanManageHub(hubID) {
		return repository.ErrForbidden
	}
	return nil
}

// Owns reports whether the actor is the borrower of r.
func (a Actor) Owns(r *model.Reservation) bool {
	return a.Role == RoleBorrower && r.BorrowerID == a.UserID
}

// CanSee reports whether the actor may read the reservation.
func (a Actor) CanSee(r *model.Reservation) bool {
	if a.Role == RoleBorrower {
		return r.BorrowerID == a.UserID
	}
	return a.CanManageHub(r.HubID)
}
