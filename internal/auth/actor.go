package auth

import "salescrm/internal/models"

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uint64
	Role   string
}

// Elevated reports whether the actor may see and act on records it does not
// own. Admin additionally unlocks amount edits on WON opportunities and
// early-stage deletes; that distinction is checked with Admin().
func (a Actor) Elevated() bool {
	return a.Role == models.RoleAdmin || a.Role == models.RoleManager
}

func (a Actor) Admin() bool {
	return a.Role == models.RoleAdmin
}

// OwnerFilter resolves the owner constraint for a query: a restricted actor
// is always pinned to its own records, an elevated actor gets the filter it
// asked for (nil meaning all owners). Every read and write query in the
// service layer derives its owner constraint through this single function.
func (a Actor) OwnerFilter(requested *uint64) *uint64 {
	if a.Elevated() {
		return requested
	}
	id := a.UserID
	return &id
}

// CanTouch reports whether the actor may mutate an opportunity owned by
// ownerID.
func (a Actor) CanTouch(ownerID uint64) bool {
	return a.Elevated() || a.UserID == ownerID
}
