package model

import (
	"errors"
	"strings"
	"time"
)

// Role is the access level stored on a user's profile row.  Exactly one
// role is held by a user at any time.  Ordering for capability purposes is
// viewer < inserzionista < {editor, admin}; editor and admin are not
// comparable with each other but both may moderate.
type Role string

const (
	RoleNone          Role = ""              // no profile row (or lookup failed)
	RoleViewer        Role = "viewer"        // default role granted at signup
	RoleInserzionista Role = "inserzionista" // may publish listings
	RoleEditor        Role = "editor"        // may publish and moderate
	RoleAdmin         Role = "admin"         // may publish, moderate and manage roles
)

// ParseRole normalizes a raw role string coming from the database or a
// request.  Unknown values map to RoleNone and ok=false.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return RoleNone, false
	}
	return r, true
}

// Valid reports whether r is one of the four stored roles.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleInserzionista, RoleEditor, RoleAdmin:
		return true
	}
	return false
}

// CanPublishListings reports whether the role may create and manage listings.
func (r Role) CanPublishListings() bool {
	return r == RoleInserzionista || r == RoleEditor || r == RoleAdmin
}

// CanModerate reports whether the role may approve or reject listings and
// reach the /admin area.
func (r Role) CanModerate() bool {
	return r == RoleEditor || r == RoleAdmin
}

// CanSelfUpgrade reports whether the self-service upgrade to inserzionista
// applies to the role.  Only viewers and users without a profile qualify.
func (r Role) CanSelfUpgrade() bool {
	return r == RoleNone || r == RoleViewer
}

// Profile mirrors a row of the `user_profiles` table.  UserID is the
// identifier issued by the hosted auth service (a UUID string).
type Profile struct {
	UserID      string    `json:"user_id"`      // user_profiles.user_id
	Role        Role      `json:"role"`         // user_profiles.role
	DisplayName string    `json:"display_name"` // user_profiles.display_name
	Phone       string    `json:"phone"`        // user_profiles.phone
	CreatedAt   time.Time `json:"created_at"`   // user_profiles.created_at
	UpdatedAt   time.Time `json:"updated_at"`   // user_profiles.updated_at
}

// ErrProfileNotFound is returned when a user has no user_profiles row.
var ErrProfileNotFound = errors.New("profile not found")
