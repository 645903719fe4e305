// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrForbidden indicates that the current user is not
// authorized to modify a listing owned by someone else, while
// ErrConflict signals that an operation cannot proceed because of the
// row's current state (e.g. upgrading a user who is already an editor).
package repository

import (
	"errors"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because
// of conflicting state. Handlers should translate this into an HTTP
// 409 response.
var ErrConflict = errors.New("conflict")

// ErrInvalidUserID is returned when a user id is not a UUID.  The hosted
// auth service only issues UUIDs, so anything else never reaches SQL.
var ErrInvalidUserID = errors.New("invalid user id")

// ErrProfileNotFound is returned when no user_profiles row exists.
var ErrProfileNotFound = model.ErrProfileNotFound

// ErrListingNotFound is returned when a listing cannot be found.
var ErrListingNotFound = errors.New("listing not found")
