// Package roles derives a user's marketplace capabilities from the session
// held by the auth client and the role stored on their profile row.
package roles

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/authclient"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
)

// ProfileReader loads the stored role for a user id.  Implementations
// return an error wrapping ErrNoProfile when no row exists.
type ProfileReader interface {
	GetRole(ctx context.Context, userID string) (model.Role, error)
}

// ErrNoProfile is the error a ProfileReader returns when the user has no
// profile row.
var ErrNoProfile = model.ErrProfileNotFound

// UserSource is the subset of the auth client the tracker depends on.
type UserSource interface {
	GetUser(ctx context.Context) (*authclient.User, error)
	OnAuthStateChange(fn authclient.AuthListener) (unsubscribe func())
}

// Capabilities are the boolean flags derived from a role.
type Capabilities struct {
	IsViewer           bool `json:"is_viewer"`
	IsInserzionista    bool `json:"is_inserzionista"`
	IsEditor           bool `json:"is_editor"`
	IsAdmin            bool `json:"is_admin"`
	CanPublishListings bool `json:"can_publish_listings"`
	CanModerate        bool `json:"can_moderate"`
}

// CapabilitiesFor is the pure derivation of Capabilities from a role.
func CapabilitiesFor(r model.Role) Capabilities {
	return Capabilities{
		IsViewer:           r == model.RoleViewer,
		IsInserzionista:    r == model.RoleInserzionista,
		IsEditor:           r == model.RoleEditor,
		IsAdmin:            r == model.RoleAdmin,
		CanPublishListings: r.CanPublishListings(),
		CanModerate:        r.CanModerate(),
	}
}

// State is a snapshot of the tracker.
type State struct {
	Role    model.Role `json:"role"`
	UserID  string     `json:"user_id,omitempty"`
	Loading bool       `json:"loading"`
	Err     string     `json:"error,omitempty"`
}

// Capabilities derives the capability flags of the snapshot.
func (s State) Capabilities() Capabilities { return CapabilitiesFor(s.Role) }

// Tracker keeps the current user's role in sync with auth-state changes.
// Start loads once and subscribes; every notification triggers a reload.
// Close releases the subscription and must be called when the owner of the
// tracker is done with it.
type Tracker struct {
	users    UserSource
	profiles ProfileReader
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	ctx         context.Context
	unsubscribe func()
}

// NewTracker builds a tracker; it does nothing until Start is called.
func NewTracker(users UserSource, profiles ProfileReader, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		users:    users,
		profiles: profiles,
		logger:   logger.Named("roles"),
		state:    State{Loading: true},
	}
}

// Start performs the initial load and subscribes to auth-state changes.
// ctx is reused for reloads triggered by notifications, so it should live
// as long as the tracker.
func (t *Tracker) Start(ctx context.Context) State {
	t.mu.Lock()
	t.ctx = ctx
	alreadyStarted := t.unsubscribe != nil
	t.mu.Unlock()

	if !alreadyStarted {
		unsub := t.users.OnAuthStateChange(func(event authclient.AuthEvent, _ *authclient.Session) {
			t.logger.Debug("auth state changed, reloading role", zap.String("event", string(event)))
			t.mu.Lock()
			c := t.ctx
			t.mu.Unlock()
			t.Load(c)
		})
		t.mu.Lock()
		t.unsubscribe = unsub
		t.mu.Unlock()
	}
	return t.Load(ctx)
}

// Load runs the load sequence: current user, then that user's profile role.
// With no user the role and user id are cleared.  A failed or missing
// profile lookup clears the role as well and records the error, so stale
// capabilities are never reported.
func (t *Tracker) Load(ctx context.Context) State {
	t.mu.Lock()
	t.state.Loading = true
	t.mu.Unlock()

	next := State{}
	user, err := t.users.GetUser(ctx)
	switch {
	case err != nil:
		t.logger.Debug("get user failed", zap.Error(err))
	case user == nil:
	default:
		next.UserID = user.ID
		role, perr := t.profiles.GetRole(ctx, user.ID)
		if perr != nil {
			if errors.Is(perr, ErrNoProfile) {
				next.Err = ErrNoProfile.Error()
			} else {
				t.logger.Warn("profile lookup failed", zap.String("user_id", user.ID), zap.Error(perr))
				next.Err = perr.Error()
			}
		} else {
			next.Role = role
		}
	}

	t.mu.Lock()
	t.state = next
	t.mu.Unlock()
	return next
}

// State returns the latest snapshot.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close releases the auth-state subscription.  It is safe to call more than
// once.
func (t *Tracker) Close() {
	t.mu.Lock()
	unsub := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
