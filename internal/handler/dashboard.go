package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/metrics"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/middleware"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/queue"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/repository"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/roles"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/utils"
)

// DashboardHandler serves the authenticated area.  Every route runs behind
// the session bridge and the role-state middleware.
type DashboardHandler struct {
	Profiles ProfileStore
	Listings ListingStore
	Events   EventPublisher
	Logger   *zap.Logger
}

func NewDashboardHandler(profiles ProfileStore, listings ListingStore, events EventPublisher, logger *zap.Logger) *DashboardHandler {
	if profiles == nil || listings == nil || events == nil {
		panic("nil dependency passed to NewDashboardHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardHandler{Profiles: profiles, Listings: listings, Events: events, Logger: logger.Named("dashboard")}
}

type dashboardResp struct {
	UserID       string             `json:"user_id"`
	Email        string             `json:"email,omitempty"`
	DisplayName  string             `json:"display_name,omitempty"`
	MemberSince  string             `json:"member_since,omitempty"`
	Role         model.Role         `json:"role"`
	Capabilities roles.Capabilities `json:"capabilities"`
	Error        string             `json:"error,omitempty"`
	Listings     []*model.Listing   `json:"listings,omitempty"`
}

// Dashboard handles GET /dashboard: the tracked role, its capabilities and,
// for publishers, their own listings.
func (h *DashboardHandler) Dashboard(c echo.Context) error {
	t, ok := middleware.TrackerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	st := t.State()
	if st.UserID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	resp := dashboardResp{
		UserID:       st.UserID,
		Role:         st.Role,
		Capabilities: st.Capabilities(),
		Error:        st.Err,
	}
	if u, ok := middleware.UserFrom(c); ok {
		resp.Email = u.Email
	}
	if p, err := h.Profiles.GetByID(c.Request().Context(), st.UserID); err == nil {
		resp.DisplayName = p.DisplayName
		resp.MemberSince = utils.FormatDate(p.CreatedAt)
	} else if !errors.Is(err, repository.ErrProfileNotFound) {
		h.Logger.Warn("load profile failed", zap.String("user_id", st.UserID), zap.Error(err))
	}
	if st.Role.CanPublishListings() {
		items, err := h.Listings.ListByOwner(c.Request().Context(), st.UserID)
		if err != nil {
			h.Logger.Error("list own listings failed", zap.String("user_id", st.UserID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load listings"})
		}
		resp.Listings = items
	}
	return c.JSON(http.StatusOK, resp)
}

// UpgradeRole handles POST /dashboard/upgrade-role, the self-service switch
// from viewer to inserzionista.  After the profile row changes the session
// is refreshed so every auth-state listener (the role tracker included)
// reloads before the browser is sent back to the dashboard.
func (h *DashboardHandler) UpgradeRole(c echo.Context) error {
	t, ok := middleware.TrackerFrom(c)
	if !ok || t.State().UserID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	userID := t.State().UserID
	ctx := c.Request().Context()

	previous, err := h.Profiles.UpgradeToInserzionista(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.RoleUpgradesTotal.WithLabelValues("conflict").Inc()
			return c.JSON(http.StatusConflict, echo.Map{"error": "role cannot be upgraded", "role": previous})
		}
		metrics.RoleUpgradesTotal.WithLabelValues("error").Inc()
		h.Logger.Error("role upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "upgrade failed"})
	}
	metrics.RoleUpgradesTotal.WithLabelValues("ok").Inc()

	ev := queue.RoleChangedEvent{
		UserID:    userID,
		FromRole:  string(previous),
		ToRole:    string(model.RoleInserzionista),
		Source:    "self_service",
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.Events.Publish(ctx, queue.TypeRoleChanged, ev); err != nil {
		h.Logger.Warn("publish role change failed", zap.String("user_id", userID), zap.Error(err))
	}

	if sc, ok := middleware.SessionClientFrom(c); ok {
		if _, err := sc.RefreshSession(ctx); err != nil {
			// The tracker keeps its pre-upgrade snapshot; reload it directly.
			h.Logger.Info("session refresh after upgrade failed", zap.Error(err))
			t.Load(ctx)
		}
	}

	if isBrowserForm(c) {
		return c.Redirect(http.StatusSeeOther, DashboardPath)
	}
	st := t.State()
	return c.JSON(http.StatusOK, echo.Map{"role": st.Role, "capabilities": st.Capabilities()})
}
