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
)

// AdminHandler serves the moderation area.  Access control happens in the
// session bridge (editor or admin) and RequireCapability.
type AdminHandler struct {
	Listings ListingStore
	Profiles ProfileStore
	Events   EventPublisher
	Logger   *zap.Logger
}

func NewAdminHandler(listings ListingStore, profiles ProfileStore, events EventPublisher, logger *zap.Logger) *AdminHandler {
	if listings == nil || profiles == nil || events == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{Listings: listings, Profiles: profiles, Events: events, Logger: logger.Named("admin")}
}

// Queue handles GET /admin/listings: pending listings, oldest first.
func (h *AdminHandler) Queue(c echo.Context) error {
	items, err := h.Listings.ListByStatus(c.Request().Context(), model.StatusPending)
	if err != nil {
		h.Logger.Error("list pending failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list listings"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Approve handles POST /admin/listings/:id/approve.
func (h *AdminHandler) Approve(c echo.Context) error {
	return h.moderate(c, model.StatusPublished, "approved")
}

// Reject handles POST /admin/listings/:id/reject.
func (h *AdminHandler) Reject(c echo.Context) error {
	return h.moderate(c, model.StatusRejected, "rejected")
}

func (h *AdminHandler) moderate(c echo.Context, status model.ListingStatus, action string) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.Listings.SetStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
		}
		h.Logger.Error("set listing status failed", zap.Uint64("id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "moderation failed"})
	}
	metrics.ListingModerationTotal.WithLabelValues(string(status)).Inc()

	l, err := h.Listings.GetByID(ctx, id)
	if err != nil {
		h.Logger.Warn("reload moderated listing failed", zap.Uint64("id", id), zap.Error(err))
		l = &model.Listing{ID: id, Status: status}
	}
	actor := ""
	if t, ok := middleware.TrackerFrom(c); ok {
		actor = t.State().UserID
	}
	ev := queue.ListingChangedEvent{
		ListingID: l.ID,
		OwnerID:   l.OwnerID,
		ActorID:   actor,
		Kind:      string(l.Kind),
		Action:    action,
		Status:    string(status),
		Title:     l.Title,
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.Events.Publish(ctx, queue.TypeListingChanged, ev); err != nil {
		h.Logger.Warn("publish moderation failed", zap.Uint64("id", id), zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "status": status})
}

type setRoleReq struct {
	Role string `json:"role"`
}

// SetRole handles POST /admin/users/:id/role.  Admin only.
func (h *AdminHandler) SetRole(c echo.Context) error {
	userID := c.Param("id")
	var req setRoleReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	role, ok := model.ParseRole(req.Role)
	if !ok {
		return badRequest(c, "invalid role")
	}
	ctx := c.Request().Context()
	previous, err := h.Profiles.GetRole(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInvalidUserID):
			return badRequest(c, "invalid user id")
		case errors.Is(err, repository.ErrProfileNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "profile not found"})
		default:
			h.Logger.Error("load role failed", zap.String("user_id", userID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "role change failed"})
		}
	}
	if err := h.Profiles.SetRole(ctx, userID, role); err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "profile not found"})
		}
		h.Logger.Error("set role failed", zap.String("user_id", userID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "role change failed"})
	}
	ev := queue.RoleChangedEvent{
		UserID:    userID,
		FromRole:  string(previous),
		ToRole:    string(role),
		Source:    "admin",
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.Events.Publish(ctx, queue.TypeRoleChanged, ev); err != nil {
		h.Logger.Warn("publish role change failed", zap.String("user_id", userID), zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": userID, "role": role})
}
