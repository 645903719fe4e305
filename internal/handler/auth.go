package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/authclient"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/metrics"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/middleware"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/session"
)

// minPasswordLen matches the hosted service's default policy so obviously
// short passwords are rejected before a round trip.
const minPasswordLen = 6

// AuthHandler bundles dependencies for the auth endpoints.
type AuthHandler struct {
	Client   *authclient.Client
	Profiles ProfileStore // optional; used to seed viewer profiles
	Logger   *zap.Logger
	Timeout  time.Duration // per-call budget for the hosted service
	SiteURL  string        // public origin used in email links; request origin when empty
}

func NewAuthHandler(client *authclient.Client, profiles ProfileStore, logger *zap.Logger) *AuthHandler {
	if client == nil {
		panic("nil auth client passed to NewAuthHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{Client: client, Profiles: profiles, Logger: logger.Named("auth"), Timeout: 10 * time.Second}
}

// ----- DTOs -----

type credentialsReq struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Next     string `json:"next" form:"next"`
}

type magicLinkReq struct {
	Email string `json:"email" form:"email"`
	Next  string `json:"next" form:"next"`
}

// linkOrigin is the origin embedded in links the hosted service emails out.
func (h *AuthHandler) linkOrigin(c echo.Context) string {
	if h.SiteURL != "" {
		return strings.TrimSuffix(h.SiteURL, "/")
	}
	return requestOrigin(c)
}

func (h *AuthHandler) callContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// sessionClient returns the session client bound by the session bridge, or
// binds one to a live jar for routes the bridge does not cover.
func (h *AuthHandler) sessionClient(c echo.Context) *authclient.SessionClient {
	if sc, ok := middleware.SessionClientFrom(c); ok {
		return sc
	}
	sc := h.Client.ForRequest(session.NewLiveJar(c.Request(), c.Response()))
	c.Set(middleware.ContextSessionClient, sc)
	return sc
}

func (h *AuthHandler) ensureViewer(ctx context.Context, userID string) {
	if h.Profiles == nil || userID == "" {
		return
	}
	if err := h.Profiles.EnsureViewer(ctx, userID); err != nil {
		h.Logger.Warn("seed viewer profile failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Callback handles GET /auth/callback?code=&next=.  It exchanges the one-time
// code for a session, buffering every cookie the exchange writes, and only
// applies them to the success redirect.  Failures redirect to the login
// page with an error and carry no session cookies.
func (h *AuthHandler) Callback(c echo.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("auth callback panicked", zap.Any("panic", r))
			metrics.AuthCallbackTotal.WithLabelValues("callback_error").Inc()
			err = h.failCallback(c, "callback_error")
		}
	}()

	code := strings.TrimSpace(c.QueryParam("code"))
	if code == "" {
		metrics.AuthCallbackTotal.WithLabelValues("no_code").Inc()
		return c.Redirect(http.StatusTemporaryRedirect, loginWithError("no_code"))
	}
	next := safeNext(c.QueryParam("next"))

	jar := session.NewBufferedJar(c.Request())
	sc := h.Client.ForRequest(jar)

	ctx, cancel := h.callContext(c)
	defer cancel()
	sess, xerr := sc.ExchangeCodeForSession(ctx, code)
	if xerr != nil {
		jar.Discard()
		if apiErr, ok := authclient.IsAPIError(xerr); ok {
			h.Logger.Info("code exchange rejected", zap.Int("status", apiErr.Status), zap.String("code", apiErr.Code))
			metrics.AuthCallbackTotal.WithLabelValues("exchange_error").Inc()
			return h.failCallback(c, apiErr.Message)
		}
		h.Logger.Warn("code exchange failed", zap.Error(xerr))
		metrics.AuthCallbackTotal.WithLabelValues("callback_error").Inc()
		return h.failCallback(c, "callback_error")
	}
	if sess.User != nil {
		h.ensureViewer(ctx, sess.User.ID)
	}

	jar.ApplyTo(c.Response())
	metrics.AuthCallbackTotal.WithLabelValues("ok").Inc()
	return c.Redirect(http.StatusTemporaryRedirect, next)
}

// failCallback redirects to the login page, dropping any Set-Cookie header
// staged on the response before the failure.
func (h *AuthHandler) failCallback(c echo.Context, msg string) error {
	if c.Response().Committed {
		return nil
	}
	c.Response().Header().Del("Set-Cookie")
	return c.Redirect(http.StatusTemporaryRedirect, loginWithError(msg))
}

// LoginPage handles GET /auth/login.  Pages are rendered by the frontend;
// the server answers with the data the login form needs.
func (h *AuthHandler) LoginPage(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"page":  "login",
		"error": c.QueryParam("error"),
		"next":  safeNext(c.QueryParam("next")),
	})
}

// RegisterPage handles GET /auth/register.
func (h *AuthHandler) RegisterPage(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"page":  "register",
		"error": c.QueryParam("error"),
	})
}

func validateCredentials(req *credentialsReq) string {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return "email/password required"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "invalid email"
	}
	if len(req.Password) < minPasswordLen {
		return fmt.Sprintf("password must be at least %d characters", minPasswordLen)
	}
	return ""
}

// authFailure answers a failed login or registration: form posts go back
// to page with the message, JSON clients get status and message.
func authFailure(c echo.Context, page string, status int, msg string) error {
	if isBrowserForm(c) {
		return c.Redirect(http.StatusSeeOther, page+"?error="+url.QueryEscape(msg))
	}
	return c.JSON(status, echo.Map{"error": msg})
}

// Login handles POST /auth/login with email and password.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return authFailure(c, LoginPath, http.StatusBadRequest, "invalid body")
	}
	if msg := validateCredentials(&req); msg != "" {
		return authFailure(c, LoginPath, http.StatusBadRequest, msg)
	}

	ctx, cancel := h.callContext(c)
	defer cancel()
	sess, err := h.sessionClient(c).SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		if apiErr, ok := authclient.IsAPIError(err); ok && apiErr.Status < http.StatusInternalServerError {
			return authFailure(c, LoginPath, http.StatusUnauthorized, apiErr.Message)
		}
		h.Logger.Error("sign in failed", zap.Error(err))
		return authFailure(c, LoginPath, http.StatusBadGateway, "auth service unavailable")
	}
	if sess.User != nil {
		h.ensureViewer(ctx, sess.User.ID)
	}

	next := safeNext(req.Next)
	if isBrowserForm(c) {
		return c.Redirect(http.StatusSeeOther, next)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": sess.User, "next": next})
}

// Register handles POST /auth/register.  When the hosted project requires
// email confirmation no session comes back; the confirmation link later
// lands on the callback.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return authFailure(c, "/auth/register", http.StatusBadRequest, "invalid body")
	}
	if msg := validateCredentials(&req); msg != "" {
		return authFailure(c, "/auth/register", http.StatusBadRequest, msg)
	}

	ctx, cancel := h.callContext(c)
	defer cancel()
	redirectTo := h.linkOrigin(c) + CallbackPath + "?next=" + url.QueryEscape(DashboardPath)
	sess, err := h.sessionClient(c).SignUp(ctx, req.Email, req.Password, redirectTo)
	if err != nil {
		if apiErr, ok := authclient.IsAPIError(err); ok && apiErr.Status < http.StatusInternalServerError {
			return authFailure(c, "/auth/register", apiErr.Status, apiErr.Message)
		}
		h.Logger.Error("sign up failed", zap.Error(err))
		return authFailure(c, "/auth/register", http.StatusBadGateway, "auth service unavailable")
	}
	if sess == nil {
		return c.JSON(http.StatusAccepted, echo.Map{"status": "confirmation_sent", "email": req.Email})
	}
	if sess.User != nil {
		h.ensureViewer(ctx, sess.User.ID)
	}
	if isBrowserForm(c) {
		return c.Redirect(http.StatusSeeOther, DashboardPath)
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": sess.User, "next": DashboardPath})
}

// MagicLink handles POST /auth/magic-link.  The PKCE verifier cookie set
// here is what the callback later sends with the code.
func (h *AuthHandler) MagicLink(c echo.Context) error {
	var req magicLinkReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return badRequest(c, "invalid email")
	}

	ctx, cancel := h.callContext(c)
	defer cancel()
	redirectTo := h.linkOrigin(c) + CallbackPath + "?next=" + url.QueryEscape(safeNext(req.Next))
	if err := h.sessionClient(c).SignInWithOTP(ctx, req.Email, redirectTo); err != nil {
		if apiErr, ok := authclient.IsAPIError(err); ok && apiErr.Status < http.StatusInternalServerError {
			return c.JSON(apiErr.Status, echo.Map{"error": apiErr.Message})
		}
		h.Logger.Error("magic link failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "auth service unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "magic_link_sent"})
}

// Logout handles POST /auth/logout.  Cookies are cleared even when the
// upstream revoke fails.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := h.callContext(c)
	defer cancel()
	if err := h.sessionClient(c).SignOut(ctx); err != nil {
		h.Logger.Warn("upstream sign out failed", zap.Error(err))
	}
	return c.Redirect(http.StatusSeeOther, LoginPath)
}
