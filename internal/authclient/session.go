package authclient

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/session"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/utils"
)

// User is the identity record returned by the hosted service.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the token pair issued by the hosted service.  The server
// treats both tokens as opaque apart from the access token's exp claim.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

// SessionClient is a Client bound to one request's cookie jar.
type SessionClient struct {
	client     *Client
	jar        session.Jar
	listeners  listeners
	refreshing bool
}

// OnAuthStateChange registers fn for auth-state changes on this session and
// returns the function that removes it.  Calling the disposer more than once
// is harmless.
func (s *SessionClient) OnAuthStateChange(fn AuthListener) (unsubscribe func()) {
	return s.listeners.add(fn)
}

// GetUser returns the authenticated user for the session held in the jar,
// or nil when there is none.  An access token close to expiry is refreshed
// first; the new token pair is written back through the jar.  A rejected
// refresh clears the session cookies.
func (s *SessionClient) GetUser(ctx context.Context) (*User, error) {
	access, hasAccess := s.jar.Get(AccessTokenCookie)
	refresh, hasRefresh := s.jar.Get(RefreshTokenCookie)
	if !hasAccess && !hasRefresh {
		return nil, nil
	}

	if hasRefresh && refresh != "" && !s.refreshing && s.needsRefresh(access) {
		sess, err := s.refresh(ctx, refresh)
		if err != nil {
			return nil, err
		}
		if sess.User != nil && sess.User.ID != "" {
			return sess.User, nil
		}
		access = sess.AccessToken
	}
	if access == "" {
		return nil, nil
	}

	resp, err := s.client.upstream(ctx, access).GetUser()
	if err != nil {
		return nil, s.client.upstreamError("/user", err)
	}
	u := userFrom(resp.User)
	if u == nil {
		return nil, fmt.Errorf("auth service returned a user without id")
	}
	return u, nil
}

func (s *SessionClient) needsRefresh(access string) bool {
	if access == "" {
		return true
	}
	claims, err := utils.ParseTokenClaims(access)
	if err != nil {
		return true
	}
	return claims.ExpiresWithin(s.client.now(), refreshMargin)
}

// RefreshSession forces a token refresh.  Callers use it after mutating
// data that listeners derive state from (a role change, for instance) so
// every subscriber reloads.
func (s *SessionClient) RefreshSession(ctx context.Context) (*Session, error) {
	refresh, ok := s.jar.Get(RefreshTokenCookie)
	if !ok || refresh == "" {
		return nil, &APIError{Status: http.StatusUnauthorized, Code: "session_missing", Message: "no session to refresh"}
	}
	return s.refresh(ctx, refresh)
}

func (s *SessionClient) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	s.refreshing = true
	defer func() { s.refreshing = false }()

	resp, err := s.client.upstream(ctx, "").RefreshToken(refreshToken)
	if err != nil {
		err = s.client.upstreamError("/token", err)
		if apiErr, ok := IsAPIError(err); ok && apiErr.Status < http.StatusInternalServerError {
			s.client.logger.Info("refresh token rejected, clearing session", zap.Int("status", apiErr.Status))
			s.clearSession()
			s.listeners.emit(EventSignedOut, nil)
		}
		return nil, err
	}
	sess := sessionFrom(resp.Session)
	s.storeSession(sess)
	s.listeners.emit(EventTokenRefreshed, sess)
	return sess, nil
}

// ExchangeCodeForSession completes an OAuth or magic-link flow.  The PKCE
// verifier cookie, when present, is sent along and then removed.
func (s *SessionClient) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &APIError{Status: http.StatusBadRequest, Code: "validation_failed", Message: "auth code is required"}
	}
	verifier, _ := s.jar.Get(CodeVerifierCookie)

	var sess Session
	err := s.client.do(ctx, http.MethodPost, "/auth/v1/token",
		url.Values{"grant_type": {"pkce"}}, "",
		map[string]string{"auth_code": code, "code_verifier": verifier}, &sess)
	if err != nil {
		return nil, err
	}
	if verifier != "" {
		s.jar.Remove(CodeVerifierCookie, s.client.cookieOptions())
	}
	s.storeSession(&sess)
	s.listeners.emit(EventSignedIn, &sess)
	return &sess, nil
}

// SignInWithPassword authenticates with email and password.
func (s *SessionClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	resp, err := s.client.upstream(ctx, "").SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, s.client.upstreamError("/token", err)
	}
	sess := sessionFrom(resp.Session)
	s.storeSession(sess)
	s.listeners.emit(EventSignedIn, sess)
	return sess, nil
}

// SignUp registers a new account.  When the project auto-confirms emails the
// service answers with a session, which is stored; otherwise the returned
// session is nil and the user must follow the confirmation link, which lands
// on redirectTo with a code.
func (s *SessionClient) SignUp(ctx context.Context, email, password, redirectTo string) (*Session, error) {
	challenge, err := s.startPKCE()
	if err != nil {
		return nil, err
	}
	body := map[string]string{
		"email":                 email,
		"password":              password,
		"code_challenge":        challenge,
		"code_challenge_method": "s256",
	}
	var raw struct {
		Session
		ID string `json:"id"`
	}
	if err := s.client.do(ctx, http.MethodPost, "/auth/v1/signup", redirectQuery(redirectTo), "", body, &raw); err != nil {
		return nil, err
	}
	if raw.AccessToken == "" {
		return nil, nil
	}
	sess := raw.Session
	s.storeSession(&sess)
	s.listeners.emit(EventSignedIn, &sess)
	return &sess, nil
}

// SignInWithOTP sends a magic link to email.  The link redirects to
// redirectTo carrying a code for ExchangeCodeForSession.
func (s *SessionClient) SignInWithOTP(ctx context.Context, email, redirectTo string) error {
	challenge, err := s.startPKCE()
	if err != nil {
		return err
	}
	body := map[string]any{
		"email":                 email,
		"create_user":           true,
		"code_challenge":        challenge,
		"code_challenge_method": "s256",
	}
	return s.client.do(ctx, http.MethodPost, "/auth/v1/otp", redirectQuery(redirectTo), "", body, nil)
}

// SignOut revokes the session upstream and always clears the session
// cookies, even when the upstream call fails.
func (s *SessionClient) SignOut(ctx context.Context) error {
	access, _ := s.jar.Get(AccessTokenCookie)
	var err error
	if access != "" {
		err = s.client.upstreamError("/logout", s.client.upstream(ctx, access).Logout())
		if apiErr, ok := IsAPIError(err); ok && apiErr.Status == http.StatusUnauthorized {
			err = nil
		}
	}
	s.clearSession()
	s.listeners.emit(EventSignedOut, nil)
	return err
}

func (s *SessionClient) storeSession(sess *Session) {
	opts := s.client.cookieOptions()
	s.jar.Set(AccessTokenCookie, sess.AccessToken, opts)
	s.jar.Set(RefreshTokenCookie, sess.RefreshToken, opts)
}

func (s *SessionClient) clearSession() {
	opts := s.client.cookieOptions()
	s.jar.Remove(AccessTokenCookie, opts)
	s.jar.Remove(RefreshTokenCookie, opts)
}

// startPKCE creates a code verifier, stores it in the jar and returns the
// S256 challenge to send upstream.
func (s *SessionClient) startPKCE() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)
	opts := s.client.cookieOptions()
	opts.MaxAge = int((10 * time.Minute).Seconds())
	opts.Expires = s.client.now().Add(10 * time.Minute)
	s.jar.Set(CodeVerifierCookie, verifier, opts)
	return pkceChallenge(verifier), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func redirectQuery(redirectTo string) url.Values {
	if strings.TrimSpace(redirectTo) == "" {
		return nil
	}
	return url.Values{"redirect_to": {redirectTo}}
}
