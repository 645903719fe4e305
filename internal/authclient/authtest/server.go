// Package authtest provides an in-memory stand-in for the hosted auth
// service.  It speaks the subset of the GoTrue REST API the authclient
// package uses and records every call, so tests can assert on traffic.
package authtest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AnonKey is the key the fake server expects in the apikey header.
const AnonKey = "test-anon-key"

var signingKey = []byte("authtest-signing-key")

// Request is one recorded call.
type Request struct {
	Method    string
	Path      string
	GrantType string
	Header    http.Header
	Body      map[string]any
}

type user struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	password string
}

type code struct {
	userID    string
	challenge string
}

// Server is a fake GoTrue endpoint.  The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	// AccessTTL is the lifetime of issued access tokens (default one hour).
	AccessTTL time.Duration
	// RejectRefresh makes every refresh_token grant fail with 400.
	RejectRefresh bool
	// LogoutStatus, when set, is returned by /logout instead of 204.
	LogoutStatus int
	// AutoConfirm makes /signup return a session instead of a bare user.
	AutoConfirm bool
	// HangUpOn closes the connection without a response for requests to
	// this path, producing a transport error on the client.
	HangUpOn string

	mu       sync.Mutex
	users    map[string]*user  // by id
	access   map[string]string // access token -> user id
	refresh  map[string]string // refresh token -> user id
	codes    map[string]code
	requests []Request
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		AccessTTL: time.Hour,
		users:     map[string]*user{},
		access:    map[string]string{},
		refresh:   map[string]string{},
		codes:     map[string]code{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddUser registers a confirmed user.
func (s *Server) AddUser(id, email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &user{ID: id, Email: email, Role: "authenticated", password: password}
}

// IssueSession returns a fresh token pair for userID whose access token
// expires after ttl.
func (s *Server) IssueSession(userID string, ttl time.Duration) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(userID, ttl)
}

// IssueCode returns a one-time auth code for userID.  When verifier is not
// empty the exchange must present it.
func (s *Server) IssueCode(userID, verifier string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := randomString()
	ch := ""
	if verifier != "" {
		sum := sha256.Sum256([]byte(verifier))
		ch = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	s.codes[c] = code{userID: userID, challenge: ch}
	return c
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls returns the received calls as "METHOD /path" strings, with the
// grant type appended for token calls.
func (s *Server) Calls() []string {
	out := []string{}
	for _, r := range s.Requests() {
		call := r.Method + " " + r.Path
		if r.GrantType != "" {
			call += "?grant_type=" + r.GrantType
		}
		out = append(out, call)
	}
	return out
}

// AccessToken signs a JWT the way the hosted service does.  Tokens made
// here are not registered with the server.
func AccessToken(sub string, exp time.Time) string {
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"exp":  exp.Unix(),
		"role": "authenticated",
		"jti":  randomString(),
	}).SignedString(signingKey)
	return tok
}

func randomString() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Server) issueLocked(userID string, ttl time.Duration) (string, string) {
	access := AccessToken(userID, time.Now().Add(ttl))
	refresh := randomString()
	s.access[access] = userID
	s.refresh[refresh] = userID
	return access, refresh
}

func (s *Server) sessionLocked(userID string) map[string]any {
	access, refresh := s.issueLocked(userID, s.AccessTTL)
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    int64(s.AccessTTL.Seconds()),
		"expires_at":    time.Now().Add(s.AccessTTL).Unix(),
		"user":          s.users[userID],
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func grantError(w http.ResponseWriter, desc string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": desc})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	rec := Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		GrantType: r.URL.Query().Get("grant_type"),
		Header:    r.Header.Clone(),
		Body:      body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, rec)

	if s.HangUpOn != "" && r.URL.Path == s.HangUpOn {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
	}
	if r.Header.Get("apikey") != AnonKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
		return
	}
	str := func(k string) string { v, _ := body[k].(string); return v }

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/token":
		s.token(w, rec.GrantType, str)
	case r.Method == http.MethodGet && r.URL.Path == "/auth/v1/user":
		id, ok := s.bearerLocked(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT"})
			return
		}
		writeJSON(w, http.StatusOK, s.users[id])
	case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/logout":
		if s.LogoutStatus != 0 {
			writeJSON(w, s.LogoutStatus, map[string]string{"msg": http.StatusText(s.LogoutStatus)})
			return
		}
		if id, ok := s.bearerLocked(r); ok {
			for tok, uid := range s.refresh {
				if uid == id {
					delete(s.refresh, tok)
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/signup":
		for _, u := range s.users {
			if strings.EqualFold(u.Email, str("email")) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
				return
			}
		}
		id := uuid.NewString()
		s.users[id] = &user{ID: id, Email: str("email"), Role: "authenticated", password: str("password")}
		if s.AutoConfirm {
			writeJSON(w, http.StatusOK, s.sessionLocked(id))
			return
		}
		writeJSON(w, http.StatusOK, s.users[id])
	case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/otp":
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"msg": "not found"})
	}
}

func (s *Server) token(w http.ResponseWriter, grant string, str func(string) string) {
	switch grant {
	case "password":
		for _, u := range s.users {
			if strings.EqualFold(u.Email, str("email")) && u.password == str("password") {
				writeJSON(w, http.StatusOK, s.sessionLocked(u.ID))
				return
			}
		}
		grantError(w, "Invalid login credentials")
	case "refresh_token":
		id, ok := s.refresh[str("refresh_token")]
		if s.RejectRefresh || !ok {
			grantError(w, "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refresh, str("refresh_token"))
		writeJSON(w, http.StatusOK, s.sessionLocked(id))
	case "pkce":
		c, ok := s.codes[str("auth_code")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "error_code": "flow_state_not_found", "msg": "invalid flow state, no valid flow state found"})
			return
		}
		if c.challenge != "" {
			sum := sha256.Sum256([]byte(str("code_verifier")))
			if base64.RawURLEncoding.EncodeToString(sum[:]) != c.challenge {
				grantError(w, "code challenge does not match previously saved code verifier")
				return
			}
		}
		delete(s.codes, str("auth_code"))
		writeJSON(w, http.StatusOK, s.sessionLocked(c.userID))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (s *Server) bearerLocked(r *http.Request) (string, bool) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	id, ok := s.access[tok]
	if !ok {
		return "", false
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.NewParser().ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) { return signingKey, nil }); err != nil {
		return "", false
	}
	return id, true
}
