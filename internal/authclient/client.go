// Package authclient is the server-side handle to the hosted auth service
// (a GoTrue-compatible REST API).  A single Client is built at startup from
// the service URL and public anon key; each inbound request then binds a
// SessionClient to the cookie jar that will carry the session back to the
// browser.
//
// User lookups, password and refresh grants and logout go through gotrue-go.
// The PKCE exchange, sign-up and magic-link calls are posted directly: they
// carry auth_code, code_challenge and redirect_to, which gotrue-go's request
// types do not send.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gotrue "github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/session"
)

// Cookie names holding the session token pair and the PKCE verifier.
const (
	AccessTokenCookie  = "mp-access-token"
	RefreshTokenCookie = "mp-refresh-token"
	CodeVerifierCookie = "mp-code-verifier"
)

// Env var names reported by ConfigError.
const (
	EnvServiceURL = "SUPABASE_URL"
	EnvAnonKey    = "SUPABASE_ANON_KEY"
)

// refreshMargin is how close to expiry an access token may get before
// GetUser refreshes it proactively.
const refreshMargin = 30 * time.Second

// CookieConfig is the option set applied to every session cookie.
type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
	MaxAge   time.Duration
}

// Config holds the connection parameters of the hosted service.
type Config struct {
	URL        string       // base URL, e.g. https://xyz.supabase.co
	AnonKey    string       // public anonymous key sent as `apikey`
	HTTPClient *http.Client // optional; defaults to a 10s-timeout client
	Cookie     CookieConfig
	Logger     *zap.Logger
}

// ConfigError reports a missing or invalid connection parameter.
type ConfigError struct {
	Var    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("authclient: %s %s", e.Var, e.Reason)
}

// Client talks to the hosted auth service.  It is safe for concurrent use;
// per-request state lives in SessionClient.
type Client struct {
	baseURL *url.URL
	anonKey string
	http    *http.Client
	gotrue  gotrue.Client
	cookie  CookieConfig
	logger  *zap.Logger
	now     func() time.Time
}

// New validates cfg and returns a Client.  A missing URL or anon key is a
// configuration error and is returned before any network activity.
func New(cfg Config) (*Client, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		return nil, &ConfigError{Var: EnvServiceURL, Reason: "is required but empty"}
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Var: EnvServiceURL, Reason: fmt.Sprintf("is not an absolute URL: %q", rawURL)}
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, &ConfigError{Var: EnvAnonKey, Reason: "is required but empty"}
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookie := cfg.Cookie
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = 7 * 24 * time.Hour
	}
	if cookie.SameSite == 0 {
		cookie.SameSite = http.SameSiteLaxMode
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	anonKey := strings.TrimSpace(cfg.AnonKey)
	return &Client{
		baseURL: u,
		anonKey: anonKey,
		http:    hc,
		gotrue:  gotrue.New("", anonKey).WithCustomGoTrueURL(u.String() + "/auth/v1"),
		cookie:  cookie,
		logger:  logger.Named("authclient"),
		now:     time.Now,
	}, nil
}

// ForRequest binds a session-scoped client to jar.  The returned value is
// meant for a single request and owns its own auth-state listeners.
func (c *Client) ForRequest(jar session.Jar) *SessionClient {
	return &SessionClient{client: c, jar: jar}
}

// cookieOptions returns the options for session cookies.
func (c *Client) cookieOptions() session.CookieOptions {
	return session.CookieOptions{
		Path:     "/",
		Domain:   c.cookie.Domain,
		MaxAge:   int(c.cookie.MaxAge.Seconds()),
		Expires:  c.now().Add(c.cookie.MaxAge),
		SameSite: c.cookie.SameSite,
		Secure:   c.cookie.Secure,
		HTTPOnly: true,
	}
}

// APIError is an error response returned by the hosted service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth service: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("auth service: %s (%d)", e.Message, e.Status)
}

// IsAPIError reports whether err carries an upstream error response and
// returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// errorBody covers the error shapes GoTrue has used across versions.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func decodeAPIError(status int, body []byte) *APIError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	apiErr := &APIError{Status: status, Code: eb.ErrorCode}
	if apiErr.Code == "" {
		apiErr.Code = eb.Error
	}
	for _, m := range []string{eb.ErrorDescription, eb.Msg, eb.Message, eb.Error} {
		if strings.TrimSpace(m) != "" {
			apiErr.Message = strings.TrimSpace(m)
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// upstream returns the gotrue client for one call.  gotrue-go builds its
// requests without a context, so ctx is attached by the transport instead;
// bearer may be empty.
func (c *Client) upstream(ctx context.Context, bearer string) gotrue.Client {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := http.Client{
		Transport:     contextTransport{ctx: ctx, base: base},
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
		Timeout:       c.http.Timeout,
	}
	return c.gotrue.WithClient(hc).WithToken(bearer)
}

type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// upstreamError converts a gotrue-go error into an *APIError when it carries
// an upstream response ("response status code N: body").  Anything else is a
// transport failure and is wrapped as is.
func (c *Client) upstreamError(path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrInvalidTokenRequest) {
		return &APIError{Status: http.StatusBadRequest, Code: "validation_failed", Message: "email, password or token missing"}
	}
	rest, ok := strings.CutPrefix(err.Error(), "response status code ")
	if !ok {
		return fmt.Errorf("call %s: %w", path, err)
	}
	statusText, body, _ := strings.Cut(rest, ": ")
	status, convErr := strconv.Atoi(statusText)
	if convErr != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	apiErr := decodeAPIError(status, []byte(body))
	c.logger.Debug("auth service error",
		zap.String("path", path),
		zap.Int("status", status),
		zap.String("code", apiErr.Code),
	)
	return apiErr
}

func userFrom(u types.User) *User {
	if u.ID == uuid.Nil {
		return nil
	}
	return &User{ID: u.ID.String(), Email: u.Email, Phone: u.Phone, Role: u.Role, CreatedAt: u.CreatedAt}
}

func sessionFrom(s types.Session) *Session {
	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    int64(s.ExpiresIn),
		ExpiresAt:    s.ExpiresAt,
		User:         userFrom(s.User),
	}
}

// do performs a JSON request against the service.  body and out may be nil.
// A non-2xx response is returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	u := *c.baseURL
	u.Path = u.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp.StatusCode, payload)
		c.logger.Debug("auth service error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
