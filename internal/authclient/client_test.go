package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/gotrue-go/types"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/authclient/authtest"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/session"
)

const testUserID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

func newTestClient(t *testing.T, srv *authtest.Server) *Client {
	t.Helper()
	c, err := New(Config{URL: srv.URL, AnonKey: authtest.AnonKey})
	require.NoError(t, err)
	return c
}

func requestWith(cookies map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req
}

type eventLog struct{ events []AuthEvent }

func (l *eventLog) listen(e AuthEvent, _ *Session) { l.events = append(l.events, e) }

func instructionNames(jar *session.BufferedJar) (set, removed []string) {
	for _, in := range jar.Instructions() {
		if in.Remove {
			removed = append(removed, in.Name)
		} else {
			set = append(set, in.Name)
		}
	}
	return set, removed
}

func TestNewRequiresConnectionParameters(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantVar string
	}{
		{"missing url", Config{AnonKey: "k"}, EnvServiceURL},
		{"relative url", Config{URL: "xyz.supabase.co", AnonKey: "k"}, EnvServiceURL},
		{"missing anon key", Config{URL: "https://xyz.supabase.co"}, EnvAnonKey},
		{"blank anon key", Config{URL: "https://xyz.supabase.co", AnonKey: "  "}, EnvAnonKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			assert.Nil(t, c)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantVar, cfgErr.Var)
			assert.Contains(t, err.Error(), tt.wantVar)
		})
	}
}

func TestNewAppliesCookieDefaults(t *testing.T) {
	c, err := New(Config{URL: "https://xyz.supabase.co/", AnonKey: "k"})
	require.NoError(t, err)
	opts := c.cookieOptions()
	assert.Equal(t, "/", opts.Path)
	assert.True(t, opts.HTTPOnly)
	assert.Equal(t, http.SameSiteLaxMode, opts.SameSite)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), opts.MaxAge)
	assert.Empty(t, c.baseURL.Path)
}

func TestGetUserWithoutCookiesMakesNoCalls(t *testing.T) {
	srv := authtest.New(t)
	sc := newTestClient(t, srv).ForRequest(session.NewBufferedJar(requestWith(nil)))

	u, err := sc.GetUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Empty(t, srv.Calls())
}

func TestGetUserWithFreshTokenSendsHeaders(t *testing.T) {
	srv := authtest.New(t)
	srv.AddUser(testUserID, "anna@example.it", "secret1")
	access, refresh := srv.IssueSession(testUserID, time.Hour)
	jar := session.NewBufferedJar(requestWith(map[string]string{AccessTokenCookie: access, RefreshTokenCookie: refresh}))
	sc := newTestClient(t, srv).ForRequest(jar)

	u, err := sc.GetUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, testUserID, u.ID)
	assert.Equal(t, "anna@example.it", u.Email)

	assert.Equal(t, []string{"GET /auth/v1/user"}, srv.Calls())
	hdr := srv.Requests()[0].Header
	assert.Equal(t, authtest.AnonKey, hdr.Get("apikey"))
	assert.Equal(t, "Bearer "+access, hdr.Get("Authorization"))
	assert.Empty(t, jar.Instructions())
}

func TestGetUserRefreshesExpiringToken(t *testing.T) {
	srv := authtest.New(t)
	srv.AddUser(testUserID, "anna@example.it", "secret1")
	access, refresh := srv.IssueSession(testUserID, 10*time.Second)
	jar := session.NewBufferedJar(requestWith(map[string]string{AccessTokenCookie: access, RefreshTokenCookie: refresh}))
	sc := newTestClient(t, srv).ForRequest(jar)
	var log eventLog
	sc.OnAuthStateChange(log.listen)

	u, err := sc.GetUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, testUserID, u.ID)

	assert.Equal(t, []string{"POST /auth/v1/token?grant_type=refresh_token"}, srv.Calls())
	set, removed := instructionNames(jar)
	assert.Equal(t, []string{AccessTokenCookie, RefreshTokenCookie}, set)
	assert.Empty(t, removed)
	newAccess, _ := jar.Get(AccessTokenCookie)
	assert.NotEqual(t, access, newAccess)
	assert.Equal(t, []AuthEvent{EventTokenRefreshed}, log.events)
}

func TestGetUserRefreshesWhenOnlyRefreshCookieIsLeft(t *testing.T) {
	srv := authtest.New(t)
	srv.AddUser(testUserID, "anna@example.it", "secret1")
	_, refresh := srv.IssueSession(testUserID, time.Hour)
	jar := session.NewBufferedJar(requestWith(map[string]string{RefreshTokenCookie: refresh}))

	u, err := newTestClient(t, srv).ForRequest(jar).GetUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, testUserID, u.ID)
}

func TestGetUserRejectedRefreshClearsSession(t *testing.T) {
	srv := authtest.New(t)
	srv.AddUser(testUserID, "anna@example.it", "secret1")
	srv.RejectRefresh = true
	access, refresh := srv.IssueSession(testUserID, 5*time.Second)
	jar := session.NewBufferedJar(requestWith(map[string]string{AccessTokenCookie: access, RefreshTokenCookie: refresh}))
	sc := newTestClient(t, srv).ForRequest(jar)
	var log eventLog
	sc.OnAuthStateChange(log.listen)

	u, err := sc.GetUser(context.Background())
	assert.Nil(t, u)
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid_grant", apiErr.Code)
	assert.Equal(t, "Invalid Refresh Token: Refresh Token Not Found", apiErr.Message)

	_, removed := instructionNames(jar)
	assert.ElementsMatch(t, []string{AccessTokenCookie, RefreshTokenCookie}, removed)
	assert.Equal(t, []AuthEvent{EventSignedOut}, log.events)
}

func TestGetUserTransportErrorIsNotAnAPIError(t *testing.T) {
	srv := authtest.New(t)
	srv.HangUpOn = "/auth/v1/user"
	jar := session.NewBufferedJar(requestWith(map[string]string{
		AccessTokenCookie: authtest.AccessToken(testUserID, time.Now().Add(time.Hour)),
	}))

	_, err := newTestClient(t, srv).ForRequest(jar).GetUser(context.Background())
	require.Error(t, err)
	_, ok := IsAPIError(err)
	assert.False(t, ok)
}

func TestExchangeCodeForSession(t *testing.T) {
	srv := authtest.New(t)
	srv.AddUser(testUserID, "anna@example.it", "secret1")
	code := srv.IssueCode(testUserID, "verifier-123")
	jar := session.NewBufferedJar(requestWith(map[string]string{CodeVerifierCookie: "verifier-123"}))
	sc := newTestClient(t, srv).ForRequest(jar)
	var log eventLog
	sc.OnAuthStateChange(log.listen)

	sess, err := sc.ExchangeCodeForSession(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, sess.User)
	assert.Equal(t, testUserID, sess.User.ID)

	req := srv.Requests()[0]
	assert.Equal(t, "pkce", req.GrantType)
	assert.Equal(t, code, req.Body["auth_code"])
	assert.Equal(t, "verifier-123", req.Body["code_verifier"])

	set, removed := instructionNames(jar)
	assert.Equal(t, []string{AccessTokenCookie, RefreshTokenCookie}, set)
	assert.Equal(t, []string{CodeVerifierCookie}, removed)
	assert.Equal(t, []AuthEvent{EventSignedIn}, log.events)
}

func TestExchangeCodeForSessionErrors(t *testing.T) {
	srv := authtest.New(t)
	jar := session.NewBufferedJar(requestWith(nil))
	sc := newTestClient(t, srv).ForRequest(jar)

	_, err := sc.ExchangeCodeForSession(context.Background(), "  ")
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Empty(t, srv.Calls())

	_, err = sc.ExchangeCodeForSession(context.Background(), "unknown")
	apiErr, ok = IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "flow_state_not_found", apiErr.Code)
	assert.Equal(t, "invalid flow state, no valid flow state found", apiErr.Message)
	assert.Empty(t, jar.Instructions())
}

func TestSignInWithPassword(t *testing.T) {
	srv := authtest.New(t)
	srv.AddUser(testUserID, "anna@example.it", "secret1")
	jar := session.NewBufferedJar(requestWith(nil))
	sc := newTestClient(t, srv).ForRequest(jar)

	_, err := sc.SignInWithPassword(context.Background(), "anna@example.it", "wrong")
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)
	assert.Empty(t, jar.Instructions())

	sess, err := sc.SignInWithPassword(context.Background(), "anna@example.it", "secret1")
	require.NoError(t, err)
	v, ok := jar.Get(AccessTokenCookie)
	require.True(t, ok)
	assert.Equal(t, sess.AccessToken, v)
}

func TestSignUpStartsPKCE(t *testing.T) {
	srv := authtest.New(t)
	jar := session.NewBufferedJar(requestWith(nil))
	sc := newTestClient(t, srv).ForRequest(jar)

	sess, err := sc.SignUp(context.Background(), "marco@example.it", "secret1", "https://site.example/auth/callback")
	require.NoError(t, err)
	assert.Nil(t, sess, "confirmation required, no session yet")

	verifier, ok := jar.Get(CodeVerifierCookie)
	require.True(t, ok)
	body := srv.Requests()[0].Body
	assert.Equal(t, pkceChallenge(verifier), body["code_challenge"])
	assert.Equal(t, "s256", body["code_challenge_method"])
	set, _ := instructionNames(jar)
	assert.Equal(t, []string{CodeVerifierCookie}, set)
}

func TestSignUpAutoConfirmStoresSession(t *testing.T) {
	srv := authtest.New(t)
	srv.AutoConfirm = true
	jar := session.NewBufferedJar(requestWith(nil))

	sess, err := newTestClient(t, srv).ForRequest(jar).SignUp(context.Background(), "marco@example.it", "secret1", "")
	require.NoError(t, err)
	require.NotNil(t, sess)
	_, ok := jar.Get(AccessTokenCookie)
	assert.True(t, ok)
}

func TestSignOutIgnoresExpiredSessionAndClearsCookies(t *testing.T) {
	srv := authtest.New(t)
	srv.LogoutStatus = http.StatusUnauthorized
	jar := session.NewBufferedJar(requestWith(map[string]string{AccessTokenCookie: "stale", RefreshTokenCookie: "stale"}))
	sc := newTestClient(t, srv).ForRequest(jar)
	var log eventLog
	sc.OnAuthStateChange(log.listen)

	require.NoError(t, sc.SignOut(context.Background()))
	_, removed := instructionNames(jar)
	assert.ElementsMatch(t, []string{AccessTokenCookie, RefreshTokenCookie}, removed)
	assert.Equal(t, []AuthEvent{EventSignedOut}, log.events)
}

func TestSignOutReportsUpstreamFailureButStillClears(t *testing.T) {
	srv := authtest.New(t)
	srv.LogoutStatus = http.StatusInternalServerError
	jar := session.NewBufferedJar(requestWith(map[string]string{AccessTokenCookie: "tok"}))

	err := newTestClient(t, srv).ForRequest(jar).SignOut(context.Background())
	require.Error(t, err)
	_, removed := instructionNames(jar)
	assert.Len(t, removed, 2)
}

func TestRefreshSessionWithoutCookie(t *testing.T) {
	srv := authtest.New(t)
	_, err := newTestClient(t, srv).ForRequest(session.NewBufferedJar(requestWith(nil))).RefreshSession(context.Background())
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Empty(t, srv.Calls())
}

func TestListenersRunInOrderAndUnsubscribeOnce(t *testing.T) {
	var l listeners
	var got []string
	unA := l.add(func(AuthEvent, *Session) { got = append(got, "a") })
	l.add(func(AuthEvent, *Session) { got = append(got, "b") })
	assert.Equal(t, 2, l.count())

	l.emit(EventSignedIn, nil)
	assert.Equal(t, []string{"a", "b"}, got)

	unA()
	unA()
	assert.Equal(t, 1, l.count())
	got = nil
	l.emit(EventSignedOut, nil)
	assert.Equal(t, []string{"b"}, got)
}

func TestDecodeAPIErrorShapes(t *testing.T) {
	tests := []struct {
		body     string
		wantCode string
		wantMsg  string
	}{
		{`{"error":"invalid_grant","error_description":"bad"}`, "invalid_grant", "bad"},
		{`{"code":422,"error_code":"weak_password","msg":"too short"}`, "weak_password", "too short"},
		{`{"message":"Invalid API key"}`, "", "Invalid API key"},
		{`not json`, "", "Bad Gateway"},
	}
	for _, tt := range tests {
		e := decodeAPIError(http.StatusBadGateway, []byte(tt.body))
		assert.Equal(t, tt.wantCode, e.Code, tt.body)
		assert.Equal(t, tt.wantMsg, e.Message, tt.body)
	}
}

func TestUpstreamErrorConversion(t *testing.T) {
	c, err := New(Config{URL: "https://xyz.supabase.co", AnonKey: "k"})
	require.NoError(t, err)

	apiErr, ok := IsAPIError(c.upstreamError("/token",
		fmt.Errorf("response status code 400: %s", `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)))
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid_grant", apiErr.Code)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)

	apiErr, ok = IsAPIError(c.upstreamError("/user", errors.New("response status code 502")))
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "Bad Gateway", apiErr.Message)

	apiErr, ok = IsAPIError(c.upstreamError("/token", types.ErrInvalidTokenRequest))
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	dialErr := errors.New("dial tcp: connection refused")
	err = c.upstreamError("/user", dialErr)
	_, ok = IsAPIError(err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, dialErr)

	assert.NoError(t, c.upstreamError("/logout", nil))
}

func TestGetUserHonoursCanceledContext(t *testing.T) {
	srv := authtest.New(t)
	srv.AddUser(testUserID, "anna@example.it", "secret1")
	access, _ := srv.IssueSession(testUserID, time.Hour)
	jar := session.NewBufferedJar(requestWith(map[string]string{AccessTokenCookie: access}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u, err := newTestClient(t, srv).ForRequest(jar).GetUser(ctx)
	assert.Nil(t, u)
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := IsAPIError(err)
	assert.False(t, ok)
}
