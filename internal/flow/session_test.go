package flow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParleSec/KeycloakPlayground/internal/keycloak"
	"github.com/ParleSec/KeycloakPlayground/internal/mockidp"
)

type playground struct {
	realm  *mockidp.TestRealm
	server *httptest.Server
}

func newPlayground(t *testing.T) *playground {
	t.Helper()
	realm := mockidp.NewTestRealm(t)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "Access denied", http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "Secret message!")
	}))
	t.Cleanup(backend.Close)

	h := keycloak.NewHandler(keycloak.Options{DefaultIssuer: realm.Issuer(), ServiceURL: backend.URL + "/secured"})
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	h.RegisterServiceRoute(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &playground{realm: realm, server: srv}
}

// authorize follows the authorization URL one hop and parses the redirect back.
func authorize(t *testing.T, authURL string) Callback {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	return Callback{Code: q.Get("code"), State: q.Get("state"), Error: q.Get("error"), ErrorDescription: q.Get("error_description")}
}

func TestSession_OIDCWalkthrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pg := newPlayground(t)

	store := NewMemoryStore()
	sess := NewSession(NewMachine(VariantOIDC), store, NewProxyClient(pg.server.URL, nil), nil)

	_, err := sess.ExchangeCode(ctx)
	var guard *GuardError
	require.ErrorAs(t, err, &guard)
	assert.Equal(t, "Please load discovery first", guard.Message)

	st, err := sess.Discover(ctx, pg.realm.Issuer())
	require.NoError(t, err)
	assert.Equal(t, StepAuthentication, st.Step)
	assert.Equal(t, pg.realm.Issuer()+"/protocol/openid-connect/token", st.Endpoint("token_endpoint"))

	authURL, err := sess.AuthorizationURL(ctx, AuthorizationInput{
		ClientID:  mockidp.ClientOIDCPlayground,
		Scope:     "openid profile",
		LoginHint: "alice",
	})
	require.NoError(t, err)

	st, err = sess.Callback(ctx, authorize(t, authURL))
	require.NoError(t, err)
	require.NotEmpty(t, st.AuthorizationCode)

	st, err = sess.ExchangeCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepToken, st.Step)
	assert.NotEmpty(t, st.AccessToken)
	assert.NotEmpty(t, st.RefreshToken)
	assert.NotEmpty(t, st.IDToken)
	assert.Empty(t, st.AuthorizationCode)

	view := Render(VariantOIDC, st)
	require.Len(t, view.Tokens, 2)
	assert.Equal(t, "alice", view.Tokens[0].Claims["preferred_username"])

	claims, err := sess.UserInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["preferred_username"])

	oldRefresh := st.RefreshToken
	_, err = sess.Goto(ctx, StepRefresh)
	require.NoError(t, err)
	st, err = sess.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepRefresh, st.Step)
	assert.NotEqual(t, oldRefresh, st.RefreshToken)

	logoutURL, err := sess.Logout(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(logoutURL, pg.server.URL+"/api/keycloak/logout?end_session_endpoint="))
	assert.Contains(t, logoutURL, "&id_token_hint=")

	st, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, NewState(), st)
}

func TestSession_OAuth2Invoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pg := newPlayground(t)

	sess := NewSession(NewMachine(VariantOAuth2), NewMemoryStore(), NewProxyClient(pg.server.URL, nil), nil)

	_, _, err := sess.Invoke(ctx)
	require.Error(t, err)

	_, err = sess.Discover(ctx, "")
	require.NoError(t, err)

	authURL, err := sess.AuthorizationURL(ctx, AuthorizationInput{ClientID: mockidp.ClientOAuthPlayground, Scope: "openid"})
	require.NoError(t, err)
	_, err = sess.Callback(ctx, authorize(t, authURL))
	require.NoError(t, err)

	st, err := sess.ExchangeCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepInvoke, st.Step)

	status, body, err := sess.Invoke(ctx)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Secret message!", body)
}

func TestSession_ProviderErrorsKeepState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pg := newPlayground(t)

	store := NewMemoryStore()
	sess := NewSession(NewMachine(VariantOIDC), store, NewProxyClient(pg.server.URL, nil), nil)
	_, err := sess.Discover(ctx, pg.realm.Issuer())
	require.NoError(t, err)

	authURL, err := sess.AuthorizationURL(ctx, AuthorizationInput{ClientID: mockidp.ClientOIDCPlayground, Scope: "openid", LoginHint: "mallory"})
	require.NoError(t, err)
	cb := authorize(t, authURL)
	assert.Equal(t, "access_denied", cb.Error)

	st, err := sess.Callback(ctx, cb)
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, StepAuthentication, st.Step)

	// A forged code is refused by the realm and passed through the proxy.
	st.AuthorizationCode = "forged"
	require.NoError(t, store.Save(ctx, st))
	_, err = sess.ExchangeCode(ctx)
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "invalid_grant", upstream.Code)
}

func TestSession_DiscoveryFailure(t *testing.T) {
	t.Parallel()
	pg := newPlayground(t)

	sess := NewSession(NewMachine(VariantOIDC), NewMemoryStore(), NewProxyClient(pg.server.URL, nil), nil)
	_, err := sess.Discover(context.Background(), "http://127.0.0.1:1/realms/none")
	var proxyErr *ProxyError
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, http.StatusInternalServerError, proxyErr.Status)
	assert.Contains(t, proxyErr.Body, "Error fetching discovery")
}

func TestCallbackServer(t *testing.T) {
	t.Parallel()

	cbs, err := ListenCallback("127.0.0.1:0", "/callback")
	require.NoError(t, err)
	defer cbs.Close()
	assert.True(t, strings.HasPrefix(cbs.RedirectURI(), "http://127.0.0.1:"))

	resp, err := http.Get(cbs.RedirectURI())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(cbs.RedirectURI() + "?code=abc&state=xyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cb, err := cbs.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, Callback{Code: "abc", State: "xyz"}, cb)
}

func TestCallbackServer_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	cbs, err := ListenCallback("127.0.0.1:0", "")
	require.NoError(t, err)
	defer cbs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cbs.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
