package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_DoPassesStatusHeadersAndBody(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, `{"ok":false}`)
	}))
	defer srv.Close()

	g := New()
	header := http.Header{}
	header.Set("Authorization", "Bearer abc")

	resp, err := g.Get(context.Background(), srv.URL+"/x", header)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, `{"ok":false}`, string(resp.Body))
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.True(t, resp.IsJSON())
}

func TestGateway_PostForm(t *testing.T) {
	t.Parallel()

	var got url.Values
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := New().PostForm(context.Background(), srv.URL, url.Values{"grant_type": {"refresh_token"}})
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, url.Values{"grant_type": {"refresh_token"}}, got)
}

func TestGateway_RejectsInvalidURLs(t *testing.T) {
	t.Parallel()

	g := New()
	for _, raw := range []string{"", "/relative", "ftp://host/x", "http://"} {
		_, err := g.Get(context.Background(), raw, nil)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestGateway_AllowList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	allow, err := AllowOrigins(srv.URL)
	require.NoError(t, err)
	g := New(WithAllow(allow))

	resp, err := g.Get(context.Background(), srv.URL+"/realms/demo", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = g.Get(context.Background(), "http://elsewhere.invalid/x", nil)
	assert.ErrorIs(t, err, ErrDestinationNotAllowed)
}

func TestAllowOrigins_EmptyListAllowsEverything(t *testing.T) {
	t.Parallel()

	allow, err := AllowOrigins("", " ")
	require.NoError(t, err)
	u, _ := url.Parse("https://anything.example/x")
	assert.NoError(t, allow(u))

	_, err = AllowOrigins("not a url")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestGateway_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New().Get(context.Background(), addr, nil)
	assert.Error(t, err)
}

func TestGateway_DoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.invalid/", http.StatusFound)
	}))
	defer srv.Close()

	resp, err := New().Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://elsewhere.invalid/", resp.Header.Get("Location"))
}

func TestCopyResponse(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	resp := &Response{
		StatusCode: http.StatusBadRequest,
		Header:     http.Header{"Content-Type": {"application/json"}, "Content-Length": {"99"}},
		Body:       []byte(`{"error":"invalid_grant"}`),
	}
	require.NoError(t, CopyResponse(rec, resp))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.Equal(t, `{"error":"invalid_grant"}`, rec.Body.String())
}
