package core

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestStaticHandler_ReplacesPlaceholders(t *testing.T) {
	root := fstest.MapFS{
		"index.html": {Data: []byte(`<script>const kc = "KC_URL"; const iss = "INPUT_ISSUER";</script>`)},
		"logo.png":   {Data: []byte("KC_URL")},
	}
	h := StaticHandler(root, map[string]string{
		"KC_URL":       "https://sso.example.com/",
		"INPUT_ISSUER": "https://sso.example.com/realms/demo",
	})

	for _, path := range []string{"/", "/index.html"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `<script>const kc = "https://sso.example.com/"; const iss = "https://sso.example.com/realms/demo";</script>`, rec.Body.String())
	}

	// Binary assets pass through untouched.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logo.png", nil))
	assert.Equal(t, "KC_URL", rec.Body.String())
}

func TestStaticHandler_Missing(t *testing.T) {
	h := StaticHandler(fstest.MapFS{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticRoot(t *testing.T) {
	embedded := fstest.MapFS{"index.html": {Data: []byte("x")}}
	assert.Equal(t, embedded, StaticRoot("", embedded))
	assert.NotEqual(t, embedded, StaticRoot(t.TempDir(), embedded))
}
