package httpstatic

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gottyd/internal/admission"
)

func init() { gin.SetMode(gin.TestMode) }

func newRouter(h *Handler) *gin.Engine {
	r := gin.New()
	h.Register(r)
	return r
}

func TestServeIndexPlain(t *testing.T) {
	endpoints := NewEndpoints("")
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	h := New(endpoints, policy, "", []byte("<html>hi</html>"))
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>hi</html>", w.Body.String())
}

func TestServeIndexGzipClientAccepts(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("<html>gz</html>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	endpoints := NewEndpoints("")
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	h := New(endpoints, policy, "", buf.Bytes())
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestServeIndexGzipClientDoesNotAccept(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("<html>gz</html>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	endpoints := NewEndpoints("")
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	h := New(endpoints, policy, "", buf.Bytes())
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "<html>gz</html>", w.Body.String())
}

func TestServeToken(t *testing.T) {
	endpoints := NewEndpoints("")
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	h := New(endpoints, policy, "dXNlcjpwdw==", []byte("<html></html>"))
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"token":"dXNlcjpwdw=="}`, w.Body.String())
}

func TestBasicAuthRequired401(t *testing.T) {
	creds := admission.NewBasicCredential("user", "pw")
	endpoints := NewEndpoints("")
	policy := &admission.Policy{AuthMode: admission.ModeBasic, BasicCreds: creds}
	h := New(endpoints, policy, creds, []byte("<html></html>"))
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="ttyd"`, w.Header().Get("WWW-Authenticate"))
}

func TestParentRedirectWithBasePath(t *testing.T) {
	endpoints := NewEndpoints("/app")
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	h := New(endpoints, policy, "", []byte("<html></html>"))
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/app", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/app/", w.Header().Get("Location"))
}

func TestUnknownPathIs404(t *testing.T) {
	endpoints := NewEndpoints("")
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	h := New(endpoints, policy, "", []byte("<html></html>"))
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
