// Package httpstatic is the Static HTTP responder of spec.md §4.6: index
// page, token JSON, and base-path redirect. It shares the admission auth
// check with the WebSocket endpoint but is otherwise a thin, content-only
// component.
//
// Grounded on the teacher's gin route registration style (main.go's
// r.Static/r.StaticFile/r.NoRoute) and its Basic-auth 401 handling pattern
// (handlers/auth.go's constant-time credential comparisons).
package httpstatic

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"gottyd/internal/admission"
)

// Endpoints mirrors spec.md §3's Server.endpoints{ws, index, token, parent}.
type Endpoints struct {
	BasePath string
	WS       string
	Index    string
	Token    string
	Parent   string
}

// NewEndpoints builds the four endpoint strings under basePath, trailing
// slash trimmed per the -b/--base-path flag semantics (spec.md §6).
func NewEndpoints(basePath string) Endpoints {
	basePath = strings.TrimSuffix(basePath, "/")
	return Endpoints{
		BasePath: basePath,
		WS:       basePath + "/ws",
		Index:    basePath + "/",
		Token:    basePath + "/token",
		Parent:   basePath,
	}
}

// Handler serves the embedded (optionally gzip-compressed) index page, the
// token endpoint, and the base-path redirect.
type Handler struct {
	endpoints  Endpoints
	policy     *admission.Policy
	credential string // value served at /token: "" when AuthMode != basic

	raw       []byte
	isGzipped bool

	plainOnce sync.Once
	plain     []byte
	plainErr  error
}

// New builds a Handler. index is the raw page bytes (gzip magic 1f 8b
// detected automatically); credential is the value echoed at GET token —
// pass "" when no static credential applies (header/otp/none modes).
func New(endpoints Endpoints, policy *admission.Policy, credential string, index []byte) *Handler {
	return &Handler{
		endpoints:  endpoints,
		policy:     policy,
		credential: credential,
		raw:        index,
		isGzipped:  len(index) >= 2 && index[0] == 0x1f && index[1] == 0x8b,
	}
}

// Register wires the three endpoints plus a catch-all 404 onto r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET(h.endpoints.Index, h.authGate(h.serveIndex))
	r.GET(h.endpoints.Token, h.authGate(h.serveToken))
	if h.endpoints.Parent != "" && h.endpoints.Parent != h.endpoints.Index {
		r.GET(h.endpoints.Parent, h.authGate(h.serveParentRedirect))
	}
	r.NoRoute(func(c *gin.Context) { c.Status(http.StatusNotFound) })
}

// authGate applies the same basic/header/none policy spec.md §4.6 shares
// with the WebSocket upgrade path, returning 401 + WWW-Authenticate on a
// failed Basic check.
func (h *Handler) authGate(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := h.policy.AuthenticateHTTP(c.Request); err != nil {
			if h.policy.AuthMode == admission.ModeBasic {
				c.Header("WWW-Authenticate", `Basic realm="ttyd"`)
			}
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		next(c)
	}
}

func (h *Handler) serveIndex(c *gin.Context) {
	if h.isGzipped {
		if strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Header("Content-Encoding", "gzip")
			c.Data(http.StatusOK, "text/html; charset=utf-8", h.raw)
			return
		}
		plain, err := h.plainIndex()
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", plain)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", h.raw)
}

// plainIndex decompresses the gzip payload once and caches the result, per
// spec.md §4.6 ("decompress once, cache the result, and serve plain").
func (h *Handler) plainIndex() ([]byte, error) {
	h.plainOnce.Do(func() {
		zr, err := gzip.NewReader(bytes.NewReader(h.raw))
		if err != nil {
			h.plainErr = err
			return
		}
		defer zr.Close()
		h.plain, h.plainErr = io.ReadAll(zr)
	})
	return h.plain, h.plainErr
}

func (h *Handler) serveToken(c *gin.Context) {
	c.Header("Content-Type", "application/json;charset=utf-8")
	c.JSON(http.StatusOK, gin.H{"token": h.credential})
}

func (h *Handler) serveParentRedirect(c *gin.Context) {
	c.Redirect(http.StatusFound, h.endpoints.Index)
}
