package server

import "github.com/gin-gonic/gin"

// securityHeaders sets the baseline response headers spec.md's HTTP
// endpoints should carry regardless of admission mode, adapted from the
// teacher's middleware/security.go (there guarding a chat/code-server app;
// here guarding the index/token endpoints and the WS upgrade route).
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy",
			"default-src 'self'; style-src 'self' 'unsafe-inline'; "+
				"script-src 'self' 'unsafe-inline'; connect-src 'self' wss: ws:;")
		c.Next()
	}
}
