package gate

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

// HeaderName carries the secret for callers that cannot use query strings.
const HeaderName = "X-Cron-Secret"

type secretBody struct {
	Secret string `json:"secret"`
}

// Middleware rejects requests that do not present the secret. An
// unconfigured gate answers 500 for every request.
func Middleware(g *Gate, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Configured() {
			logger.Error("Trigger secret is not configured, rejecting request",
				zap.String("path", c.FullPath()),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "configuration error",
			})
			return
		}

		if !g.Verify(extractSecret(c)) {
			logger.Warn("Rejected trigger request",
				zap.String("path", c.FullPath()),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "unauthorized",
			})
			return
		}
		c.Next()
	}
}

// extractSecret looks in the query string, the X-Cron-Secret header, a
// Bearer token and finally a JSON body field. The body is cached so handlers
// can bind it again.
func extractSecret(c *gin.Context) string {
	if s := c.Query("secret"); s != "" {
		return s
	}
	if s := c.Query("key"); s != "" {
		return s
	}
	if s := c.GetHeader(HeaderName); s != "" {
		return s
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c.Request.Body != nil && c.Request.ContentLength != 0 &&
		strings.HasPrefix(c.ContentType(), "application/json") {
		var body secretBody
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
			return body.Secret
		}
	}
	return ""
}
