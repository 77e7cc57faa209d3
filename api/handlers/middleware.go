package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireOrigin rejects requests whose Origin is not accepted by allowed.
// Browsers send simple cross-origin POSTs without a preflight, so CORS
// headers alone do not keep other pages from starting runs.
func RequireOrigin(allowed func(r *http.Request) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allowed(c.Request) {
			log.Printf("Rejected %s %s from origin %q", c.Request.Method, c.Request.URL.Path, c.GetHeader("Origin"))
			sendError(c, http.StatusForbidden, "ORIGIN_NOT_ALLOWED", "Origin "+c.GetHeader("Origin")+" is not allowed")
			c.Abort()
			return
		}
		c.Next()
	}
}
