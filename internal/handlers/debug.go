package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"internship-chat/internal/chat"
	"internship-chat/internal/observability"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, auditor chat.Auditor, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if auditor == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		ctx := observability.ContextWithRequestID(c.Request.Context(), requestIDFromContext(c))
		auditor.Emit(ctx, "INFO", "audit test", userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
