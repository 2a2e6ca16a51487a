package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"internship-chat/internal/chat"
)

// writeError is the only place chat errors become HTTP responses.
func writeError(c *gin.Context, err error) {
	kind := chat.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestIDFromContext(c)).Str("route", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error", "code": kind.String()})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": kind.String()})
}

func statusForKind(kind chat.Kind) int {
	switch kind {
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindUnauthenticated:
		return http.StatusUnauthorized
	case chat.KindForbidden:
		return http.StatusForbidden
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
