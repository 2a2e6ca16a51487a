package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"internship-chat/internal/chat"
	"internship-chat/internal/observability"
)

const requestIDContextKey = "requestID"

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(requestIDContextKey); id != "" {
		return id
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func actorFromContext(c *gin.Context) chat.Actor {
	return chat.Actor{ID: c.GetString("userID"), Role: c.GetString("role")}
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString("userID"); userID != "" {
		return &userID
	}
	return nil
}
