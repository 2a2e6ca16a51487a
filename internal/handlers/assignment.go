package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"internship-chat/internal/chat"
	"internship-chat/internal/models"
)

// CounterpartBinder is satisfied by chat.Service.
type CounterpartBinder interface {
	BindCounterpart(ctx context.Context, req chat.BindRequest) (chat.BindResult, error)
}

// AssignmentHandler lets the case service bind an advisor synchronously.
type AssignmentHandler struct {
	binder CounterpartBinder
}

func NewAssignmentHandler(binder CounterpartBinder) *AssignmentHandler {
	return &AssignmentHandler{binder: binder}
}

func (h *AssignmentHandler) BindCounterpart(c *gin.Context) {
	var req struct {
		CounterpartID string                     `json:"counterpart_id" binding:"required"`
		InitiatorID   string                     `json:"initiator_id"`
		Counterpart   *models.CounterpartProfile `json:"counterpart"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "counterpart_id is required", "code": chat.KindValidation.String()})
		return
	}

	result, err := h.binder.BindCounterpart(c.Request.Context(), chat.BindRequest{
		ConversationID: c.Param("conversation_id"),
		CounterpartID:  req.CounterpartID,
		InitiatorID:    req.InitiatorID,
		Counterpart:    req.Counterpart,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
