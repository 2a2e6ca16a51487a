package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"internship-chat/internal/chat"
	"internship-chat/internal/models"
)

// ChatService is the façade the REST layer drives.
type ChatService interface {
	SendMessage(ctx context.Context, actor chat.Actor, conversationID string, text string) (models.Message, error)
	GetHistory(ctx context.Context, actor chat.Actor, conversationID string) ([]models.Message, error)
	EditMessage(ctx context.Context, actor chat.Actor, messageID int64, text string) (models.Message, error)
	DeleteMessage(ctx context.Context, actor chat.Actor, messageID int64) error
	ClearConversation(ctx context.Context, actor chat.Actor, conversationID string) (int64, error)
	MarkRead(ctx context.Context, actor chat.Actor, conversationID string) (int64, error)
	UnreadCounts(ctx context.Context, actor chat.Actor) ([]models.UnreadCount, error)
}

// ChatHandler exposes conversation endpoints.
type ChatHandler struct {
	svc ChatService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(svc ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// SendMessage posts a message, opening the conversation on first send.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
		Text           string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id and text are required", "code": chat.KindValidation.String()})
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), actorFromContext(c), req.ConversationID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetHistory returns the ordered messages of a conversation.
func (h *ChatHandler) GetHistory(c *gin.Context) {
	msgs, err := h.svc.GetHistory(c.Request.Context(), actorFromContext(c), c.Param("conversation_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// EditMessage replaces the text of the caller's own message.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body", "code": chat.KindValidation.String()})
		return
	}

	msg, err := h.svc.EditMessage(c.Request.Context(), actorFromContext(c), messageID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage removes the caller's own message for both participants.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseMessageID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteMessage(c.Request.Context(), actorFromContext(c), messageID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearConversation removes every message of the conversation.
func (h *ChatHandler) ClearConversation(c *gin.Context) {
	removed, err := h.svc.ClearConversation(c.Request.Context(), actorFromContext(c), c.Param("conversation_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	updated, err := h.svc.MarkRead(c.Request.Context(), actorFromContext(c), c.Param("conversation_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *ChatHandler) UnreadCounts(c *gin.Context) {
	counts, err := h.svc.UnreadCounts(c.Request.Context(), actorFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	var total int64
	for _, count := range counts {
		total += count.Count
	}
	if counts == nil {
		counts = []models.UnreadCount{}
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "conversations": counts})
}

func parseMessageID(c *gin.Context) (int64, bool) {
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id", "code": chat.KindValidation.String()})
		return 0, false
	}
	return messageID, true
}
