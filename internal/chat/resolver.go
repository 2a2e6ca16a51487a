package chat

import (
	"context"
	"strings"

	"internship-chat/internal/models"
	"internship-chat/internal/repositories"
)

// Resolver answers who the two legal participants of a conversation are and
// binds the counterpart slot.
type Resolver struct {
	conversations repositories.ConversationRepository
}

// NewResolver constructs a Resolver.
func NewResolver(conversations repositories.ConversationRepository) *Resolver {
	return &Resolver{conversations: conversations}
}

// Resolve returns the conversation with its initiator and, if bound, counterpart.
func (r *Resolver) Resolve(ctx context.Context, conversationID string) (models.Conversation, error) {
	conv, err := r.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, translate(err)
	}
	return conv, nil
}

// ResolveOrCreate returns the conversation, creating it with initiatorID if absent.
func (r *Resolver) ResolveOrCreate(ctx context.Context, conversationID string, initiatorID string) (models.Conversation, error) {
	if strings.TrimSpace(initiatorID) == "" {
		return models.Conversation{}, newError(KindValidation, "initiator id is required", nil)
	}
	conv, err := r.conversations.GetOrCreateConversation(ctx, conversationID, initiatorID)
	if err != nil {
		return models.Conversation{}, translate(err)
	}
	return conv, nil
}

// BindCounterpart sets the counterpart and returns how many pending messages
// were readdressed to it. Binding the same id twice is a no-op; binding a
// different id later is allowed and only touches still-unaddressed messages.
func (r *Resolver) BindCounterpart(ctx context.Context, conversationID string, counterpartID string) (int64, error) {
	if strings.TrimSpace(counterpartID) == "" {
		return 0, newError(KindValidation, "counterpart id is required", nil)
	}
	rebound, err := r.conversations.BindCounterpart(ctx, conversationID, counterpartID)
	if err != nil {
		return 0, translate(err)
	}
	return rebound, nil
}
