package chat

import (
	"context"
	"strings"

	"internship-chat/internal/models"
)

// Operation is an action an actor wants to perform on a conversation.
type Operation string

const (
	OpRead     Operation = "read"
	OpSend     Operation = "send"
	OpEdit     Operation = "edit"
	OpDelete   Operation = "delete"
	OpMarkRead Operation = "mark_read"
	OpClear    Operation = "clear"
	OpJoin     Operation = "join"
)

// Actor is the authenticated caller as supplied by the auth middleware.
type Actor struct {
	ID   string
	Role string
}

// Guard authorizes actors against conversation participants.
type Guard struct {
	resolver      *Resolver
	observerRoles map[string]struct{}
}

// NewGuard builds a Guard. Actors whose role is listed in observerRoles may
// read and join conversations that have no counterpart yet.
func NewGuard(resolver *Resolver, observerRoles []string) *Guard {
	roles := make(map[string]struct{}, len(observerRoles))
	for _, role := range observerRoles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != "" {
			roles[role] = struct{}{}
		}
	}
	return &Guard{resolver: resolver, observerRoles: roles}
}

// Authorize resolves the conversation and checks op for actor. The resolved
// conversation is returned so callers do not look it up twice.
func (g *Guard) Authorize(ctx context.Context, actor Actor, conversationID string, op Operation) (models.Conversation, error) {
	if actor.ID == "" {
		return models.Conversation{}, newError(KindUnauthenticated, "missing actor", nil)
	}
	conv, err := g.resolver.Resolve(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := g.Check(actor, conv, op); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// Check evaluates op against an already resolved conversation.
func (g *Guard) Check(actor Actor, conv models.Conversation, op Operation) error {
	if conv.IsParticipant(actor.ID) {
		return nil
	}
	if !conv.Bound() && g.isObserver(actor) && (op == OpRead || op == OpJoin) {
		return nil
	}
	return newError(KindForbidden, "not a participant of this conversation", nil)
}

func (g *Guard) isObserver(actor Actor) bool {
	_, ok := g.observerRoles[strings.ToLower(actor.Role)]
	return ok
}
