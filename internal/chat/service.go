package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"internship-chat/internal/models"
	"internship-chat/internal/observability"
	"internship-chat/internal/repositories"
)

// Broadcaster fans events out to the sockets joined to a conversation room.
// Delivery problems are the broadcaster's to swallow.
type Broadcaster interface {
	Publish(conversationID string, eventType models.EventType, payload any)
	// Revalidate drops every room member for which allowed reports false.
	Revalidate(conversationID string, allowed func(userID, role string) bool)
}

// Locker serialises writers of one conversation across processes. The
// returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, conversationID string) (func(), error)
}

// CaseDirectory reports the owner of a case, who becomes the conversation
// initiator on first send.
type CaseDirectory interface {
	CaseOwner(ctx context.Context, caseID string) (string, error)
}

// Auditor records mutations for the audit trail.
type Auditor interface {
	Emit(ctx context.Context, level, text string, userID *string)
}

// BindRequest is what the assignment side hands over when an advisor is
// assigned to a case.
type BindRequest struct {
	ConversationID string
	CounterpartID  string
	// InitiatorID lets the caller create the conversation when the advisor
	// is assigned before anyone has written.
	InitiatorID string
	Counterpart *models.CounterpartProfile
}

// BindResult describes the outcome of BindCounterpart.
type BindResult struct {
	Conversation    models.Conversation `json:"conversation"`
	ReboundMessages int64               `json:"rebound_messages"`
	Changed         bool                `json:"changed"`
}

// Service is the single entry point for chat mutations and history reads.
// Every write runs authorize -> persist -> publish while holding the
// conversation's lock; nothing is published when persistence fails.
type Service struct {
	resolver    *Resolver
	guard       *Guard
	messages    repositories.MessageRepository
	broadcaster Broadcaster
	cases       CaseDirectory
	auditor     Auditor
	locks       *roomLocks
	locker      Locker
	tracer      trace.Tracer
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithCaseDirectory makes the case owner, not the first sender, the initiator.
func WithCaseDirectory(cases CaseDirectory) Option {
	return func(s *Service) { s.cases = cases }
}

// WithAuditor enables audit events for mutations.
func WithAuditor(auditor Auditor) Option {
	return func(s *Service) { s.auditor = auditor }
}

// WithLocker adds a cross-process lock on top of the in-process one, for
// deployments where several nodes write to the same conversations.
func WithLocker(locker Locker) Option {
	return func(s *Service) { s.locker = locker }
}

// NewService wires the façade.
func NewService(resolver *Resolver, guard *Guard, messages repositories.MessageRepository, broadcaster Broadcaster, opts ...Option) *Service {
	s := &Service{
		resolver:    resolver,
		guard:       guard,
		messages:    messages,
		broadcaster: broadcaster,
		locks:       newRoomLocks(),
		tracer:      otel.Tracer("internship-chat/chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage appends a message, creating the conversation on first send.
func (s *Service) SendMessage(ctx context.Context, actor Actor, conversationID string, text string) (msg models.Message, err error) {
	ctx, span := s.start(ctx, "chat.SendMessage", conversationID)
	defer func() { s.finish(span, "send", err) }()

	if err = requireID(conversationID, "conversation id"); err != nil {
		return models.Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		return models.Message{}, newError(KindValidation, "message text must not be empty", nil)
	}

	unlock, err := s.lock(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	defer unlock()

	if _, err = s.authorizeSend(ctx, actor, conversationID); err != nil {
		return models.Message{}, err
	}

	msg, err = s.messages.Append(ctx, conversationID, actor.ID, text)
	if err != nil {
		return models.Message{}, translate(err)
	}

	s.broadcaster.Publish(conversationID, models.EventMessageCreated, msg)
	s.audit(ctx, actor, "message sent")
	return msg, nil
}

// GetHistory returns the ordered history and acknowledges every message
// addressed to the actor.
func (s *Service) GetHistory(ctx context.Context, actor Actor, conversationID string) (msgs []models.Message, err error) {
	ctx, span := s.start(ctx, "chat.GetHistory", conversationID)
	defer func() { s.finish(span, "history", err) }()

	if err = requireID(conversationID, "conversation id"); err != nil {
		return nil, err
	}
	conv, err := s.guard.Authorize(ctx, actor, conversationID, OpRead)
	if err != nil {
		return nil, err
	}

	msgs, err = s.messages.ListOrdered(ctx, conversationID)
	if err != nil {
		return nil, translate(err)
	}

	if conv.IsParticipant(actor.ID) {
		if _, markErr := s.messages.MarkReadUpTo(ctx, conversationID, actor.ID); markErr != nil {
			log.Warn().Err(markErr).Str("conversation_id", conversationID).Str("user_id", actor.ID).Msg("mark read after history fetch failed")
		}
	}
	return msgs, nil
}

// EditMessage replaces the text of one of the actor's own messages.
func (s *Service) EditMessage(ctx context.Context, actor Actor, messageID int64, text string) (msg models.Message, err error) {
	ctx, span := s.start(ctx, "chat.EditMessage", "")
	defer func() { s.finish(span, "edit", err) }()

	if strings.TrimSpace(text) == "" {
		return models.Message{}, newError(KindValidation, "message text must not be empty", nil)
	}
	current, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, translate(err)
	}
	span.SetAttributes(attribute.String("conversation.id", current.ConversationID))

	unlock, err := s.lock(ctx, current.ConversationID)
	if err != nil {
		return models.Message{}, err
	}
	defer unlock()

	if _, err = s.guard.Authorize(ctx, actor, current.ConversationID, OpEdit); err != nil {
		return models.Message{}, err
	}

	msg, err = s.messages.Edit(ctx, messageID, actor.ID, text)
	if err != nil {
		return models.Message{}, translate(err)
	}

	s.broadcaster.Publish(msg.ConversationID, models.EventMessageEdited, msg)
	s.audit(ctx, actor, "message edited")
	return msg, nil
}

// DeleteMessage tombstones one of the actor's own messages.
func (s *Service) DeleteMessage(ctx context.Context, actor Actor, messageID int64) (err error) {
	ctx, span := s.start(ctx, "chat.DeleteMessage", "")
	defer func() { s.finish(span, "delete", err) }()

	current, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return translate(err)
	}
	span.SetAttributes(attribute.String("conversation.id", current.ConversationID))

	unlock, err := s.lock(ctx, current.ConversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err = s.guard.Authorize(ctx, actor, current.ConversationID, OpDelete); err != nil {
		return err
	}

	if err = s.messages.SoftDelete(ctx, messageID, actor.ID); err != nil {
		return translate(err)
	}

	s.broadcaster.Publish(current.ConversationID, models.EventMessageDeleted, models.MessageDeleted{
		MessageID:      messageID,
		ConversationID: current.ConversationID,
	})
	s.audit(ctx, actor, "message deleted")
	return nil
}

// ClearConversation removes every message for both participants.
func (s *Service) ClearConversation(ctx context.Context, actor Actor, conversationID string) (removed int64, err error) {
	ctx, span := s.start(ctx, "chat.ClearConversation", conversationID)
	defer func() { s.finish(span, "clear", err) }()

	if err = requireID(conversationID, "conversation id"); err != nil {
		return 0, err
	}

	unlock, err := s.lock(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if _, err = s.guard.Authorize(ctx, actor, conversationID, OpClear); err != nil {
		return 0, err
	}

	removed, err = s.messages.ClearAll(ctx, conversationID)
	if err != nil {
		return 0, translate(err)
	}

	s.broadcaster.Publish(conversationID, models.EventConversationCleared, models.ConversationCleared{
		ConversationID: conversationID,
		Removed:        removed,
		ClearedBy:      actor.ID,
	})
	s.audit(ctx, actor, "conversation cleared")
	return removed, nil
}

// MarkRead acknowledges every message addressed to the actor.
func (s *Service) MarkRead(ctx context.Context, actor Actor, conversationID string) (updated int64, err error) {
	ctx, span := s.start(ctx, "chat.MarkRead", conversationID)
	defer func() { s.finish(span, "mark_read", err) }()

	if err = requireID(conversationID, "conversation id"); err != nil {
		return 0, err
	}
	if _, err = s.guard.Authorize(ctx, actor, conversationID, OpMarkRead); err != nil {
		return 0, err
	}
	updated, err = s.messages.MarkReadUpTo(ctx, conversationID, actor.ID)
	if err != nil {
		return 0, translate(err)
	}
	return updated, nil
}

// UnreadCounts lists unread inbound messages per conversation for the actor.
func (s *Service) UnreadCounts(ctx context.Context, actor Actor) (counts []models.UnreadCount, err error) {
	ctx, span := s.start(ctx, "chat.UnreadCounts", "")
	defer func() { s.finish(span, "unread", err) }()

	if actor.ID == "" {
		return nil, newError(KindUnauthenticated, "missing actor", nil)
	}
	counts, err = s.messages.CountUnread(ctx, actor.ID)
	if err != nil {
		return nil, translate(err)
	}
	return counts, nil
}

// BindCounterpart is called by the assignment side when an advisor is
// assigned. Pending messages are readdressed before participant-bound is
// published.
func (s *Service) BindCounterpart(ctx context.Context, req BindRequest) (result BindResult, err error) {
	ctx, span := s.start(ctx, "chat.BindCounterpart", req.ConversationID)
	defer func() { s.finish(span, "bind", err) }()

	if err = requireID(req.ConversationID, "conversation id"); err != nil {
		return BindResult{}, err
	}
	if err = requireID(req.CounterpartID, "counterpart id"); err != nil {
		return BindResult{}, err
	}

	unlock, err := s.lock(ctx, req.ConversationID)
	if err != nil {
		return BindResult{}, err
	}
	defer unlock()

	conv, err := s.resolver.Resolve(ctx, req.ConversationID)
	if errors.Is(err, ErrNotFound) && req.InitiatorID != "" {
		conv, err = s.resolver.ResolveOrCreate(ctx, req.ConversationID, req.InitiatorID)
	}
	if err != nil {
		return BindResult{}, err
	}
	if conv.Bound() && *conv.CounterpartID == req.CounterpartID {
		return BindResult{Conversation: conv}, nil
	}

	rebound, err := s.resolver.BindCounterpart(ctx, req.ConversationID, req.CounterpartID)
	if err != nil {
		return BindResult{}, err
	}
	counterpartID := req.CounterpartID
	conv.CounterpartID = &counterpartID
	// observers and a replaced counterpart lose the room before anything
	// else is published to it
	s.revalidate(conv)

	s.broadcaster.Publish(req.ConversationID, models.EventParticipantBound, models.ParticipantBound{
		ConversationID:  req.ConversationID,
		CounterpartID:   req.CounterpartID,
		Counterpart:     req.Counterpart,
		ReboundMessages: rebound,
	})
	s.audit(ctx, Actor{ID: req.CounterpartID}, "counterpart bound")
	log.Info().Str("conversation_id", req.ConversationID).Str("counterpart_id", req.CounterpartID).Int64("rebound", rebound).Msg("counterpart bound")
	return BindResult{Conversation: conv, ReboundMessages: rebound, Changed: true}, nil
}

// Join subscribes a live connection to a conversation room. The check and
// subscribe run under the conversation lock so a concurrent bind cannot slip
// between them. Before the first message exists the room is open to whoever
// may start the conversation.
func (s *Service) Join(ctx context.Context, actor Actor, conversationID string, subscribe func()) (err error) {
	ctx, span := s.start(ctx, "chat.Join", conversationID)
	defer func() { s.finish(span, "join", err) }()

	if err = requireID(conversationID, "conversation id"); err != nil {
		return err
	}

	unlock, err := s.lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.guard.Authorize(ctx, actor, conversationID, OpJoin)
	if errors.Is(err, ErrNotFound) {
		err = s.authorizeEarlyJoin(ctx, actor, conversationID)
	}
	if err != nil {
		return err
	}
	subscribe()
	return nil
}

// RoomPolicy reports who may stay subscribed to the conversation as it is
// stored now.
func (s *Service) RoomPolicy(ctx context.Context, conversationID string) (func(userID, role string) bool, error) {
	conv, err := s.resolver.Resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.allowedIn(conv), nil
}

func (s *Service) authorizeEarlyJoin(ctx context.Context, actor Actor, conversationID string) error {
	if s.cases == nil {
		return nil
	}
	if s.guard.isObserver(actor) {
		return nil
	}
	owner, err := s.cases.CaseOwner(ctx, conversationID)
	if err != nil {
		return translate(err)
	}
	if owner != actor.ID {
		return newError(KindForbidden, "not a participant of this conversation", nil)
	}
	return nil
}

func (s *Service) allowedIn(conv models.Conversation) func(userID, role string) bool {
	return func(userID, role string) bool {
		return s.guard.Check(Actor{ID: userID, Role: role}, conv, OpJoin) == nil
	}
}

func (s *Service) revalidate(conv models.Conversation) {
	s.broadcaster.Revalidate(conv.ID, s.allowedIn(conv))
}

// lock takes the in-process lock and then, when configured, the
// cross-process one.
func (s *Service) lock(ctx context.Context, conversationID string) (func(), error) {
	unlock := s.locks.Lock(conversationID)
	if s.locker == nil {
		return unlock, nil
	}
	release, err := s.locker.Lock(ctx, conversationID)
	if err != nil {
		unlock()
		return nil, newError(KindInternal, "lock conversation", err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

func (s *Service) authorizeSend(ctx context.Context, actor Actor, conversationID string) (models.Conversation, error) {
	conv, err := s.guard.Authorize(ctx, actor, conversationID, OpSend)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return conv, err
	}

	owner := actor.ID
	if s.cases != nil {
		owner, err = s.cases.CaseOwner(ctx, conversationID)
		if err != nil {
			return models.Conversation{}, translate(err)
		}
		if owner != actor.ID {
			return models.Conversation{}, newError(KindForbidden, "only the case owner can start this conversation", nil)
		}
	}

	conv, err = s.resolver.ResolveOrCreate(ctx, conversationID, owner)
	if err != nil {
		return models.Conversation{}, err
	}
	// sockets that joined while the conversation did not exist yet
	s.revalidate(conv)
	// another instance may have won the create with a different initiator
	if err := s.guard.Check(actor, conv, OpSend); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

func (s *Service) audit(ctx context.Context, actor Actor, text string) {
	if s.auditor == nil {
		return
	}
	userID := actor.ID
	s.auditor.Emit(ctx, "INFO", text, &userID)
}

func (s *Service) start(ctx context.Context, name string, conversationID string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	if conversationID != "" {
		span.SetAttributes(attribute.String("conversation.id", conversationID))
	}
	return ctx, span
}

func (s *Service) finish(span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	observability.IncChatOperation(op, outcome)
	span.End()
}

func requireID(id string, name string) error {
	if strings.TrimSpace(id) == "" {
		return newError(KindValidation, name+" is required", nil)
	}
	return nil
}
