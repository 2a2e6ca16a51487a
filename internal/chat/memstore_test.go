package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"internship-chat/internal/models"
	"internship-chat/internal/repositories"
)

// memStore implements both repositories with the same rules as the SQL ones.
type memStore struct {
	mu     sync.Mutex
	convs  map[string]models.Conversation
	msgs   map[int64]*models.Message
	nextID int64
	now    time.Time

	failAppend error
}

func newMemStore() *memStore {
	return &memStore{
		convs: map[string]models.Conversation{},
		msgs:  map[int64]*models.Message{},
		now:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) tick() time.Time {
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

func (s *memStore) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	return conv, nil
}

func (s *memStore) GetOrCreateConversation(ctx context.Context, id string, initiatorID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[id]; ok {
		return conv, nil
	}
	conv := models.Conversation{ID: id, InitiatorID: initiatorID, CreatedAt: s.tick()}
	s.convs[id] = conv
	return conv, nil
}

func (s *memStore) BindCounterpart(ctx context.Context, id string, counterpartID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return 0, repositories.ErrConversationNotFound
	}
	if conv.InitiatorID == counterpartID {
		return 0, repositories.ErrSelfBinding
	}
	if conv.Bound() && *conv.CounterpartID == counterpartID {
		return 0, nil
	}
	cp := counterpartID
	bound := s.tick()
	conv.CounterpartID = &cp
	conv.BoundAt = &bound
	s.convs[id] = conv

	var rebound int64
	for _, msg := range s.msgs {
		if msg.ConversationID == id && msg.ReceiverID == nil && msg.SenderID == conv.InitiatorID {
			receiver := counterpartID
			msg.ReceiverID = &receiver
			rebound++
		}
	}
	return rebound, nil
}

func (s *memStore) Append(ctx context.Context, id string, senderID string, body string) (models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, repositories.ErrEmptyBody
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return models.Message{}, s.failAppend
	}
	conv, ok := s.convs[id]
	if !ok {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	s.nextID++
	msg := &models.Message{
		ID:             s.nextID,
		ConversationID: id,
		SenderID:       senderID,
		ReceiverID:     conv.ReceiverFor(senderID),
		Body:           body,
		CreatedAt:      s.tick(),
	}
	s.msgs[msg.ID] = msg
	return *msg, nil
}

func (s *memStore) ListOrdered(ctx context.Context, id string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, msg := range s.msgs {
		if msg.ConversationID == id && !msg.IsDeleted {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) GetMessage(ctx context.Context, id int64) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return *msg, nil
}

func (s *memStore) owned(id int64, actorID string) (*models.Message, error) {
	msg, ok := s.msgs[id]
	if !ok {
		return nil, repositories.ErrMessageNotFound
	}
	if msg.SenderID != actorID {
		return nil, repositories.ErrNotSender
	}
	if msg.IsDeleted {
		return nil, repositories.ErrMessageDeleted
	}
	return msg, nil
}

func (s *memStore) Edit(ctx context.Context, id int64, actorID string, body string) (models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, repositories.ErrEmptyBody
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.owned(id, actorID)
	if err != nil {
		return models.Message{}, err
	}
	edited := s.tick()
	msg.Body = body
	msg.EditedAt = &edited
	return *msg, nil
}

func (s *memStore) SoftDelete(ctx context.Context, id int64, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.owned(id, actorID)
	if err != nil {
		return err
	}
	msg.IsDeleted = true
	return nil
}

func (s *memStore) ClearAll(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for msgID, msg := range s.msgs {
		if msg.ConversationID == id {
			if !msg.IsDeleted {
				removed++
			}
			delete(s.msgs, msgID)
		}
	}
	return removed, nil
}

func (s *memStore) MarkReadUpTo(ctx context.Context, id string, receiverID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, msg := range s.msgs {
		if msg.ConversationID == id && msg.ReceiverID != nil && *msg.ReceiverID == receiverID && msg.ReadAt == nil {
			read := s.tick()
			msg.ReadAt = &read
			updated++
		}
	}
	return updated, nil
}

func (s *memStore) CountUnread(ctx context.Context, receiverID string) ([]models.UnreadCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, msg := range s.msgs {
		if msg.ReceiverID != nil && *msg.ReceiverID == receiverID && msg.ReadAt == nil && !msg.IsDeleted {
			counts[msg.ConversationID]++
		}
	}
	out := make([]models.UnreadCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, models.UnreadCount{ConversationID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

type published struct {
	ConversationID string
	Type           models.EventType
	Payload        any
	Seq            int
}

type recordingBroadcaster struct {
	mu            sync.Mutex
	seq           int
	events        []published
	revalidations []revalidation
}

type revalidation struct {
	ConversationID string
	Allowed        func(userID, role string) bool
	Seq            int
}

func (b *recordingBroadcaster) Publish(conversationID string, eventType models.EventType, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.events = append(b.events, published{ConversationID: conversationID, Type: eventType, Payload: payload, Seq: b.seq})
}

func (b *recordingBroadcaster) Revalidate(conversationID string, allowed func(userID, role string) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.revalidations = append(b.revalidations, revalidation{ConversationID: conversationID, Allowed: allowed, Seq: b.seq})
}

func (b *recordingBroadcaster) lastRevalidation() (revalidation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.revalidations) == 0 {
		return revalidation{}, false
	}
	return b.revalidations[len(b.revalidations)-1], true
}

func (b *recordingBroadcaster) all() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.events...)
}

func (b *recordingBroadcaster) ofType(eventType models.EventType) []published {
	var out []published
	for _, ev := range b.all() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// countingLocker records cross-process lock usage.
type countingLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
	err      error
}

func (l *countingLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[conversationID] {
		panic("conversation lock taken twice")
	}
	l.held[conversationID] = true
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, conversationID)
	}, nil
}

var (
	_ repositories.ConversationRepository = (*memStore)(nil)
	_ repositories.MessageRepository      = (*memStore)(nil)
)
