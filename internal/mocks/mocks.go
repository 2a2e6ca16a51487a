package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"internship-chat/internal/chat"
	"internship-chat/internal/models"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) SendMessage(ctx context.Context, actor chat.Actor, conversationID string, text string) (models.Message, error) {
	args := m.Called(ctx, actor, conversationID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) GetHistory(ctx context.Context, actor chat.Actor, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, actor, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) EditMessage(ctx context.Context, actor chat.Actor, messageID int64, text string) (models.Message, error) {
	args := m.Called(ctx, actor, messageID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) DeleteMessage(ctx context.Context, actor chat.Actor, messageID int64) error {
	args := m.Called(ctx, actor, messageID)
	return args.Error(0)
}

func (m *ChatServiceMock) ClearConversation(ctx context.Context, actor chat.Actor, conversationID string) (int64, error) {
	args := m.Called(ctx, actor, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, actor chat.Actor, conversationID string) (int64, error) {
	args := m.Called(ctx, actor, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChatServiceMock) UnreadCounts(ctx context.Context, actor chat.Actor) ([]models.UnreadCount, error) {
	args := m.Called(ctx, actor)
	var counts []models.UnreadCount
	if val := args.Get(0); val != nil {
		counts = val.([]models.UnreadCount)
	}
	return counts, args.Error(1)
}

func (m *ChatServiceMock) BindCounterpart(ctx context.Context, req chat.BindRequest) (chat.BindResult, error) {
	args := m.Called(ctx, req)
	var result chat.BindResult
	if val := args.Get(0); val != nil {
		result = val.(chat.BindResult)
	}
	return result, args.Error(1)
}

// Join subscribes through the callback unless an error is configured.
func (m *ChatServiceMock) Join(ctx context.Context, actor chat.Actor, conversationID string, subscribe func()) error {
	args := m.Called(ctx, actor, conversationID)
	if err := args.Error(0); err != nil {
		return err
	}
	subscribe()
	return nil
}

type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Emit(ctx context.Context, level, text string, userID *string) {
	m.Called(ctx, level, text, userID)
}

var _ chat.Auditor = (*AuditorMock)(nil)
var _ interface {
	BindCounterpart(context.Context, chat.BindRequest) (chat.BindResult, error)
	Join(context.Context, chat.Actor, string, func()) error
} = (*ChatServiceMock)(nil)
