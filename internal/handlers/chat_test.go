package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"internship-chat/internal/chat"
	"internship-chat/internal/mocks"
	"internship-chat/internal/models"
)

var testActor = chat.Actor{ID: "student-1", Role: "student"}

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", testActor.ID)
		c.Set("role", testActor.Role)
		c.Next()
	})
	r.POST("/messages", handler.SendMessage)
	r.GET("/messages/unread", handler.UnreadCounts)
	r.PATCH("/messages/:message_id", handler.EditMessage)
	r.DELETE("/messages/:message_id", handler.DeleteMessage)
	r.GET("/conversations/:conversation_id/messages", handler.GetHistory)
	r.DELETE("/conversations/:conversation_id", handler.ClearConversation)
	r.POST("/conversations/:conversation_id/read", handler.MarkRead)
	return r
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageCreated(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(svc))

	svc.On("SendMessage", mock.Anything, testActor, "case-1", "hello").
		Return(models.Message{ID: 1, ConversationID: "case-1", SenderID: testActor.ID, Body: "hello"}, nil).Once()

	rec := do(router, http.MethodPost, "/messages", `{"conversation_id":"case-1","text":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, int64(1), msg.ID)
	svc.AssertExpectations(t)
}

func TestSendMessageBadBody(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(svc))

	rec := do(router, http.MethodPost, "/messages", `{"text":"hello"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&chat.Error{Kind: chat.KindValidation, Msg: "message text must not be empty"}, http.StatusBadRequest},
		{&chat.Error{Kind: chat.KindUnauthenticated, Msg: "missing actor"}, http.StatusUnauthorized},
		{&chat.Error{Kind: chat.KindForbidden, Msg: "not a participant of this conversation"}, http.StatusForbidden},
		{&chat.Error{Kind: chat.KindNotFound, Msg: "conversation not found"}, http.StatusNotFound},
		{&chat.Error{Kind: chat.KindConflict, Msg: "message already deleted"}, http.StatusConflict},
		{errors.New("pq: password authentication failed"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := new(mocks.ChatServiceMock)
		router := setupChatRouter(NewChatHandler(svc))
		svc.On("GetHistory", mock.Anything, testActor, "case-1").Return(nil, tc.err).Once()

		rec := do(router, http.MethodGet, "/conversations/case-1/messages", "")

		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		if tc.status == http.StatusInternalServerError {
			assert.NotContains(t, rec.Body.String(), "pq:")
		}
	}
}

func TestGetHistory(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(svc))
	svc.On("GetHistory", mock.Anything, testActor, "case-1").
		Return([]models.Message{{ID: 1, Body: "a"}, {ID: 2, Body: "b"}}, nil).Once()

	rec := do(router, http.MethodGet, "/conversations/case-1/messages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "b", resp.Messages[1].Body)
}

func TestEditMessage(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(svc))
	svc.On("EditMessage", mock.Anything, testActor, int64(7), "fixed").
		Return(models.Message{ID: 7, Body: "fixed"}, nil).Once()

	rec := do(router, http.MethodPatch, "/messages/7", `{"text":"fixed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPatch, "/messages/abc", `{"text":"fixed"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertExpectations(t)
}

func TestDeleteMessage(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(svc))
	svc.On("DeleteMessage", mock.Anything, testActor, int64(7)).Return(nil).Once()
	svc.On("DeleteMessage", mock.Anything, testActor, int64(8)).
		Return(&chat.Error{Kind: chat.KindForbidden, Msg: "only the sender may change this message"}).Once()

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/messages/7", "").Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodDelete, "/messages/8", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodDelete, "/messages/0", "").Code)
	svc.AssertExpectations(t)
}

func TestClearConversation(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(svc))
	svc.On("ClearConversation", mock.Anything, testActor, "case-1").Return(int64(4), nil).Once()

	rec := do(router, http.MethodDelete, "/conversations/case-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":4}`, rec.Body.String())
}

func TestMarkReadAndUnread(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(svc))
	svc.On("MarkRead", mock.Anything, testActor, "case-1").Return(int64(2), nil).Once()
	svc.On("UnreadCounts", mock.Anything, testActor).
		Return([]models.UnreadCount{{ConversationID: "case-1", Count: 2}, {ConversationID: "case-2", Count: 3}}, nil).Once()

	rec := do(router, http.MethodPost, "/conversations/case-1/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":2}`, rec.Body.String())

	rec = do(router, http.MethodGet, "/messages/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":5,"conversations":[{"conversation_id":"case-1","count":2},{"conversation_id":"case-2","count":3}]}`, rec.Body.String())
}

func TestUnreadCountsEmpty(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupChatRouter(NewChatHandler(svc))
	svc.On("UnreadCounts", mock.Anything, testActor).Return(nil, nil).Once()

	rec := do(router, http.MethodGet, "/messages/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":0,"conversations":[]}`, rec.Body.String())
}
