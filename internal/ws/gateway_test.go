package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"internship-chat/internal/chat"
	grpcclient "internship-chat/internal/grpc"
	"internship-chat/internal/models"
)

type stubAuth map[string]grpcclient.Identity

func (s stubAuth) ValidateToken(ctx context.Context, token string) (grpcclient.Identity, error) {
	identity, ok := s[token]
	if !ok {
		return grpcclient.Identity{}, grpcclient.ErrInvalidToken
	}
	return identity, nil
}

// stubRooms lets a user join the conversations listed for them.
type stubRooms map[string][]string

func (s stubRooms) Join(ctx context.Context, actor chat.Actor, conversationID string, subscribe func()) error {
	for _, id := range s[actor.ID] {
		if id == conversationID {
			subscribe()
			return nil
		}
	}
	return &chat.Error{Kind: chat.KindForbidden, Msg: "not a participant of this conversation"}
}

type testFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Code           string         `json:"code"`
	Error          string         `json:"error"`
	Data           map[string]any `json:"data"`
}

func newGatewayServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	auth := stubAuth{
		"student-token": {UserID: "student", Role: "student"},
		"advisor-token": {UserID: "advisor", Role: "advisor"},
	}
	rooms := stubRooms{"student": {"case-1"}, "advisor": {"case-1"}}
	gateway := NewGateway(hub, auth, rooms, 16)

	router := gin.New()
	router.GET("/ws", gateway.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func read(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame testFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	_, server := newGatewayServer(t)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=nope", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayAcceptsBearerHeader(t *testing.T) {
	_, server := newGatewayServer(t)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer student-token")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, map[string]any{"type": "join-chat", "conversation_id": "case-1"})
	assert.Equal(t, "joined", read(t, conn).Type)
}

func TestGatewayJoinThenReceiveBroadcast(t *testing.T) {
	hub, server := newGatewayServer(t)
	conn := dial(t, server, "student-token")

	send(t, conn, map[string]any{"type": "join-chat", "conversation_id": "case-1"})
	ack := read(t, conn)
	assert.Equal(t, "joined", ack.Type)
	assert.Equal(t, "case-1", ack.ConversationID)
	assert.Equal(t, 1, hub.RoomSize("case-1"))

	hub.Publish("case-1", models.EventMessageCreated, models.Message{ID: 9, ConversationID: "case-1", SenderID: "advisor", Body: "hi"})

	frame := read(t, conn)
	assert.Equal(t, "new-message", frame.Type)
	assert.Equal(t, "hi", frame.Data["body"])
}

func TestGatewayJoinForbidden(t *testing.T) {
	hub, server := newGatewayServer(t)
	conn := dial(t, server, "student-token")

	send(t, conn, map[string]any{"type": "join-chat", "conversation_id": "case-2"})
	frame := read(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "forbidden", frame.Code)
	assert.Equal(t, "case-2", frame.ConversationID)
	assert.Zero(t, hub.RoomSize("case-2"))
}

func TestGatewayRejectsMalformedFrames(t *testing.T) {
	_, server := newGatewayServer(t)
	conn := dial(t, server, "student-token")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "validation", read(t, conn).Code)

	send(t, conn, map[string]any{"type": "join-chat"})
	assert.Equal(t, "validation", read(t, conn).Code)

	send(t, conn, map[string]any{"type": "dance", "conversation_id": "case-1"})
	assert.Equal(t, "validation", read(t, conn).Code)
}

func TestGatewayTypingRelayedToOthersOnly(t *testing.T) {
	_, server := newGatewayServer(t)
	student := dial(t, server, "student-token")
	advisor := dial(t, server, "advisor-token")

	send(t, student, map[string]any{"type": "join-chat", "conversation_id": "case-1"})
	require.Equal(t, "joined", read(t, student).Type)
	send(t, advisor, map[string]any{"type": "join-chat", "conversation_id": "case-1"})
	require.Equal(t, "joined", read(t, advisor).Type)

	send(t, student, map[string]any{"type": "typing", "conversation_id": "case-1", "is_typing": true})
	frame := read(t, advisor)
	assert.Equal(t, "user-typing", frame.Type)
	assert.Equal(t, "student", frame.Data["user_id"])
	assert.Equal(t, true, frame.Data["is_typing"])

	// frames are written in order, so "left" arriving first means no typing echo was queued
	send(t, student, map[string]any{"type": "leave-chat", "conversation_id": "case-1"})
	assert.Equal(t, "left", read(t, student).Type)
}

func TestGatewayTypingRequiresJoin(t *testing.T) {
	_, server := newGatewayServer(t)
	conn := dial(t, server, "student-token")

	send(t, conn, map[string]any{"type": "typing", "conversation_id": "case-1"})
	frame := read(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "forbidden", frame.Code)
}

func TestGatewayDisconnectDetaches(t *testing.T) {
	hub, server := newGatewayServer(t)
	conn := dial(t, server, "student-token")

	send(t, conn, map[string]any{"type": "join-chat", "conversation_id": "case-1"})
	require.Equal(t, "joined", read(t, conn).Type)
	require.Equal(t, 1, hub.RoomSize("case-1"))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.RoomSize("case-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
