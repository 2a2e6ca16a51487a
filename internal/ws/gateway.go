package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"internship-chat/internal/chat"
	grpcclient "internship-chat/internal/grpc"
	"internship-chat/internal/middleware"
	"internship-chat/internal/models"
	"internship-chat/internal/observability"
)

const (
	frameJoin   = "join-chat"
	frameLeave  = "leave-chat"
	frameTyping = "typing"
)

// TokenValidator authenticates the handshake.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (grpcclient.Identity, error)
}

// JoinAuthorizer admits an actor to a conversation room. subscribe runs only
// when access is granted, atomically with the check.
type JoinAuthorizer interface {
	Join(ctx context.Context, actor chat.Actor, conversationID string, subscribe func()) error
}

type clientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       *bool  `json:"is_typing,omitempty"`
}

type ackFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type errorFrame struct {
	Type           string `json:"type"`
	Code           string `json:"code"`
	Error          string `json:"error"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Gateway accepts websocket connections and manages their room membership.
type Gateway struct {
	hub        *Hub
	auth       TokenValidator
	rooms      JoinAuthorizer
	sendBuffer int
	upgrader   websocket.Upgrader
}

// NewGateway constructs a Gateway.
func NewGateway(hub *Hub, auth TokenValidator, rooms JoinAuthorizer, sendBuffer int) *Gateway {
	return &Gateway{
		hub:        hub,
		auth:       auth,
		rooms:      rooms,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates, upgrades and serves the connection until it closes.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("internship-chat/ws").Start(c.Request.Context(), "ws.handshake")

	identity, err := g.authenticate(ctx, c.Request)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.String("user.id", identity.UserID))

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.End()
		return
	}
	traceID := span.SpanContext().TraceID().String()
	span.End()

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		Role:        identity.Role,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	conn := NewConnection(ws, info, g.sendBuffer)
	g.hub.Attach(conn)

	observability.IncWSActive()
	publishLifecycle(ctx, info, "ws_connect", "")
	log.Debug().Str("conn_id", info.ConnID).Str("user_id", info.UserID).Msg("websocket connected")

	g.readLoop(ctx, ws, conn)
}

func (g *Gateway) authenticate(ctx context.Context, r *http.Request) (grpcclient.Identity, error) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return grpcclient.Identity{}, grpcclient.ErrInvalidToken
	}
	return g.auth.ValidateToken(ctx, token)
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn *Connection) {
	var closeReason string
	defer func() {
		g.hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		observability.DecWSActive()
		if closeReason == "" {
			closeReason = conn.CloseReason()
		}
		publishLifecycle(ctx, conn.Info, "ws_disconnect", closeReason)
		log.Debug().Str("conn_id", conn.ID).Str("reason", closeReason).Msg("websocket disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishLifecycle(ctx, conn.Info, "ws_error", closeReason)
			}
			return
		}
		g.dispatch(ctx, conn, data)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Connection, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.reply(conn, errorFrame{Type: "error", Code: chat.KindValidation.String(), Error: "invalid frame"})
		return
	}
	if frame.ConversationID == "" {
		g.reply(conn, errorFrame{Type: "error", Code: chat.KindValidation.String(), Error: "conversation_id is required"})
		return
	}

	switch frame.Type {
	case frameJoin:
		actor := chat.Actor{ID: conn.UserID, Role: conn.Role}
		joined := false
		err := g.rooms.Join(ctx, actor, frame.ConversationID, func() {
			joined = g.hub.Subscribe(conn, frame.ConversationID)
		})
		if err != nil {
			g.replyError(conn, frame.ConversationID, err)
			return
		}
		if !joined {
			return
		}
		observability.IncWSEvent("join")
		g.reply(conn, ackFrame{Type: "joined", ConversationID: frame.ConversationID})
	case frameLeave:
		g.hub.Unsubscribe(conn, frame.ConversationID)
		observability.IncWSEvent("leave")
		g.reply(conn, ackFrame{Type: "left", ConversationID: frame.ConversationID})
	case frameTyping:
		if !g.hub.IsSubscribed(conn, frame.ConversationID) {
			g.reply(conn, errorFrame{Type: "error", Code: chat.KindForbidden.String(), Error: "join the conversation first", ConversationID: frame.ConversationID})
			return
		}
		isTyping := true
		if frame.IsTyping != nil {
			isTyping = *frame.IsTyping
		}
		g.hub.PublishExcept(frame.ConversationID, models.EventTyping, models.Typing{
			ConversationID: frame.ConversationID,
			UserID:         conn.UserID,
			IsTyping:       isTyping,
		}, conn.ID)
	default:
		g.reply(conn, errorFrame{Type: "error", Code: chat.KindValidation.String(), Error: "unknown frame type", ConversationID: frame.ConversationID})
	}
}

func (g *Gateway) replyError(conn *Connection, conversationID string, err error) {
	kind := chat.KindOf(err)
	msg := err.Error()
	if kind == chat.KindInternal {
		log.Error().Err(err).Str("conn_id", conn.ID).Str("conversation_id", conversationID).Msg("join failed")
		msg = "internal error"
	}
	g.reply(conn, errorFrame{Type: "error", Code: kind.String(), Error: msg, ConversationID: conversationID})
}

func (g *Gateway) reply(conn *Connection, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}
