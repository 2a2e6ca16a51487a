package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"internship-chat/internal/models"
	"internship-chat/internal/observability"
)

// wireNames maps internal event types to the names clients listen for.
var wireNames = map[models.EventType]string{
	models.EventMessageCreated:      "new-message",
	models.EventMessageEdited:       "receive_edit_message",
	models.EventMessageDeleted:      "receive_delete_message",
	models.EventConversationCleared: "chat-cleared",
	models.EventParticipantBound:    "participant-bound",
	models.EventTyping:              "user-typing",
}

// WireName returns the client-facing name of eventType.
func WireName(eventType models.EventType) string {
	if name, ok := wireNames[eventType]; ok {
		return name
	}
	return string(eventType)
}

// Frame is the envelope of every server-to-client message.
type Frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Data           any    `json:"data,omitempty"`
}

const frameLeft = "left"

// Relay carries room traffic between nodes through one ordered stream per
// room. Frames published on this node come back through the stream too, so
// every node delivers them in the same order.
type Relay interface {
	// Send reports false when the frame was not accepted; the caller then
	// delivers it locally.
	Send(conversationID string, frame []byte, excludeConnID string) bool
	// Revalidate asks the other nodes to recheck their members of the room.
	Revalidate(conversationID string) bool
}

// AccessPolicy reports who may stay in a conversation room as it is stored now.
type AccessPolicy interface {
	RoomPolicy(ctx context.Context, conversationID string) (func(userID, role string) bool, error)
}

type accessRevoked struct {
	Reason string `json:"reason"`
}

// Hub maintains active connections and their conversation rooms.
type Hub struct {
	mu          sync.RWMutex
	conns       map[string]*Connection
	rooms       map[string]map[string]*Connection // conversationID -> connID -> connection
	memberships map[string]map[string]struct{}    // connID -> conversationIDs
	relay       Relay
	policy      AccessPolicy
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:       make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		memberships: make(map[string]map[string]struct{}),
	}
}

// SetRelay enables cross-node fan-out. Call before serving traffic.
func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	h.relay = relay
	h.mu.Unlock()
}

// SetAccessPolicy is consulted when another node changes who may stay in a room.
func (h *Hub) SetAccessPolicy(policy AccessPolicy) {
	h.mu.Lock()
	h.policy = policy
	h.mu.Unlock()
}

// Attach registers conn and starts its writer.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.memberships[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()

	go conn.writeLoop()
}

// Detach drops conn from every room. Persistence is never touched.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	h.detachLocked(conn.ID)
	h.mu.Unlock()
}

// Subscribe adds conn to the conversation room. It reports false when conn
// is not attached.
func (h *Hub) Subscribe(conn *Connection, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	memberships, ok := h.memberships[conn.ID]
	if !ok {
		return false
	}
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Connection)
		h.rooms[conversationID] = room
	}
	room[conn.ID] = conn
	memberships[conversationID] = struct{}{}
	return true
}

// Unsubscribe removes conn from the conversation room.
func (h *Hub) Unsubscribe(conn *Connection, conversationID string) {
	h.mu.Lock()
	h.leaveLocked(conversationID, conn.ID)
	h.mu.Unlock()
}

func (h *Hub) IsSubscribed(conn *Connection, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][conn.ID]
	return ok
}

// RoomSize returns the number of local connections in the room.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Publish fans an event out to every connection in the room. Failures are
// contained to the failing connection.
func (h *Hub) Publish(conversationID string, eventType models.EventType, payload any) {
	h.PublishExcept(conversationID, eventType, payload, "")
}

// PublishExcept is Publish skipping the connection excludeConnID.
func (h *Hub) PublishExcept(conversationID string, eventType models.EventType, payload any, excludeConnID string) {
	frame, err := json.Marshal(Frame{Type: WireName(eventType), ConversationID: conversationID, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Str("event", string(eventType)).Msg("encode broadcast frame")
		return
	}

	if relay := h.currentRelay(); relay != nil && relay.Send(conversationID, frame, excludeConnID) {
		return
	}
	h.deliverLocal(conversationID, frame, excludeConnID)
}

// DeliverRemote hands a frame received from the relay to local sockets.
func (h *Hub) DeliverRemote(conversationID string, frame []byte, excludeConnID string) {
	h.deliverLocal(conversationID, frame, excludeConnID)
}

// Revalidate removes the room members for which allowed reports false and
// sends them a left frame. Other nodes are asked to recheck theirs.
func (h *Hub) Revalidate(conversationID string, allowed func(userID, role string) bool) {
	h.evict(conversationID, allowed)
	if relay := h.currentRelay(); relay != nil {
		relay.Revalidate(conversationID)
	}
}

// RefreshRoom rechecks local members against the access policy. Without a
// policy, or when it fails, the room is emptied and clients have to rejoin.
func (h *Hub) RefreshRoom(ctx context.Context, conversationID string) {
	h.mu.RLock()
	policy := h.policy
	h.mu.RUnlock()

	allowed := func(string, string) bool { return false }
	if policy != nil {
		check, err := policy.RoomPolicy(ctx, conversationID)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("room policy unavailable, emptying room")
		} else {
			allowed = check
		}
	}
	h.evict(conversationID, allowed)
}

func (h *Hub) evict(conversationID string, allowed func(userID, role string) bool) {
	h.mu.Lock()
	var evicted []*Connection
	for _, conn := range h.rooms[conversationID] {
		if !allowed(conn.UserID, conn.Role) {
			evicted = append(evicted, conn)
		}
	}
	for _, conn := range evicted {
		h.leaveLocked(conversationID, conn.ID)
	}
	h.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	frame, _ := json.Marshal(Frame{Type: frameLeft, ConversationID: conversationID, Data: accessRevoked{Reason: "access revoked"}})
	for _, conn := range evicted {
		observability.IncWSEvent("revoked")
		log.Info().Str("conn_id", conn.ID).Str("user_id", conn.UserID).Str("conversation_id", conversationID).Msg("room access revoked")
		_ = conn.Send(frame)
	}
}

func (h *Hub) currentRelay() Relay {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.relay
}

func (h *Hub) deliverLocal(conversationID string, frame []byte, excludeConnID string) {
	h.mu.RLock()
	room := h.rooms[conversationID]
	targets := make([]*Connection, 0, len(room))
	for id, conn := range room {
		if id != excludeConnID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			observability.IncBroadcastDropped()
			log.Warn().Err(err).Str("conn_id", conn.ID).Str("conversation_id", conversationID).Msg("dropping connection from room")
			h.Detach(conn)
			continue
		}
		observability.IncBroadcastDelivered()
	}
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.rooms = make(map[string]map[string]*Connection)
	h.memberships = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) detachLocked(connID string) {
	if _, ok := h.conns[connID]; !ok {
		return
	}
	delete(h.conns, connID)
	for conversationID := range h.memberships[connID] {
		h.leaveLocked(conversationID, connID)
	}
	delete(h.memberships, connID)
}

func (h *Hub) leaveLocked(conversationID string, connID string) {
	room := h.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
	if memberships, ok := h.memberships[connID]; ok {
		delete(memberships, conversationID)
	}
}
