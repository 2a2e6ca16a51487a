package models

// EventType names a message-lifecycle event fanned out to a conversation room.
type EventType string

const (
	EventMessageCreated      EventType = "message-created"
	EventMessageEdited       EventType = "message-edited"
	EventMessageDeleted      EventType = "message-deleted"
	EventConversationCleared EventType = "conversation-cleared"
	EventParticipantBound    EventType = "participant-bound"
	EventTyping              EventType = "typing"
)

// MessageDeleted is the payload of EventMessageDeleted.
type MessageDeleted struct {
	MessageID      int64  `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// ConversationCleared is the payload of EventConversationCleared.
type ConversationCleared struct {
	ConversationID string `json:"conversation_id"`
	Removed        int64  `json:"removed"`
	ClearedBy      string `json:"cleared_by"`
}

// ParticipantBound is the payload of EventParticipantBound.
type ParticipantBound struct {
	ConversationID  string              `json:"conversation_id"`
	CounterpartID   string              `json:"counterpart_id"`
	Counterpart     *CounterpartProfile `json:"counterpart,omitempty"`
	ReboundMessages int64               `json:"rebound_messages"`
}

// Typing is the payload of EventTyping. It is never persisted.
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}
