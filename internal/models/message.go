package models

import "time"

// Message represents a chat message.
type Message struct {
	ID             int64      `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	ReceiverID     *string    `db:"receiver_id" json:"receiver_id"`
	Body           string     `db:"body" json:"body"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	EditedAt       *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	IsDeleted      bool       `db:"is_deleted" json:"is_deleted"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// UnreadCount is the number of unread inbound messages in one conversation.
type UnreadCount struct {
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	Count          int64  `db:"unread" json:"count"`
}
