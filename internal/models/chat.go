package models

import "time"

// Conversation is the chat channel of one case. Its id is the case id.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	InitiatorID   string     `db:"initiator_id" json:"initiator_id"`
	CounterpartID *string    `db:"counterpart_id" json:"counterpart_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	BoundAt       *time.Time `db:"bound_at" json:"bound_at,omitempty"`
}

// Bound reports whether a counterpart has been assigned.
func (c Conversation) Bound() bool {
	return c.CounterpartID != nil && *c.CounterpartID != ""
}

// IsParticipant checks whether userID is the initiator or the bound counterpart.
func (c Conversation) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	if c.InitiatorID == userID {
		return true
	}
	return c.Bound() && *c.CounterpartID == userID
}

// ReceiverFor returns the receiver of a message sent by senderID, or nil
// while the counterpart slot is still empty.
func (c Conversation) ReceiverFor(senderID string) *string {
	if senderID == c.InitiatorID {
		if !c.Bound() {
			return nil
		}
		receiver := *c.CounterpartID
		return &receiver
	}
	if c.Bound() && senderID == *c.CounterpartID {
		receiver := c.InitiatorID
		return &receiver
	}
	return nil
}

// CounterpartProfile is display metadata supplied by the assignment side.
type CounterpartProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
}
