package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"internship-chat/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyBody       = errors.New("message body is empty")
	ErrNotSender       = errors.New("actor is not the message sender")
	ErrMessageDeleted  = errors.New("message already deleted")
)

const messageColumns = `id, conversation_id, sender_id, receiver_id, body, created_at, edited_at, is_deleted, read_at`

// MessageRepository is the durable, ordered log of messages per conversation.
type MessageRepository interface {
	Append(ctx context.Context, conversationID string, senderID string, body string) (models.Message, error)
	ListOrdered(ctx context.Context, conversationID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	Edit(ctx context.Context, messageID int64, actorID string, body string) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int64, actorID string) error
	ClearAll(ctx context.Context, conversationID string) (int64, error)
	MarkReadUpTo(ctx context.Context, conversationID string, receiverID string) (int64, error)
	CountUnread(ctx context.Context, receiverID string) ([]models.UnreadCount, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a message. The receiver is derived from the conversation row,
// which is held FOR SHARE until commit so a concurrent bind either sees this
// message or has already filled in the counterpart.
func (r *MessageRepo) Append(ctx context.Context, conversationID string, senderID string, body string) (msg models.Message, err error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, ErrEmptyBody
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1 FOR SHARE`, conversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrConversationNotFound
		}
		return models.Message{}, err
	}

	if err = tx.GetContext(ctx, &msg, `INSERT INTO messages (conversation_id, sender_id, receiver_id, body) VALUES ($1, $2, $3, $4)
        RETURNING `+messageColumns, conversationID, senderID, conv.ReceiverFor(senderID), body); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListOrdered returns live messages in commit order.
func (r *MessageRepo) ListOrdered(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND is_deleted = FALSE
        ORDER BY created_at ASC, id ASC`, conversationID)
	return msgs, err
}

// GetMessage retrieves a single message, tombstoned or not.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Edit replaces the body of a message owned by actorID.
func (r *MessageRepo) Edit(ctx context.Context, messageID int64, actorID string, body string) (msg models.Message, err error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, ErrEmptyBody
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = lockOwnedMessage(ctx, tx, messageID, actorID); err != nil {
		return models.Message{}, err
	}
	if err = tx.GetContext(ctx, &msg, `UPDATE messages SET body=$2, edited_at=NOW() WHERE id=$1
        RETURNING `+messageColumns, messageID, body); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// SoftDelete tombstones a message owned by actorID.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int64, actorID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = lockOwnedMessage(ctx, tx, messageID, actorID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id=$1`, messageID); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearAll removes every message of the conversation, tombstones included,
// and returns how many visible messages were removed.
func (r *MessageRepo) ClearAll(ctx context.Context, conversationID string) (int64, error) {
	var removed int64
	err := r.db.GetContext(ctx, &removed, `WITH removed AS (
            DELETE FROM messages WHERE conversation_id=$1 RETURNING is_deleted
        )
        SELECT COUNT(*) FILTER (WHERE NOT is_deleted) FROM removed`, conversationID)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// MarkReadUpTo stamps read_at on every unread message addressed to receiverID.
func (r *MessageRepo) MarkReadUpTo(ctx context.Context, conversationID string, receiverID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read_at = NOW()
        WHERE conversation_id=$1 AND receiver_id=$2 AND read_at IS NULL AND is_deleted = FALSE`, conversationID, receiverID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnread returns unread inbound message counts grouped by conversation.
func (r *MessageRepo) CountUnread(ctx context.Context, receiverID string) ([]models.UnreadCount, error) {
	counts := []models.UnreadCount{}
	err := r.db.SelectContext(ctx, &counts, `SELECT conversation_id, COUNT(*) AS unread FROM messages
        WHERE receiver_id=$1 AND read_at IS NULL AND is_deleted = FALSE
        GROUP BY conversation_id
        ORDER BY conversation_id`, receiverID)
	return counts, err
}

// lockOwnedMessage locks the row and checks ownership and tombstone state
// against what is stored now, not what the caller saw earlier.
func lockOwnedMessage(ctx context.Context, tx *sqlx.Tx, messageID int64, actorID string) error {
	var current struct {
		SenderID  string `db:"sender_id"`
		IsDeleted bool   `db:"is_deleted"`
	}
	err := tx.GetContext(ctx, &current, `SELECT sender_id, is_deleted FROM messages WHERE id=$1 FOR UPDATE`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if current.SenderID != actorID {
		return ErrNotSender
	}
	if current.IsDeleted {
		return ErrMessageDeleted
	}
	return nil
}
