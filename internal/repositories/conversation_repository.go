package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"internship-chat/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfBinding          = errors.New("counterpart cannot be the initiator")
)

const conversationColumns = `id, initiator_id, counterpart_id, created_at, bound_at`

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	GetOrCreateConversation(ctx context.Context, conversationID string, initiatorID string) (models.Conversation, error)
	BindCounterpart(ctx context.Context, conversationID string, counterpartID string) (int64, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// GetOrCreateConversation creates the conversation if it does not already exist.
// The primary key keeps concurrent first sends from producing two rows; the
// loser of the race reads the winner's row.
func (r *ConversationRepo) GetOrCreateConversation(ctx context.Context, conversationID string, initiatorID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `INSERT INTO conversations (id, initiator_id) VALUES ($1, $2)
        ON CONFLICT (id) DO NOTHING
        RETURNING `+conversationColumns, conversationID, initiatorID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}
	return r.GetConversation(ctx, conversationID)
}

// BindCounterpart assigns the counterpart and moves every pending initiator
// message over to it in the same transaction. The conversation row lock
// orders this against MessageRepo.Append, which reads the row FOR SHARE,
// so no message can be left with a NULL receiver once the bind commits.
func (r *ConversationRepo) BindCounterpart(ctx context.Context, conversationID string, counterpartID string) (rebound int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1 FOR UPDATE`, conversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrConversationNotFound
		}
		return 0, err
	}
	if conv.InitiatorID == counterpartID {
		err = ErrSelfBinding
		return 0, err
	}
	if conv.Bound() && *conv.CounterpartID == counterpartID {
		// same counterpart again: nothing to migrate
		if err = tx.Commit(); err != nil {
			return 0, err
		}
		return 0, nil
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET counterpart_id=$2, bound_at=NOW() WHERE id=$1`, conversationID, counterpartID); err != nil {
		return 0, fmt.Errorf("bind counterpart: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE messages SET receiver_id=$2
        WHERE conversation_id=$1 AND receiver_id IS NULL AND sender_id=$3`, conversationID, counterpartID, conv.InitiatorID)
	if err != nil {
		return 0, fmt.Errorf("migrate pending messages: %w", err)
	}
	if rebound, err = res.RowsAffected(); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return rebound, nil
}
