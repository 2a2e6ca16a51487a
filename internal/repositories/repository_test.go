package repositories

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var (
	conversationCols = []string{"id", "initiator_id", "counterpart_id", "created_at", "bound_at"}
	messageCols      = []string{"id", "conversation_id", "sender_id", "receiver_id", "body", "created_at", "edited_at", "is_deleted", "read_at"}
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), dbMock
}
