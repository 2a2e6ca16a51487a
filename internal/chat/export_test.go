package chat

import "internship-chat/internal/repositories"

// MemoryStore is the in-memory store, for tests outside the package.
type MemoryStore interface {
	repositories.ConversationRepository
	repositories.MessageRepository
}

func NewMemoryStore() MemoryStore {
	return newMemStore()
}
