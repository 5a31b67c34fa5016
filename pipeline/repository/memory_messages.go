package repository

import (
	"context"
	"sync"

	"github.com/AzielCF/az-desk/pipeline/domain"
)

// MemoryMessageStore guarda el historial en memoria, por sesión
type MemoryMessageStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		sessions: make(map[string][]domain.Message),
	}
}

func (s *MemoryMessageStore) Append(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[msg.SessionID] = append(s.sessions[msg.SessionID], msg)
	return nil
}

func (s *MemoryMessageStore) List(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}
