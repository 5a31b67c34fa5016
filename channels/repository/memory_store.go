package repository

import (
	"context"
	"sync"
	"time"

	"github.com/AzielCF/az-desk/channels/domain"
	"github.com/google/uuid"
)

// MemoryStore implementa el Store de canales en memoria. La sección
// crítica única garantiza el first-writer-wins de los mappings.
type MemoryStore struct {
	mu       sync.Mutex
	mappings map[string]domain.ChannelMapping // channel|externalUserID
	receipts map[string]struct{}              // channel|providerMessageID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mappings: make(map[string]domain.ChannelMapping),
		receipts: make(map[string]struct{}),
	}
}

func mappingKey(channel, externalUserID string) string {
	return channel + "|" + externalUserID
}

func (s *MemoryStore) LinkChannelConversation(ctx context.Context, req domain.LinkRequest) (domain.ChannelMapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mappingKey(req.Channel, req.ExternalUserID)
	if existing, ok := s.mappings[key]; ok {
		// El mapping existente es autoritativo, el hint se ignora
		return existing, false, nil
	}

	sessionID := req.SessionIDHint
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	mapping := domain.ChannelMapping{
		Channel:        req.Channel,
		ExternalUserID: req.ExternalUserID,
		SessionID:      sessionID,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	s.mappings[key] = mapping
	return mapping, true, nil
}

func (s *MemoryStore) GetChannelMapping(ctx context.Context, channel, externalUserID string) (*domain.ChannelMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapping, ok := s.mappings[mappingKey(channel, externalUserID)]
	if !ok {
		return nil, nil
	}
	return &mapping, nil
}

func (s *MemoryStore) HasMessageReceipt(ctx context.Context, channel, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.receipts[mappingKey(channel, providerMessageID)]
	return ok, nil
}

func (s *MemoryStore) RecordMessageReceipt(ctx context.Context, channel, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mappingKey(channel, providerMessageID)
	if _, exists := s.receipts[key]; exists {
		return false, nil
	}
	s.receipts[key] = struct{}{}
	return true, nil
}
