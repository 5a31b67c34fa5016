package repository

import (
	"context"
	"sync"
	"time"

	"github.com/AzielCF/az-desk/pipeline/domain"
	"github.com/google/uuid"
)

// MemoryInbox es una bandeja humana en memoria: un ticket por sesión,
// upserts posteriores reutilizan el existente.
type MemoryInbox struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket // sessionID -> ticket
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{
		tickets: make(map[string]domain.Ticket),
	}
}

func (i *MemoryInbox) UpsertFromUserMessage(ctx context.Context, sessionID, text string) (domain.Ticket, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if existing, ok := i.tickets[sessionID]; ok {
		return existing, nil
	}

	ticket := domain.Ticket{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    "open",
		CreatedAt: time.Now().UTC(),
	}
	i.tickets[sessionID] = ticket
	return ticket, nil
}

// Tickets retorna una copia de los tickets abiertos
func (i *MemoryInbox) Tickets() []domain.Ticket {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]domain.Ticket, 0, len(i.tickets))
	for _, t := range i.tickets {
		out = append(out, t)
	}
	return out
}
