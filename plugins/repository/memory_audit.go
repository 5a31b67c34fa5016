package repository

import (
	"context"
	"sync"

	"github.com/AzielCF/az-desk/plugins/domain"
)

// MemoryAuditSink guarda la auditoría en memoria. Útil para tests y
// despliegues sin persistencia.
type MemoryAuditSink struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Append(ctx context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// List retorna las entradas más recientes primero. pluginID vacío lista todo.
func (s *MemoryAuditSink) List(ctx context.Context, pluginID string, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if pluginID != "" && s.entries[i].PluginID != pluginID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
