package flows

import (
	"sync"

	"github.com/AzielCF/az-desk/flows/domain"
)

// MemorySource guarda las definiciones de flujo y resuelve cuál aplica a
// cada sesión. Sin asignación explícita gana el flujo por defecto.
type MemorySource struct {
	mu        sync.RWMutex
	flows     map[string]domain.FlowDefinition
	bySession map[string]string
	defaultID string
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		flows:     make(map[string]domain.FlowDefinition),
		bySession: make(map[string]string),
	}
}

// Put registra o reemplaza una definición de flujo.
func (s *MemorySource) Put(flow domain.FlowDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = flow
}

// SetDefault marca el flujo que atiende sesiones sin asignación propia.
func (s *MemorySource) SetDefault(flowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultID = flowID
}

func (s *MemorySource) AssignSession(sessionID, flowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession[sessionID] = flowID
}

func (s *MemorySource) FlowForSession(sessionID string) (domain.FlowDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flowID, ok := s.bySession[sessionID]
	if !ok {
		flowID = s.defaultID
	}
	if flowID == "" {
		return domain.FlowDefinition{}, false
	}

	flow, ok := s.flows[flowID]
	return flow, ok
}
