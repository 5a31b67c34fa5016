package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AzielCF/az-desk/engine/domain"
	"github.com/sirupsen/logrus"
)

// Registry mantiene los proveedores de IA registrados y el orden de fallback.
// Es un objeto de larga vida creado por quien construye el servicio; no hay
// singleton ambiental para preservar la testabilidad.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.AIProvider
	fallback  []string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.AIProvider),
	}
}

// Register añade un proveedor con nombre. Re-registrar el mismo nombre lo reemplaza.
func (r *Registry) Register(name string, p domain.AIProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	logrus.Infof("[ENGINE] Provider %s registered", name)
}

// SetFallbackOrder define la cadena ordenada de fallback.
// Nombres no registrados se ignoran en el momento del chat, no aquí.
func (r *Registry) SetFallbackOrder(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = append([]string(nil), names...)
}

// Get obtiene un proveedor por nombre.
func (r *Registry) Get(name string) (domain.AIProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotRegistered, name)
	}
	return p, nil
}

// FallbackOrder retorna una copia del orden configurado.
func (r *Registry) FallbackOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.fallback...)
}

// Names retorna los nombres registrados, ordenados.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health sondea todos los proveedores en paralelo y espera todos los
// resultados. Un sondeo que falla se reporta como ok:false, nunca se propaga:
// un proveedor lento retrasa el agregado pero no puede tumbar la llamada.
func (r *Registry) Health(ctx context.Context) []domain.ProviderHealth {
	r.mu.RLock()
	snapshot := make(map[string]domain.AIProvider, len(r.providers))
	for name, p := range r.providers {
		snapshot[name] = p
	}
	r.mu.RUnlock()

	results := make([]domain.ProviderHealth, 0, len(snapshot))
	var wg sync.WaitGroup
	var resMu sync.Mutex

	for name, p := range snapshot {
		wg.Add(1)
		go func(name string, p domain.AIProvider) {
			defer wg.Done()

			h := domain.ProviderHealth{Name: name, CheckedAt: time.Now().UTC()}
			start := time.Now()

			func() {
				defer func() {
					if rec := recover(); rec != nil {
						h.OK = false
						h.Error = fmt.Sprintf("probe panic: %v", rec)
					}
				}()
				if err := p.Probe(ctx); err != nil {
					h.OK = false
					h.Error = err.Error()
				} else {
					h.OK = true
				}
			}()

			h.LatencyMs = time.Since(start).Milliseconds()

			resMu.Lock()
			results = append(results, h)
			resMu.Unlock()
		}(name, p)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}
