package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AzielCF/az-desk/plugins/domain"
	"github.com/sirupsen/logrus"
)

// Registry guarda plugins por id e invoca sus acciones con reintentos
// auditados. Cada invocación lleva su propio contador de intentos; no hay
// lock compartido entre invocaciones concurrentes.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]domain.PluginDefinition
	sink    domain.AuditSink

	// sleep es inyectable para que los tests corran sin reloj de pared
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRegistry(sink domain.AuditSink) *Registry {
	return &Registry{
		plugins: make(map[string]domain.PluginDefinition),
		sink:    sink,
		sleep:   sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Register almacena un plugin; re-registrar el mismo id lo reemplaza
func (r *Registry) Register(def domain.PluginDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[def.ID] = def
	logrus.Infof("[PLUGINS] Plugin %s v%s registered with %d actions", def.ID, def.Version, len(def.Actions))
}

// Get obtiene un plugin por id
func (r *Registry) Get(id string) (domain.PluginDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.plugins[id]
	if !ok {
		return domain.PluginDefinition{}, fmt.Errorf("%w: %s", domain.ErrPluginNotFound, id)
	}
	return def, nil
}

// List retorna los ids registrados, ordenados
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InvokeAction ejecuta una acción con la política de reintentos declarada.
// Cada intento, exitoso o no, produce exactamente una entrada de auditoría.
// Un pánico dentro de la acción cuenta como fallo del intento, no tumba
// la invocación.
func (r *Registry) InvokeAction(ctx context.Context, pluginID, actionName string, actx *domain.ActionContext, input map[string]any) (domain.ActionResult, error) {
	def, err := r.Get(pluginID)
	if err != nil {
		return domain.ActionResult{}, err
	}

	action, ok := def.Actions[actionName]
	if !ok {
		return domain.ActionResult{}, fmt.Errorf("%w: %s.%s", domain.ErrActionNotFound, pluginID, actionName)
	}

	if actx == nil {
		actx = &domain.ActionContext{}
	}
	actx.Settings = resolveSettings(def.Settings, actx.Settings)

	attempts := 1
	backoff := time.Duration(0)
	if action.Retry != nil {
		if action.Retry.Attempts > attempts {
			attempts = action.Retry.Attempts
		}
		backoff = time.Duration(action.Retry.BackoffMs) * time.Millisecond
	}

	var lastResult domain.ActionResult
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, execErr := r.executeOnce(ctx, action, actx, input)

		// 1. Auditar el intento antes de decidir nada más
		r.audit(ctx, domain.AuditEntry{
			PluginID:  pluginID,
			Action:    actionName,
			Attempt:   attempt,
			Status:    attemptStatus(result, execErr),
			Error:     attemptError(result, execErr),
			Timestamp: time.Now().UTC(),
		})

		// 2. Éxito: OK explícito y sin error
		if execErr == nil && result.OK {
			return result, nil
		}

		lastResult = result
		lastErr = execErr
		if lastErr == nil {
			lastErr = fmt.Errorf("action %s.%s failed: %s", pluginID, actionName, result.Error)
		}

		// 3. Espera lineal antes del siguiente intento
		if attempt < attempts && backoff > 0 {
			if err := r.sleep(ctx, backoff); err != nil {
				return lastResult, err
			}
		}
	}

	logrus.WithError(lastErr).Warnf("[PLUGINS] Action %s.%s failed after %d attempts", pluginID, actionName, attempts)
	return lastResult, lastErr
}

// executeOnce aísla un intento: los pánicos de la acción se convierten en error
func (r *Registry) executeOnce(ctx context.Context, action domain.PluginAction, actx *domain.ActionContext, input map[string]any) (result domain.ActionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action panic: %v", rec)
		}
	}()
	return action.Execute(ctx, actx, input)
}

// resolveSettings fusiona los defaults declarados por el plugin con los
// overrides del bot que trae el contexto. El override siempre gana.
func resolveSettings(defaults, overrides map[string]any) map[string]any {
	if len(defaults) == 0 {
		return overrides
	}
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func (r *Registry) audit(ctx context.Context, entry domain.AuditEntry) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Append(ctx, entry); err != nil {
		logrus.WithError(err).Errorf("[PLUGINS] Failed to audit %s.%s attempt %d", entry.PluginID, entry.Action, entry.Attempt)
	}
}

func attemptStatus(result domain.ActionResult, err error) string {
	if err == nil && result.OK {
		return "success"
	}
	return "error"
}

func attemptError(result domain.ActionResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if !result.OK {
		if result.Error != "" {
			return result.Error
		}
		return "action reported ok=false"
	}
	return ""
}
