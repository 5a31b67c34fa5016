package domain

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy controla los reintentos de una acción. La espera es lineal:
// se aguarda BackoffMs entre cada intento, sin crecimiento exponencial.
type RetryPolicy struct {
	Attempts  int `json:"attempts"`
	BackoffMs int `json:"backoff_ms"`
}

// ActionResult es el resultado de un intento de ejecución.
// OK:false y un error retornado se tratan igual a efectos de reintento.
type ActionResult struct {
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// ActionContext es el estado de solo lectura visible para la acción
type ActionContext struct {
	WorkspaceID string
	BotID       string
	SessionID   string

	// Settings resueltos: defaults del plugin fusionados con overrides del bot
	Settings map[string]any

	// Secrets resuelve credenciales por nombre sin exponer el almacén completo
	Secrets func(name string) string

	Log *logrus.Entry

	// AIContext acumula enriquecimientos que el pipeline inyecta luego al
	// proveedor de IA. Las acciones solo escriben, nunca leen.
	AIContext *AIContextAccumulator
}

// AIContextAccumulator colecta fragmentos de contexto de forma segura
// entre invocaciones concurrentes de acciones.
type AIContextAccumulator struct {
	mu       sync.Mutex
	snippets []string
}

func (a *AIContextAccumulator) Append(snippet string) {
	if snippet == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snippets = append(a.snippets, snippet)
}

func (a *AIContextAccumulator) Snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.snippets...)
}

// PluginAction es una capacidad invocable de un plugin. Execute es stateless
// por llamada; el estado compartido vive en el ActionContext.
type PluginAction struct {
	Name    string
	Retry   *RetryPolicy
	Execute func(ctx context.Context, actx *ActionContext, input map[string]any) (ActionResult, error)
}

// PluginDefinition es un plugin registrado: datos (id, settings) más
// comportamiento (sus acciones). No hay jerarquía de tipos.
type PluginDefinition struct {
	ID       string
	Name     string
	Version  string
	Settings map[string]any
	Actions  map[string]PluginAction
}

// AuditEntry registra un intento de invocación. Es el único registro
// durable del comportamiento de los plugins y nunca se muta.
type AuditEntry struct {
	PluginID  string    `json:"plugin_id"`
	Action    string    `json:"action"`
	Attempt   int       `json:"attempt"`
	Status    string    `json:"status"` // success | error
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditSink persiste entradas de auditoría. Un fallo del sink se loguea
// y no se propaga: la observabilidad nunca rompe la conversación.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, pluginID string, limit int) ([]AuditEntry, error)
}
