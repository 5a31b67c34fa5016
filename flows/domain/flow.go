package domain

import "context"

// NodeType discrimina el comportamiento de un nodo dentro de un conjunto
// cerrado; no hay jerarquía de tipos por nodo.
type NodeType string

const (
	NodeStart        NodeType = "start"
	NodeEnd          NodeType = "end"
	NodeMessage      NodeType = "message"
	NodePluginAction NodeType = "plugin_action"
)

// EdgeLabelError marca la arista que un nodo fallido debe seguir
const EdgeLabelError = "error"

// Políticas ante un nodo fallido sin arista de error
const (
	OnErrorStop     = "stop"
	OnErrorContinue = "continue"
)

type Node struct {
	ID     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// FlowDefinition es un guion de conversación versionado. El motor lo trata
// como solo lectura.
type FlowDefinition struct {
	ID      string `json:"id"`
	BotID   string `json:"bot_id"`
	Version int    `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`

	// OnError decide qué pasa cuando un nodo falla y no hay arista "error":
	// stop (default) corta la ejecución; continue sigue por la arista normal.
	OnError string `json:"on_error,omitempty"`
}

type TraceEntry struct {
	NodeID  string         `json:"node_id"`
	Outcome string         `json:"outcome"` // success | error | skipped
	Data    map[string]any `json:"data,omitempty"`
}

// FlowRun es el estado de una ejecución. Se crea por invocación y se
// descarta al retornar; quien llama puede persistir la traza.
type FlowRun struct {
	SessionID string         `json:"session_id,omitempty"`
	Input     string         `json:"input"`
	Vars      map[string]any `json:"vars"`
	Trace     []TraceEntry   `json:"trace"`
	Output    string         `json:"output,omitempty"`

	// Enrichments acumula el contexto que las acciones de los plugins
	// aportan durante la ejecución, en orden de llegada. El pipeline lo
	// inyecta después al proveedor de IA.
	Enrichments []string `json:"enrichments,omitempty"`
}

// ActionCall identifica una invocación de plugin dentro de una ejecución:
// qué acción correr y bajo qué identidad (bot y sesión del flujo).
type ActionCall struct {
	PluginID  string
	Action    string
	BotID     string
	SessionID string
	Input     map[string]any
}

// ActionOutcome es lo que el motor recibe de una invocación exitosa: los
// datos de la acción más el contexto que acumuló para la IA.
type ActionOutcome struct {
	Data        map[string]any
	Enrichments []string
}

// PluginRuntime es el contrato angosto que el motor necesita para ejecutar
// nodos plugin_action sin conocer el registro completo de plugins.
type PluginRuntime interface {
	InvokeAction(ctx context.Context, call ActionCall) (ActionOutcome, error)
}
