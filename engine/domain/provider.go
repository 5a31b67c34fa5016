package domain

import (
	"context"
	"time"
)

// ChatTurn represents a single turn in a conversation
type ChatTurn struct {
	Role string `json:"role"`
	Text string `json:"text,omitempty"`
}

// ChatRequest es una petición agnóstica de chat
type ChatRequest struct {
	Provider     string // Proveedor solicitado; vacío = usar el orden de fallback
	Model        string
	SystemPrompt string
	History      []ChatTurn
	UserText     string
	SessionID    string // Identificador único de sesión para trazabilidad
}

// ChatReply es la respuesta agnóstica de un proveedor de IA.
// Confidence es opcional: nil cuando el proveedor no reporta puntaje.
type ChatReply struct {
	Text       string
	Confidence *float64
	RequestID  string // Identificador de la petición remota, para trazabilidad
	Provider   string // Proveedor que efectivamente respondió
}

// AIProvider es la interfaz delgada que deben implementar los modelos
type AIProvider interface {
	// Chat envía el contexto a la IA y devuelve la respuesta
	Chat(ctx context.Context, req ChatRequest) (ChatReply, error)

	// Probe verifica de forma ligera que el proveedor está operativo
	Probe(ctx context.Context) error
}

// ProviderHealth es el resultado del sondeo de un proveedor
type ProviderHealth struct {
	Name      string    `json:"name"`
	OK        bool      `json:"ok"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
