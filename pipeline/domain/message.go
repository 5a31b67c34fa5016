package domain

import (
	"context"
	"time"
)

// Message es un turno persistido de una sesión. El historial es
// append-only; el borrado por cumplimiento es responsabilidad externa.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // user | assistant
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply es la respuesta final visible para el usuario
type Reply struct {
	Text      string `json:"text"`
	Escalated bool   `json:"escalated"`
	Provider  string `json:"provider,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// MessageStore persiste y lee el historial por sesión
type MessageStore interface {
	Append(ctx context.Context, msg Message) error
	// List retorna los mensajes en orden cronológico; limit 0 = todos,
	// limit N = los últimos N.
	List(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// Ticket es el resultado del handoff hacia la bandeja humana
type Ticket struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// InboxService es el colaborador de bandeja humana. El core solo hace
// upsert; el ciclo de vida del ticket vive fuera.
type InboxService interface {
	UpsertFromUserMessage(ctx context.Context, sessionID, text string) (Ticket, error)
}
