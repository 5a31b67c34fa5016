package domain

import (
	"context"
	"time"
)

// Capabilities declara qué direcciones soporta un adaptador
type Capabilities struct {
	Inbound  bool `json:"inbound"`
	Outbound bool `json:"outbound"`
}

// InboundMessage es el resultado de normalizar un payload crudo
type InboundMessage struct {
	ExternalUserID    string
	Text              string
	ProviderMessageID string
	SessionIDHint     string
	Metadata          map[string]string
}

// SendResult reporta el desenlace de una entrega saliente
type SendResult struct {
	OK                bool   `json:"ok"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// ChannelAdapter normaliza payloads entrantes y entrega mensajes salientes
// para un transporte externo concreto. El canal del navegador es un
// adaptador más, no un caso especial.
type ChannelAdapter interface {
	ID() string
	Capabilities() Capabilities

	// NormalizeInbound parsea el payload crudo del webhook del transporte
	NormalizeInbound(payload map[string]any) (InboundMessage, error)

	// Send entrega texto al usuario externo. Solo válido con Outbound:true.
	Send(ctx context.Context, target, text string) (SendResult, error)
}

// ChannelMapping liga una identidad externa a una sesión interna.
// Una vez creado nunca se reescribe: first-writer-wins.
type ChannelMapping struct {
	Channel        string            `json:"channel"`
	ExternalUserID string            `json:"external_user_id"`
	SessionID      string            `json:"session_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// LinkRequest es la petición de creación/resolución de un mapping
type LinkRequest struct {
	Channel        string
	ExternalUserID string
	// SessionIDHint solo se honra en la primera creación; después el
	// sessionId existente es autoritativo.
	SessionIDHint string
	Metadata      map[string]string
}

// Store es el contrato mínimo de almacenamiento del router de canales.
// LinkChannelConversation debe ser atómico: dos primeros mensajes
// concurrentes del mismo usuario externo no pueden crear dos mappings.
type Store interface {
	LinkChannelConversation(ctx context.Context, req LinkRequest) (ChannelMapping, bool, error)
	GetChannelMapping(ctx context.Context, channel, externalUserID string) (*ChannelMapping, error)

	HasMessageReceipt(ctx context.Context, channel, providerMessageID string) (bool, error)
	// RecordMessageReceipt reclama el recibo de forma atómica y reporta si
	// este caller lo creó. false significa que otro escritor ganó la carrera
	// y el mensaje ya fue procesado (o lo está siendo).
	RecordMessageReceipt(ctx context.Context, channel, providerMessageID string) (bool, error)
}

// Reply es la respuesta del pipeline vista desde el router de canales
type Reply struct {
	Text      string `json:"text"`
	Escalated bool   `json:"escalated"`
	Provider  string `json:"provider,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ConversationHandler es el contrato angosto hacia el pipeline
type ConversationHandler interface {
	HandleUserMessage(ctx context.Context, sessionID, text string) (Reply, error)
}

// IngestResult es el resultado de procesar un payload entrante
type IngestResult struct {
	SessionID string `json:"session_id"`
	Duplicate bool   `json:"duplicate"`
	Reply     *Reply `json:"reply,omitempty"`
}
