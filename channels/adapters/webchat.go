package adapters

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-desk/channels/domain"
)

// Broadcaster entrega texto a los sockets conectados de una sesión.
// Lo implementa el hub de websockets de la capa ui.
type Broadcaster interface {
	BroadcastToSession(sessionID, text string) error
}

// WebChatAdapter es el canal del widget de navegador: entrada por el
// endpoint de ingesta y salida por websocket.
type WebChatAdapter struct {
	channelID   string
	broadcaster Broadcaster
}

func NewWebChatAdapter(channelID string, broadcaster Broadcaster) *WebChatAdapter {
	return &WebChatAdapter{
		channelID:   channelID,
		broadcaster: broadcaster,
	}
}

// ID returns the channel ID
func (a *WebChatAdapter) ID() string {
	return a.channelID
}

func (a *WebChatAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{Inbound: true, Outbound: true}
}

// NormalizeInbound espera el payload JSON del widget:
// {"user_id": "...", "text": "...", "message_id": "...", "session_hint": "..."}
func (a *WebChatAdapter) NormalizeInbound(payload map[string]any) (domain.InboundMessage, error) {
	userID, _ := payload["user_id"].(string)
	if userID == "" {
		return domain.InboundMessage{}, fmt.Errorf("missing user_id")
	}

	text, _ := payload["text"].(string)
	if text == "" {
		return domain.InboundMessage{}, fmt.Errorf("missing text")
	}

	messageID, _ := payload["message_id"].(string)
	sessionHint, _ := payload["session_hint"].(string)

	return domain.InboundMessage{
		ExternalUserID:    userID,
		Text:              text,
		ProviderMessageID: messageID,
		SessionIDHint:     sessionHint,
		Metadata:          map[string]string{"transport": "webchat"},
	}, nil
}

// Send empuja la respuesta por el hub de websockets de la sesión
func (a *WebChatAdapter) Send(ctx context.Context, target, text string) (domain.SendResult, error) {
	if a.broadcaster == nil {
		return domain.SendResult{OK: false}, fmt.Errorf("webchat adapter has no broadcaster")
	}
	if err := a.broadcaster.BroadcastToSession(target, text); err != nil {
		return domain.SendResult{OK: false}, err
	}
	return domain.SendResult{OK: true}, nil
}
