package adapters

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/AzielCF/az-desk/channels/domain"
)

// WebhookAdapter es un canal genérico solo-entrada para transportes que
// empujan mensajes por webhook. Las respuestas de estos canales quedan en
// almacenamiento; la entrega saliente es responsabilidad del transporte.
type WebhookAdapter struct {
	channelID    string
	sharedSecret string
}

func NewWebhookAdapter(channelID, sharedSecret string) *WebhookAdapter {
	return &WebhookAdapter{
		channelID:    channelID,
		sharedSecret: sharedSecret,
	}
}

// ID returns the channel ID
func (a *WebhookAdapter) ID() string {
	return a.channelID
}

func (a *WebhookAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{Inbound: true, Outbound: false}
}

// NormalizeInbound valida el secreto compartido y mapea el payload genérico:
// {"secret": "...", "external_user_id": "...", "text": "...", "provider_message_id": "..."}
func (a *WebhookAdapter) NormalizeInbound(payload map[string]any) (domain.InboundMessage, error) {
	if a.sharedSecret != "" {
		secret, _ := payload["secret"].(string)
		if subtle.ConstantTimeCompare([]byte(secret), []byte(a.sharedSecret)) != 1 {
			return domain.InboundMessage{}, fmt.Errorf("invalid shared secret")
		}
	}

	userID, _ := payload["external_user_id"].(string)
	if userID == "" {
		return domain.InboundMessage{}, fmt.Errorf("missing external_user_id")
	}

	text, _ := payload["text"].(string)
	if text == "" {
		return domain.InboundMessage{}, fmt.Errorf("missing text")
	}

	messageID, _ := payload["provider_message_id"].(string)

	return domain.InboundMessage{
		ExternalUserID:    userID,
		Text:              text,
		ProviderMessageID: messageID,
		Metadata:          map[string]string{"transport": "webhook"},
	}, nil
}

// Send no está soportado: el adaptador es solo-entrada
func (a *WebhookAdapter) Send(ctx context.Context, target, text string) (domain.SendResult, error) {
	return domain.SendResult{OK: false}, fmt.Errorf("channel %s has no outbound capability", a.channelID)
}
