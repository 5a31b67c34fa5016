package repository

import (
	"context"
	"time"

	"github.com/AzielCF/az-desk/channels/domain"
	"github.com/AzielCF/az-desk/infrastructure/valkey"
)

// receiptTTL acota la ventana de dedup: las reentregas de webhooks llegan
// en minutos, no en días.
const receiptTTL = 24 * time.Hour

// ValkeyReceiptStore decora otro Store reemplazando los recibos de
// idempotencia por claves en Valkey con TTL, de modo que el dedup funcione
// entre varios nodos del servicio. Los mappings siguen en el store interno.
type ValkeyReceiptStore struct {
	inner  domain.Store
	client *valkey.Client
}

func NewValkeyReceiptStore(inner domain.Store, client *valkey.Client) *ValkeyReceiptStore {
	return &ValkeyReceiptStore{inner: inner, client: client}
}

func (s *ValkeyReceiptStore) LinkChannelConversation(ctx context.Context, req domain.LinkRequest) (domain.ChannelMapping, bool, error) {
	return s.inner.LinkChannelConversation(ctx, req)
}

func (s *ValkeyReceiptStore) GetChannelMapping(ctx context.Context, channel, externalUserID string) (*domain.ChannelMapping, error) {
	return s.inner.GetChannelMapping(ctx, channel, externalUserID)
}

func (s *ValkeyReceiptStore) HasMessageReceipt(ctx context.Context, channel, providerMessageID string) (bool, error) {
	inner := s.client.Inner()
	key := s.client.Key("receipt", channel, providerMessageID)

	count, err := inner.Do(ctx, inner.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *ValkeyReceiptStore) RecordMessageReceipt(ctx context.Context, channel, providerMessageID string) (bool, error) {
	inner := s.client.Inner()
	key := s.client.Key("receipt", channel, providerMessageID)

	// SET NX responde nil cuando la clave ya existía: otro nodo ganó
	err := inner.Do(ctx, inner.B().Set().Key(key).Value("1").Nx().Ex(receiptTTL).Build()).Error()
	if valkey.IsNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
