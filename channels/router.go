package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AzielCF/az-desk/channels/domain"
	"github.com/AzielCF/az-desk/pkg/msgworker"
	"github.com/sirupsen/logrus"
)

// Router registra adaptadores de canal, resuelve sesiones estables por
// identidad externa, deduplica reentregas de webhooks y releva el texto
// normalizado al pipeline de conversación.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]domain.ChannelAdapter

	store   domain.Store
	handler domain.ConversationHandler
	pool    *msgworker.DeliveryWorkerPool
}

func NewRouter(store domain.Store, handler domain.ConversationHandler, pool *msgworker.DeliveryWorkerPool) *Router {
	return &Router{
		adapters: make(map[string]domain.ChannelAdapter),
		store:    store,
		handler:  handler,
		pool:     pool,
	}
}

// Register añade un adaptador. El último registro con el mismo id gana:
// los adaptadores se registran una vez en el arranque.
func (r *Router) Register(adapter domain.ChannelAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapter.ID()]; exists {
		logrus.Warnf("[CHANNELS] Adapter %s re-registered, replacing previous one", adapter.ID())
	}
	r.adapters[adapter.ID()] = adapter
	caps := adapter.Capabilities()
	logrus.Infof("[CHANNELS] Adapter %s registered (inbound: %v, outbound: %v)", adapter.ID(), caps.Inbound, caps.Outbound)
}

func (r *Router) adapter(channelID string) (domain.ChannelAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, channelID)
	}
	return a, nil
}

// Adapters retorna los ids registrados, ordenados
func (r *Router) Adapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ingest procesa un payload entrante de un canal. Las reentregas del mismo
// providerMessageId cortocircuitan con duplicate:true sin tocar el pipeline.
func (r *Router) Ingest(ctx context.Context, channelID string, payload map[string]any) (domain.IngestResult, error) {
	// 1. Adaptador registrado
	adapter, err := r.adapter(channelID)
	if err != nil {
		return domain.IngestResult{}, err
	}

	// 2. Normalizar payload crudo
	msg, err := adapter.NormalizeInbound(payload)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("%w: %v", domain.ErrNormalization, err)
	}

	// 3. Defensa contra tormentas de reentrega de webhooks
	if msg.ProviderMessageID != "" {
		seen, err := r.store.HasMessageReceipt(ctx, channelID, msg.ProviderMessageID)
		if err != nil {
			return domain.IngestResult{}, fmt.Errorf("receipt lookup failed: %w", err)
		}
		if seen {
			result := domain.IngestResult{Duplicate: true}
			if mapping, err := r.store.GetChannelMapping(ctx, channelID, msg.ExternalUserID); err == nil && mapping != nil {
				result.SessionID = mapping.SessionID
			}
			logrus.Debugf("[CHANNELS] Duplicate message %s on %s, short-circuiting", msg.ProviderMessageID, channelID)
			return result, nil
		}
	}

	// 4. Resolver o crear el mapping; el sessionId existente es autoritativo
	mapping, created, err := r.store.LinkChannelConversation(ctx, domain.LinkRequest{
		Channel:        channelID,
		ExternalUserID: msg.ExternalUserID,
		SessionIDHint:  msg.SessionIDHint,
		Metadata:       msg.Metadata,
	})
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("mapping resolution failed: %w", err)
	}
	if created {
		logrus.Infof("[CHANNELS] New session %s bound to %s|%s", mapping.SessionID, channelID, msg.ExternalUserID)
	}

	// 5. Reclamar el recibo. Si otro ingest concurrente del mismo mensaje
	// lo reclamó entre el paso 3 y aquí, ese ingest es el que procesa.
	if msg.ProviderMessageID != "" {
		won, err := r.store.RecordMessageReceipt(ctx, channelID, msg.ProviderMessageID)
		if err != nil {
			return domain.IngestResult{}, fmt.Errorf("receipt record failed: %w", err)
		}
		if !won {
			logrus.Debugf("[CHANNELS] Lost receipt race for %s on %s, short-circuiting", msg.ProviderMessageID, channelID)
			return domain.IngestResult{SessionID: mapping.SessionID, Duplicate: true}, nil
		}
	}

	// 6. Relevar al pipeline
	reply, err := r.handler.HandleUserMessage(ctx, mapping.SessionID, msg.Text)
	if err != nil {
		return domain.IngestResult{}, err
	}

	return domain.IngestResult{
		SessionID: mapping.SessionID,
		Duplicate: false,
		Reply:     &reply,
	}, nil
}

// DispatchToChannel encola una entrega saliente best-effort. Nunca bloquea
// la ingesta: el envío corre en el pool de entrega y su fallo se reporta,
// no se reintenta. OK:false indica que no hubo intento (canal desconocido
// o sin capacidad outbound) y el caller cae a solo-almacenamiento.
func (r *Router) DispatchToChannel(channelID, target, text string) domain.SendResult {
	adapter, err := r.adapter(channelID)
	if err != nil {
		logrus.Warnf("[CHANNELS] Dispatch to unknown channel %s skipped", channelID)
		return domain.SendResult{OK: false}
	}

	if !adapter.Capabilities().Outbound {
		logrus.Debugf("[CHANNELS] Channel %s has no outbound capability, storage-only", channelID)
		return domain.SendResult{OK: false}
	}

	r.pool.Dispatch(msgworker.DeliveryJob{
		ChannelID: channelID,
		SessionID: target,
		Handler: func(ctx context.Context) error {
			result, err := adapter.Send(ctx, target, text)
			if err != nil {
				return err
			}
			if !result.OK {
				return fmt.Errorf("adapter %s reported failed delivery to %s", channelID, target)
			}
			return nil
		},
	})

	return domain.SendResult{OK: true}
}

// DeliveryStats expone las métricas del pool de entrega
func (r *Router) DeliveryStats() msgworker.PoolStats {
	return r.pool.GetStats()
}
