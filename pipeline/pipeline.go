package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/AzielCF/az-desk/config"
	engineDomain "github.com/AzielCF/az-desk/engine/domain"
	flowsDomain "github.com/AzielCF/az-desk/flows/domain"
	"github.com/AzielCF/az-desk/pipeline/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ChatRouter es el contrato angosto hacia el router de proveedores de IA
type ChatRouter interface {
	Chat(ctx context.Context, req engineDomain.ChatRequest) (engineDomain.ChatReply, error)
}

// FlowRunner es el contrato angosto hacia el motor de flujos
type FlowRunner interface {
	Run(ctx context.Context, flow flowsDomain.FlowDefinition, sessionID, input string, vars map[string]any) (*flowsDomain.FlowRun, error)
}

// FlowSource resuelve el flujo configurado para una sesión, si lo hay
type FlowSource interface {
	FlowForSession(sessionID string) (flowsDomain.FlowDefinition, bool)
}

// Pipeline orquesta una conversación: persiste el turno del usuario, pide
// la respuesta al router de IA (o al motor de flujos cuando el bot tiene
// guion), aplica la política de escalamiento por confianza y persiste la
// respuesta. Un fallo duro del proveedor degrada a una respuesta defensiva,
// nunca llega crudo al usuario final.
type Pipeline struct {
	router   ChatRouter
	flows    FlowRunner
	flowSrc  FlowSource
	messages domain.MessageStore
	inbox    domain.InboxService

	// Serializa el read-then-append de cada sesión
	sessionLocks sync.Map // sessionID -> *sync.Mutex

	// Sesiones que ya tienen ticket abierto por baja confianza
	escalated sync.Map // sessionID -> struct{}
}

func New(router ChatRouter, flowRunner FlowRunner, flowSrc FlowSource, messages domain.MessageStore, inbox domain.InboxService) *Pipeline {
	return &Pipeline{
		router:   router,
		flows:    flowRunner,
		flowSrc:  flowSrc,
		messages: messages,
		inbox:    inbox,
	}
}

func (p *Pipeline) lockSession(sessionID string) *sync.Mutex {
	mu, _ := p.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandleUserMessage procesa un turno del usuario y retorna la respuesta
// visible. El error retornado solo cubre fallos de almacenamiento; los
// fallos de proveedor se absorben con la respuesta de contingencia.
func (p *Pipeline) HandleUserMessage(ctx context.Context, sessionID, text string) (domain.Reply, error) {
	mu := p.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	// 1. Persistir el turno del usuario
	userMsg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "user",
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	if err := p.messages.Append(ctx, userMsg); err != nil {
		return domain.Reply{}, err
	}

	// 2. Obtener la respuesta del guion o del proveedor
	reply := p.obtainReply(ctx, sessionID, text)

	// 3. Handoff por baja confianza: un solo ticket por sesión
	if reply.confidence != nil && *reply.confidence < config.AIHandoffThreshold {
		p.escalate(ctx, sessionID, text)
		reply.Reply.Text = config.AIEscalationReply
		reply.Reply.Escalated = true
	}

	// 4. Persistir la respuesta final visible
	assistantMsg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "assistant",
		Text:      reply.Reply.Text,
		Timestamp: time.Now().UTC(),
	}
	if err := p.messages.Append(ctx, assistantMsg); err != nil {
		return domain.Reply{}, err
	}

	return reply.Reply, nil
}

type obtainedReply struct {
	Reply      domain.Reply
	confidence *float64
}

func (p *Pipeline) obtainReply(ctx context.Context, sessionID, text string) obtainedReply {
	// Guion configurado gana sobre el chat directo
	if p.flowSrc != nil && p.flows != nil {
		if flow, ok := p.flowSrc.FlowForSession(sessionID); ok {
			run, err := p.flows.Run(ctx, flow, sessionID, text, nil)
			if err != nil {
				logrus.WithError(err).Warnf("[PIPELINE] Flow %s failed for session %s, degrading to escalation reply", flow.ID, sessionID)
				return obtainedReply{Reply: domain.Reply{Text: config.AIOutageReply, Escalated: true}}
			}
			if run.Output != "" {
				return obtainedReply{Reply: domain.Reply{Text: run.Output}}
			}
			// El guion terminó sin texto final: delega la respuesta al
			// proveedor con el contexto que los plugins acumularon
			return p.chatReply(ctx, sessionID, text, run.Enrichments)
		}
	}

	return p.chatReply(ctx, sessionID, text, nil)
}

// chatReply pide la respuesta al router de proveedores. Los enrichments de
// plugins viajan anexados al system prompt global.
func (p *Pipeline) chatReply(ctx context.Context, sessionID, text string, enrichments []string) obtainedReply {
	history, err := p.messages.List(ctx, sessionID, config.AIHistoryLimit)
	if err != nil {
		logrus.WithError(err).Warnf("[PIPELINE] History read failed for session %s, continuing without it", sessionID)
	}

	req := engineDomain.ChatRequest{
		Provider:     config.AIDefaultProvider,
		Model:        config.AIModel,
		SystemPrompt: composeSystemPrompt(enrichments),
		History:      toChatTurns(history, text),
		UserText:     text,
		SessionID:    sessionID,
	}

	chatReply, err := p.router.Chat(ctx, req)
	if err != nil {
		// Caída dura: degradar con la respuesta de contingencia
		logrus.WithError(err).Errorf("[PIPELINE] All providers failed for session %s", sessionID)
		return obtainedReply{Reply: domain.Reply{Text: config.AIOutageReply, Escalated: true}}
	}

	return obtainedReply{
		Reply: domain.Reply{
			Text:      chatReply.Text,
			Provider:  chatReply.Provider,
			RequestID: chatReply.RequestID,
		},
		confidence: chatReply.Confidence,
	}
}

// composeSystemPrompt anexa los enrichments al prompt global, uno por línea
func composeSystemPrompt(enrichments []string) string {
	prompt := config.AIGlobalSystemPrompt
	if len(enrichments) == 0 {
		return prompt
	}
	extra := strings.Join(enrichments, "\n")
	if prompt == "" {
		return extra
	}
	return prompt + "\n\n" + extra
}

// escalate abre (una sola vez por sesión) el ticket en la bandeja humana.
// Un fallo del colaborador se loguea y no rompe la conversación.
func (p *Pipeline) escalate(ctx context.Context, sessionID, text string) {
	if _, already := p.escalated.LoadOrStore(sessionID, struct{}{}); already {
		return
	}
	if p.inbox == nil {
		return
	}

	ticket, err := p.inbox.UpsertFromUserMessage(ctx, sessionID, text)
	if err != nil {
		logrus.WithError(err).Errorf("[PIPELINE] Inbox handoff failed for session %s", sessionID)
		return
	}
	logrus.Infof("[PIPELINE] Session %s escalated to inbox ticket %s", sessionID, ticket.ID)
}

// List retorna el historial completo de una sesión
func (p *Pipeline) List(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return p.messages.List(ctx, sessionID, 0)
}

// toChatTurns convierte el historial persistido (que ya incluye el turno
// recién guardado del usuario) al formato del proveedor, excluyendo ese
// último turno porque viaja como UserText.
func toChatTurns(history []domain.Message, currentText string) []engineDomain.ChatTurn {
	if len(history) > 0 {
		last := history[len(history)-1]
		if last.Role == "user" && last.Text == currentText {
			history = history[:len(history)-1]
		}
	}

	turns := make([]engineDomain.ChatTurn, 0, len(history))
	for _, m := range history {
		turns = append(turns, engineDomain.ChatTurn{Role: m.Role, Text: m.Text})
	}
	return turns
}
