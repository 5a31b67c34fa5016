package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AzielCF/az-desk/config"
	engineDomain "github.com/AzielCF/az-desk/engine/domain"
	flowsDomain "github.com/AzielCF/az-desk/flows/domain"
	"github.com/AzielCF/az-desk/pipeline/domain"
	"github.com/AzielCF/az-desk/pipeline/repository"
)

type fakeChatRouter struct {
	mu      sync.Mutex
	reply   engineDomain.ChatReply
	err     error
	calls   int
	lastReq engineDomain.ChatRequest
}

func (f *fakeChatRouter) Chat(ctx context.Context, req engineDomain.ChatRequest) (engineDomain.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return engineDomain.ChatReply{}, f.err
	}
	return f.reply, nil
}

type countingInbox struct {
	mu      sync.Mutex
	upserts int
}

func (i *countingInbox) UpsertFromUserMessage(ctx context.Context, sessionID, text string) (domain.Ticket, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.upserts++
	return domain.Ticket{ID: "t-1", SessionID: sessionID, Status: "open"}, nil
}

func (i *countingInbox) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.upserts
}

func confidence(v float64) *float64 { return &v }

func TestHandleUserMessage_HappyPath(t *testing.T) {
	router := &fakeChatRouter{reply: engineDomain.ChatReply{
		Text: "con gusto le ayudo", Provider: "openai", RequestID: "r-1", Confidence: confidence(0.9),
	}}
	store := repository.NewMemoryMessageStore()
	p := New(router, nil, nil, store, &countingInbox{})

	reply, err := p.HandleUserMessage(context.Background(), "s-1", "necesito ayuda")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "con gusto le ayudo" || reply.Escalated {
		t.Errorf("unexpected reply %+v", reply)
	}
	if reply.Provider != "openai" || reply.RequestID != "r-1" {
		t.Errorf("reply must surface provider metadata, got %+v", reply)
	}

	msgs, _ := p.List(context.Background(), "s-1")
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("unexpected roles %s/%s", msgs[0].Role, msgs[1].Role)
	}
}

func TestHandleUserMessage_ProviderOutageDegradesGracefully(t *testing.T) {
	router := &fakeChatRouter{err: errors.New("all providers down")}
	inbox := &countingInbox{}
	p := New(router, nil, nil, repository.NewMemoryMessageStore(), inbox)

	reply, err := p.HandleUserMessage(context.Background(), "s-1", "hola")
	if err != nil {
		t.Fatalf("provider outage must not surface as error, got %v", err)
	}
	if reply.Text != config.AIOutageReply {
		t.Errorf("expected outage reply, got %q", reply.Text)
	}
	if !reply.Escalated {
		t.Error("outage reply must be marked escalated")
	}

	msgs, _ := p.List(context.Background(), "s-1")
	if len(msgs) != 2 || msgs[1].Text != config.AIOutageReply {
		t.Errorf("outage reply must still be persisted, got %+v", msgs)
	}
}

func TestHandleUserMessage_LowConfidenceEscalatesOnce(t *testing.T) {
	router := &fakeChatRouter{reply: engineDomain.ChatReply{
		Text: "creo que tal vez...", Confidence: confidence(0.2),
	}}
	inbox := &countingInbox{}
	p := New(router, nil, nil, repository.NewMemoryMessageStore(), inbox)
	ctx := context.Background()

	reply, err := p.HandleUserMessage(ctx, "s-1", "pregunta rara")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != config.AIEscalationReply || !reply.Escalated {
		t.Errorf("low confidence must swap to escalation reply, got %+v", reply)
	}
	if inbox.count() != 1 {
		t.Fatalf("expected exactly 1 ticket upsert, got %d", inbox.count())
	}

	// Más mensajes de baja confianza en la misma sesión no abren otro ticket
	if _, err := p.HandleUserMessage(ctx, "s-1", "otra pregunta rara"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inbox.count() != 1 {
		t.Errorf("same session must keep a single ticket, got %d upserts", inbox.count())
	}

	// Otra sesión sí abre el suyo
	if _, err := p.HandleUserMessage(ctx, "s-2", "pregunta rara"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inbox.count() != 2 {
		t.Errorf("second session must open its own ticket, got %d upserts", inbox.count())
	}
}

func TestHandleUserMessage_ConfidenceAtThresholdDoesNotEscalate(t *testing.T) {
	router := &fakeChatRouter{reply: engineDomain.ChatReply{
		Text: "respuesta firme", Confidence: confidence(config.AIHandoffThreshold),
	}}
	inbox := &countingInbox{}
	p := New(router, nil, nil, repository.NewMemoryMessageStore(), inbox)

	reply, err := p.HandleUserMessage(context.Background(), "s-1", "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Escalated {
		t.Error("confidence at threshold must not escalate")
	}
	if inbox.count() != 0 {
		t.Errorf("expected no tickets, got %d", inbox.count())
	}
}

func TestHandleUserMessage_NoConfidenceNoEscalation(t *testing.T) {
	router := &fakeChatRouter{reply: engineDomain.ChatReply{Text: "sin puntaje"}}
	inbox := &countingInbox{}
	p := New(router, nil, nil, repository.NewMemoryMessageStore(), inbox)

	reply, err := p.HandleUserMessage(context.Background(), "s-1", "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Escalated || inbox.count() != 0 {
		t.Errorf("missing confidence must not trigger handoff, got %+v", reply)
	}
}

func TestHandleUserMessage_HistoryExcludesCurrentTurn(t *testing.T) {
	router := &fakeChatRouter{reply: engineDomain.ChatReply{Text: "ok"}}
	p := New(router, nil, nil, repository.NewMemoryMessageStore(), &countingInbox{})
	ctx := context.Background()

	if _, err := p.HandleUserMessage(ctx, "s-1", "primer mensaje"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.HandleUserMessage(ctx, "s-1", "segundo mensaje"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router.mu.Lock()
	req := router.lastReq
	router.mu.Unlock()

	if req.UserText != "segundo mensaje" {
		t.Errorf("expected current text in UserText, got %q", req.UserText)
	}
	for _, turn := range req.History {
		if turn.Text == "segundo mensaje" {
			t.Error("current turn must not be duplicated into history")
		}
	}
	if len(req.History) != 2 {
		t.Errorf("expected prior user+assistant turns, got %d", len(req.History))
	}
}

type staticFlowSource struct {
	flow flowsDomain.FlowDefinition
}

func (s staticFlowSource) FlowForSession(sessionID string) (flowsDomain.FlowDefinition, bool) {
	return s.flow, true
}

type fakeFlowRunner struct {
	output      string
	enrichments []string
	err         error

	mu          sync.Mutex
	lastSession string
}

func (f *fakeFlowRunner) Run(ctx context.Context, flow flowsDomain.FlowDefinition, sessionID, input string, vars map[string]any) (*flowsDomain.FlowRun, error) {
	f.mu.Lock()
	f.lastSession = sessionID
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &flowsDomain.FlowRun{
		SessionID:   sessionID,
		Input:       input,
		Output:      f.output,
		Enrichments: f.enrichments,
	}, nil
}

func TestHandleUserMessage_FlowTakesPrecedence(t *testing.T) {
	router := &fakeChatRouter{reply: engineDomain.ChatReply{Text: "no deberías verme"}}
	runner := &fakeFlowRunner{output: "respuesta del guion"}
	p := New(router, runner, staticFlowSource{}, repository.NewMemoryMessageStore(), &countingInbox{})

	reply, err := p.HandleUserMessage(context.Background(), "s-1", "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "respuesta del guion" {
		t.Errorf("flow output must win, got %q", reply.Text)
	}
	if router.calls != 0 {
		t.Errorf("provider router must not be called when a flow exists, got %d calls", router.calls)
	}
	if runner.lastSession != "s-1" {
		t.Errorf("flow run must receive the session id, got %q", runner.lastSession)
	}
}

func TestHandleUserMessage_FlowFailureDegrades(t *testing.T) {
	p := New(&fakeChatRouter{}, &fakeFlowRunner{err: errors.New("node exploded")}, staticFlowSource{}, repository.NewMemoryMessageStore(), &countingInbox{})

	reply, err := p.HandleUserMessage(context.Background(), "s-1", "hola")
	if err != nil {
		t.Fatalf("flow failure must not surface as error, got %v", err)
	}
	if reply.Text != config.AIOutageReply || !reply.Escalated {
		t.Errorf("expected degraded reply, got %+v", reply)
	}
}

func TestHandleUserMessage_FlowEnrichmentsReachProvider(t *testing.T) {
	oldPrompt := config.AIGlobalSystemPrompt
	config.AIGlobalSystemPrompt = "Eres un asistente de soporte."
	defer func() { config.AIGlobalSystemPrompt = oldPrompt }()

	// Guion sin texto final: delega al proveedor con lo que juntaron los plugins
	router := &fakeChatRouter{reply: engineDomain.ChatReply{Text: "su pedido llega mañana"}}
	runner := &fakeFlowRunner{enrichments: []string{"customer tier: gold", "open orders: 2"}}
	p := New(router, runner, staticFlowSource{}, repository.NewMemoryMessageStore(), &countingInbox{})

	reply, err := p.HandleUserMessage(context.Background(), "s-1", "dónde está mi pedido")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "su pedido llega mañana" {
		t.Errorf("provider reply must surface, got %q", reply.Text)
	}
	if router.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", router.calls)
	}

	wantPrompt := "Eres un asistente de soporte.\n\ncustomer tier: gold\nopen orders: 2"
	if router.lastReq.SystemPrompt != wantPrompt {
		t.Errorf("enrichments must travel in the system prompt:\nwant %q\ngot  %q", wantPrompt, router.lastReq.SystemPrompt)
	}
	if router.lastReq.UserText != "dónde está mi pedido" {
		t.Errorf("user text must stay intact, got %q", router.lastReq.UserText)
	}
}
