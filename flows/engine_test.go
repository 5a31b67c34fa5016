package flows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AzielCF/az-desk/flows/domain"
)

// fakeRuntime simula el registro de plugins con resultados por acción
type fakeRuntime struct {
	results     map[string]map[string]any
	errs        map[string]error
	enrichments map[string][]string
	calls       []domain.ActionCall
}

func (f *fakeRuntime) InvokeAction(ctx context.Context, call domain.ActionCall) (domain.ActionOutcome, error) {
	key := call.PluginID + "." + call.Action
	f.calls = append(f.calls, call)
	if err, ok := f.errs[key]; ok {
		return domain.ActionOutcome{}, err
	}
	return domain.ActionOutcome{Data: f.results[key], Enrichments: f.enrichments[key]}, nil
}

func simpleFlow(onError string) domain.FlowDefinition {
	return domain.FlowDefinition{
		ID:      "welcome",
		BotID:   "bot-1",
		Version: 1,
		OnError: onError,
		Nodes: []domain.Node{
			{ID: "inicio", Type: domain.NodeStart},
			{ID: "plugin-node", Type: domain.NodePluginAction, Config: map[string]any{
				"plugin_id": "crm",
				"action":    "lookup",
				"input":     map[string]any{"user": "ext-1"},
			}},
			{ID: "fin", Type: domain.NodeEnd, Config: map[string]any{"output": "listo"}},
		},
		Edges: []domain.Edge{
			{From: "inicio", To: "plugin-node"},
			{From: "plugin-node", To: "fin"},
		},
	}
}

func TestRun_StartPluginEnd(t *testing.T) {
	rt := &fakeRuntime{results: map[string]map[string]any{
		"crm.lookup": {"customer": "ext-1"},
	}}
	engine := NewEngine(rt)

	run, err := engine.Run(context.Background(), simpleFlow(""), "s-1", "hola", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Output != "listo" {
		t.Errorf("expected output listo, got %q", run.Output)
	}
	if len(run.Trace) != 3 {
		t.Fatalf("expected 3 trace entries, got %d", len(run.Trace))
	}

	pluginEntry := run.Trace[1]
	if pluginEntry.NodeID != "plugin-node" || pluginEntry.Outcome != "success" {
		t.Errorf("expected plugin-node success, got %+v", pluginEntry)
	}
	if run.Vars["plugin-node"] == nil {
		t.Error("plugin result must be written into vars")
	}
}

func TestRun_FailedNodeStopsWithPartialTrace(t *testing.T) {
	rt := &fakeRuntime{errs: map[string]error{
		"crm.lookup": errors.New("crm unreachable"),
	}}
	engine := NewEngine(rt)

	run, err := engine.Run(context.Background(), simpleFlow(""), "s-1", "hola", nil)
	if err == nil {
		t.Fatal("expected failure to surface")
	}
	if run.Output != "" {
		t.Errorf("stopped run must not produce output, got %q", run.Output)
	}
	if len(run.Trace) != 2 {
		t.Fatalf("expected partial trace of 2 entries, got %d", len(run.Trace))
	}
	if run.Trace[1].Outcome != "error" {
		t.Errorf("expected error outcome, got %+v", run.Trace[1])
	}
}

func TestRun_ErrorEdgeRedirectsFailure(t *testing.T) {
	flow := simpleFlow("")
	flow.Nodes = append(flow.Nodes, domain.Node{
		ID: "disculpa", Type: domain.NodeMessage,
		Config: map[string]any{"text": "Tuvimos un problema, un agente te atenderá."},
	}, domain.Node{
		ID: "fin-error", Type: domain.NodeEnd,
	})
	flow.Edges = append(flow.Edges,
		domain.Edge{From: "plugin-node", To: "disculpa", Label: domain.EdgeLabelError},
		domain.Edge{From: "disculpa", To: "fin-error"},
	)

	rt := &fakeRuntime{errs: map[string]error{
		"crm.lookup": errors.New("crm unreachable"),
	}}
	engine := NewEngine(rt)

	run, err := engine.Run(context.Background(), flow, "s-1", "hola", nil)
	if err != nil {
		t.Fatalf("error edge must absorb the failure, got %v", err)
	}
	if run.Output != "Tuvimos un problema, un agente te atenderá." {
		t.Errorf("expected apology output, got %q", run.Output)
	}
	if run.Trace[1].Outcome != "error" {
		t.Errorf("failed node still records error outcome, got %+v", run.Trace[1])
	}
}

func TestRun_OnErrorContinuePolicy(t *testing.T) {
	rt := &fakeRuntime{errs: map[string]error{
		"crm.lookup": errors.New("crm unreachable"),
	}}
	engine := NewEngine(rt)

	run, err := engine.Run(context.Background(), simpleFlow(domain.OnErrorContinue), "s-1", "hola", nil)
	if err != nil {
		t.Fatalf("continue policy must reach the end, got %v", err)
	}
	if run.Output != "listo" {
		t.Errorf("expected output listo, got %q", run.Output)
	}
}

func TestValidate_RejectsBrokenGraphs(t *testing.T) {
	engine := NewEngine(&fakeRuntime{})

	cases := []struct {
		name string
		flow domain.FlowDefinition
	}{
		{"empty", domain.FlowDefinition{ID: "f"}},
		{"no start", domain.FlowDefinition{
			ID:    "f",
			Nodes: []domain.Node{{ID: "fin", Type: domain.NodeEnd}},
		}},
		{"two starts", domain.FlowDefinition{
			ID: "f",
			Nodes: []domain.Node{
				{ID: "a", Type: domain.NodeStart},
				{ID: "b", Type: domain.NodeStart},
				{ID: "fin", Type: domain.NodeEnd},
			},
		}},
		{"edge to unknown node", domain.FlowDefinition{
			ID: "f",
			Nodes: []domain.Node{
				{ID: "inicio", Type: domain.NodeStart},
				{ID: "fin", Type: domain.NodeEnd},
			},
			Edges: []domain.Edge{{From: "inicio", To: "fantasma"}},
		}},
		{"unreachable end", domain.FlowDefinition{
			ID: "f",
			Nodes: []domain.Node{
				{ID: "inicio", Type: domain.NodeStart},
				{ID: "isla", Type: domain.NodeMessage},
				{ID: "fin", Type: domain.NodeEnd},
			},
			Edges: []domain.Edge{{From: "isla", To: "fin"}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := engine.Validate(tc.flow); !errors.Is(err, domain.ErrInvalidFlow) {
				t.Errorf("expected ErrInvalidFlow, got %v", err)
			}
		})
	}
}

func TestRun_CycleHitsStepGuard(t *testing.T) {
	flow := domain.FlowDefinition{
		ID: "loop",
		Nodes: []domain.Node{
			{ID: "inicio", Type: domain.NodeStart},
			{ID: "eco", Type: domain.NodeMessage, Config: map[string]any{"text": "eco"}},
			{ID: "fin", Type: domain.NodeEnd},
		},
		Edges: []domain.Edge{
			{From: "inicio", To: "eco"},
			{From: "eco", To: "eco"},
			// fin existe y es alcanzable por la segunda arista de eco,
			// pero la primera coincidencia siempre gana
			{From: "eco", To: "fin"},
		},
	}

	engine := NewEngine(&fakeRuntime{})
	_, err := engine.Run(context.Background(), flow, "s-1", "hola", nil)
	if err == nil {
		t.Fatal("expected step guard to abort the cycle")
	}
}

func TestRun_MessageNodeFeedsEndOutput(t *testing.T) {
	flow := domain.FlowDefinition{
		ID: "saludo",
		Nodes: []domain.Node{
			{ID: "inicio", Type: domain.NodeStart},
			{ID: "msg", Type: domain.NodeMessage, Config: map[string]any{"text": "¡Bienvenido al soporte!"}},
			{ID: "fin", Type: domain.NodeEnd},
		},
		Edges: []domain.Edge{
			{From: "inicio", To: "msg"},
			{From: "msg", To: "fin"},
		},
	}

	engine := NewEngine(&fakeRuntime{})
	run, err := engine.Run(context.Background(), flow, "s-1", "hola", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Output != "¡Bienvenido al soporte!" {
		t.Errorf("end without explicit output must use last message, got %q", run.Output)
	}
}

func TestRun_SuccessfulPluginWithoutNormalEdgeDeadEnds(t *testing.T) {
	// plugin-node solo tiene arista de error: si la acción tiene éxito no
	// hay adónde seguir y el fallo debe nombrar el nodo, no el tipo vacío
	flow := domain.FlowDefinition{
		ID: "huerfano",
		Nodes: []domain.Node{
			{ID: "inicio", Type: domain.NodeStart},
			{ID: "plugin-node", Type: domain.NodePluginAction, Config: map[string]any{
				"plugin_id": "crm",
				"action":    "lookup",
			}},
			{ID: "fin", Type: domain.NodeEnd},
		},
		Edges: []domain.Edge{
			{From: "inicio", To: "plugin-node"},
			{From: "plugin-node", To: "fin", Label: domain.EdgeLabelError},
		},
	}

	rt := &fakeRuntime{results: map[string]map[string]any{
		"crm.lookup": {"customer": "ext-1"},
	}}
	engine := NewEngine(rt)

	run, err := engine.Run(context.Background(), flow, "s-1", "hola", nil)
	if err == nil {
		t.Fatal("expected dead-end error")
	}
	if !strings.Contains(err.Error(), "dead-ends at node plugin-node") {
		t.Errorf("error must name the dead-end node, got %v", err)
	}
	if errors.Is(err, domain.ErrInvalidFlow) {
		t.Errorf("dead-end at runtime must not masquerade as invalid definition, got %v", err)
	}
	if len(run.Trace) != 2 || run.Trace[1].Outcome != "success" {
		t.Errorf("successful node still records its trace entry, got %+v", run.Trace)
	}
}

func TestRun_CollectsEnrichmentsAndIdentity(t *testing.T) {
	rt := &fakeRuntime{
		results:     map[string]map[string]any{"crm.lookup": {"customer": "ext-1"}},
		enrichments: map[string][]string{"crm.lookup": {"customer tier: gold", "open orders: 2"}},
	}
	engine := NewEngine(rt)

	run, err := engine.Run(context.Background(), simpleFlow(""), "s-42", "hola", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(run.Enrichments) != 2 || run.Enrichments[0] != "customer tier: gold" {
		t.Errorf("run must carry the plugin enrichments in order, got %v", run.Enrichments)
	}
	if len(rt.calls) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(rt.calls))
	}
	call := rt.calls[0]
	if call.BotID != "bot-1" || call.SessionID != "s-42" {
		t.Errorf("invocation must carry bot and session identity, got %+v", call)
	}
}
