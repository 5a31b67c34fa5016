package flows

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-desk/flows/domain"
	"github.com/sirupsen/logrus"
)

// maxSteps corta grafos con ciclos que validación estática no puede descartar
const maxSteps = 256

// Engine interpreta definiciones de flujo. Es stateless: todo el estado de
// una ejecución vive en el FlowRun que retorna.
type Engine struct {
	plugins domain.PluginRuntime
}

func NewEngine(plugins domain.PluginRuntime) *Engine {
	return &Engine{plugins: plugins}
}

// Validate verifica la estructura del grafo antes de ejecutar: exactamente
// un nodo start, aristas que referencian nodos existentes y al menos un end
// alcanzable desde start. Los problemas se detectan aquí, nunca a mitad de
// una ejecución.
func (e *Engine) Validate(flow domain.FlowDefinition) error {
	if len(flow.Nodes) == 0 {
		return fmt.Errorf("%w: flow %s has no nodes", domain.ErrInvalidFlow, flow.ID)
	}

	nodesByID := make(map[string]domain.Node, len(flow.Nodes))
	var startID string
	starts := 0
	for _, n := range flow.Nodes {
		if _, dup := nodesByID[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %s", domain.ErrInvalidFlow, n.ID)
		}
		nodesByID[n.ID] = n
		if n.Type == domain.NodeStart {
			starts++
			startID = n.ID
		}
	}
	if starts != 1 {
		return fmt.Errorf("%w: flow %s must have exactly one start node, found %d", domain.ErrInvalidFlow, flow.ID, starts)
	}

	for _, edge := range flow.Edges {
		if _, ok := nodesByID[edge.From]; !ok {
			return fmt.Errorf("%w: edge references unknown node %s", domain.ErrInvalidFlow, edge.From)
		}
		if _, ok := nodesByID[edge.To]; !ok {
			return fmt.Errorf("%w: edge references unknown node %s", domain.ErrInvalidFlow, edge.To)
		}
	}

	// Alcanzabilidad start → end considerando todas las aristas
	visited := map[string]bool{startID: true}
	queue := []string{startID}
	endReachable := false
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if nodesByID[current].Type == domain.NodeEnd {
			endReachable = true
		}
		for _, edge := range flow.Edges {
			if edge.From == current && !visited[edge.To] {
				visited[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}
	if !endReachable {
		return fmt.Errorf("%w: flow %s has no reachable end node", domain.ErrInvalidFlow, flow.ID)
	}

	return nil
}

// Run valida y ejecuta el flujo. Cada nodo visitado deja exactamente una
// entrada en la traza. Un plugin_action fallido sigue su arista "error" si
// existe; si no, la política OnError del flujo decide entre cortar (con
// traza parcial y el fallo propagado) o continuar por la arista normal.
func (e *Engine) Run(ctx context.Context, flow domain.FlowDefinition, sessionID, input string, vars map[string]any) (*domain.FlowRun, error) {
	if err := e.Validate(flow); err != nil {
		return nil, err
	}

	if vars == nil {
		vars = make(map[string]any)
	}
	run := &domain.FlowRun{SessionID: sessionID, Input: input, Vars: vars}

	nodesByID := make(map[string]domain.Node, len(flow.Nodes))
	var current domain.Node
	for _, n := range flow.Nodes {
		nodesByID[n.ID] = n
		if n.Type == domain.NodeStart {
			current = n
		}
	}

	for steps := 0; ; steps++ {
		if steps >= maxSteps {
			return run, fmt.Errorf("flow %s exceeded %d steps, aborting (cycle?)", flow.ID, maxSteps)
		}
		if ctx.Err() != nil {
			return run, ctx.Err()
		}

		switch current.Type {
		case domain.NodeStart:
			run.Trace = append(run.Trace, domain.TraceEntry{NodeID: current.ID, Outcome: "success"})

		case domain.NodeMessage:
			text, _ := current.Config["text"].(string)
			run.Vars["last_message"] = text
			run.Trace = append(run.Trace, domain.TraceEntry{
				NodeID:  current.ID,
				Outcome: "success",
				Data:    map[string]any{"text": text},
			})

		case domain.NodePluginAction:
			next, err := e.runPluginNode(ctx, flow, current, run)
			if err != nil {
				return run, err
			}
			current = nodesByID[next]
			continue

		case domain.NodeEnd:
			run.Trace = append(run.Trace, domain.TraceEntry{NodeID: current.ID, Outcome: "success"})
			run.Output = resolveOutput(current, run)
			return run, nil

		default:
			return run, fmt.Errorf("%w: unknown node type %q", domain.ErrInvalidFlow, current.Type)
		}

		next := nextEdge(flow, current.ID, false)
		if next == "" {
			return run, fmt.Errorf("flow %s dead-ends at node %s", flow.ID, current.ID)
		}
		current = nodesByID[next]
	}
}

// runPluginNode ejecuta un nodo plugin_action y decide el siguiente nodo.
// Un error retornado corta la ejecución en este nodo.
func (e *Engine) runPluginNode(ctx context.Context, flow domain.FlowDefinition, node domain.Node, run *domain.FlowRun) (string, error) {
	pluginID, _ := node.Config["plugin_id"].(string)
	action, _ := node.Config["action"].(string)
	input, _ := node.Config["input"].(map[string]any)

	outcome, invokeErr := e.plugins.InvokeAction(ctx, domain.ActionCall{
		PluginID:  pluginID,
		Action:    action,
		BotID:     flow.BotID,
		SessionID: run.SessionID,
		Input:     input,
	})
	if invokeErr == nil {
		run.Vars[node.ID] = outcome.Data
		run.Enrichments = append(run.Enrichments, outcome.Enrichments...)
		run.Trace = append(run.Trace, domain.TraceEntry{
			NodeID:  node.ID,
			Outcome: "success",
			Data:    outcome.Data,
		})
		next := nextEdge(flow, node.ID, false)
		if next == "" {
			return "", fmt.Errorf("flow %s dead-ends at node %s", flow.ID, node.ID)
		}
		return next, nil
	}

	logrus.WithError(invokeErr).Warnf("[FLOW] Node %s failed in flow %s", node.ID, flow.ID)
	run.Trace = append(run.Trace, domain.TraceEntry{
		NodeID:  node.ID,
		Outcome: "error",
		Data:    map[string]any{"error": invokeErr.Error()},
	})

	// 1. Arista de error explícita gana siempre
	if next := nextEdge(flow, node.ID, true); next != "" {
		return next, nil
	}

	// 2. Política continue: seguir por la arista normal como si nada
	if flow.OnError == domain.OnErrorContinue {
		if next := nextEdge(flow, node.ID, false); next != "" {
			return next, nil
		}
	}

	// 3. Default stop: traza parcial, sin output, fallo propagado
	run.Vars["flow_error"] = invokeErr.Error()
	return "", fmt.Errorf("flow %s stopped at node %s: %w", flow.ID, node.ID, invokeErr)
}

// nextEdge retorna la primera arista saliente que coincide con el modo:
// errored=true busca la arista etiquetada "error", errored=false la primera
// arista sin esa etiqueta, en el orden declarado del grafo.
func nextEdge(flow domain.FlowDefinition, from string, errored bool) string {
	for _, edge := range flow.Edges {
		if edge.From != from {
			continue
		}
		if errored == (edge.Label == domain.EdgeLabelError) {
			return edge.To
		}
	}
	return ""
}

func resolveOutput(end domain.Node, run *domain.FlowRun) string {
	if out, ok := end.Config["output"].(string); ok && out != "" {
		return out
	}
	if msg, ok := run.Vars["last_message"].(string); ok {
		return msg
	}
	return ""
}
