package flows

import (
	"testing"

	"github.com/AzielCF/az-desk/flows/domain"
)

func TestMemorySource_DefaultAndAssignments(t *testing.T) {
	src := NewMemorySource()

	if _, ok := src.FlowForSession("s-1"); ok {
		t.Fatal("empty source must not resolve a flow")
	}

	src.Put(domain.FlowDefinition{ID: "bienvenida"})
	src.Put(domain.FlowDefinition{ID: "facturacion"})
	src.SetDefault("bienvenida")

	flow, ok := src.FlowForSession("s-1")
	if !ok || flow.ID != "bienvenida" {
		t.Fatalf("expected default flow, got %q (ok=%v)", flow.ID, ok)
	}

	src.AssignSession("s-2", "facturacion")
	flow, ok = src.FlowForSession("s-2")
	if !ok || flow.ID != "facturacion" {
		t.Fatalf("expected assigned flow, got %q (ok=%v)", flow.ID, ok)
	}

	// Asignación a un flujo inexistente no resuelve nada
	src.AssignSession("s-3", "no-existe")
	if _, ok := src.FlowForSession("s-3"); ok {
		t.Error("assignment to a missing flow must not resolve")
	}
}
