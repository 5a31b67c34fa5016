package engine

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-desk/engine/domain"
	"github.com/sirupsen/logrus"
)

// Router selecciona un proveedor por petición y recorre la cadena de
// fallback cuando el elegido falla. Cada proveedor de la cadena se
// intenta una sola vez; los reintentos por rate-limit viven dentro de
// cada proveedor, no aquí.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Chat intenta el proveedor solicitado (si viene en la petición y está
// registrado) y luego el orden de fallback configurado, retornando la
// primera respuesta exitosa. Si todos fallan retorna ErrProviderUnavailable.
func (r *Router) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatReply, error) {
	candidates := r.candidates(req.Provider)
	if len(candidates) == 0 {
		return domain.ChatReply{}, domain.ErrProviderUnavailable
	}

	var lastErr error
	for _, name := range candidates {
		if ctx.Err() != nil {
			// El timeout del caller aborta el intento en curso y cuenta
			// como fallo para efectos de fallback.
			lastErr = ctx.Err()
			break
		}

		p, err := r.registry.Get(name)
		if err != nil {
			logrus.Debugf("[ENGINE] Skipping unregistered provider %s", name)
			lastErr = err
			continue
		}

		reply, err := p.Chat(ctx, req)
		if err != nil {
			logrus.WithError(err).Warnf("[ENGINE] Provider %s failed, trying next in fallback order (session: %s)", name, req.SessionID)
			lastErr = err
			continue
		}

		reply.Provider = name
		return reply, nil
	}

	if lastErr != nil {
		return domain.ChatReply{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, lastErr)
	}
	return domain.ChatReply{}, domain.ErrProviderUnavailable
}

// candidates arma la lista ordenada de proveedores a intentar: el
// solicitado primero (si existe) y luego el fallback, sin duplicados.
func (r *Router) candidates(requested string) []string {
	var out []string
	seen := make(map[string]bool)

	if requested != "" {
		out = append(out, requested)
		seen[requested] = true
	}
	for _, name := range r.registry.FallbackOrder() {
		if !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	return out
}
