package rest

import (
	"github.com/AzielCF/az-desk/engine"
	"github.com/AzielCF/az-desk/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Health struct {
	Registry *engine.Registry
}

func InitRestHealth(app fiber.Router, registry *engine.Registry) Health {
	handler := Health{Registry: registry}

	app.Get("/health", handler.GetStatus)
	app.Get("/providers/health", handler.GetProvidersHealth)

	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Service is healthy",
		Results: map[string]any{
			"providers": h.Registry.Names(),
		},
	})
}

// GetProvidersHealth sondea todos los proveedores registrados en paralelo.
// Un proveedor caído aparece con ok=false, nunca tumba el endpoint.
func (h *Health) GetProvidersHealth(c *fiber.Ctx) error {
	records := h.Registry.Health(c.UserContext())
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Provider health retrieved",
		Results: records,
	})
}
