package rest

import (
	"strconv"

	"github.com/AzielCF/az-desk/pkg/utils"
	"github.com/AzielCF/az-desk/plugins"
	pluginsDomain "github.com/AzielCF/az-desk/plugins/domain"
	"github.com/gofiber/fiber/v2"
)

type Plugin struct {
	Registry *plugins.Registry
	Sink     pluginsDomain.AuditSink
}

func InitRestPlugin(app fiber.Router, registry *plugins.Registry, sink pluginsDomain.AuditSink) Plugin {
	handler := Plugin{Registry: registry, Sink: sink}

	app.Get("/plugins", handler.ListPlugins)
	app.Get("/plugins/audit", handler.ListAudit)

	return handler
}

func (h *Plugin) ListPlugins(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Plugins retrieved",
		Results: h.Registry.List(),
	})
}

// ListAudit devuelve el rastro de ejecuciones de acciones, más reciente primero.
func (h *Plugin) ListAudit(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	pluginID := c.Query("plugin_id")

	entries, err := h.Sink.List(c.UserContext(), pluginID, limit)
	if err != nil {
		return c.Status(500).JSON(utils.ResponseData{Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error()})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Audit trail retrieved",
		Results: entries,
	})
}
