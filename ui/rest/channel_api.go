package rest

import (
	"errors"

	"github.com/AzielCF/az-desk/channels"
	channelsDomain "github.com/AzielCF/az-desk/channels/domain"
	"github.com/AzielCF/az-desk/pkg/utils"
	"github.com/AzielCF/az-desk/validations"
	"github.com/gofiber/fiber/v2"
)

type ChannelHandler struct {
	Router *channels.Router
}

func InitChannelAPI(app fiber.Router, router *channels.Router) ChannelHandler {
	handler := ChannelHandler{Router: router}

	app.Get("/channels", handler.ListChannels)
	app.Post("/channels/:id/ingest", handler.IngestMessage)
	app.Post("/channels/:id/dispatch", handler.DispatchMessage)
	app.Get("/delivery/stats", handler.GetDeliveryStats)

	return handler
}

func (h *ChannelHandler) ListChannels(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Channels retrieved",
		Results: h.Router.Adapters(),
	})
}

// IngestMessage recibe un mensaje entrante crudo de un canal y lo pasa
// por la canalización completa (normalización, dedup, sesión, respuesta).
func (h *ChannelHandler) IngestMessage(c *fiber.Ctx) error {
	channelID := c.Params("id")

	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "BAD_REQUEST", Message: err.Error()})
	}

	req := validations.IngestRequest{
		UserID:    stringField(payload, "user_id", "external_user_id"),
		Text:      stringField(payload, "text"),
		MessageID: stringField(payload, "message_id", "provider_message_id"),
	}
	utils.PanicIfNeeded(validations.ValidateIngestRequest(c.UserContext(), req))

	result, err := h.Router.Ingest(c.UserContext(), channelID, payload)
	if err != nil {
		status := 500
		code := "INTERNAL_SERVER_ERROR"
		switch {
		case errors.Is(err, channelsDomain.ErrUnknownChannel):
			status, code = 404, "CHANNEL_NOT_FOUND"
		case errors.Is(err, channelsDomain.ErrNormalization):
			status, code = 400, "INVALID_PAYLOAD"
		}
		return c.Status(status).JSON(utils.ResponseData{Status: status, Code: code, Message: err.Error()})
	}

	results := IngestResponse{
		SessionID: result.SessionID,
		Duplicate: result.Duplicate,
	}
	if result.Reply != nil {
		results.Reply = map[string]any{
			"text":      result.Reply.Text,
			"escalated": result.Reply.Escalated,
			"provider":  result.Reply.Provider,
		}
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message ingested",
		Results: results,
	})
}

// DispatchMessage encola un envío saliente hacia el canal indicado.
func (h *ChannelHandler) DispatchMessage(c *fiber.Ctx) error {
	channelID := c.Params("id")

	var request validations.DispatchRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "BAD_REQUEST", Message: err.Error()})
	}
	utils.PanicIfNeeded(validations.ValidateDispatchRequest(c.UserContext(), request))

	result := h.Router.DispatchToChannel(channelID, request.Target, request.Text)
	if !result.OK {
		return c.Status(422).JSON(utils.ResponseData{
			Status:  422,
			Code:    "DISPATCH_REJECTED",
			Message: "Channel cannot deliver outbound messages",
		})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message queued for delivery",
	})
}

func (h *ChannelHandler) GetDeliveryStats(c *fiber.Ctx) error {
	return c.JSON(h.Router.DeliveryStats())
}

func stringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
