package rest

import (
	"context"

	pipelineDomain "github.com/AzielCF/az-desk/pipeline/domain"
	"github.com/AzielCF/az-desk/pkg/utils"
	"github.com/AzielCF/az-desk/validations"
	"github.com/gofiber/fiber/v2"
)

// ConversationService es la porción del pipeline que usa el transporte REST.
type ConversationService interface {
	HandleUserMessage(ctx context.Context, sessionID, text string) (pipelineDomain.Reply, error)
	List(ctx context.Context, sessionID string) ([]pipelineDomain.Message, error)
}

type Message struct {
	Service ConversationService
}

func InitRestMessage(app fiber.Router, service ConversationService) Message {
	rest := Message{Service: service}

	app.Post("/sessions/:id/messages", rest.PostMessage)
	app.Get("/sessions/:id/messages", rest.ListMessages)
	return rest
}

func (controller *Message) PostMessage(c *fiber.Ctx) error {
	var request validations.SessionMessageRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "BAD_REQUEST", Message: err.Error()})
	}
	utils.PanicIfNeeded(validations.ValidateSessionMessage(c.UserContext(), request))

	reply, err := controller.Service.HandleUserMessage(c.UserContext(), c.Params("id"), request.Text)
	if err != nil {
		return c.Status(500).JSON(utils.ResponseData{Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error()})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message processed",
		Results: map[string]any{
			"text":       reply.Text,
			"escalated":  reply.Escalated,
			"provider":   reply.Provider,
			"request_id": reply.RequestID,
		},
	})
}

func (controller *Message) ListMessages(c *fiber.Ctx) error {
	msgs, err := controller.Service.List(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(utils.ResponseData{Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error()})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session history retrieved",
		Results: msgs,
	})
}
