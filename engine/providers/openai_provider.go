package providers

import (
	"context"
	"fmt"

	domain "github.com/AzielCF/az-desk/engine/domain"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

const DefaultOpenAIModel = "gpt-4.1-mini"

// OpenAIProvider is the adapter for the OpenAI API
type OpenAIProvider struct {
	apiKey       string
	defaultModel string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	if defaultModel == "" {
		defaultModel = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
	}
}

// Chat implements the AIProvider interface for OpenAI
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatReply, error) {
	if p.apiKey == "" {
		return domain.ChatReply{}, fmt.Errorf("openai provider has no API key")
	}

	client := openai.NewClient(
		option.WithAPIKey(p.apiKey),
	)

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	// System Prompt
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	// Historial
	for _, t := range req.History {
		if t.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}

	// Mensaje actual del usuario
	if req.UserText != "" {
		messages = append(messages, openai.UserMessage(req.UserText))
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.ChatReply{}, err
	}

	if len(completion.Choices) == 0 {
		return domain.ChatReply{}, fmt.Errorf("no response from openai")
	}

	logrus.WithFields(logrus.Fields{
		"session_id":    req.SessionID,
		"model":         model,
		"input_tokens":  completion.Usage.PromptTokens,
		"output_tokens": completion.Usage.CompletionTokens,
	}).Debug("[OPENAI] Chat completed")

	return domain.ChatReply{
		Text:      completion.Choices[0].Message.Content,
		RequestID: completion.ID,
	}, nil
}

// Probe verifica la credencial listando los modelos disponibles
func (p *OpenAIProvider) Probe(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("openai provider has no API key")
	}

	client := openai.NewClient(
		option.WithAPIKey(p.apiKey),
	)

	_, err := client.Models.List(ctx)
	return err
}
