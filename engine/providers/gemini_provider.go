package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/AzielCF/az-desk/engine/domain"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider is the adapter for the Google Gemini API
type GeminiProvider struct {
	apiKey       string
	defaultModel string
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey, defaultModel string) *GeminiProvider {
	if defaultModel == "" {
		defaultModel = DefaultGeminiModel
	}
	return &GeminiProvider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
	}
}

// Chat implementa la interfaz AIProvider enviando una petición a la API de Gemini
func (p *GeminiProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatReply, error) {
	if p.apiKey == "" {
		return domain.ChatReply{}, fmt.Errorf("gemini provider has no API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return domain.ChatReply{}, err
	}

	var genConfig *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		genConfig = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemPrompt, ""),
		}
	}

	// Historial
	var contents []*genai.Content
	for _, t := range req.History {
		role := genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		if t.Text != "" {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: t.Text}},
			})
		}
	}

	// Último mensaje del usuario
	if req.UserText != "" {
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: req.UserText}},
		})
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	result, err := p.generateContentWithRetry(ctx, client, model, contents, genConfig)
	if err != nil {
		return domain.ChatReply{}, err
	}

	if result == nil || len(result.Candidates) == 0 {
		return domain.ChatReply{}, fmt.Errorf("no response from gemini")
	}

	candidate := result.Candidates[0]

	// Extraer texto manualmente de las partes (más robusto que result.Text())
	var fullText string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			fullText += part.Text
		}
	}

	if result.UsageMetadata != nil {
		logrus.WithFields(logrus.Fields{
			"session_id":    req.SessionID,
			"model":         model,
			"input_tokens":  result.UsageMetadata.PromptTokenCount,
			"output_tokens": result.UsageMetadata.CandidatesTokenCount,
		}).Debug("[GEMINI] Chat completed")
	}

	return domain.ChatReply{
		Text:      fullText,
		RequestID: result.ResponseID,
	}, nil
}

// Probe verifica la credencial consultando el modelo por defecto
func (p *GeminiProvider) Probe(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("gemini provider has no API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return err
	}

	_, err = client.Models.Get(ctx, p.defaultModel, nil)
	return err
}

func (p *GeminiProvider) generateContentWithRetry(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for i := 0; i < 3; i++ {
		result, err := client.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			return result, nil
		}
		if strings.Contains(err.Error(), "503") {
			time.Sleep(time.Duration(1<<uint(i)) * time.Second)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("max retries exceeded")
}
