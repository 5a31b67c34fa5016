package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	domain "github.com/AzielCF/az-desk/engine/domain"
	"github.com/sirupsen/logrus"
)

// HTTPAPIProvider habla con un backend de IA genérico por HTTP/JSON.
// Es el proveedor de referencia para backends self-hosted que exponen
// un endpoint de chat compatible y reportan un puntaje de confianza.
type HTTPAPIProvider struct {
	baseURL     string
	apiKey      string
	maxAttempts int

	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

type httpChatPayload struct {
	Model        string            `json:"model,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	History      []domain.ChatTurn `json:"history,omitempty"`
	UserText     string            `json:"user_text"`
	SessionID    string            `json:"session_id,omitempty"`
}

type httpChatResult struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewHTTPAPIProvider creates a new generic HTTP provider
func NewHTTPAPIProvider(baseURL, apiKey string, maxAttempts int) *HTTPAPIProvider {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &HTTPAPIProvider{
		baseURL:     baseURL,
		apiKey:      apiKey,
		maxAttempts: maxAttempts,
		client:      &http.Client{Timeout: 60 * time.Second},
		sleep:       sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Chat implementa la interfaz AIProvider. Un 429 se reintenta respetando
// la cabecera Retry-After hasta agotar maxAttempts; cualquier otro fallo
// se propaga al router para que avance en la cadena de fallback.
func (p *HTTPAPIProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatReply, error) {
	if p.baseURL == "" {
		return domain.ChatReply{}, fmt.Errorf("http provider has no base URL")
	}

	payload := httpChatPayload{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		History:      req.History,
		UserText:     req.UserText,
		SessionID:    req.SessionID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ChatReply{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		reply, retryAfter, err := p.doChat(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if retryAfter < 0 {
			// No es rate limit, no tiene sentido insistir
			return domain.ChatReply{}, err
		}

		if attempt < p.maxAttempts {
			logrus.Warnf("[HTTP_PROVIDER] Rate limited, retrying in %s (attempt %d/%d)", retryAfter, attempt, p.maxAttempts)
			if err := p.sleep(ctx, retryAfter); err != nil {
				return domain.ChatReply{}, err
			}
		}
	}

	return domain.ChatReply{}, fmt.Errorf("rate limited after %d attempts: %w", p.maxAttempts, lastErr)
}

// doChat ejecuta una petición. retryAfter >= 0 indica respuesta 429 y el
// tiempo de espera sugerido; -1 indica fallo no reintentable.
func (p *HTTPAPIProvider) doChat(ctx context.Context, body []byte) (domain.ChatReply, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return domain.ChatReply{}, -1, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.ChatReply{}, -1, err
	}
	defer resp.Body.Close()

	requestID := resp.Header.Get("X-Request-ID")

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.ChatReply{}, parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("rate limited (request: %s)", requestID)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.ChatReply{}, -1, fmt.Errorf("http provider returned status %d: %s", resp.StatusCode, string(data))
	}

	var result httpChatResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.ChatReply{}, -1, fmt.Errorf("failed to decode http provider response: %w", err)
	}

	return domain.ChatReply{
		Text:       result.Text,
		Confidence: result.Confidence,
		RequestID:  requestID,
	}, 0, nil
}

// Probe hace un GET ligero al endpoint de salud del backend
func (p *HTTPAPIProvider) Probe(ctx context.Context) error {
	if p.baseURL == "" {
		return fmt.Errorf("http provider has no base URL")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http provider health returned status %d", resp.StatusCode)
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}
