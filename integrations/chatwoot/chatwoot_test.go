package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/AzielCF/az-desk/config"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

func setupGlobalConfig(t *testing.T) {
	t.Helper()
	origEnabled, origURL := config.ChatwootEnabled, config.ChatwootBaseURL
	origAcc, origInbox, origToken := config.ChatwootAccountID, config.ChatwootInboxID, config.ChatwootAccountToken
	origStorages := config.PathStorages
	t.Cleanup(func() {
		config.ChatwootEnabled, config.ChatwootBaseURL = origEnabled, origURL
		config.ChatwootAccountID, config.ChatwootInboxID, config.ChatwootAccountToken = origAcc, origInbox, origToken
		config.PathStorages = origStorages
	})

	config.ChatwootEnabled = true
	config.ChatwootBaseURL = "https://chatwoot.test"
	config.ChatwootAccountID = 1
	config.ChatwootInboxID = 2
	config.ChatwootAccountToken = "acc-token"
	// Sin base de canales: fuerza el fallback a la config global
	config.PathStorages = t.TempDir()
}

func resetContactCache(t *testing.T) {
	t.Helper()
	contactCacheMu.Lock()
	contactCache = make(map[string]cachedContact)
	contactCacheMu.Unlock()
}

func overrideTransport(t *testing.T, fn roundTripperFunc) {
	t.Helper()
	origClient := httpClient
	t.Cleanup(func() { httpClient = origClient })
	httpClient = &http.Client{Transport: fn}
}

func TestUpsertFromUserMessage_CreatesContactConversationAndMessage(t *testing.T) {
	setupGlobalConfig(t)
	resetContactCache(t)

	var (
		gotToken     string
		searchCalls  int
		createBody   []byte
		messageBody  []byte
		messageURL   string
		createdConvo bool
	)

	overrideTransport(t, func(req *http.Request) (*http.Response, error) {
		gotToken = req.Header.Get("api_access_token")
		path := req.URL.Path

		switch {
		case strings.HasSuffix(path, "/contacts/search"):
			searchCalls++
			return jsonResponse(http.StatusOK, `{"payload":[]}`), nil
		case strings.HasSuffix(path, "/contacts") && req.Method == http.MethodPost:
			createBody, _ = io.ReadAll(req.Body)
			return jsonResponse(http.StatusOK, `{"payload":{"contact":{"id":77,"contact_inboxes":[{"source_id":"src-77"}]}}}`), nil
		case strings.HasSuffix(path, "/contacts/77/conversations"):
			return jsonResponse(http.StatusOK, `{"payload":[]}`), nil
		case strings.HasSuffix(path, "/conversations") && req.Method == http.MethodPost:
			createdConvo = true
			return jsonResponse(http.StatusOK, `{"id":555}`), nil
		case strings.Contains(path, "/conversations/555/messages"):
			messageURL = req.URL.String()
			messageBody, _ = io.ReadAll(req.Body)
			return jsonResponse(http.StatusOK, `{}`), nil
		}
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL)
		return nil, nil
	})

	svc := NewService("webchat")
	ticket, err := svc.UpsertFromUserMessage(context.Background(), "sess-abc-123", "no entiendo la factura")
	if err != nil {
		t.Fatalf("UpsertFromUserMessage() unexpected error: %v", err)
	}

	if ticket.ID != "555" || ticket.SessionID != "sess-abc-123" || ticket.Status != "open" {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	if gotToken != "acc-token" {
		t.Fatalf("expected account token, got %q", gotToken)
	}
	if searchCalls != 1 {
		t.Fatalf("expected 1 contact search, got %d", searchCalls)
	}
	if !createdConvo {
		t.Fatal("expected a conversation to be created")
	}

	var contact map[string]interface{}
	if err := json.Unmarshal(createBody, &contact); err != nil {
		t.Fatalf("failed to unmarshal contact body: %v", err)
	}
	if v, ok := contact["identifier"].(string); !ok || v != "sess-abc-123" {
		t.Fatalf("contact identifier must be the session id, got %#v", contact["identifier"])
	}

	wantURL := "https://chatwoot.test/api/v1/accounts/1/conversations/555/messages"
	if messageURL != wantURL {
		t.Fatalf("unexpected message URL: got %q, want %q", messageURL, wantURL)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(messageBody, &payload); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}
	if v, ok := payload["content"].(string); !ok || v != "no entiendo la factura" {
		t.Fatalf("unexpected content: %#v", payload["content"])
	}
	if v, ok := payload["message_type"].(float64); !ok || v != 0 {
		t.Fatalf("expected message_type 0 (incoming), got %#v", payload["message_type"])
	}
}

func TestUpsertFromUserMessage_ReusesOpenConversation(t *testing.T) {
	setupGlobalConfig(t)
	resetContactCache(t)

	var createConvoCalls int

	overrideTransport(t, func(req *http.Request) (*http.Response, error) {
		path := req.URL.Path
		switch {
		case strings.HasSuffix(path, "/contacts/search"):
			return jsonResponse(http.StatusOK, `{"payload":[{"id":77,"contact_inboxes":[{"source_id":"src-77","inbox":{"id":2}}]}]}`), nil
		case strings.HasSuffix(path, "/contacts/77/conversations"):
			// resolved=otra bandeja, open=la nuestra
			return jsonResponse(http.StatusOK, `{"payload":[{"id":400,"inbox_id":9,"status":"open"},{"id":401,"inbox_id":2,"status":"open"}]}`), nil
		case strings.HasSuffix(path, "/conversations") && req.Method == http.MethodPost:
			createConvoCalls++
			return jsonResponse(http.StatusOK, `{"id":999}`), nil
		case strings.Contains(path, "/conversations/401/messages"):
			return jsonResponse(http.StatusOK, `{}`), nil
		}
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL)
		return nil, nil
	})

	svc := NewService("webchat")
	ticket, err := svc.UpsertFromUserMessage(context.Background(), "sess-reuse", "sigo esperando")
	if err != nil {
		t.Fatalf("UpsertFromUserMessage() unexpected error: %v", err)
	}
	if ticket.ID != "401" {
		t.Fatalf("expected open conversation 401 to be reused, got %q", ticket.ID)
	}
	if createConvoCalls != 0 {
		t.Fatalf("must not create a conversation when one is open, got %d creates", createConvoCalls)
	}
}

func TestUpsertFromUserMessage_ContactCacheSkipsSearch(t *testing.T) {
	setupGlobalConfig(t)
	resetContactCache(t)
	setCachedContact("webchat", "sess-cached", 77, "src-77")

	var searchCalls int
	overrideTransport(t, func(req *http.Request) (*http.Response, error) {
		path := req.URL.Path
		switch {
		case strings.HasSuffix(path, "/contacts/search"):
			searchCalls++
			return jsonResponse(http.StatusOK, `{"payload":[]}`), nil
		case strings.HasSuffix(path, "/contacts/77/conversations"):
			return jsonResponse(http.StatusOK, `{"payload":[{"id":10,"inbox_id":2,"status":"open"}]}`), nil
		case strings.Contains(path, "/conversations/10/messages"):
			return jsonResponse(http.StatusOK, `{}`), nil
		}
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL)
		return nil, nil
	})

	svc := NewService("webchat")
	if _, err := svc.UpsertFromUserMessage(context.Background(), "sess-cached", "hola"); err != nil {
		t.Fatalf("UpsertFromUserMessage() unexpected error: %v", err)
	}
	if searchCalls != 0 {
		t.Fatalf("cached contact must skip the search API, got %d searches", searchCalls)
	}
}

func TestUpsertFromUserMessage_ContactRaceRetriesSearch(t *testing.T) {
	setupGlobalConfig(t)
	resetContactCache(t)

	var searchCalls int
	overrideTransport(t, func(req *http.Request) (*http.Response, error) {
		path := req.URL.Path
		switch {
		case strings.HasSuffix(path, "/contacts/search"):
			searchCalls++
			if searchCalls == 1 {
				// Primera búsqueda: otro nodo aún no lo creó
				return jsonResponse(http.StatusOK, `{"payload":[]}`), nil
			}
			return jsonResponse(http.StatusOK, `{"payload":[{"id":88,"contact_inboxes":[{"source_id":"src-88","inbox":{"id":2}}]}]}`), nil
		case strings.HasSuffix(path, "/contacts") && req.Method == http.MethodPost:
			return jsonResponse(http.StatusUnprocessableEntity, `{"message":"Identifier has already been taken"}`), nil
		case strings.HasSuffix(path, "/contacts/88/conversations"):
			return jsonResponse(http.StatusOK, `{"payload":[{"id":20,"inbox_id":2,"status":"pending"}]}`), nil
		case strings.Contains(path, "/conversations/20/messages"):
			return jsonResponse(http.StatusOK, `{}`), nil
		}
		t.Fatalf("unexpected request: %s %s", req.Method, req.URL)
		return nil, nil
	})

	svc := NewService("webchat")
	ticket, err := svc.UpsertFromUserMessage(context.Background(), "sess-race", "hola")
	if err != nil {
		t.Fatalf("UpsertFromUserMessage() unexpected error: %v", err)
	}
	if ticket.ID != "20" {
		t.Fatalf("expected conversation 20 after race retry, got %q", ticket.ID)
	}
	if searchCalls != 2 {
		t.Fatalf("expected search retry after 'already been taken', got %d searches", searchCalls)
	}
}

func TestUpsertFromUserMessage_DisabledConfig(t *testing.T) {
	setupGlobalConfig(t)
	resetContactCache(t)
	config.ChatwootEnabled = false

	svc := NewService("webchat")
	if _, err := svc.UpsertFromUserMessage(context.Background(), "sess-off", "hola"); err == nil {
		t.Fatal("expected error when chatwoot is not configured")
	}
}

func TestUpsertFromUserMessage_EmptySessionID(t *testing.T) {
	svc := NewService("webchat")
	if _, err := svc.UpsertFromUserMessage(context.Background(), "  ", "hola"); err == nil {
		t.Fatal("expected error for empty session id")
	}
}
