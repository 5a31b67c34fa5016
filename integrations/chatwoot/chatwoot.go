package chatwoot

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AzielCF/az-desk/config"
	"github.com/AzielCF/az-desk/pipeline/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// --- CONFIG & CACHE ---

const (
	httpTimeout     = 15 * time.Second
	contactCacheTTL = 5 * time.Minute
)

var (
	httpClient     = &http.Client{Timeout: httpTimeout}
	contactCacheMu sync.RWMutex
	contactCache   = make(map[string]cachedContact)
)

type chatwootConfig struct {
	ChannelID    string
	BaseURL      string
	AccountID    int64
	InboxID      int64
	AccountToken string
}

type cachedContact struct {
	ContactID int64
	SourceID  string
	ExpiresAt time.Time
}

// Service implementa la bandeja humana sobre la API de Chatwoot: asegura
// el contacto de la sesión, reutiliza (o abre) la conversación y publica
// el mensaje que disparó el handoff.
type Service struct {
	channelID string
}

func NewService(channelID string) *Service {
	return &Service{channelID: channelID}
}

// --- MAIN FUNCTION ---

// UpsertFromUserMessage abre o reutiliza el ticket de Chatwoot de una
// sesión escalada y le adjunta el texto del usuario.
func (s *Service) UpsertFromUserMessage(ctx context.Context, sessionID, text string) (domain.Ticket, error) {
	sessionID, text = strings.TrimSpace(sessionID), strings.TrimSpace(text)
	if sessionID == "" {
		return domain.Ticket{}, fmt.Errorf("chatwoot upsert requires a session id")
	}

	cfg, err := loadChannelConfig(ctx, s.channelID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("chatwoot config load failed: %w", err)
	}
	if cfg == nil {
		return domain.Ticket{}, fmt.Errorf("chatwoot is not configured for channel %s", s.channelID)
	}

	// Gestionar Contacto y Conversación
	contactID, sourceID, err := ensureContact(ctx, cfg, sessionID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("chatwoot ensure contact failed: %w", err)
	}

	convID, err := upsertConversation(ctx, cfg, contactID, sourceID)
	if err != nil {
		return domain.Ticket{}, err
	}

	if text != "" {
		if err := postMessage(ctx, cfg, convID, text); err != nil {
			return domain.Ticket{}, err
		}
	}

	return domain.Ticket{
		ID:        strconv.FormatInt(convID, 10),
		SessionID: sessionID,
		Status:    "open",
		CreatedAt: time.Now().UTC(),
	}, nil
}

// --- LOGIC: CONFIG LOADING ---

// loadChannelConfig busca configuración por canal en la base de canales y
// cae a la configuración global cuando el canal no tiene fila propia.
func loadChannelConfig(ctx context.Context, channelID string) (*chatwootConfig, error) {
	if cfg := loadChannelConfigFromDB(ctx, channelID); cfg != nil {
		return cfg, nil
	}

	if !config.ChatwootEnabled {
		return nil, nil
	}

	cfg := &chatwootConfig{
		ChannelID:    channelID,
		BaseURL:      strings.TrimRight(strings.TrimSpace(config.ChatwootBaseURL), "/"),
		AccountID:    config.ChatwootAccountID,
		InboxID:      config.ChatwootInboxID,
		AccountToken: strings.TrimSpace(config.ChatwootAccountToken),
	}
	if cfg.BaseURL == "" || cfg.AccountToken == "" || cfg.AccountID <= 0 || cfg.InboxID <= 0 {
		logrus.Debugf("[CHATWOOT] incomplete global config, inbox disabled")
		return nil, nil
	}
	return cfg, nil
}

func loadChannelConfigFromDB(ctx context.Context, channelID string) *chatwootConfig {
	dbPath := fmt.Sprintf("%s/channels.db", config.PathStorages)
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", dbPath))
	if err != nil {
		return nil
	}
	defer db.Close()

	var baseURL, accID, inboxID, accToken sql.NullString
	query := `SELECT chatwoot_base_url, chatwoot_account_id, chatwoot_inbox_id, chatwoot_account_token FROM channels WHERE id = ?`
	if err := db.QueryRowContext(ctx, query, channelID).Scan(&baseURL, &accID, &inboxID, &accToken); err != nil {
		if err != sql.ErrNoRows {
			logrus.WithError(err).Debugf("[CHATWOOT] channel %s has no per-channel config", channelID)
		}
		return nil
	}

	cfg := &chatwootConfig{
		ChannelID:    channelID,
		BaseURL:      strings.TrimRight(strings.TrimSpace(baseURL.String), "/"),
		AccountToken: strings.TrimSpace(accToken.String),
	}
	if cfg.BaseURL == "" || cfg.AccountToken == "" {
		return nil
	}

	cfg.AccountID, _ = strconv.ParseInt(strings.TrimSpace(accID.String), 10, 64)
	cfg.InboxID, _ = strconv.ParseInt(strings.TrimSpace(inboxID.String), 10, 64)
	if cfg.AccountID <= 0 || cfg.InboxID <= 0 {
		return nil
	}
	return cfg
}

// --- LOGIC: CONTACT MANAGEMENT ---

// ensureContact resuelve el contacto de Chatwoot que representa a la
// sesión, usando el sessionID como identifier estable.
func ensureContact(ctx context.Context, cfg *chatwootConfig, sessionID string) (int64, string, error) {
	// 1. Cache Check
	if id, src, ok := getCachedContact(cfg.ChannelID, sessionID); ok {
		logrus.Debugf("[CHATWOOT] contact cache hit: %s", sessionID)
		return id, src, nil
	}

	// 2. Search API
	if id, src, err := findContactBySession(ctx, cfg, sessionID); err == nil && id > 0 {
		setCachedContact(cfg.ChannelID, sessionID, id, src)
		return id, src, nil
	}

	// 3. Create API
	logrus.Infof("[CHATWOOT] creating contact for session %s", sessionID)
	req := map[string]interface{}{
		"inbox_id":   cfg.InboxID,
		"name":       "Visitante " + shortSessionLabel(sessionID),
		"identifier": sessionID,
	}

	var resp struct {
		Payload struct {
			Contact struct {
				ID             int64 `json:"id"`
				ContactInboxes []struct {
					SourceID string `json:"source_id"`
				} `json:"contact_inboxes"`
			} `json:"contact"`
			ContactInbox struct {
				SourceID string `json:"source_id"`
			} `json:"contact_inbox"`
		} `json:"payload"`
	}

	err := jsonRequest(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/accounts/%d/contacts", cfg.BaseURL, cfg.AccountID), cfg.AccountToken, req, &resp)
	if err != nil {
		// Retry if taken (carrera entre dos escalamientos concurrentes)
		if strings.Contains(err.Error(), "already been taken") {
			if id, src, errSearch := findContactBySession(ctx, cfg, sessionID); errSearch == nil && id > 0 {
				setCachedContact(cfg.ChannelID, sessionID, id, src)
				return id, src, nil
			}
		}
		return 0, "", err
	}

	contact := resp.Payload.Contact
	if contact.ID == 0 {
		return 0, "", fmt.Errorf("chatwoot created contact has no ID")
	}

	srcID := sessionID
	if s := strings.TrimSpace(resp.Payload.ContactInbox.SourceID); s != "" {
		srcID = s
	} else if len(contact.ContactInboxes) > 0 && contact.ContactInboxes[0].SourceID != "" {
		srcID = contact.ContactInboxes[0].SourceID
	}

	setCachedContact(cfg.ChannelID, sessionID, contact.ID, srcID)
	return contact.ID, srcID, nil
}

func findContactBySession(ctx context.Context, cfg *chatwootConfig, sessionID string) (int64, string, error) {
	searchURL := fmt.Sprintf("%s/api/v1/accounts/%d/contacts/search?q=%s", cfg.BaseURL, cfg.AccountID, url.QueryEscape(sessionID))
	var resp struct {
		Payload []struct {
			ID             int64 `json:"id"`
			ContactInboxes []struct {
				SourceID string `json:"source_id"`
				Inbox    struct {
					ID int64 `json:"id"`
				} `json:"inbox"`
			} `json:"contact_inboxes"`
		} `json:"payload"`
	}

	if err := jsonRequest(ctx, http.MethodGet, searchURL, cfg.AccountToken, nil, &resp); err != nil {
		return 0, "", err
	}

	if len(resp.Payload) == 0 || resp.Payload[0].ID == 0 {
		return 0, "", nil
	}

	contact := resp.Payload[0]
	srcID := sessionID
	for _, ci := range contact.ContactInboxes {
		if ci.Inbox.ID == cfg.InboxID && strings.TrimSpace(ci.SourceID) != "" {
			srcID = ci.SourceID
			break
		}
	}
	return contact.ID, srcID, nil
}

// --- LOGIC: CONVERSATION & MESSAGES ---

// upsertConversation reutiliza la conversación abierta del contacto en el
// inbox configurado, o crea una nueva.
func upsertConversation(ctx context.Context, cfg *chatwootConfig, contactID int64, sourceID string) (int64, error) {
	convID, _ := findExistingConversation(ctx, cfg, contactID) // Ignoramos error, fallback a crear
	if convID != 0 {
		return convID, nil
	}

	req := map[string]interface{}{"source_id": sourceID, "inbox_id": cfg.InboxID, "contact_id": contactID}
	var resp struct {
		ID int64 `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%d/conversations", cfg.BaseURL, cfg.AccountID)
	if err := jsonRequest(ctx, http.MethodPost, endpoint, cfg.AccountToken, req, &resp); err != nil {
		return 0, fmt.Errorf("create conversation failed: %w", err)
	}
	logrus.Infof("[CHATWOOT] created conversation %d", resp.ID)
	return resp.ID, nil
}

func findExistingConversation(ctx context.Context, cfg *chatwootConfig, contactID int64) (int64, error) {
	if contactID <= 0 {
		return 0, nil
	}
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%d/contacts/%d/conversations", cfg.BaseURL, cfg.AccountID, contactID)
	var resp struct {
		Payload []struct {
			ID      int64  `json:"id"`
			InboxID int64  `json:"inbox_id"`
			Status  string `json:"status"`
		} `json:"payload"`
	}

	if err := jsonRequest(ctx, http.MethodGet, endpoint, cfg.AccountToken, nil, &resp); err != nil {
		return 0, err
	}

	var fallback int64
	for _, c := range resp.Payload {
		if c.InboxID != cfg.InboxID {
			continue
		}
		st := strings.ToLower(c.Status)
		if st == "open" || st == "pending" || st == "snoozed" || st == "" {
			return c.ID, nil
		}
		if fallback == 0 {
			fallback = c.ID
		}
	}
	return fallback, nil
}

func postMessage(ctx context.Context, cfg *chatwootConfig, convID int64, text string) error {
	req := map[string]interface{}{"content": text, "message_type": 0, "private": false}
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%d/conversations/%d/messages", cfg.BaseURL, cfg.AccountID, convID)
	if err := jsonRequest(ctx, http.MethodPost, endpoint, cfg.AccountToken, req, nil); err != nil {
		return fmt.Errorf("send text failed: %w", err)
	}
	return nil
}

// --- HELPERS: HTTP & UTILS ---

// jsonRequest unifica la creación, ejecución y decodificación de peticiones API.
func jsonRequest(ctx context.Context, method, url, token string, body interface{}, dest interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("api_access_token", token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: status=%d body=%s", resp.StatusCode, string(data))
	}

	if dest != nil {
		return json.Unmarshal(data, dest)
	}
	return nil
}

func shortSessionLabel(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}

// --- HELPERS: CACHE ---

func makeContactCacheKey(channel, sessionID string) string {
	if channel == "" || sessionID == "" {
		return ""
	}
	return channel + "|" + sessionID
}

func getCachedContact(channel, sessionID string) (int64, string, bool) {
	key := makeContactCacheKey(channel, sessionID)
	if key == "" {
		return 0, "", false
	}

	contactCacheMu.RLock()
	defer contactCacheMu.RUnlock()
	entry, ok := contactCache[key]
	if ok && time.Now().After(entry.ExpiresAt) {
		go func(k string) { // Limpieza lazy asíncrona
			contactCacheMu.Lock()
			delete(contactCache, k)
			contactCacheMu.Unlock()
		}(key)
		return 0, "", false
	}
	return entry.ContactID, entry.SourceID, ok
}

func setCachedContact(channel, sessionID string, id int64, src string) {
	key := makeContactCacheKey(channel, sessionID)
	if key == "" {
		return
	}
	contactCacheMu.Lock()
	contactCache[key] = cachedContact{ContactID: id, SourceID: strings.TrimSpace(src), ExpiresAt: time.Now().Add(contactCacheTTL)}
	contactCacheMu.Unlock()
}
