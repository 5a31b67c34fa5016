package websocket

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	channelsDomain "github.com/AzielCF/az-desk/channels/domain"
	"github.com/AzielCF/az-desk/config"
	"github.com/AzielCF/az-desk/infrastructure/valkey"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	valkeylib "github.com/valkey-io/valkey-go"
)

type client struct {
	sessionID string
}

// Ingestor recibe los mensajes entrantes del webchat sin acoplar el hub
// al router de canales.
type Ingestor interface {
	Ingest(ctx context.Context, channelID string, payload map[string]any) (channelsDomain.IngestResult, error)
}

type BroadcastMessage struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Result    any    `json:"result,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
}

type registration struct {
	conn      *websocket.Conn
	sessionID string
}

var (
	Clients    = make(map[*websocket.Conn]client)
	Register   = make(chan registration)
	Broadcast  = make(chan BroadcastMessage)
	Unregister = make(chan *websocket.Conn)

	vkClient *valkey.Client
	wsChan   = "azdesk:ws_broadcast"
	localID  string
)

// SetValkeyClient initializes the distributed broadcast system
func SetValkeyClient(client *valkey.Client, serverID string) {
	vkClient = client
	localID = serverID
}

// SessionBroadcaster entrega las respuestas salientes del webchat a las
// conexiones de una sesión.
type SessionBroadcaster struct{}

func (SessionBroadcaster) BroadcastToSession(sessionID, text string) error {
	Broadcast <- BroadcastMessage{
		Code:      "ASSISTANT_MESSAGE",
		SessionID: sessionID,
		Message:   text,
	}
	return nil
}

func handleRegister(conn *websocket.Conn, sessionID string) {
	Clients[conn] = client{sessionID: sessionID}
	logrus.Debugf("[WS] Connection registered for session %s", sessionID)
}

func handleUnregister(conn *websocket.Conn) {
	delete(Clients, conn)
	logrus.Debug("[WS] Connection unregistered")
}

func broadcastToLocal(message BroadcastMessage) {
	marshalMessage, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}

	for conn, cl := range Clients {
		// SessionID vacío = broadcast global (eventos de sistema)
		if message.SessionID != "" && cl.sessionID != message.SessionID {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, marshalMessage); err != nil {
			logrus.Errorf("[WS] Write error: %v", err)
			closeConnection(conn)
		}
	}
}

func publishToValkey(message BroadcastMessage) {
	if vkClient == nil {
		return
	}

	// Attach local ID as sender
	message.SenderID = localID

	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	ctx := context.Background()
	cmd := vkClient.Inner().B().Publish().Channel(wsChan).Message(string(data)).Build()
	if err := vkClient.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.Errorf("[WS] Failed to publish to Valkey: %v", err)
	}
}

func startValkeySubscriber() {
	if vkClient == nil {
		return
	}

	logrus.Info("[WS] Starting Valkey Pub/Sub subscriber for distributed events")
	go func() {
		err := vkClient.Inner().Receive(context.Background(), vkClient.Inner().B().Subscribe().Channel(wsChan).Build(), func(msg valkeylib.PubSubMessage) {
			var broadcastMsg BroadcastMessage
			if err := json.Unmarshal([]byte(msg.Message), &broadcastMsg); err == nil {
				// Avoid loops: ignore messages sent by this same instance
				if broadcastMsg.SenderID == localID {
					return
				}
				broadcastToLocal(broadcastMsg)
			}
		})
		if err != nil {
			logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
		}
	}()
}

func closeConnection(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
	_ = conn.Close()
	delete(Clients, conn)
}

func RunHub() {
	// If Valkey is enabled, start the subscriber
	if vkClient != nil {
		startValkeySubscriber()
	}

	for {
		select {
		case reg := <-Register:
			handleRegister(reg.conn, reg.sessionID)

		case conn := <-Unregister:
			handleUnregister(conn)

		case message := <-Broadcast:
			// 1. Send to local clients immediately
			broadcastToLocal(message)

			// 2. If Valkey is active, propagate to other servers
			if vkClient != nil {
				publishToValkey(message)
			}
		}
	}
}

func RegisterRoutes(app fiber.Router, ingestor Ingestor) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		sessionHint := conn.Query("session_id")
		userID := conn.Query("user_id")

		defer func() {
			Unregister <- conn
			_ = conn.Close()
		}()

		Register <- registration{conn: conn, sessionID: sessionHint}

		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Println("read error:", err)
				}
				return
			}

			if messageType != websocket.TextMessage {
				logrus.Println("unsupported message type:", messageType)
				continue
			}

			var messageData struct {
				Code      string `json:"code"`
				Text      string `json:"text"`
				MessageID string `json:"message_id"`
			}
			if err := json.Unmarshal(message, &messageData); err != nil {
				logrus.Println("unmarshal error:", err)
				continue
			}

			if messageData.Code != "USER_MESSAGE" {
				continue
			}

			result, err := ingestor.Ingest(context.Background(), config.WebChatChannelID, map[string]any{
				"user_id":      userID,
				"text":         messageData.Text,
				"message_id":   messageData.MessageID,
				"session_hint": sessionHint,
			})
			if err != nil {
				logrus.Errorf("[WS] Ingest failed: %v", err)
				continue
			}

			// La sesión real puede diferir del hint; reasociar la conexión
			if result.SessionID != "" && result.SessionID != sessionHint {
				sessionHint = result.SessionID
				Register <- registration{conn: conn, sessionID: sessionHint}
			}

			if result.Reply != nil {
				Broadcast <- BroadcastMessage{
					Code:      "ASSISTANT_MESSAGE",
					SessionID: result.SessionID,
					Message:   result.Reply.Text,
					Result: map[string]any{
						"escalated": result.Reply.Escalated,
						"provider":  result.Reply.Provider,
					},
				}
			}
		}
	}))
}
