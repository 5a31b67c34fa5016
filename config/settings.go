package config

var (
	AppVersion             = "v1.0.0"
	AppPort                = "3000"
	AppDebug               = false
	AppBasicAuthCredential []string
	AppBasePath            = ""
	AppTrustedProxies      []string // Rangos de proxies confiables (ej: "0.0.0.0/0" o CIDRs concretos)
	AppBaseUrl             = "http://localhost:3000"
	AppCorsAllowedOrigins  []string
	AppServerID            = ""
	AppWorkspaceID         = "default" // Tenant al que pertenece esta instancia

	PathStorages = "storages"

	// Base de datos principal (mappings, receipts, mensajes, auditoría)
	DBDriver   = "sqlite" // "sqlite" | "postgres"
	DBName     = "storages/azdesk.db"
	DBHost     = "localhost"
	DBPort     = 5432
	DBUser     = ""
	DBPassword = ""

	// Valkey (opcional): dedup distribuido de receipts y relay del websocket
	ValkeyEnabled   = false
	ValkeyAddress   = "localhost:6379"
	ValkeyPassword  = ""
	ValkeyDB        = 0
	ValkeyKeyPrefix = "azdesk"

	// Proveedores de IA
	AIDefaultProvider    = "openai"
	AIFallbackOrder      = []string{"openai", "gemini"}
	AIModel              = ""
	AIGlobalSystemPrompt = ""
	OpenAIAPIKey         = ""
	GeminiAPIKey         = ""

	// Proveedor HTTP de referencia (servicio de respuestas propio)
	HTTPProviderBaseURL     = ""
	HTTPProviderAPIKey      = ""
	HTTPProviderMaxAttempts = 3

	// Política de escalamiento a humanos
	AIHandoffThreshold = 0.55
	AIEscalationReply  = "Un momento, te comunico con un agente humano para ayudarte mejor."
	AIOutageReply      = "Estamos teniendo problemas técnicos. Un agente humano revisará tu mensaje en breve."
	AIHistoryLimit     = 10 // Mensajes de contexto por sesión. 0 = sin historial

	// Chatwoot (inbox de agentes humanos)
	ChatwootEnabled      = false
	ChatwootBaseURL      = ""
	ChatwootAccountID    int64
	ChatwootInboxID      int64
	ChatwootAccountToken = ""

	// Pool de entrega saliente
	DeliveryPoolSize  = 6
	DeliveryQueueSize = 250

	// Canal webchat por defecto
	WebChatChannelID = "webchat"

	// Secreto compartido para el adaptador webhook genérico
	WebhookSharedSecret = ""
)
