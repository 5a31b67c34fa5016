package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/AzielCF/az-desk/channels"
	"github.com/AzielCF/az-desk/channels/adapters"
	channelsDomain "github.com/AzielCF/az-desk/channels/domain"
	channelsRepo "github.com/AzielCF/az-desk/channels/repository"
	globalConfig "github.com/AzielCF/az-desk/config"
	coreDB "github.com/AzielCF/az-desk/core/database"
	"github.com/AzielCF/az-desk/engine"
	"github.com/AzielCF/az-desk/engine/providers"
	"github.com/AzielCF/az-desk/flows"
	flowsDomain "github.com/AzielCF/az-desk/flows/domain"
	"github.com/AzielCF/az-desk/infrastructure/valkey"
	"github.com/AzielCF/az-desk/integrations/chatwoot"
	"github.com/AzielCF/az-desk/pipeline"
	pipelineDomain "github.com/AzielCF/az-desk/pipeline/domain"
	pipelineRepo "github.com/AzielCF/az-desk/pipeline/repository"
	"github.com/AzielCF/az-desk/pkg/msgworker"
	"github.com/AzielCF/az-desk/pkg/utils"
	"github.com/AzielCF/az-desk/plugins"
	pluginsDomain "github.com/AzielCF/az-desk/plugins/domain"
	pluginsRepo "github.com/AzielCF/az-desk/plugins/repository"
	"github.com/AzielCF/az-desk/ui/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Núcleo conversacional
	providerRegistry *engine.Registry
	providerRouter   *engine.Router
	pluginRegistry   *plugins.Registry
	pluginAuditSink  pluginsDomain.AuditSink
	flowEngine       *flows.Engine
	flowSource       *flows.MemorySource
	convPipeline     *pipeline.Pipeline
	channelRouter    *channels.Router

	// Infraestructura
	vkClient *valkey.Client
	serverID string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Short: "Multi-channel conversational support backend",
	Long: `az-desk routes customer messages from any registered channel through
AI providers and conversation flows, escalating to a human inbox when needed.`,
}

func init() {
	// Load environment variables first
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Initialize flags first, before any subcommands are added
	initFlags()

	// Then initialize other components
	cobra.OnInitialize(initEnvConfig, initApp)
}

// initEnvConfig loads configuration from environment variables
func initEnvConfig() {
	// Application settings
	if envPort := viper.GetString("app_port"); envPort != "" {
		globalConfig.AppPort = envPort
	}
	if envDebug := viper.GetBool("app_debug"); envDebug {
		globalConfig.AppDebug = envDebug
	}
	envBasicAuth := viper.GetString("app_basic_auth")
	if envBasicAuth == "" {
		envBasicAuth = os.Getenv("APP_BASIC_AUTH")
	}
	if envBasicAuth != "" {
		credential := strings.Split(envBasicAuth, ",")
		globalConfig.AppBasicAuthCredential = credential
	}
	if envBasePath := viper.GetString("app_base_path"); envBasePath != "" {
		globalConfig.AppBasePath = envBasePath
	}
	if envTrustedProxies := viper.GetString("app_trusted_proxies"); envTrustedProxies != "" {
		globalConfig.AppTrustedProxies = strings.Split(envTrustedProxies, ",")
	}
	if envServerID := viper.GetString("app_server_id"); envServerID != "" {
		globalConfig.AppServerID = envServerID
	}
	if envWorkspace := viper.GetString("app_workspace_id"); envWorkspace != "" {
		globalConfig.AppWorkspaceID = envWorkspace
	}

	// Database settings
	if envDriver := viper.GetString("db_driver"); envDriver != "" {
		globalConfig.DBDriver = envDriver
	}
	if envDBName := viper.GetString("db_name"); envDBName != "" {
		globalConfig.DBName = envDBName
	}
	if envDBHost := viper.GetString("db_host"); envDBHost != "" {
		globalConfig.DBHost = envDBHost
	}
	if viper.IsSet("db_port") {
		globalConfig.DBPort = viper.GetInt("db_port")
	}
	if envDBUser := viper.GetString("db_user"); envDBUser != "" {
		globalConfig.DBUser = envDBUser
	}
	if envDBPassword := viper.GetString("db_password"); envDBPassword != "" {
		globalConfig.DBPassword = envDBPassword
	}

	// Valkey settings
	if viper.IsSet("valkey_enabled") {
		globalConfig.ValkeyEnabled = viper.GetBool("valkey_enabled")
	}
	if envAddr := viper.GetString("valkey_address"); envAddr != "" {
		globalConfig.ValkeyAddress = envAddr
	}
	if envPass := viper.GetString("valkey_password"); envPass != "" {
		globalConfig.ValkeyPassword = envPass
	}
	if viper.IsSet("valkey_db") {
		globalConfig.ValkeyDB = viper.GetInt("valkey_db")
	}

	// AI provider settings
	if envProvider := viper.GetString("ai_default_provider"); envProvider != "" {
		globalConfig.AIDefaultProvider = envProvider
	}
	if envFallback := viper.GetString("ai_fallback_order"); envFallback != "" {
		globalConfig.AIFallbackOrder = strings.Split(envFallback, ",")
	}
	if envModel := viper.GetString("ai_model"); envModel != "" {
		globalConfig.AIModel = envModel
	}
	if envPrompt := viper.GetString("ai_system_prompt"); envPrompt != "" {
		globalConfig.AIGlobalSystemPrompt = envPrompt
	}
	if envKey := viper.GetString("openai_api_key"); envKey != "" {
		globalConfig.OpenAIAPIKey = envKey
	}
	if envKey := viper.GetString("gemini_api_key"); envKey != "" {
		globalConfig.GeminiAPIKey = envKey
	}
	if envURL := viper.GetString("http_provider_base_url"); envURL != "" {
		globalConfig.HTTPProviderBaseURL = envURL
	}
	if envKey := viper.GetString("http_provider_api_key"); envKey != "" {
		globalConfig.HTTPProviderAPIKey = envKey
	}

	// Handoff policy
	if viper.IsSet("ai_handoff_threshold") {
		globalConfig.AIHandoffThreshold = viper.GetFloat64("ai_handoff_threshold")
	}
	if envReply := viper.GetString("ai_escalation_reply"); envReply != "" {
		globalConfig.AIEscalationReply = envReply
	}
	if envReply := viper.GetString("ai_outage_reply"); envReply != "" {
		globalConfig.AIOutageReply = envReply
	}
	if viper.IsSet("ai_history_limit") {
		globalConfig.AIHistoryLimit = viper.GetInt("ai_history_limit")
	}

	// Chatwoot settings
	if viper.IsSet("chatwoot_enabled") {
		globalConfig.ChatwootEnabled = viper.GetBool("chatwoot_enabled")
	}
	if envURL := viper.GetString("chatwoot_base_url"); envURL != "" {
		globalConfig.ChatwootBaseURL = envURL
	}
	if viper.IsSet("chatwoot_account_id") {
		globalConfig.ChatwootAccountID = viper.GetInt64("chatwoot_account_id")
	}
	if viper.IsSet("chatwoot_inbox_id") {
		globalConfig.ChatwootInboxID = viper.GetInt64("chatwoot_inbox_id")
	}
	if envToken := viper.GetString("chatwoot_account_token"); envToken != "" {
		globalConfig.ChatwootAccountToken = envToken
	}

	// Webhook channel
	if envSecret := viper.GetString("webhook_shared_secret"); envSecret != "" {
		globalConfig.WebhookSharedSecret = envSecret
	}
}

func initFlags() {
	// Application flags
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppPort,
		"port", "p",
		globalConfig.AppPort,
		"change port number with --port <number> | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&globalConfig.AppDebug,
		"debug", "d",
		globalConfig.AppDebug,
		"hide or displaying log with --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringSliceVarP(
		&globalConfig.AppBasicAuthCredential,
		"basic-auth", "b",
		globalConfig.AppBasicAuthCredential,
		"basic auth credential | -b=yourUsername:yourPassword",
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.AppBasePath,
		"base-path", "",
		globalConfig.AppBasePath,
		`base path for subpath deployment --base-path <string> | example: --base-path="/azdesk"`,
	)
	rootCmd.PersistentFlags().StringSliceVarP(
		&globalConfig.AppTrustedProxies,
		"trusted-proxies", "",
		globalConfig.AppTrustedProxies,
		`trusted proxy IP ranges for reverse proxy deployments --trusted-proxies <string> | example: --trusted-proxies="10.0.0.0/8,172.16.0.0/12"`,
	)

	// Database flags
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.DBDriver,
		"db-driver", "",
		globalConfig.DBDriver,
		`database driver --db-driver <string> | example: --db-driver="postgres" (default: sqlite)`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.DBName,
		"db-name", "",
		globalConfig.DBName,
		`database file (sqlite) or database name (postgres) --db-name <string> | example: --db-name="storages/azdesk.db"`,
	)

	// Delivery pool flags
	rootCmd.PersistentFlags().IntVarP(
		&globalConfig.DeliveryPoolSize,
		"delivery-workers", "",
		globalConfig.DeliveryPoolSize,
		`number of concurrent delivery workers --delivery-workers <number> | example: --delivery-workers=12 (default: 6)`,
	)
	rootCmd.PersistentFlags().IntVarP(
		&globalConfig.DeliveryQueueSize,
		"delivery-queue-size", "",
		globalConfig.DeliveryQueueSize,
		`queue size per delivery worker --delivery-queue-size <number> | example: --delivery-queue-size=500 (default: 250)`,
	)
}

// conversationHandler conecta el router de canales con el pipeline.
type conversationHandler struct {
	pipeline *pipeline.Pipeline
}

func (h conversationHandler) HandleUserMessage(ctx context.Context, sessionID, text string) (channelsDomain.Reply, error) {
	reply, err := h.pipeline.HandleUserMessage(ctx, sessionID, text)
	if err != nil {
		return channelsDomain.Reply{}, err
	}
	return channelsDomain.Reply{
		Text:      reply.Text,
		Escalated: reply.Escalated,
		Provider:  reply.Provider,
		RequestID: reply.RequestID,
	}, nil
}

// pluginRuntime expone el registro de plugins al motor de flujos. Arma el
// ActionContext completo por invocación: identidad del bot y la sesión,
// acceso a secretos por variable de entorno y un acumulador fresco cuyo
// contenido vuelve al motor como enrichments.
type pluginRuntime struct {
	registry *plugins.Registry
}

func (r pluginRuntime) InvokeAction(ctx context.Context, call flowsDomain.ActionCall) (flowsDomain.ActionOutcome, error) {
	aiContext := &pluginsDomain.AIContextAccumulator{}
	actx := &pluginsDomain.ActionContext{
		WorkspaceID: globalConfig.AppWorkspaceID,
		BotID:       call.BotID,
		SessionID:   call.SessionID,
		Secrets: func(name string) string {
			return viper.GetString(name)
		},
		Log:       logrus.WithField("plugin", call.PluginID),
		AIContext: aiContext,
	}
	result, err := r.registry.InvokeAction(ctx, call.PluginID, call.Action, actx, call.Input)
	if err != nil {
		return flowsDomain.ActionOutcome{}, err
	}
	return flowsDomain.ActionOutcome{
		Data:        result.Data,
		Enrichments: aiContext.Snapshot(),
	}, nil
}

func initApp() {
	if globalConfig.AppDebug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// preparing folder if not exist
	if err := utils.CreateFolder(globalConfig.PathStorages); err != nil {
		logrus.Errorln(err)
	}

	serverID = utils.GetPersistentServerID(globalConfig.AppServerID, globalConfig.PathStorages)

	// 1. Database and stores
	db, err := coreDB.NewDatabase()
	if err != nil {
		logrus.Fatalf("failed to open database: %v", err)
	}

	var channelStore channelsDomain.Store
	channelStore, err = channelsRepo.NewGormStore(db)
	if err != nil {
		logrus.Fatalf("failed to init channel store: %v", err)
	}

	messageStore, err := pipelineRepo.NewGormMessageStore(db)
	if err != nil {
		logrus.Fatalf("failed to init message store: %v", err)
	}

	auditSink, err := pluginsRepo.NewGormAuditSink(db)
	if err != nil {
		logrus.Fatalf("failed to init audit sink: %v", err)
	}
	pluginAuditSink = auditSink

	// 2. Valkey (opcional): dedup distribuido y relay del websocket
	if globalConfig.ValkeyEnabled {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:   globalConfig.ValkeyAddress,
			Password:  globalConfig.ValkeyPassword,
			DB:        globalConfig.ValkeyDB,
			KeyPrefix: globalConfig.ValkeyKeyPrefix,
		})
		if err != nil {
			logrus.Errorf("[VALKEY] Connection failed, falling back to local dedup: %v", err)
		} else {
			channelStore = channelsRepo.NewValkeyReceiptStore(channelStore, vkClient)
		}
	}

	// 3. AI providers
	providerRegistry = engine.NewRegistry()
	if globalConfig.OpenAIAPIKey != "" {
		providerRegistry.Register("openai", providers.NewOpenAIProvider(globalConfig.OpenAIAPIKey, globalConfig.AIModel))
	}
	if globalConfig.GeminiAPIKey != "" {
		providerRegistry.Register("gemini", providers.NewGeminiProvider(globalConfig.GeminiAPIKey, globalConfig.AIModel))
	}
	if globalConfig.HTTPProviderBaseURL != "" {
		providerRegistry.Register("httpapi", providers.NewHTTPAPIProvider(
			globalConfig.HTTPProviderBaseURL,
			globalConfig.HTTPProviderAPIKey,
			globalConfig.HTTPProviderMaxAttempts,
		))
	}
	providerRegistry.SetFallbackOrder(globalConfig.AIFallbackOrder)
	providerRouter = engine.NewRouter(providerRegistry)

	// 4. Plugins and flows
	pluginRegistry = plugins.NewRegistry(auditSink)
	flowEngine = flows.NewEngine(pluginRuntime{registry: pluginRegistry})
	flowSource = flows.NewMemorySource()

	// 5. Human inbox
	var inbox pipelineDomain.InboxService
	if globalConfig.ChatwootEnabled {
		inbox = chatwoot.NewService(globalConfig.WebChatChannelID)
	} else {
		inbox = pipelineRepo.NewMemoryInbox()
	}

	// 6. Pipeline and channel router
	convPipeline = pipeline.New(providerRouter, flowEngine, flowSource, messageStore, inbox)
	channelRouter = channels.NewRouter(channelStore, conversationHandler{pipeline: convPipeline}, msgworker.GetGlobalPool())

	// 7. Channel adapters
	channelRouter.Register(adapters.NewWebChatAdapter(globalConfig.WebChatChannelID, websocket.SessionBroadcaster{}))
	channelRouter.Register(adapters.NewWebhookAdapter("webhook", globalConfig.WebhookSharedSecret))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp performs a clean shutdown of all services.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	msgworker.StopGlobalPool()

	if vkClient != nil {
		vkClient.Close()
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
