package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"yarrow"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"60"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"yarrow"`
	// Database SSL mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version, 0 for latest
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Auth Enabled - when false every route is open
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`
	// Agent Action Secret - shared with the agent action group caller. /agent/actions is not mounted when empty
	AgentActionSecret string `env:"AGENT_ACTION_SECRET" env-default:""`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Debezium topic for the safety_check_requests table
	KafkaCDCTopic string `env:"KAFKA_CDC_TOPIC" env-default:"yarrow.public.safety_check_requests"`
	// Consumer group for the change feed
	KafkaConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" env-default:"yarrow-dispatcher"`
	// Topic for completion events, empty to disable
	KafkaCompletionTopic string `env:"KAFKA_COMPLETION_TOPIC" env-default:"safety-check-completions"`

	// Change feed source: redis or kafka
	ChangeFeedSource string `env:"CHANGE_FEED_SOURCE" env-default:"redis"`
	// Redis Streams change feed
	RedisChangeFeedStream string `env:"REDIS_CHANGE_FEED_STREAM" env-default:"yarrow:safety-checks"`
	RedisChangeFeedGroup  string `env:"REDIS_CHANGE_FEED_GROUP" env-default:"yarrow-dispatchers"`
	// Consumer name (defaults to hostname if empty)
	RedisChangeFeedConsumer string `env:"REDIS_CHANGE_FEED_CONSUMER" env-default:""`
	// How often unacknowledged entries are retried
	RedisChangeFeedRetryInterval time.Duration `env:"REDIS_CHANGE_FEED_RETRY_INTERVAL" env-default:"30s"`
	// Idle time before another consumer's pending entries are claimed
	RedisChangeFeedClaimMinIdle time.Duration `env:"REDIS_CHANGE_FEED_CLAIM_MIN_IDLE" env-default:"5m"`
	// Dead letter stream
	DLQStream string `env:"DLQ_STREAM" env-default:"yarrow:dlq"`

	// Dispatcher settings
	DispatchDedupe               bool          `env:"DISPATCH_DEDUPE" env-default:"true"`
	DispatchMaxRetries           uint64        `env:"DISPATCH_MAX_RETRIES" env-default:"3"`
	DispatchRetryInitialInterval time.Duration `env:"DISPATCH_RETRY_INITIAL_INTERVAL" env-default:"1s"`
	DispatchHandlerTimeout       time.Duration `env:"DISPATCH_HANDLER_TIMEOUT" env-default:"180s"`

	// Agent provider: bedrock or anthropic
	AgentProvider       string        `env:"AGENT_PROVIDER" env-default:"bedrock"`
	AgentMaxAttempts    int           `env:"AGENT_MAX_ATTEMPTS" env-default:"3"`
	AgentConnectTimeout time.Duration `env:"AGENT_CONNECT_TIMEOUT" env-default:"5s"`
	AgentReadTimeout    time.Duration `env:"AGENT_READ_TIMEOUT" env-default:"120s"`
	// Calls allowed per window across replicas, 0 disables the limit
	AgentRateLimit  int64         `env:"AGENT_RATE_LIMIT" env-default:"0"`
	AgentRateWindow time.Duration `env:"AGENT_RATE_WINDOW" env-default:"1m"`

	BedrockRegion       string `env:"BEDROCK_REGION" env-default:"us-east-1"`
	BedrockAgentID      string `env:"BEDROCK_AGENT_ID" env-default:""`
	BedrockAgentAliasID string `env:"BEDROCK_AGENT_ALIAS_ID" env-default:""`

	AnthropicAPIKey    string `env:"ANTHROPIC_API_KEY" env-default:""`
	AnthropicBaseURL   string `env:"ANTHROPIC_BASE_URL" env-default:""`
	AnthropicModel     string `env:"ANTHROPIC_MODEL" env-default:"claude-sonnet-4-5"`
	AnthropicMaxTokens int64  `env:"ANTHROPIC_MAX_TOKENS" env-default:"2048"`

	// Intake settings
	WorkOrderIDExpression string        `env:"WORK_ORDER_ID_EXPRESSION" env-default:"work_order_id"`
	RequestTTL            time.Duration `env:"REQUEST_TTL" env-default:"168h"`

	// Scheduler settings
	SchedulerEnabled          bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SchedulerCron             string        `env:"SCHEDULER_CRON" env-default:"15 11 * * *"`
	RequestPruneCron          string        `env:"REQUEST_PRUNE_CRON" env-default:"@hourly"`
	SchedulerThrottleInterval time.Duration `env:"SCHEDULER_THROTTLE_INTERVAL" env-default:"10s"`
	SchedulerSkipStatuses     []string      `env:"SCHEDULER_SKIP_STATUSES" env-default:"Completed,Closed,Cancelled"`

	// Notification settings
	NotifyChannel           string   `env:"NOTIFY_CHANNEL" env-default:"yarrow:completions"`
	WebSocketAllowedOrigins []string `env:"WEBSOCKET_ALLOWED_ORIGINS" env-default:""`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	switch c.ChangeFeedSource {
	case "redis", "kafka":
	default:
		return fmt.Errorf("CHANGE_FEED_SOURCE must be redis or kafka, got %q", c.ChangeFeedSource)
	}

	switch c.AgentProvider {
	case "bedrock":
		if c.BedrockAgentID == "" || c.BedrockAgentAliasID == "" {
			return fmt.Errorf("BEDROCK_AGENT_ID and BEDROCK_AGENT_ALIAS_ID are required for the bedrock provider")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("AGENT_PROVIDER must be bedrock or anthropic, got %q", c.AgentProvider)
	}

	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return fmt.Errorf("AUTH_ISSUER_URL and AUTH_CLIENT_ID are required when AUTH_ENABLED is set")
	}
	return nil
}
