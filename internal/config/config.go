package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	AMQP         AMQPConfig
	WhatsApp     WhatsAppConfig
	OpenAI       OpenAIConfig
	Knowledge    KnowledgeConfig
	Intake       IntakeConfig
	SLA          SLAConfig
	Inactivity   InactivityConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	NodeID                int64
	FrontendURL           string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret              string
	AccessTokenTTLMinutes  int
	VerificationTTLMinutes int
	BcryptCost             int
}

// NotificationConfig holds escalation and notification recipients.
type NotificationConfig struct {
	EmailFrom        string
	CoordinationMail string
	SubdirectorMail  string
}

// AMQPConfig configures the email notification exchange.
type AMQPConfig struct {
	URL           string
	Exchange      string
	RetryAttempts int
	RetryDelay    time.Duration
}

// WhatsAppConfig configures the channel provider.
type WhatsAppConfig struct {
	GraphBaseURL  string
	GraphVersion  string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	AppSecret     string
	Timeout       time.Duration
}

// OpenAIConfig configures the scoring and transcription client.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	ChatModel          string
	EmbeddingModel     string
	TranscriptionModel string
	Timeout            time.Duration
}

// KnowledgeConfig configures canned-answer matching and topic classification.
type KnowledgeConfig struct {
	ArticlesPath        string
	Threshold           float64
	ClassifierThreshold float64
}

// IntakeConfig configures the job queue and worker lanes.
type IntakeConfig struct {
	StreamPrefix string
	DeadLetter   string
	Group        string
	Lanes        int
	MaxAttempts  int
	RetryBase    time.Duration
	RetryMax     time.Duration
	DedupTTL     time.Duration
	ReclaimIdle  time.Duration
	ReclaimEvery time.Duration
	Block        time.Duration
}

// SLAConfig configures escalation thresholds.
type SLAConfig struct {
	Interval         time.Duration
	UnassignedWarn   time.Duration
	UnassignedBreach time.Duration
	ResponseWarn     time.Duration
	ResponseBreach   time.Duration
}

// InactivityConfig configures automatic ticket closure.
type InactivityConfig struct {
	Interval   time.Duration
	CloseAfter time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	knowledgeThreshold, err := getEnvAsFloat("KNOWLEDGE_THRESHOLD", 0.60)
	if err != nil {
		return nil, err
	}
	classifierThreshold, err := getEnvAsFloat("CLASSIFIER_MIN_CONFIDENCE", 0.20)
	if err != nil {
		return nil, err
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "intake-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			NodeID:                int64(getEnvAsInt("APP_NODE_ID", 1)),
			FrontendURL:           getEnv("FRONTEND_URL", "https://consultas.cge.mil.ar"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          redisDB,
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 20),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT_SECONDS", 5, time.Second),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:              getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes:  getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			VerificationTTLMinutes: getEnvAsInt("AUTH_VERIFICATION_TTL_MINUTES", 60),
			BcryptCost:             getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Notification: NotificationConfig{
			EmailFrom:        getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			CoordinationMail: os.Getenv("NOTIFY_COORDINATION_EMAIL"),
			SubdirectorMail:  os.Getenv("NOTIFY_SUBDIRECTOR_EMAIL"),
		},
		AMQP: AMQPConfig{
			URL:           os.Getenv("AMQP_URL"),
			Exchange:      getEnv("AMQP_EXCHANGE", "notifications"),
			RetryAttempts: getEnvAsInt("AMQP_DIAL_ATTEMPTS", 5),
			RetryDelay:    getEnvAsDuration("AMQP_DIAL_DELAY_SECONDS", 2, time.Second),
		},
		WhatsApp: WhatsAppConfig{
			GraphBaseURL:  getEnv("WHATSAPP_GRAPH_URL", "https://graph.facebook.com"),
			GraphVersion:  getEnv("WHATSAPP_GRAPH_VERSION", "v21.0"),
			PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			AccessToken:   os.Getenv("WHATSAPP_TOKEN"),
			VerifyToken:   os.Getenv("WEBHOOK_VERIFY_TOKEN"),
			AppSecret:     os.Getenv("WHATSAPP_APP_SECRET"),
			Timeout:       getEnvAsDuration("WHATSAPP_TIMEOUT_SECONDS", 15, time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:             os.Getenv("OPENAI_API_KEY"),
			BaseURL:            os.Getenv("OPENAI_BASE_URL"),
			ChatModel:          getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			TranscriptionModel: getEnv("OPENAI_TRANSCRIPTION_MODEL", "whisper-1"),
			Timeout:            getEnvAsDuration("OPENAI_TIMEOUT_SECONDS", 20, time.Second),
		},
		Knowledge: KnowledgeConfig{
			ArticlesPath:        getEnv("KNOWLEDGE_ARTICLES_PATH", "data/knowledge_base.yaml"),
			Threshold:           knowledgeThreshold,
			ClassifierThreshold: classifierThreshold,
		},
		Intake: IntakeConfig{
			StreamPrefix: getEnv("INTAKE_STREAM_PREFIX", "intake:jobs"),
			DeadLetter:   getEnv("INTAKE_DEAD_LETTER_STREAM", "intake:dead"),
			Group:        getEnv("INTAKE_GROUP", "intake"),
			Lanes:        getEnvAsInt("INTAKE_LANES", 4),
			MaxAttempts:  getEnvAsInt("INTAKE_MAX_ATTEMPTS", 5),
			RetryBase:    getEnvAsDuration("INTAKE_RETRY_BASE_MS", 500, time.Millisecond),
			RetryMax:     getEnvAsDuration("INTAKE_RETRY_MAX_SECONDS", 30, time.Second),
			DedupTTL:     getEnvAsDuration("INTAKE_DEDUP_TTL_HOURS", 72, time.Hour),
			ReclaimIdle:  getEnvAsDuration("INTAKE_RECLAIM_IDLE_SECONDS", 180, time.Second),
			ReclaimEvery: getEnvAsDuration("INTAKE_RECLAIM_INTERVAL_SECONDS", 30, time.Second),
			Block:        getEnvAsDuration("INTAKE_BLOCK_SECONDS", 5, time.Second),
		},
		SLA: SLAConfig{
			Interval:         getEnvAsDuration("SLA_INTERVAL_SECONDS", 60, time.Second),
			UnassignedWarn:   getEnvAsDuration("SLA_UNASSIGNED_WARN_MINUTES", 5, time.Minute),
			UnassignedBreach: getEnvAsDuration("SLA_UNASSIGNED_BREACH_MINUTES", 10, time.Minute),
			ResponseWarn:     getEnvAsDuration("SLA_RESPONSE_WARN_MINUTES", 10, time.Minute),
			ResponseBreach:   getEnvAsDuration("SLA_RESPONSE_BREACH_MINUTES", 20, time.Minute),
		},
		Inactivity: InactivityConfig{
			Interval:   getEnvAsDuration("INACTIVITY_INTERVAL_MINUTES", 10, time.Minute),
			CloseAfter: getEnvAsDuration("INACTIVITY_CLOSE_AFTER_HOURS", 23, time.Hour),
		},
	}

	if cfg.SLA.UnassignedBreach <= cfg.SLA.UnassignedWarn || cfg.SLA.ResponseBreach <= cfg.SLA.ResponseWarn {
		return nil, fmt.Errorf("sla breach thresholds must exceed warning thresholds")
	}
	if cfg.Intake.Lanes <= 0 {
		return nil, fmt.Errorf("invalid INTAKE_LANES: %d", cfg.Intake.Lanes)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// LegalURL returns the legal notice link shown before collecting descriptions.
func (a AppConfig) LegalURL() string {
	return a.FrontendURL + "/legal"
}

// VerificationURL returns the base link used for account verification.
func (a AppConfig) VerificationURL() string {
	return a.FrontendURL + "/verify-whatsapp"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvAsDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * unit
}
