package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	// Telephony provider (Twilio).
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioWebhookSecret string

	// Tenant registry.
	TenantsJSON          string
	DefaultForwardNumber string

	// Call handling.
	DialTimeout        time.Duration
	ShortCallThreshold int

	// Intake flow.
	IntakeSlots          string
	RequireConsent       bool
	NotifyBeforeAck      bool
	FirstMessageIsAnswer bool

	// Advice generation.
	OpenAIAPIKey  string
	OpenAIModel   string
	AdviceTimeout time.Duration

	// Conversation store.
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	ConversationTTL time.Duration
	HistoryHead     int
	HistoryTail     int

	// Admin API.
	AdminJWTSecret string

	// Webhook rate limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Operator email alerts (optional).
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),

		TenantsJSON:          getEnv("TENANTS_JSON", ""),
		DefaultForwardNumber: getEnv("DEFAULT_FORWARD_NUMBER", ""),

		DialTimeout:        getEnvAsDuration("DIAL_TIMEOUT", 15*time.Second),
		ShortCallThreshold: getEnvAsInt("SHORT_CALL_THRESHOLD_SECONDS", 10),

		IntakeSlots:          getEnv("INTAKE_SLOTS", "name,issue"),
		RequireConsent:       getEnvAsBool("REQUIRE_CONSENT", false),
		NotifyBeforeAck:      getEnvAsBool("NOTIFY_BEFORE_ACK", true),
		FirstMessageIsAnswer: getEnvAsBool("FIRST_MESSAGE_IS_ANSWER", false),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AdviceTimeout: getEnvAsDuration("ADVICE_TIMEOUT", 15*time.Second),

		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		ConversationTTL: getEnvAsDuration("CONVERSATION_TTL", 0),
		HistoryHead:     getEnvAsInt("HISTORY_HEAD", 5),
		HistoryTail:     getEnvAsInt("HISTORY_TAIL", 15),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "TradeCall"),
	}
}

// IntakeSlotNames returns the configured slot order.
func (c *Config) IntakeSlotNames() []string {
	parts := strings.Split(c.IntakeSlots, ",")
	slots := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.ToLower(strings.TrimSpace(p)); name != "" {
			slots = append(slots, name)
		}
	}
	return slots
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
