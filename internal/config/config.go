package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	OutreachQueueTable  string
	IntegrationsTable   string
	DispositionQueueURL string
	DatabaseURL         string

	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	InboundDedupTTL time.Duration

	// LeadConnector (GoHighLevel) CRM
	CRMBaseURL          string
	CRMAPIVersion       string
	CRMTimeout          time.Duration
	CRMClientID         string
	CRMClientSecret     string
	CRMTokenURL         string
	CRMCustomFieldsJSON string
	CRMEmailFrom        string

	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	// Cadence and compliance
	BusinessHoursTimezone  string
	SMSMaxTouches          int
	EmailMaxTouches        int
	DialMaxTouches         int
	CadenceSpacingEnabled  bool
	CadenceMinBusinessDays int
	AILeadTypes            []string

	// Runner batches and pacing
	OutreachChannel      string
	SMSBatchSize         int
	EmailBatchSize       int
	SMSSendDelay         time.Duration
	EmailSendDelay       time.Duration
	SiblingUpdateSpacing time.Duration
	OutreachMinTouchGap  time.Duration

	// Rate limits
	SMSHourlyCap   int
	SMSDailyCap    int
	EmailHourlyCap int
	EmailDailyCap  int
	CRMHourlyCap   int
	CRMDailyCap    int

	WebhookJWTSecret string
	WebhookRPS       float64
	WebhookBurst     int

	PropertyAPIURL string
	PropertyAPIKey string

	// Handoff notifications
	EmailProvider      string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	SESFromEmail       string
	HandoffNotifyEmail string
}

// Load loads configuration from environment variables. A local .env file is
// read first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		OutreachQueueTable:  getEnv("OUTREACH_QUEUE_TABLE", "outreach-queue"),
		IntegrationsTable:   getEnv("INTEGRATIONS_TABLE", "crm-integrations"),
		DispositionQueueURL: getEnv("DISPOSITION_QUEUE_URL", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),

		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		InboundDedupTTL: getEnvAsDuration("INBOUND_DEDUP_TTL", 24*time.Hour),

		CRMBaseURL:          getEnv("CRM_BASE_URL", "https://services.leadconnectorhq.com"),
		CRMAPIVersion:       getEnv("CRM_API_VERSION", "2021-07-28"),
		CRMTimeout:          getEnvAsDuration("CRM_TIMEOUT", 10*time.Second),
		CRMClientID:         getEnv("CRM_CLIENT_ID", ""),
		CRMClientSecret:     getEnv("CRM_CLIENT_SECRET", ""),
		CRMTokenURL:         getEnv("CRM_TOKEN_URL", "https://services.leadconnectorhq.com/oauth/token"),
		CRMCustomFieldsJSON: getEnv("CRM_CUSTOM_FIELDS_JSON", ""),
		CRMEmailFrom:        getEnv("CRM_EMAIL_FROM", ""),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),

		BusinessHoursTimezone:  getEnv("BUSINESS_HOURS_TZ", "America/New_York"),
		SMSMaxTouches:          getEnvAsInt("SMS_MAX_TOUCHES", 7),
		EmailMaxTouches:        getEnvAsInt("EMAIL_MAX_TOUCHES", 7),
		DialMaxTouches:         getEnvAsInt("DIAL_MAX_TOUCHES", 8),
		CadenceSpacingEnabled:  getEnvAsBool("CADENCE_SPACING_ENABLED", false),
		CadenceMinBusinessDays: getEnvAsInt("CADENCE_MIN_BUSINESS_DAYS", 2),
		AILeadTypes: getEnvAsList("AI_LEAD_TYPES", []string{
			"absentee owner", "pre-foreclosure", "probate", "vacant",
			"tax delinquent", "expired listing", "fsbo", "seller lead", "buyer lead",
		}),

		OutreachChannel:      strings.ToUpper(getEnv("OUTREACH_CHANNEL", "SMS")),
		SMSBatchSize:         getEnvAsInt("SMS_BATCH_SIZE", 10),
		EmailBatchSize:       getEnvAsInt("EMAIL_BATCH_SIZE", 25),
		SMSSendDelay:         getEnvAsDuration("SMS_SEND_DELAY", 30*time.Second),
		EmailSendDelay:       getEnvAsDuration("EMAIL_SEND_DELAY", 10*time.Second),
		SiblingUpdateSpacing: getEnvAsDuration("SIBLING_UPDATE_SPACING", 2*time.Second),
		OutreachMinTouchGap:  getEnvAsDuration("OUTREACH_MIN_TOUCH_GAP", 20*time.Hour),

		SMSHourlyCap:   getEnvAsInt("SMS_HOURLY_CAP", 12),
		SMSDailyCap:    getEnvAsInt("SMS_DAILY_CAP", 200),
		EmailHourlyCap: getEnvAsInt("EMAIL_HOURLY_CAP", 12),
		EmailDailyCap:  getEnvAsInt("EMAIL_DAILY_CAP", 200),
		CRMHourlyCap:   getEnvAsInt("CRM_HOURLY_CAP", 100),
		CRMDailyCap:    getEnvAsInt("CRM_DAILY_CAP", 1000),

		WebhookJWTSecret: getEnv("WEBHOOK_JWT_SECRET", ""),
		WebhookRPS:       getEnvAsFloat("WEBHOOK_RPS", 20),
		WebhookBurst:     getEnvAsInt("WEBHOOK_BURST", 40),

		PropertyAPIURL: getEnv("PROPERTY_API_URL", ""),
		PropertyAPIKey: getEnv("PROPERTY_API_KEY", ""),

		EmailProvider:      strings.ToLower(getEnv("EMAIL_PROVIDER", "sendgrid")),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "Lead Desk"),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		HandoffNotifyEmail: getEnv("HANDOFF_NOTIFY_EMAIL", ""),
	}
}

// CustomFieldIDs decodes CRM_CUSTOM_FIELDS_JSON into a field-name to vendor-id map.
func (c *Config) CustomFieldIDs() (map[string]string, error) {
	out := map[string]string{}
	raw := strings.TrimSpace(c.CRMCustomFieldsJSON)
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsDevelopment reports whether ENV is development.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "development")
}

// ValidateWebhookAuth refuses an unauthenticated webhook surface outside
// development.
func (c *Config) ValidateWebhookAuth() error {
	if strings.TrimSpace(c.WebhookJWTSecret) == "" && !c.IsDevelopment() {
		return errors.New("config: WEBHOOK_JWT_SECRET is required when ENV is not development")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}
