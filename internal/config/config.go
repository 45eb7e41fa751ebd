package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`

	// WebhookAPIKey protects the webhook endpoints; empty disables auth.
	WebhookAPIKey string `envconfig:"WEBHOOK_API_KEY"`

	// Live Agent chat backend
	LiveAgentURL     string `envconfig:"LIVE_AGENT_URL" required:"true"`
	OrganizationID   string `envconfig:"LIVE_AGENT_ORG_ID" required:"true"`
	DeploymentID     string `envconfig:"LIVE_AGENT_DEPLOYMENT_ID" required:"true"`
	ButtonID         string `envconfig:"LIVE_AGENT_BUTTON_ID"`
	APIVersion       string `envconfig:"LIVE_AGENT_API_VERSION" default:"47"`
	ScreenResolution string `envconfig:"LIVE_AGENT_SCREEN_RESOLUTION" default:"1900x1080"`
	UserAgent        string `envconfig:"LIVE_AGENT_USER_AGENT" default:"handoff-bridge"`
	Language         string `envconfig:"LIVE_AGENT_LANGUAGE" default:"en-US"`

	// OAuth token endpoint (password grant)
	TokenURL          string        `envconfig:"OAUTH_TOKEN_URL"`
	OAuthClientID     string        `envconfig:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string        `envconfig:"OAUTH_CLIENT_SECRET"`
	OAuthUsername     string        `envconfig:"OAUTH_USERNAME"`
	OAuthPassword     string        `envconfig:"OAUTH_PASSWORD"`
	OAuthRedirectURI  string        `envconfig:"OAUTH_REDIRECT_URI"`
	TokenRefresh      time.Duration `envconfig:"TOKEN_REFRESH_INTERVAL" default:"59m"`

	// Business-object API (contacts, cases, feedback)
	APIBaseURL string `envconfig:"SOBJECT_API_URL"`

	// Bot platform (visitor channel)
	BotAPIURL   string `envconfig:"BOT_API_URL"`
	BotAPIToken string `envconfig:"BOT_API_TOKEN"`

	// Session store
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Session TTLs applied after every persisted write
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`

	// Polling
	PollInterval   time.Duration `envconfig:"POLL_MIN_INTERVAL" default:"1s"`
	ForwardStagger time.Duration `envconfig:"FORWARD_STAGGER" default:"1s"`
	TranscriptWait time.Duration `envconfig:"TRANSCRIPT_WAIT" default:"3s"`

	// Visitor inactivity fallback when the backend has not sent a timeout
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT" default:"10m"`

	// Conversation turns included in the agent transcript
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"40"`

	// Catalogs
	MessagesFile string `envconfig:"MESSAGES_FILE"`
	BrandsFile   string `envconfig:"BRANDS_FILE"`
}

// OAuthEnabled returns true if the token endpoint is configured.
func (c *Config) OAuthEnabled() bool {
	return c.TokenURL != "" && c.OAuthClientID != ""
}

// SObjectEnabled returns true if the business-object API is configured.
func (c *Config) SObjectEnabled() bool {
	return c.APIBaseURL != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
