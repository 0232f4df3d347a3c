package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for crawldesk
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Identity IdentityConfig `mapstructure:"identity"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Services ServicesConfig `mapstructure:"services"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Session  SessionConfig  `mapstructure:"session"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AdminConfig holds API authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// IdentityConfig is the local user the session acts as
type IdentityConfig struct {
	UserID   string `mapstructure:"user_id"`
	UserName string `mapstructure:"user_name"`
}

// ChannelsConfig holds the realtime channel endpoints
type ChannelsConfig struct {
	ChatURL        string        `mapstructure:"chat_url"`
	JobsURL        string        `mapstructure:"jobs_url"`
	Token          string        `mapstructure:"token"`
	Reconnect      bool          `mapstructure:"reconnect"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ServicesConfig holds the REST collaborators
type ServicesConfig struct {
	HistoryURL string        `mapstructure:"history_url"`
	ResultsURL string        `mapstructure:"results_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PageSize   int           `mapstructure:"page_size"`
	MaxPages   int           `mapstructure:"max_pages"`
}

// CacheConfig holds the local results cache
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SessionConfig is the context the session starts in
type SessionConfig struct {
	ConversationID string `mapstructure:"conversation_id"`
	AssignmentID   string `mapstructure:"assignment_id"`
	GroupID        string `mapstructure:"group_id"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables, e.g. CRAWLDESK_CHANNELS_CHAT_URL
	v.SetEnvPrefix("CRAWLDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("admin.api_key", "")

	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.user_name", "")

	v.SetDefault("channels.chat_url", "ws://localhost:9000/ws/chat")
	v.SetDefault("channels.jobs_url", "ws://localhost:9000/ws/jobs")
	v.SetDefault("channels.token", "")
	v.SetDefault("channels.reconnect", true)
	v.SetDefault("channels.initial_backoff", "500ms")
	v.SetDefault("channels.max_backoff", "30s")

	v.SetDefault("services.history_url", "http://localhost:9000/api")
	v.SetDefault("services.results_url", "http://localhost:9000/api")
	v.SetDefault("services.timeout", "15s")
	v.SetDefault("services.page_size", 50)
	v.SetDefault("services.max_pages", 20)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "./data/crawldesk.db")

	v.SetDefault("session.conversation_id", "")
	v.SetDefault("session.assignment_id", "")
	v.SetDefault("session.group_id", "")

	v.SetDefault("log.development", false)
}

// Validate reports settings the session cannot run without
func (c *Config) Validate() error {
	if c.Identity.UserID == "" {
		return fmt.Errorf("identity.user_id is required")
	}
	if c.Channels.ChatURL == "" || c.Channels.JobsURL == "" {
		return fmt.Errorf("channels.chat_url and channels.jobs_url are required")
	}
	if c.Services.PageSize < 0 || c.Services.MaxPages < 0 {
		return fmt.Errorf("services.page_size and services.max_pages must not be negative")
	}
	return nil
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
