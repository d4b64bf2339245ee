package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/danielliuzy/cold-call-machine/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Vapi      VapiConfig      `yaml:"vapi" mapstructure:"vapi"`
	Places    PlacesConfig    `yaml:"places" mapstructure:"places"`
	Browser   BrowserConfig   `yaml:"browser" mapstructure:"browser"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Calls     CallsConfig     `yaml:"calls" mapstructure:"calls"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	HaikuModel string `yaml:"haiku_model" mapstructure:"haiku_model"`
}

// VapiConfig holds Vapi voice-provider settings.
type VapiConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	PhoneNumberID string `yaml:"phone_number_id" mapstructure:"phone_number_id"`
	Voice         string `yaml:"voice" mapstructure:"voice"`
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
}

// PlacesConfig holds Google Places API settings.
type PlacesConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BrowserConfig holds Browser Use cloud agent settings.
type BrowserConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	PollIntervalSec int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotionConfig holds Notion API credentials for lead export.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// DiscoveryConfig configures the lead discovery loop.
type DiscoveryConfig struct {
	TargetLeads   int `yaml:"target_leads" mapstructure:"target_leads"`
	BrowserTasks  int `yaml:"browser_tasks" mapstructure:"browser_tasks"`
	PerQueryLimit int `yaml:"per_query_limit" mapstructure:"per_query_limit"`
}

// CallsConfig configures outbound call orchestration.
type CallsConfig struct {
	MaxConcurrent   int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	PerRunLeadCap   int     `yaml:"per_run_lead_cap" mapstructure:"per_run_lead_cap"`
	PacingPerMinute int     `yaml:"pacing_per_minute" mapstructure:"pacing_per_minute"`
	CostPerMinute   float64 `yaml:"cost_per_minute" mapstructure:"cost_per_minute"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COLDCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "coldcall.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("vapi.base_url", "https://api.vapi.ai")
	v.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("browser.base_url", "https://api.browser-use.com/api/v1")
	v.SetDefault("browser.poll_interval_secs", 5)
	v.SetDefault("browser.timeout_secs", 300)
	v.SetDefault("discovery.target_leads", 50)
	v.SetDefault("discovery.browser_tasks", 10)
	v.SetDefault("discovery.per_query_limit", 20)
	v.SetDefault("calls.max_concurrent", 3)
	v.SetDefault("calls.per_run_lead_cap", 20)
	v.SetDefault("calls.pacing_per_minute", 10)
	v.SetDefault("calls.cost_per_minute", 0.05)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration required for the given mode is
// present. Modes: serve, discover, calls, export.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	// Shared bounds.
	check(c.Calls.MaxConcurrent >= 1 && c.Calls.MaxConcurrent <= 20,
		"calls.max_concurrent must be between 1 and 20")
	check(c.Calls.PerRunLeadCap >= 1 && c.Calls.PerRunLeadCap <= 200,
		"calls.per_run_lead_cap must be between 1 and 200")
	check(c.Store.DatabaseURL != "", "store.database_url is required")

	switch mode {
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Vapi.Key != "", "vapi.key is required")
	case "discover":
		check(c.Anthropic.Key != "", "anthropic.key is required")
		check(c.Places.Key != "" || c.Browser.Key != "",
			"places.key or browser.key is required")
		check(c.Discovery.TargetLeads > 0, "discovery.target_leads must be > 0")
	case "calls":
		check(c.Vapi.Key != "", "vapi.key is required")
		check(c.Vapi.PhoneNumberID != "", "vapi.phone_number_id is required")
	case "export":
		check(c.Notion.Token != "", "notion.token is required")
		check(c.Notion.LeadDB != "", "notion.lead_db is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
