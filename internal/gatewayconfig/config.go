// Package gatewayconfig loads process configuration from a YAML file (if
// present) layered with environment variable overrides, following the same
// viper-based pattern the rest of this codebase's services use.
package gatewayconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	Environment string `mapstructure:"environment"`

	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Backend    BackendConfig    `mapstructure:"backend"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	CostConfig CostConfig       `mapstructure:"cost"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
}

type ServerConfig struct {
	Port             string        `mapstructure:"port"`
	MaxRequestSizeMB int64         `mapstructure:"max_request_size_mb"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ProviderTimeout  time.Duration `mapstructure:"provider_timeout"`
}

type RedisConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// BackendConfig describes how to reach the administrative backend service
// that owns tenant and credential records (out of scope for this repo,
// called over HTTP per §6 of the spec).
type BackendConfig struct {
	URL          string        `mapstructure:"url"`
	Token        string        `mapstructure:"token"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenURL     string        `mapstructure:"token_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig carries configured defaults for the six limiter
// dimensions. These values are loaded but not read by the limiter, which
// takes its baseline from ratelimit.DefaultTierLimits and then applies
// per-tenant overrides.
type RateLimitConfig struct {
	DefaultRequestsPerMinute int64   `mapstructure:"default_requests_per_minute"`
	DefaultRequestsPerHour   int64   `mapstructure:"default_requests_per_hour"`
	DefaultRequestsPerDay    int64   `mapstructure:"default_requests_per_day"`
	DefaultCostPerMinute     float64 `mapstructure:"default_cost_per_minute"`
	DefaultCostPerHour       float64 `mapstructure:"default_cost_per_hour"`
	DefaultCostPerDay        float64 `mapstructure:"default_cost_per_day"`
}

type CostConfig struct {
	MinimumCost float64 `mapstructure:"minimum_cost"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AnalyticsConfig points at the optional Postgres analytics sink; a blank
// DSN runs the gateway with the no-op sink (lite mode).
type AnalyticsConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ProvidersConfig carries the shared system API keys used when a tenant has
// not supplied its own provider credential (BYOK, §6/§4.8).
type ProvidersConfig struct {
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	GoogleAIAPIKey  string `mapstructure:"google_ai_api_key"`
	CohereAPIKey    string `mapstructure:"cohere_api_key"`
	MistralAPIKey   string `mapstructure:"mistral_api_key"`
}

type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

// Load reads configPath (if non-empty and present) and overlays environment
// variables, returning the merged Config. configPath may be empty; the
// working directory and /etc/llmgateway are searched for config.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/llmgateway")
	}

	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_request_size_mb", 10)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.provider_timeout", 30*time.Second)

	v.SetDefault("redis.url", "")

	v.SetDefault("backend.timeout", 10*time.Second)

	v.SetDefault("rate_limit.default_requests_per_minute", 60)
	v.SetDefault("rate_limit.default_requests_per_hour", 1000)
	v.SetDefault("rate_limit.default_requests_per_day", 10000)
	v.SetDefault("rate_limit.default_cost_per_minute", 1.0)
	v.SetDefault("rate_limit.default_cost_per_hour", 20.0)
	v.SetDefault("rate_limit.default_cost_per_day", 200.0)

	v.SetDefault("cost.minimum_cost", 0.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("cors.allowed_origins", []string{"*"})
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("environment", "ENVIRONMENT")
	_ = v.BindEnv("cors.allowed_origins", "CORS_ORIGINS")
	_ = v.BindEnv("server.max_request_size_mb", "MAX_REQUEST_SIZE")
	_ = v.BindEnv("server.request_timeout", "REQUEST_TIMEOUT")

	_ = v.BindEnv("rate_limit.default_requests_per_minute", "DEFAULT_RATE_LIMIT_PER_MINUTE")
	_ = v.BindEnv("rate_limit.default_requests_per_hour", "DEFAULT_RATE_LIMIT_PER_HOUR")
	_ = v.BindEnv("rate_limit.default_requests_per_day", "DEFAULT_RATE_LIMIT_PER_DAY")
	_ = v.BindEnv("rate_limit.default_cost_per_minute", "DEFAULT_COST_LIMIT_PER_MINUTE")
	_ = v.BindEnv("rate_limit.default_cost_per_hour", "DEFAULT_COST_LIMIT_PER_HOUR")
	_ = v.BindEnv("rate_limit.default_cost_per_day", "DEFAULT_COST_LIMIT_PER_DAY")
	_ = v.BindEnv("rate_limit.default_requests_per_minute", "DEFAULT_RATE_LIMIT")

	_ = v.BindEnv("backend.url", "ADMIN_BACKEND_URL")
	_ = v.BindEnv("backend.token", "ADMIN_BACKEND_TOKEN")
	_ = v.BindEnv("backend.client_id", "ADMIN_BACKEND_CLIENT_ID")
	_ = v.BindEnv("backend.client_secret", "ADMIN_BACKEND_CLIENT_SECRET")
	_ = v.BindEnv("backend.token_url", "ADMIN_BACKEND_TOKEN_URL")

	_ = v.BindEnv("encryption.key", "ENCRYPTION_KEY")

	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("redis.token", "REDIS_TOKEN")

	_ = v.BindEnv("analytics.dsn", "ANALYTICS_DATABASE_URL")

	_ = v.BindEnv("providers.openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("providers.anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("providers.google_ai_api_key", "GOOGLE_AI_API_KEY")
	_ = v.BindEnv("providers.cohere_api_key", "COHERE_API_KEY")
	_ = v.BindEnv("providers.mistral_api_key", "MISTRAL_API_KEY")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output_path", "LOG_OUTPUT_PATH")
}
