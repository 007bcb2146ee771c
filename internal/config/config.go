// Package config loads process configuration from the environment and an
// optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/custodia-labs/callbridge/internal/core/domain"
)

// Run modes.
const (
	ModeAPI     = "api"
	ModeWorker  = "worker"
	ModeAll     = "all"
	ModeMigrate = "migrate"
)

// Config holds every setting. Keys are the lower-cased environment variable names.
type Config struct {
	Port    int    `mapstructure:"port" validate:"min=1,max=65535"`
	RunMode string `mapstructure:"run_mode" validate:"oneof=api worker all migrate"`

	DatabaseURL string `mapstructure:"database_url" validate:"required"`
	RedisURL    string `mapstructure:"redis_url"`

	JWTSecret          string `mapstructure:"jwt_secret" validate:"required_unless=RunMode migrate"`
	TokenEncryptionKey string `mapstructure:"token_encryption_key" validate:"required_unless=RunMode migrate,omitempty,min=16"`

	GoToClientID     string `mapstructure:"goto_client_id"`
	GoToClientSecret string `mapstructure:"goto_client_secret"`
	GoToRedirectURI  string `mapstructure:"goto_redirect_uri" validate:"omitempty,url"`
	GoToAuthURL      string `mapstructure:"goto_auth_url" validate:"required,url"`
	GoToTokenURL     string `mapstructure:"goto_token_url" validate:"required,url"`
	GoToRevokeURL    string `mapstructure:"goto_revoke_url" validate:"required,url"`
	GoToAPIBaseURL   string `mapstructure:"goto_api_base_url" validate:"required,url"`
	FrontendURL      string `mapstructure:"frontend_url" validate:"required,url"`

	ProviderTimeoutSec int `mapstructure:"provider_timeout_sec" validate:"min=1,max=120"`
	StateTTLMin        int `mapstructure:"state_ttl_min" validate:"min=1"`
	RefreshWindowSec   int `mapstructure:"refresh_window_sec" validate:"min=0"`
	ReaperIntervalSec  int `mapstructure:"reaper_interval_sec" validate:"min=10"`

	LogLevel           string `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat          string `mapstructure:"log_format" validate:"oneof=text json"`
	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("run_mode", ModeAll)

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_encryption_key", "")

	v.SetDefault("goto_client_id", "")
	v.SetDefault("goto_client_secret", "")
	v.SetDefault("goto_redirect_uri", "http://localhost:8080/api/v1/goto/callback")
	v.SetDefault("goto_auth_url", domain.GoToAuthURL)
	v.SetDefault("goto_token_url", domain.GoToTokenURL)
	v.SetDefault("goto_revoke_url", domain.GoToRevokeURL)
	v.SetDefault("goto_api_base_url", domain.GoToAPIBaseURL)
	v.SetDefault("frontend_url", "http://localhost:3000")

	v.SetDefault("provider_timeout_sec", 15)
	v.SetDefault("state_ttl_min", 10)
	v.SetDefault("refresh_window_sec", 300)
	v.SetDefault("reaper_interval_sec", 300)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("cors_allowed_origins", "*")
}

// Load reads defaults, then config.yaml from . or ./configs if present,
// then environment variables, and validates the result. A non-empty runMode
// overrides RUN_MODE.
func Load(runMode string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	if runMode != "" {
		v.Set("run_mode", runMode)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ProviderConfigured reports whether GoTo client credentials are set.
func (c *Config) ProviderConfigured() bool {
	return c.GoToClientID != "" && c.GoToClientSecret != ""
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSec) * time.Second
}

func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.StateTTLMin) * time.Minute
}

func (c *Config) RefreshWindow() time.Duration {
	return time.Duration(c.RefreshWindowSec) * time.Second
}

func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSec) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// RunsAPI reports whether the HTTP server should start.
func (c *Config) RunsAPI() bool {
	return c.RunMode == ModeAPI || c.RunMode == ModeAll
}

// RunsWorker reports whether background jobs should start.
func (c *Config) RunsWorker() bool {
	return c.RunMode == ModeWorker || c.RunMode == ModeAll
}
