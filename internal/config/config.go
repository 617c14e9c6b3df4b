package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "PLUME"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "plume.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 30
	defaultDebounceMillis     = 2000
	defaultSaveTimeoutMillis  = 10000
	defaultRetryBackoffMillis = 5000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	AuthSigningSecret    string
	TokenTTL             time.Duration
	IdentityAudience     string
	IdentityJWKSURL      string
	IdentityIssuers      []string
	AutosaveDebounce     time.Duration
	AutosaveSaveTimeout  time.Duration
	AutosaveRetryBackoff time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("autosave.debounce_ms", defaultDebounceMillis)
	configViper.SetDefault("autosave.save_timeout_ms", defaultSaveTimeoutMillis)
	configViper.SetDefault("autosave.retry_backoff_ms", defaultRetryBackoffMillis)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		AuthSigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:             time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		IdentityAudience:     configViper.GetString("identity.audience"),
		IdentityJWKSURL:      configViper.GetString("identity.jwks_url"),
		IdentityIssuers:      configViper.GetStringSlice("identity.issuers"),
		AutosaveDebounce:     time.Duration(configViper.GetInt("autosave.debounce_ms")) * time.Millisecond,
		AutosaveSaveTimeout:  time.Duration(configViper.GetInt("autosave.save_timeout_ms")) * time.Millisecond,
		AutosaveRetryBackoff: time.Duration(configViper.GetInt("autosave.retry_backoff_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.IdentityAudience) == "" {
		return fmt.Errorf("identity.audience is required")
	}
	if strings.TrimSpace(c.IdentityJWKSURL) == "" {
		return fmt.Errorf("identity.jwks_url is required")
	}
	if len(c.IdentityIssuers) == 0 {
		return fmt.Errorf("identity.issuers is required")
	}
	if c.AutosaveDebounce <= 0 {
		return fmt.Errorf("autosave.debounce_ms must be positive")
	}
	if c.AutosaveSaveTimeout <= 0 {
		return fmt.Errorf("autosave.save_timeout_ms must be positive")
	}
	if c.AutosaveRetryBackoff <= 0 {
		return fmt.Errorf("autosave.retry_backoff_ms must be positive")
	}
	return nil
}
