package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "HIGHLIGHTER"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "highlighter.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "app_session"
	defaultIssuer            = "tauth"
	defaultAutosaveInterval  = 3 * time.Second
	defaultMaxHighlights     = 100
	defaultSanitizeDocuments = true
	defaultRatePerSecond     = 20.0
	defaultRateBurst         = 40
)

// Keys of the configuration tree. Environment variables use the prefix and
// replace dots with underscores, e.g. HIGHLIGHTER_DATABASE_PATH.
const (
	KeyHTTPAddress      = "http.address"
	KeyDatabasePath     = "database.path"
	KeyLogLevel         = "log.level"
	KeySigningSecret    = "tauth.signing_secret"
	KeyCookieName       = "tauth.cookie_name"
	KeyIssuer           = "tauth.issuer"
	KeyAutosaveInterval = "highlights.autosave_interval"
	KeyMaxHighlights    = "highlights.max_per_page"
	KeySanitize         = "document.sanitize"
	KeyRatePerSecond    = "ratelimit.per_second"
	KeyRateBurst        = "ratelimit.burst"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	TAuthSigningKey  string
	TAuthCookieName  string
	TAuthIssuer      string
	DatabasePath     string
	LogLevel         string
	AutosaveInterval time.Duration
	MaxHighlights    int
	SanitizeDocument bool
	RatePerSecond    float64
	RateBurst        int
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

	configViper.SetDefault(KeyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(KeyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(KeyLogLevel, defaultLogLevel)
	configViper.SetDefault(KeyCookieName, defaultCookieName)
	configViper.SetDefault(KeyIssuer, defaultIssuer)
	configViper.SetDefault(KeyAutosaveInterval, defaultAutosaveInterval)
	configViper.SetDefault(KeyMaxHighlights, defaultMaxHighlights)
	configViper.SetDefault(KeySanitize, defaultSanitizeDocuments)
	configViper.SetDefault(KeyRatePerSecond, defaultRatePerSecond)
	configViper.SetDefault(KeyRateBurst, defaultRateBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString(KeyHTTPAddress),
		TAuthSigningKey:  configViper.GetString(KeySigningSecret),
		TAuthCookieName:  configViper.GetString(KeyCookieName),
		TAuthIssuer:      configViper.GetString(KeyIssuer),
		DatabasePath:     configViper.GetString(KeyDatabasePath),
		LogLevel:         configViper.GetString(KeyLogLevel),
		AutosaveInterval: configViper.GetDuration(KeyAutosaveInterval),
		MaxHighlights:    configViper.GetInt(KeyMaxHighlights),
		SanitizeDocument: configViper.GetBool(KeySanitize),
		RatePerSecond:    configViper.GetFloat64(KeyRatePerSecond),
		RateBurst:        configViper.GetInt(KeyRateBurst),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadStorage parses the subset of configuration needed by offline commands
// that only read the database.
func LoadStorage(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath: configViper.GetString(KeyDatabasePath),
		LogLevel:     configViper.GetString(KeyLogLevel),
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return AppConfig{}, fmt.Errorf("%s is required", KeyDatabasePath)
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("%s is required", KeySigningSecret)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("%s is required", KeyDatabasePath)
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("%s is required", KeyCookieName)
	}
	if c.AutosaveInterval <= 0 {
		return fmt.Errorf("%s must be positive", KeyAutosaveInterval)
	}
	if c.MaxHighlights < 0 {
		return fmt.Errorf("%s must not be negative", KeyMaxHighlights)
	}
	if c.RatePerSecond > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("%s must be positive when rate limiting is enabled", KeyRateBurst)
	}
	return nil
}
