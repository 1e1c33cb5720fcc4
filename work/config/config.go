package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultPath is where the service looks for its settings file when no -config flag is given.
const DefaultPath = "/settings/config.json"

// MinSecretLength is the shortest signing secret the service accepts at startup.
const MinSecretLength = 32

// Environment overrides for values that should not live in the settings file.
const (
	EnvSigningSecret = "IPTVGATE_SIGNING_SECRET"
	EnvAdminPassword = "IPTVGATE_ADMIN_PASSWORD"
)

// ErrMissingSecret is returned when no usable signing secret has been provisioned.
var ErrMissingSecret = errors.New("signing secret is not configured")

// Config holds all runtime settings for the gate. It is built once at startup and passed
// explicitly to every component that needs it.
type Config struct {
	BaseURL                string        `json:"baseURL"`                // Public base URL used when rendering proxy links
	ListenAddr             string        `json:"listenAddr"`             // Address the HTTP server binds to
	DatabasePath           string        `json:"databasePath"`           // SQLite database file
	AccessCodeBackend      string        `json:"accessCodeBackend"`      // "sqlite" or "memory"
	SigningSecret          string        `json:"-"`                      // Server secret for proxy tokens and sessions
	ProxyTokenTTL          time.Duration `json:"proxyTokenTTL"`          // Lifetime of tokens embedded in manifests
	AccessCodeDefaultTTL   time.Duration `json:"accessCodeDefaultTTL"`   // Expiry applied when a code is issued without one
	SessionTTL             time.Duration `json:"sessionTTL"`             // Lifetime of bearer session tokens
	UpstreamConnectTimeout time.Duration `json:"upstreamConnectTimeout"` // Dial timeout toward origins
	UpstreamHeaderTimeout  time.Duration `json:"upstreamHeaderTimeout"`  // Wait for origin response headers
	UpstreamIdleTimeout    time.Duration `json:"upstreamIdleTimeout"`    // Max gap between body reads while relaying
	UpstreamRateLimit      int           `json:"upstreamRateLimit"`      // Upstream opens per second per origin host
	UserAgent              string        `json:"userAgent"`              // User-Agent sent to origins
	WorkerThreads          int           `json:"workerThreads"`          // Size of the background worker pool
	ChannelCacheDuration   time.Duration `json:"channelCacheDuration"`   // TTL of cached channel records
	ValidateChannelURLs    bool          `json:"validateChannelUrls"`    // Probe origins when channels are created
	LogLevel               string        `json:"logLevel"`               // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls          bool          `json:"obfuscateUrls"`          // Mask origin URLs in logs
	AdminUsername          string        `json:"adminUsername"`          // Bootstrap administrator
	AdminEmail             string        `json:"adminEmail"`             // Bootstrap administrator email
	AdminPassword          string        `json:"-"`                      // Bootstrap administrator password
}

// ConfigFile is the on-disk JSON shape. Durations are strings such as "6h" or "30s".
type ConfigFile struct {
	BaseURL                string `json:"baseURL"`
	ListenAddr             string `json:"listenAddr"`
	DatabasePath           string `json:"databasePath"`
	AccessCodeBackend      string `json:"accessCodeBackend"`
	SigningSecret          string `json:"signingSecret"`
	ProxyTokenTTL          string `json:"proxyTokenTTL"`
	AccessCodeDefaultTTL   string `json:"accessCodeDefaultTTL"`
	SessionTTL             string `json:"sessionTTL"`
	UpstreamConnectTimeout string `json:"upstreamConnectTimeout"`
	UpstreamHeaderTimeout  string `json:"upstreamHeaderTimeout"`
	UpstreamIdleTimeout    string `json:"upstreamIdleTimeout"`
	UpstreamRateLimit      int    `json:"upstreamRateLimit"`
	UserAgent              string `json:"userAgent"`
	WorkerThreads          int    `json:"workerThreads"`
	ChannelCacheDuration   string `json:"channelCacheDuration"`
	ValidateChannelURLs    *bool  `json:"validateChannelUrls"`
	LogLevel               string `json:"logLevel"`
	ObfuscateUrls          bool   `json:"obfuscateUrls"`
	AdminUsername          string `json:"adminUsername"`
	AdminEmail             string `json:"adminEmail"`
	AdminPassword          string `json:"adminPassword"`
}

// Load reads the settings file at path, applies environment overrides and defaults, and
// validates the result. A missing file is not an error: defaults are used instead. A missing
// signing secret is always an error.
func Load(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = getDefaultConfig()
	}

	applyEnv(cfg)
	validateAndSetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero and picked up by validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := getDefaultConfig()
	config.BaseURL = cf.BaseURL
	config.ListenAddr = cf.ListenAddr
	config.DatabasePath = cf.DatabasePath
	config.AccessCodeBackend = cf.AccessCodeBackend
	config.SigningSecret = cf.SigningSecret
	config.UpstreamRateLimit = cf.UpstreamRateLimit
	config.UserAgent = cf.UserAgent
	config.WorkerThreads = cf.WorkerThreads
	config.LogLevel = cf.LogLevel
	config.ObfuscateUrls = cf.ObfuscateUrls
	config.AdminUsername = cf.AdminUsername
	config.AdminEmail = cf.AdminEmail
	config.AdminPassword = cf.AdminPassword
	if cf.ValidateChannelURLs != nil {
		config.ValidateChannelURLs = *cf.ValidateChannelURLs
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"proxyTokenTTL", cf.ProxyTokenTTL, &config.ProxyTokenTTL},
		{"accessCodeDefaultTTL", cf.AccessCodeDefaultTTL, &config.AccessCodeDefaultTTL},
		{"sessionTTL", cf.SessionTTL, &config.SessionTTL},
		{"upstreamConnectTimeout", cf.UpstreamConnectTimeout, &config.UpstreamConnectTimeout},
		{"upstreamHeaderTimeout", cf.UpstreamHeaderTimeout, &config.UpstreamHeaderTimeout},
		{"upstreamIdleTimeout", cf.UpstreamIdleTimeout, &config.UpstreamIdleTimeout},
		{"channelCacheDuration", cf.ChannelCacheDuration, &config.ChannelCacheDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			*d.field = 0
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.field = parsed
	}

	return config, nil
}

// applyEnv lets secrets come from the environment instead of the settings file.
func applyEnv(cfg *Config) {
	if secret := os.Getenv(EnvSigningSecret); secret != "" {
		cfg.SigningSecret = secret
	}
	if password := os.Getenv(EnvAdminPassword); password != "" {
		cfg.AdminPassword = password
	}
}

// getDefaultConfig returns the baseline configuration. There is deliberately no default
// signing secret.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:                "http://localhost:8080",
		ListenAddr:             ":8080",
		DatabasePath:           "/settings/iptv-gate.db",
		AccessCodeBackend:      "sqlite",
		ProxyTokenTTL:          6 * time.Hour,
		AccessCodeDefaultTTL:   24 * time.Hour,
		SessionTTL:             30 * time.Minute,
		UpstreamConnectTimeout: 10 * time.Second,
		UpstreamHeaderTimeout:  30 * time.Second,
		UpstreamIdleTimeout:    30 * time.Second,
		UpstreamRateLimit:      20,
		UserAgent:              "VLC/3.0.18 LibVLC/3.0.18",
		WorkerThreads:          8,
		ChannelCacheDuration:   30 * time.Second,
		ValidateChannelURLs:    true,
		LogLevel:               "INFO",
	}
}

// validateAndSetDefaults fills in defaults for missing or invalid values.
func validateAndSetDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ListenAddr == "" {
		config.ListenAddr = defaults.ListenAddr
	}
	if config.DatabasePath == "" {
		config.DatabasePath = defaults.DatabasePath
	}
	if config.AccessCodeBackend == "" {
		config.AccessCodeBackend = defaults.AccessCodeBackend
	}
	if config.ProxyTokenTTL <= 0 {
		config.ProxyTokenTTL = defaults.ProxyTokenTTL
	}
	if config.AccessCodeDefaultTTL <= 0 {
		config.AccessCodeDefaultTTL = defaults.AccessCodeDefaultTTL
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = defaults.SessionTTL
	}
	if config.UpstreamConnectTimeout <= 0 {
		config.UpstreamConnectTimeout = defaults.UpstreamConnectTimeout
	}
	if config.UpstreamHeaderTimeout <= 0 {
		config.UpstreamHeaderTimeout = defaults.UpstreamHeaderTimeout
	}
	if config.UpstreamIdleTimeout <= 0 {
		config.UpstreamIdleTimeout = defaults.UpstreamIdleTimeout
	}
	if config.UpstreamRateLimit <= 0 {
		config.UpstreamRateLimit = defaults.UpstreamRateLimit
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = defaults.WorkerThreads
	}
	if config.ChannelCacheDuration <= 0 {
		config.ChannelCacheDuration = defaults.ChannelCacheDuration
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
}

// Validate reports configuration errors that must stop the process.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("%w: set signingSecret or %s", ErrMissingSecret, EnvSigningSecret)
	}
	if len(c.SigningSecret) < MinSecretLength {
		return fmt.Errorf("%w: secret must be at least %d bytes", ErrMissingSecret, MinSecretLength)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid baseURL %q", c.BaseURL)
	}

	switch c.AccessCodeBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid accessCodeBackend %q", c.AccessCodeBackend)
	}

	return nil
}
