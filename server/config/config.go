package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	AgentName        string // Build-time metadata, not configurable via environment
	AgentDescription string // Build-time metadata, not configurable via environment
	AgentVersion     string // Build-time metadata, not configurable via environment
	Debug            bool   `env:"DEBUG,default=false"`
	ManifestFilePath string `env:"MANIFEST_FILE_PATH" description:"Path to JSON file containing a static agent manifest definition"`

	ServerConfig        ServerConfig        `env:",prefix=SERVER_"`
	StoreConfig         StoreConfig         `env:",prefix=STORE_"`
	SessionConfig       SessionConfig       `env:",prefix=SESSION_"`
	AuthConfig          AuthConfig          `env:",prefix=AUTH_"`
	TelemetryConfig     TelemetryConfig     `env:",prefix=TELEMETRY_"`
	NotificationsConfig NotificationsConfig `env:",prefix=NOTIFICATIONS_"`
	ContentConfig       ContentConfig       `env:",prefix=CONTENT_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `env:"HOST,default=127.0.0.1" description:"HTTP server bind host"`
	Port           string        `env:"PORT,default=8000" description:"HTTP server port"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT,default=120s" description:"HTTP server read timeout"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=120s" description:"HTTP server write timeout"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT,default=120s" description:"HTTP server idle timeout"`
	DisablePingLog bool          `env:"DISABLE_PING_LOG,default=true" description:"Disable request logging for the ping endpoint"`
	TLSConfig      TLSConfig     `env:",prefix=TLS_"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enable   bool   `env:"ENABLE,default=false"`
	CertPath string `env:"CERT_PATH" description:"TLS certificate path"`
	KeyPath  string `env:"KEY_PATH" description:"TLS key path"`
}

// StoreConfig holds run and session store configuration
type StoreConfig struct {
	Provider        string            `env:"PROVIDER,default=memory" description:"Store provider (memory, redis)"`
	URL             string            `env:"URL" description:"Connection URL for the store backend"`
	Credentials     map[string]string `env:"CREDENTIALS" description:"Provider-specific credentials"`
	Options         map[string]string `env:"OPTIONS" description:"Provider-specific configuration options"`
	MaxFinishedRuns int               `env:"MAX_FINISHED_RUNS,default=100" description:"Maximum finished runs to retain (0 = unlimited)"`
	CleanupInterval time.Duration     `env:"CLEANUP_INTERVAL,default=5m" description:"How often to run finished-run cleanup (0 = manual cleanup only)"`
}

// SessionConfig holds session history configuration
type SessionConfig struct {
	MaxHistory int `env:"MAX_HISTORY,default=50" description:"Maximum messages to keep in session history per session"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enable       bool   `env:"ENABLE,default=false"`
	IssuerURL    string `env:"ISSUER_URL" description:"OIDC issuer URL"`
	ClientID     string `env:"CLIENT_ID" description:"OIDC client identifier"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Host         string        `env:"HOST,default=" description:"Metrics server host (empty for all interfaces)"`
	Port         string        `env:"PORT,default=9090" description:"Metrics server port"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s" description:"Metrics server read timeout"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s" description:"Metrics server write timeout"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=60s" description:"Metrics server idle timeout"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enable        bool          `env:"ENABLE,default=false" description:"Enable telemetry collection"`
	MetricsConfig MetricsConfig `env:",prefix=METRICS_"`
}

// NotificationsConfig holds run status webhook configuration
type NotificationsConfig struct {
	Enable       bool          `env:"ENABLE,default=false" description:"Enable run status change notifications"`
	WebhookURL   string        `env:"WEBHOOK_URL" description:"URL receiving CloudEvents run status notifications"`
	WebhookToken string        `env:"WEBHOOK_TOKEN" description:"Optional bearer token sent with notifications"`
	Timeout      time.Duration `env:"TIMEOUT,default=10s" description:"Notification delivery timeout"`
}

// ContentConfig holds external message part content storage configuration
type ContentConfig struct {
	Provider       string `env:"PROVIDER,default=none" description:"Content store provider (none, filesystem, minio)"`
	BasePath       string `env:"BASE_PATH,default=./content" description:"Base path for filesystem content storage"`
	BaseURL        string `env:"BASE_URL" description:"Base URL under which stored content is reachable"`
	Endpoint       string `env:"ENDPOINT" description:"Object store endpoint URL (for MinIO)"`
	AccessKey      string `env:"ACCESS_KEY" description:"Object store access key"`
	SecretKey      string `env:"SECRET_KEY" description:"Object store secret key"`
	BucketName     string `env:"BUCKET_NAME,default=acp-content" description:"Object store bucket name"`
	UseSSL         bool   `env:"USE_SSL,default=true" description:"Use SSL for object store connections"`
	MaxInlineBytes int    `env:"MAX_INLINE_BYTES,default=0" description:"Externalize part content larger than this many bytes (0 = keep inline)"`
}

// Load loads configuration from environment variables, merging with the provided base config.
func Load(ctx context.Context, baseConfig *Config) (*Config, error) {
	return LoadWithLookuper(ctx, baseConfig, envconfig.OsLookuper())
}

// LoadWithLookuper creates and loads configuration using a custom lookuper and merges with user config
func LoadWithLookuper(ctx context.Context, baseConfig *Config, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config

	if baseConfig != nil {
		cfg = *baseConfig
	}

	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NewWithDefaults creates a new config with defaults applied from struct tags.
func NewWithDefaults(ctx context.Context, baseConfig *Config) (*Config, error) {
	return LoadWithLookuper(ctx, baseConfig, &emptyLookuper{})
}

// emptyLookuper ensures that only default values from struct tags are used
type emptyLookuper struct{}

func (e *emptyLookuper) Lookup(key string) (string, bool) {
	return "", false
}

// Validate validates the configuration and applies corrections for invalid values
func (c *Config) Validate() error {
	if c.SessionConfig.MaxHistory < 0 {
		c.SessionConfig.MaxHistory = 0
	}

	if c.NotificationsConfig.Enable && c.NotificationsConfig.WebhookURL == "" {
		return fmt.Errorf("notifications are enabled but NOTIFICATIONS_WEBHOOK_URL is not set")
	}

	switch c.ContentConfig.Provider {
	case "", "none", "filesystem", "minio":
	default:
		return fmt.Errorf("invalid content store provider: %q", c.ContentConfig.Provider)
	}

	return nil
}

// ListenAddress returns the host:port the HTTP server binds to
func (c *Config) ListenAddress() string {
	return c.ServerConfig.Host + ":" + c.ServerConfig.Port
}
