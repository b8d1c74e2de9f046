package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	dbconfig "github.com/haphu2512-java/ZaloForEdu/pkg/database"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "ZALOEDU_"

const minSecretLength = 32

type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Hub       *HubConfig       `json:"hub"`
	Log       *LogConfig       `json:"log"`
	Sentry    *SentryConfig    `json:"sentry"`
}

type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Path           string        `json:"path"`
	DSN            string        `json:"dsn"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

type HTTPConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	CORSOrigins     []string      `json:"cors_origins"`
	AuthRateLimit   int           `json:"auth_rate_limit"`
	CookieSecure    bool          `json:"cookie_secure"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// AuthConfig covers access, verification and refresh tokens.
type AuthConfig struct {
	JWTSecret       string        `json:"-"`
	Issuer          string        `json:"issuer"`
	AccessTTL       time.Duration `json:"access_ttl"`
	RefreshTTL      time.Duration `json:"refresh_ttl"`
	VerificationTTL time.Duration `json:"verification_ttl"`
	PurgeInterval   time.Duration `json:"purge_interval"`
	PurgeRetention  time.Duration `json:"purge_retention"`
}

type HubConfig struct {
	QueueSize        int `json:"queue_size"`
	MessageRateLimit int `json:"message_rate_limit"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
}

// DefaultConfig returns development defaults. The JWT secret has no default
// and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:         dbconfig.DriverSQLite,
			Path:           "./data/zaloedu.db",
			Timeout:        10 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			AuthRateLimit:   10,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
		},
		Auth: &AuthConfig{
			Issuer:          "zaloedu",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      30 * 24 * time.Hour,
			VerificationTTL: 24 * time.Hour,
			PurgeInterval:   time.Hour,
			PurgeRetention:  7 * 24 * time.Hour,
		},
		Hub: &HubConfig{
			QueueSize:        1024,
			MessageRateLimit: 100,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
		Sentry: &SentryConfig{
			Environment:      "development",
			TracesSampleRate: 0.1,
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if err := c.DatabaseConfig().Validate(); err != nil {
		return err
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.AuthRateLimit < 0 {
		return errors.New("HTTP auth rate limit cannot be negative")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket intervals must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return errors.New("WebSocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Auth == nil {
		return errors.New("auth configuration is required")
	}
	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT secret must be at least %d characters (set %sJWT_SECRET)", minSecretLength, EnvPrefix)
	}
	if c.Auth.Issuer == "" {
		return errors.New("JWT issuer cannot be empty")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.VerificationTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Auth.PurgeInterval <= 0 || c.Auth.PurgeRetention < 0 {
		return errors.New("token purge interval must be positive and retention non-negative")
	}

	if c.Hub == nil {
		return errors.New("hub configuration is required")
	}
	if c.Hub.QueueSize <= 0 {
		return errors.New("hub queue size must be positive")
	}
	if c.Hub.MessageRateLimit < 0 {
		return errors.New("hub message rate limit cannot be negative")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	if c.Sentry == nil {
		return errors.New("sentry configuration is required")
	}
	if c.Sentry.TracesSampleRate < 0 || c.Sentry.TracesSampleRate > 1 {
		return errors.New("sentry traces sample rate must be between 0 and 1")
	}

	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// DatabaseConfig converts the database section for the storage layer.
func (c *Config) DatabaseConfig() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.Driver = c.Database.Driver
	db.DatabasePath = c.Database.Path
	db.DSN = c.Database.DSN
	db.MaxConnections = c.Database.MaxConnections
	return db
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped and variables already set are left untouched.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envList(key string, dst *[]string) {
	if v, ok := lookup(key); ok {
		*dst = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromEnv overlays ZALOEDU_* variables on the defaults. Unparseable
// values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envString("DATABASE_DRIVER", &c.Database.Driver)
	envString("DATABASE_PATH", &c.Database.Path)
	envString("DATABASE_DSN", &c.Database.DSN)
	envDuration("DATABASE_TIMEOUT", &c.Database.Timeout)
	envInt("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)

	envInt("HTTP_PORT", &c.HTTP.Port)
	envString("HTTP_HOST", &c.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	envList("HTTP_CORS_ORIGINS", &c.HTTP.CORSOrigins)
	envInt("HTTP_AUTH_RATE_LIMIT", &c.HTTP.AuthRateLimit)
	envBool("HTTP_COOKIE_SECURE", &c.HTTP.CookieSecure)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	envInt64("WEBSOCKET_MAX_MESSAGE_SIZE", &c.WebSocket.MaxMessageSize)

	envString("JWT_SECRET", &c.Auth.JWTSecret)
	envString("JWT_ISSUER", &c.Auth.Issuer)
	envDuration("ACCESS_TOKEN_TTL", &c.Auth.AccessTTL)
	envDuration("REFRESH_TOKEN_TTL", &c.Auth.RefreshTTL)
	envDuration("VERIFICATION_TOKEN_TTL", &c.Auth.VerificationTTL)
	envDuration("TOKEN_PURGE_INTERVAL", &c.Auth.PurgeInterval)
	envDuration("TOKEN_RETENTION", &c.Auth.PurgeRetention)

	envInt("HUB_QUEUE_SIZE", &c.Hub.QueueSize)
	envInt("HUB_MESSAGE_RATE_LIMIT", &c.Hub.MessageRateLimit)

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	envString("SENTRY_DSN", &c.Sentry.DSN)
	envString("SENTRY_ENVIRONMENT", &c.Sentry.Environment)
	envFloat("SENTRY_TRACES_SAMPLE_RATE", &c.Sentry.TracesSampleRate)
}

// ConfigFile is the JSON layout of a configuration file. Durations are
// strings such as "30s" or "720h".
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfigFile      `json:"auth"`
	Hub       *HubConfig           `json:"hub"`
	Log       *LogConfig           `json:"log"`
	Sentry    *SentryConfig        `json:"sentry"`
}

type DatabaseConfigFile struct {
	Driver         string `json:"driver"`
	Path           string `json:"path"`
	DSN            string `json:"dsn"`
	Timeout        string `json:"timeout"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfigFile struct {
	Port            int      `json:"port"`
	Host            string   `json:"host"`
	ReadTimeout     string   `json:"read_timeout"`
	WriteTimeout    string   `json:"write_timeout"`
	ShutdownTimeout string   `json:"shutdown_timeout"`
	CORSOrigins     []string `json:"cors_origins"`
	AuthRateLimit   *int     `json:"auth_rate_limit"`
	CookieSecure    *bool    `json:"cookie_secure"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type AuthConfigFile struct {
	JWTSecret       string `json:"jwt_secret"`
	Issuer          string `json:"issuer"`
	AccessTTL       string `json:"access_ttl"`
	RefreshTTL      string `json:"refresh_ttl"`
	VerificationTTL string `json:"verification_ttl"`
	PurgeInterval   string `json:"purge_interval"`
	PurgeRetention  string `json:"purge_retention"`
}

// parseDuration keeps dst when s is empty and fails on malformed values.
func parseDuration(field, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

func setString(src string, dst *string) {
	if src != "" {
		*dst = src
	}
}

func setInt[T int | int64](src T, dst *T) {
	if src > 0 {
		*dst = src
	}
}

func applyFile(c *Config, f *ConfigFile) error {
	if d := f.Database; d != nil {
		setString(d.Driver, &c.Database.Driver)
		setString(d.Path, &c.Database.Path)
		setString(d.DSN, &c.Database.DSN)
		setInt(d.MaxConnections, &c.Database.MaxConnections)
		if err := parseDuration("database.timeout", d.Timeout, &c.Database.Timeout); err != nil {
			return err
		}
	}

	if h := f.HTTP; h != nil {
		setInt(h.Port, &c.HTTP.Port)
		setString(h.Host, &c.HTTP.Host)
		if len(h.CORSOrigins) > 0 {
			c.HTTP.CORSOrigins = h.CORSOrigins
		}
		if h.AuthRateLimit != nil {
			c.HTTP.AuthRateLimit = *h.AuthRateLimit
		}
		if h.CookieSecure != nil {
			c.HTTP.CookieSecure = *h.CookieSecure
		}
		for _, d := range []struct {
			field string
			value string
			dst   *time.Duration
		}{
			{"http.read_timeout", h.ReadTimeout, &c.HTTP.ReadTimeout},
			{"http.write_timeout", h.WriteTimeout, &c.HTTP.WriteTimeout},
			{"http.shutdown_timeout", h.ShutdownTimeout, &c.HTTP.ShutdownTimeout},
		} {
			if err := parseDuration(d.field, d.value, d.dst); err != nil {
				return err
			}
		}
	}

	if w := f.WebSocket; w != nil {
		setInt(w.BufferSize, &c.WebSocket.BufferSize)
		setInt(w.MaxMessageSize, &c.WebSocket.MaxMessageSize)
		for _, d := range []struct {
			field string
			value string
			dst   *time.Duration
		}{
			{"websocket.ping_interval", w.PingInterval, &c.WebSocket.PingInterval},
			{"websocket.read_timeout", w.ReadTimeout, &c.WebSocket.ReadTimeout},
			{"websocket.write_timeout", w.WriteTimeout, &c.WebSocket.WriteTimeout},
		} {
			if err := parseDuration(d.field, d.value, d.dst); err != nil {
				return err
			}
		}
	}

	if a := f.Auth; a != nil {
		setString(a.JWTSecret, &c.Auth.JWTSecret)
		setString(a.Issuer, &c.Auth.Issuer)
		for _, d := range []struct {
			field string
			value string
			dst   *time.Duration
		}{
			{"auth.access_ttl", a.AccessTTL, &c.Auth.AccessTTL},
			{"auth.refresh_ttl", a.RefreshTTL, &c.Auth.RefreshTTL},
			{"auth.verification_ttl", a.VerificationTTL, &c.Auth.VerificationTTL},
			{"auth.purge_interval", a.PurgeInterval, &c.Auth.PurgeInterval},
			{"auth.purge_retention", a.PurgeRetention, &c.Auth.PurgeRetention},
		} {
			if err := parseDuration(d.field, d.value, d.dst); err != nil {
				return err
			}
		}
	}

	if h := f.Hub; h != nil {
		setInt(h.QueueSize, &c.Hub.QueueSize)
		if h.MessageRateLimit != 0 {
			c.Hub.MessageRateLimit = h.MessageRateLimit
		}
	}

	if l := f.Log; l != nil {
		setString(l.Level, &c.Log.Level)
		setString(l.Format, &c.Log.Format)
	}

	if s := f.Sentry; s != nil {
		setString(s.DSN, &c.Sentry.DSN)
		setString(s.Environment, &c.Sentry.Environment)
		if s.TracesSampleRate != 0 {
			c.Sentry.TracesSampleRate = s.TracesSampleRate
		}
	}

	return nil
}

func readFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &file, nil
}

// LoadFromFile overlays a JSON file on the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	file, err := readFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := applyFile(config, file); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence layers defaults, then environment, then the file
// at path (when non-empty), and validates the result.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := applyFile(config, file); err != nil {
			return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
