package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sockpress/cmd/internal/realtime"
	"sockpress/cmd/internal/session"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// ErrConfig is returned by Config.Validate.
var ErrConfig = errors.New("app: invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty

	// SocketPath is where the socket server is mounted on the HTTP mux.
	SocketPath string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	SessionName              string
	SessionSecrets           []string // first signs, all verify
	SessionStore             string
	SessionTTL               time.Duration
	SessionResave            bool
	SessionSaveUninitialized bool
	SessionCookieSecure      bool
	SessionCookieMaxAge      time.Duration
	DisableSession           bool

	DatabaseURL        string
	DBMaxConns         int32
	DBMinConns         int32
	DBSchema           string
	DBMigrate          bool
	SessionPruneEvery  time.Duration
	RedisURL           string
	RedisKeyPrefix     string
	ReadinessRequireDB bool

	TLSCertFile      string
	TLSKeyFile       string
	TLSAutocertHosts []string
	TLSAutocertCache string

	// CORS applies to the HTTP routes only; the socket path has its own
	// origin policy.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool

	Socket realtime.Config
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SOCKPRESS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("SOCKPRESS_LOG_LEVEL", "info"),
		LogFormat: EnvString("SOCKPRESS_LOG_FORMAT", "json"),

		SocketPath: EnvString("SOCKPRESS_SOCKET_PATH", "/socket"),

		ReadHeaderTimeout: EnvDuration("SOCKPRESS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SOCKPRESS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SOCKPRESS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SOCKPRESS_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("SOCKPRESS_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("SOCKPRESS_SHUTDOWN_TIMEOUT", 10*time.Second),

		SessionName:              EnvString("SOCKPRESS_SESSION_NAME", session.DefaultCookieName),
		SessionSecrets:           EnvCSV("SOCKPRESS_SESSION_SECRET", nil),
		SessionStore:             strings.ToLower(EnvString("SOCKPRESS_SESSION_STORE", StoreMemory)),
		SessionTTL:               EnvDuration("SOCKPRESS_SESSION_TTL", session.DefaultTTL),
		SessionResave:            EnvBool("SOCKPRESS_SESSION_RESAVE", true),
		SessionSaveUninitialized: EnvBool("SOCKPRESS_SESSION_SAVE_UNINITIALIZED", true),
		SessionCookieSecure:      EnvBool("SOCKPRESS_SESSION_COOKIE_SECURE", false),
		SessionCookieMaxAge:      EnvDuration("SOCKPRESS_SESSION_COOKIE_MAX_AGE", 0),
		DisableSession:           EnvBool("SOCKPRESS_DISABLE_SESSION", false),

		DatabaseURL:        EnvString("SOCKPRESS_DATABASE_URL", ""),
		DBMaxConns:         EnvInt32("SOCKPRESS_DB_MAX_CONNS", 10),
		DBMinConns:         EnvInt32("SOCKPRESS_DB_MIN_CONNS", 0),
		DBSchema:           EnvString("SOCKPRESS_DB_SCHEMA", "sockpress"),
		DBMigrate:          EnvBool("SOCKPRESS_DB_MIGRATE", true),
		SessionPruneEvery:  EnvDuration("SOCKPRESS_SESSION_PRUNE_INTERVAL", 10*time.Minute),
		RedisURL:           EnvString("SOCKPRESS_REDIS_URL", ""),
		RedisKeyPrefix:     EnvString("SOCKPRESS_REDIS_KEY_PREFIX", "sockpress:sess:"),
		ReadinessRequireDB: EnvBool("SOCKPRESS_READINESS_REQUIRE_DB", false),

		TLSCertFile:      EnvString("SOCKPRESS_TLS_CERT_FILE", ""),
		TLSKeyFile:       EnvString("SOCKPRESS_TLS_KEY_FILE", ""),
		TLSAutocertHosts: EnvCSV("SOCKPRESS_TLS_AUTOCERT_HOSTS", nil),
		TLSAutocertCache: EnvString("SOCKPRESS_TLS_AUTOCERT_CACHE", "autocert-cache"),

		CORSAllowedOrigins:   EnvCSV("SOCKPRESS_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("SOCKPRESS_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("SOCKPRESS_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("SOCKPRESS_METRICS_ENABLED", true),

		Socket: realtime.LoadConfigFromEnv(),
	}
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.SocketPath, "/") {
		return fmt.Errorf("%w: socket path %q must start with /", ErrConfig, c.SocketPath)
	}
	if !c.DisableSession && len(c.SessionSecrets) == 0 {
		return fmt.Errorf("%w: SOCKPRESS_SESSION_SECRET is required unless sessions are disabled", ErrConfig)
	}

	switch c.SessionStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres session store needs SOCKPRESS_DATABASE_URL", ErrConfig)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis session store needs SOCKPRESS_REDIS_URL", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown session store %q", ErrConfig, c.SessionStore)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("%w: TLS cert and key must be set together", ErrConfig)
	}
	if c.TLSCertFile != "" && len(c.TLSAutocertHosts) > 0 {
		return fmt.Errorf("%w: TLS cert files and autocert hosts are mutually exclusive", ErrConfig)
	}
	return nil
}

// TLSEnabled reports whether the server listens with HTTPS.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" || len(c.TLSAutocertHosts) > 0
}
