package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the transport policy knobs.
type Config struct {
	// DevInsecure disables websocket.Accept's own origin verification. Dev only.
	DevInsecure bool

	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	MaxFrameBytes int64
}

// DefaultConfig returns the secure defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   defaultOriginRequired,
		AllowedOrigins:   splitCSV(defaultAllowedOrigins),
		WriteTimeout:     defaultWriteTimeout,
		ReadIdleTimeout:  defaultReadIdle,
		SendQueueSize:    defaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
		MaxFrameBytes:    maxFrameBytes,
	}
}

// LoadConfigFromEnv overlays SOCKPRESS_WS_* variables on DefaultConfig.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		DevInsecure:      envBool("SOCKPRESS_WS_DEV_INSECURE", false),
		OriginRequired:   envBool("SOCKPRESS_WS_ORIGIN_REQUIRED", def.OriginRequired),
		AllowedOrigins:   splitCSV(envString("SOCKPRESS_WS_ALLOWED_ORIGINS", defaultAllowedOrigins)),
		WriteTimeout:     envDuration("SOCKPRESS_WS_WRITE_TIMEOUT", def.WriteTimeout),
		ReadIdleTimeout:  envDuration("SOCKPRESS_WS_READ_IDLE_TIMEOUT", def.ReadIdleTimeout),
		SendQueueSize:    envInt("SOCKPRESS_WS_SEND_QUEUE", def.SendQueueSize),
		HeartbeatEvery:   envDuration("SOCKPRESS_WS_HEARTBEAT_INTERVAL", def.HeartbeatEvery),
		HeartbeatTimeout: envDuration("SOCKPRESS_WS_HEARTBEAT_TIMEOUT", def.HeartbeatTimeout),
		RateEvents:       envInt("SOCKPRESS_WS_RATE_EVENTS", def.RateEvents),
		RateWindow:       envDuration("SOCKPRESS_WS_RATE_WINDOW", def.RateWindow),
		MaxFrameBytes:    int64(envInt("SOCKPRESS_WS_MAX_FRAME_BYTES", int(def.MaxFrameBytes))),
	}
}

// normalized fills zero values with defaults and clamps the send queue.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = def.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = def.MaxFrameBytes
	}
	return c
}

// ---- env helpers ----
// The app package has its own copies; this package must not import it.

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
