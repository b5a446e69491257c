package server

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// QueueConfig bounds each connection's outbound queues. Control messages
// beyond Control disconnect the peer; media frames beyond Media are dropped.
type QueueConfig struct {
	Control int
	Media   int
}

// LogConfig selects the slog handler built by NewLogger.
type LogConfig struct {
	Level  string
	Format string
}

// ICEConfig lists the STUN and TURN servers advertised to call clients.
type ICEConfig struct {
	STUNURLs       []string
	TURNURLs       []string
	TURNUsername   string
	TURNCredential string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	Queue           QueueConfig
	Log             LogConfig
	ShutdownTimeout time.Duration
	ICE             ICEConfig
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 1 << 20
	defaultRateBurst       = 100
	defaultControlQueue    = 256
	defaultMediaQueue      = 64
	defaultShutdownTimeout = 10 * time.Second
	defaultSTUNURL         = "stun:stun.l.google.com:19302"
)

var (
	configMu      sync.RWMutex
	activeConfig  Config
	activeOrigins originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: time.Second,
		},
		Queue: QueueConfig{
			Control: defaultControlQueue,
			Media:   defaultMediaQueue,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		ICE: ICEConfig{
			STUNURLs: []string{defaultSTUNURL},
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.Queue.Control <= 0 {
		cfg.Queue.Control = defaultControlQueue
	}

	if cfg.Queue.Media <= 0 {
		cfg.Queue.Media = defaultMediaQueue
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	origins := newOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = append([]string(nil), origins.origins...)

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activeOrigins = origins

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	copied.ICE.STUNURLs = append([]string(nil), cfg.ICE.STUNURLs...)
	copied.ICE.TURNURLs = append([]string(nil), cfg.ICE.TURNURLs...)
	sanitizeConfig(copied)
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() Config {
	return currentConfig()
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	cfg.ICE.STUNURLs = append([]string(nil), cfg.ICE.STUNURLs...)
	cfg.ICE.TURNURLs = append([]string(nil), cfg.ICE.TURNURLs...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if size := os.Getenv("CONTROL_QUEUE_SIZE"); size != "" {
		cfg.Queue.Control = parseIntValue(size, cfg.Queue.Control)
	}

	if size := os.Getenv("MEDIA_QUEUE_SIZE"); size != "" {
		cfg.Queue.Media = parseIntValue(size, cfg.Queue.Media)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(level))
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(format))
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	if urls, ok := os.LookupEnv("STUN_URLS"); ok {
		cfg.ICE.STUNURLs = parseList(urls)
	}

	cfg.ICE.TURNURLs = parseList(os.Getenv("TURN_URLS"))
	cfg.ICE.TURNUsername = strings.TrimSpace(os.Getenv("TURN_USERNAME"))
	cfg.ICE.TURNCredential = strings.TrimSpace(os.Getenv("TURN_CREDENTIAL"))

	return &cfg
}

// parseList splits a comma separated value, dropping empty entries.
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
