package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel      string // "debug" | "info" | "warn" | "error"
	PrettyLog     bool   // true => zap dev (color), false => zap prod (JSON)
	LogFile       string // optional, rotated JSON log file
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	// Backend
	BackendURL   string        // ex: "http://backend:8000"
	SitesPath    string        // default "/sites"
	BackendToken string        // optional bearer token
	PollInterval time.Duration // default 30s
	FetchTimeout time.Duration // per-request timeout, default 10s

	// Classification / staleness
	WarningThreshold time.Duration // response time above this => WARNING (default 500ms)
	MissedIntervals  int           // a site is stale after this many missed intervals (default 3)

	SeedFile string // optional sites.yaml pinned at startup

	// Redis (optional, empty addr disables the mirror)
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts
	RedisSiteTTL        time.Duration // expiry of mirrored records

	AllowedCIDRS []string // optional, restrict admin routes to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
	CORSOrigins  []string // allowed browser origins for the dashboard

	// Rate limit on POST /api/sites (token bucket per client IP)
	RateLimitBurst   int
	RateLimitPerMin  int
	RateLimitMaxKeys int

	SSEHeartbeat time.Duration // keepalive comment interval on /api/events
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("SITEWATCH_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("SITEWATCH_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:      getenv("SITEWATCH_LOG_LEVEL", "info"),
		PrettyLog:     mustBool("SITEWATCH_PRETTY_LOG", true),
		LogFile:       getenv("SITEWATCH_LOG_FILE", ""),
		LogMaxSizeMB:  getenvInt("SITEWATCH_LOG_MAX_SIZE_MB", 10),
		LogMaxBackups: getenvInt("SITEWATCH_LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getenvInt("SITEWATCH_LOG_MAX_AGE_DAYS", 14),
		LogCompress:   mustBool("SITEWATCH_LOG_COMPRESS", true),

		// Backend
		BackendURL:   requireEnv("SITEWATCH_BACKEND_URL"),
		SitesPath:    getenv("SITEWATCH_SITES_PATH", "/sites"),
		BackendToken: getenv("SITEWATCH_BACKEND_TOKEN", ""),
		PollInterval: mustDuration("SITEWATCH_POLL_INTERVAL", 30*time.Second),
		FetchTimeout: mustDuration("SITEWATCH_FETCH_TIMEOUT", 10*time.Second),

		WarningThreshold: mustDuration("SITEWATCH_WARNING_THRESHOLD", 500*time.Millisecond),
		MissedIntervals:  getenvInt("SITEWATCH_MISSED_INTERVALS", 3),

		SeedFile: getenv("SITEWATCH_SEED_FILE", ""),

		// Redis settings
		RedisAddr:           getenv("SITEWATCH_REDIS_ADDR", ""),
		RedisUser:           getenv("SITEWATCH_REDIS_USERNAME", ""),
		RedisPassword:       getenv("SITEWATCH_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("SITEWATCH_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),
		RedisSiteTTL:        mustDuration("SITEWATCH_REDIS_SITE_TTL", 7*24*time.Hour),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(getenv("SITEWATCH_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("SITEWATCH_TRUST_PROXY", true),
		CORSOrigins:  splitAndTrim(getenv("SITEWATCH_CORS_ORIGINS", "*")),

		RateLimitBurst:   getenvInt("SITEWATCH_RATE_LIMIT_BURST", 5),
		RateLimitPerMin:  getenvInt("SITEWATCH_RATE_LIMIT_PER_MIN", 12),
		RateLimitMaxKeys: getenvInt("SITEWATCH_RATE_LIMIT_MAX_KEYS", 10000),
		SSEHeartbeat:     mustDuration("SITEWATCH_SSE_HEARTBEAT", 15*time.Second),
	}

	if cfg.PollInterval <= 0 {
		panic("❌ FATAL: SITEWATCH_POLL_INTERVAL must be positive")
	}
	if cfg.MissedIntervals < 1 {
		panic("❌ FATAL: SITEWATCH_MISSED_INTERVALS must be at least 1")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// RedisEnabled reports whether the snapshot mirror is configured
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// Redacted returns a copy safe to log
func (c *Config) Redacted() Config {
	cp := *c
	if cp.RedisPassword != "" {
		cp.RedisPassword = "***REDACTED***"
	}
	if cp.BackendToken != "" {
		cp.BackendToken = "***REDACTED***"
	}
	return cp
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
