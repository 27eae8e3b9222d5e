package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  It is loaded once at
// startup and handed to every component; nothing else reads the environment.
type Config struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	AppURL string // public base URL used to build magic links

	DBUser        string // database username
	DBPass        string // database password (optional)
	DBHost        string // database host address
	DBPort        string // database port number
	DBName        string // database name
	DBAutoMigrate bool   // run embedded migrations on startup

	JWTSecret string        // secret used to sign access tokens, immutable after startup
	JWTIssuer string        // iss claim written into and required from access tokens
	AccessTTL time.Duration // access token lifetime

	// Magic links expire absolutely after MagicLinkTTL and are purged after
	// MagicLinkRetention; refresh tokens likewise.
	MagicLinkTTL       time.Duration
	MagicLinkRetention time.Duration
	RefreshTTL         time.Duration
	RefreshRetention   time.Duration

	// At most LoginRequestCap links are issued per account within
	// LoginRequestWindow.  Every login request is delayed by a random duration
	// in [LoginUniformDelayMin, LoginUniformDelayMax].
	LoginRequestCap      int
	LoginRequestWindow   time.Duration
	LoginUniformDelayMin time.Duration
	LoginUniformDelayMax time.Duration

	InternalAPIKeyHash string // bcrypt hash of the key accepted on /internal routes

	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed. Empty
	// means the client address is the TCP peer.
	TrustedProxies []string

	LogLevel  string
	LogFormat string // json | console

	RateLimit RateLimitConfig
	Redis     RedisConfig
	Mail      MailConfig
	Queue     QueueConfig
}

// Load reads configuration values from the environment (optionally seeded
// from a .env file) and returns a Config.  Required variables are enforced by
// must() and missing values cause the program to exit with a fatal log message.
func Load() Config {
	// A missing .env is normal in containers; real env vars always win.
	_ = godotenv.Load()

	return Config{
		Env:    must("APP_ENV"),
		Port:   must("APP_PORT"),
		AppURL: strings.TrimRight(envStr("APP_URL", "http://localhost:8080"), "/"),

		DBUser:        must("DB_USER"),
		DBPass:        os.Getenv("DB_PASS"), // empty allowed
		DBHost:        must("DB_HOST"),
		DBPort:        must("DB_PORT"),
		DBName:        must("DB_NAME"),
		DBAutoMigrate: envBool("DB_AUTO_MIGRATE", true),

		JWTSecret: must("JWT_SECRET"),
		JWTIssuer: envStr("JWT_ISSUER", "magiclink-auth"),
		AccessTTL: envDur("ACCESS_TOKEN_TTL", 15*time.Minute),

		MagicLinkTTL:         envDur("MAGIC_LINK_TTL", 24*time.Hour),
		MagicLinkRetention:   envDur("MAGIC_LINK_RETENTION", 35*24*time.Hour),
		RefreshTTL:           envDur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RefreshRetention:     envDur("REFRESH_TOKEN_RETENTION", 30*24*time.Hour),
		LoginRequestCap:      envInt("LOGIN_REQUEST_CAP", 3),
		LoginRequestWindow:   envDur("LOGIN_REQUEST_CAP_WINDOW", time.Hour),
		LoginUniformDelayMin: envDur("LOGIN_UNIFORM_DELAY_MIN", 100*time.Millisecond),
		LoginUniformDelayMax: envDur("LOGIN_UNIFORM_DELAY_MAX", 300*time.Millisecond),
		InternalAPIKeyHash:   os.Getenv("INTERNAL_API_KEY_HASH"),
		TrustedProxies:       envList("TRUSTED_PROXIES"),
		LogLevel:             envStr("LOG_LEVEL", "info"),
		LogFormat:            envStr("LOG_FORMAT", "json"),

		RateLimit: LoadRateLimitConfig(),
		Redis:     LoadRedisConfig(),
		Mail:      LoadMailConfig(),
		Queue:     LoadQueueConfig(),
	}
}

// IsDevelopment reports whether the service runs in a local environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// envList splits a comma-separated variable, dropping empty items.
func envList(k string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(k), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

// envDur accepts Go durations ("15m") and, for compatibility with the old
// integer settings, a bare number of seconds.
func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return d
}
