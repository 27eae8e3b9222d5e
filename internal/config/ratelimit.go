package config

import "time"

// RateLimitConfig configures the fixed-window limiter.  Two profiles exist:
// Default guards the API broadly and Strict guards sensitive endpoints such as
// login-link requests.
type RateLimitConfig struct {
	Enabled       bool
	Backend       string // "redis" or "file"
	Dir           string // state directory for the file backend
	KeyStrategy   string
	Prefix        string
	DefaultMax    int
	DefaultWindow time.Duration
	StrictMax     int
	StrictWindow  time.Duration
	Debug         bool
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:       envBool("RATE_LIMIT_ENABLED", true),
		Backend:       envStr("RATE_LIMIT_BACKEND", "redis"),
		Dir:           envStr("RATE_LIMIT_DIR", "/tmp/rate_limit"),
		KeyStrategy:   envStr("RATE_LIMIT_KEY_STRATEGY", "ip_route"),
		Prefix:        envStr("RATE_LIMIT_PREFIX", "rl"),
		DefaultMax:    envInt("RATE_LIMIT_REQUESTS", 60),
		DefaultWindow: envDur("RATE_LIMIT_WINDOW", 60*time.Second),
		StrictMax:     envInt("RATE_LIMIT_STRICT_REQUESTS", 5),
		StrictWindow:  envDur("RATE_LIMIT_STRICT_WINDOW", 300*time.Second),
		Debug:         envBool("RATE_LIMIT_DEBUG", false),
	}
	if def.DefaultMax < 1 {
		def.DefaultMax = 1
	}
	if def.StrictMax < 1 {
		def.StrictMax = 1
	}
	if def.DefaultWindow < time.Second {
		def.DefaultWindow = time.Second
	}
	if def.StrictWindow < time.Second {
		def.StrictWindow = time.Second
	}
	return def
}
