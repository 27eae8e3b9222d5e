package ratelimit

import (
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/config"
)

// NewStore picks the backend named by cfg.Backend.  Redis is used when
// requested and a client is available; otherwise state goes to files under
// cfg.Dir.
func NewStore(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) (Store, error) {
	if strings.EqualFold(cfg.Backend, "redis") {
		if rdb != nil {
			return NewRedisStore(rdb, cfg.Prefix), nil
		}
		log.Warn("ratelimit: redis unavailable, falling back to file store", zap.String("dir", cfg.Dir))
	}
	return NewFileStore(cfg.Dir)
}
