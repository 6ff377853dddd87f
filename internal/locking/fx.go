package locking

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/sadaqahq/amanah/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("locking",
	fx.Provide(NewClient),
	fx.Provide(NewLocker),
)

// NewClient returns nil when no redis address is configured; the
// Locker degrades to a local no-op in that case.
func NewClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
