package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/featurepulse-backend/internal/pkg/envutil"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
)

type Config struct {
	Addr       string
	Password   string
	DB         int
	Channel    string
	ContextTTL time.Duration
	KeyPrefix  string
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Addr:       envutil.String("REDIS_ADDR", "", log),
		Password:   envutil.String("REDIS_PASSWORD", "", log),
		DB:         envutil.Int("REDIS_DB", 0, log),
		Channel:    envutil.String("REDIS_CHANNEL", "featurepulse.events", log),
		ContextTTL: envutil.Seconds("EXTRACTION_CONTEXT_TTL_SECONDS", 60, log),
		KeyPrefix:  envutil.String("REDIS_KEY_PREFIX", "featurepulse", log),
	}
}

// NewClient connects and pings. Callers treat a nil client as "redis disabled".
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
