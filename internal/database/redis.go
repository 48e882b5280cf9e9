package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abuccarelli/Unicorn1/internal/config"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

var Redis *redis.Client

// InitRedis connects the client backing the channel transport. A failed ping
// is fatal only when Redis is the configured transport; the caller decides.
func InitRedis() error {
	Redis = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Redis.Ping(ctx).Result(); err != nil {
		return err
	}
	logger.Info().Str("addr", config.AppConfig.RedisAddr).Msg("Connected to Redis")
	return nil
}
