package common

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/redis/go-redis/v9"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/common/logger"
)

// RDB is the shared Redis client, nil until InitRedisClient succeeds.
var RDB redis.UniversalClient

var redisEnabled atomic.Bool

func IsRedisEnabled() bool {
	return redisEnabled.Load()
}

func SetRedisEnabled(enabled bool) {
	redisEnabled.Store(enabled)
}

// InitRedisClient connects the optional Redis mirror. An unset
// REDIS_CONN_STRING leaves Redis disabled; the gateway is fully functional
// without it since the quota daemon's JSON snapshot remains the source of
// truth.
func InitRedisClient() error {
	if config.RedisConnString == "" {
		SetRedisEnabled(false)
		logger.Logger.Info("REDIS_CONN_STRING not set, Redis is not enabled")
		return nil
	}

	if strings.Contains(config.RedisConnString, ",") {
		logger.Logger.Info("Redis cluster mode enabled")
		RDB = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(config.RedisConnString, ","),
			Password: config.RedisPassword,
		})
	} else {
		opt, err := redis.ParseURL(config.RedisConnString)
		if err != nil {
			return errors.Wrap(err, "parse Redis connection string")
		}
		if opt.Password == "" {
			opt.Password = config.RedisPassword
		}
		RDB = redis.NewClient(opt)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RDB.Ping(ctx).Result(); err != nil {
		return errors.Wrap(err, "Redis ping test failed")
	}

	logger.Logger.Info("Redis is enabled", zap.String("conn", config.RedisConnString))
	SetRedisEnabled(true)
	return nil
}
