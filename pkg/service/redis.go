package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.uber.org/fx"
)

type redisClient_Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    variables.Config
	Logger    *slog.Logger
}

func redisClient(params redisClient_Params) (redis.UniversalClient, error) {
	options, err := redis.ParseURL(params.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	options.DialTimeout = params.Config.RedisTimeout
	options.ReadTimeout = params.Config.RedisTimeout
	options.WriteTimeout = params.Config.RedisTimeout

	client := redis.NewClient(options)
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// An unreachable Redis at boot is not fatal: state and
			// directory fall back to the local tables.
			if err := client.Ping(ctx).Err(); err != nil {
				params.Logger.Warn("redis unreachable at start", slog.String("err", err.Error()))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// RedisModule is included only when REDIS_URL is set; consumers take the
// client as optional.
var RedisModule = fx.Module("redis", fx.Provide(redisClient))
