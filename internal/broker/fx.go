package broker

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func registerHooks(lc fx.Lifecycle, client *redis.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})
}

var Module = fx.Module("broker",
	fx.Provide(
		NewClient,
		NewRedisBroker,
		func(b *RedisBroker) Publisher { return b },
		func(b *RedisBroker) Consumer { return b },
	),
	fx.Invoke(registerHooks),
)
