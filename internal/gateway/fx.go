package gateway

import (
	"context"

	"go.uber.org/fx"
)

func run(lc fx.Lifecycle, g *Gateway, n *Notifier) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			g.Start(ctx)
			n.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				g.Wait()
				n.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

var Module = fx.Module("gateway",
	fx.Provide(
		New,
		NewNotifier,
	),
	fx.Invoke(run),
)
