package relay

import (
	"context"

	"github.com/smallbiznis/medaudit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("traceability.relay",
	fx.Provide(ProvideConfig),
	fx.Provide(NewPublisher),
	fx.Provide(New),
	fx.Invoke(Start),
)

func NewPublisher(lc fx.Lifecycle, cfg config.Config, relayCfg Config, log *zap.Logger) Publisher {
	publisher := NewAMQPPublisher(cfg.AMQPURL, relayCfg.Exchange, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher
}

func Start(lc fx.Lifecycle, cfg config.Config, relay *Relay, log *zap.Logger) {
	if cfg.AMQPURL == "" {
		log.Info("AMQP_URL not set, traceability relay disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			go relay.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
