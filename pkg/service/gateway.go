package service

import (
	"github.com/romashorodok/room-coordinator/internal/gateway"
	"github.com/romashorodok/room-coordinator/internal/room"
	"github.com/romashorodok/room-coordinator/pkg/protocol"
	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.uber.org/fx"
)

func gatewayConfig(cfg variables.Config) gateway.Config {
	return gateway.Config{
		InstanceID:   cfg.InstanceID,
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		KickGrace:    cfg.KickGrace,
	}
}

func gatewayController(g *gateway.Gateway) *gateway.Gateway {
	return g
}

func startGateway(lc fx.Lifecycle, g *gateway.Gateway) {
	lc.Append(fx.Hook{
		OnStart: g.Start,
		OnStop:  g.Stop,
	})
}

var RoomModule = fx.Module("room",
	fx.Provide(
		room.NewRoomService,
		gatewayConfig,
		gateway.NewGateway,

		protocol.AsHttpController(room.NewRoomController),
		protocol.AsHttpController(gatewayController),
	),
	fx.Invoke(startGateway),
)

// Options assembles the application graph for cfg.
func Options(cfg variables.Config) fx.Option {
	options := []fx.Option{
		fx.Supply(cfg),
		LoggerModule,
		TracingModule,
	}
	if cfg.RedisURL != "" {
		options = append(options, RedisModule)
	}
	options = append(options,
		StateModule,
		BrokerModule,
		EntityStoreModule,
		IdentityModule,
		RoomModule,
		HttpModule,
	)
	return fx.Options(options...)
}
