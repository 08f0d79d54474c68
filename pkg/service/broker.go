package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/romashorodok/room-coordinator/internal/broker"
	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.uber.org/fx"
)

type bus_Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    variables.Config
	Redis     redis.UniversalClient `optional:"true"`
	Logger    *slog.Logger
}

// bus picks the cross-instance transport. auto uses Redis when a client is
// configured and the in-process bus otherwise.
func bus(params bus_Params) (broker.Bus, error) {
	var (
		b   broker.Bus
		err error
	)

	switch driver := params.Config.BrokerDriver; {
	case driver == variables.BROKER_NATS:
		b, err = natsBus(params)
	case driver == variables.BROKER_REDIS, driver == variables.BROKER_AUTO && params.Redis != nil:
		if params.Redis == nil {
			return nil, errors.New("broker driver redis without a redis client")
		}
		b = broker.NewRedis(params.Redis, params.Logger)
	default:
		b = broker.NewLocal()
	}
	if err != nil {
		return nil, err
	}

	params.Logger.Info("broker selected", slog.String("driver", fmt.Sprintf("%T", b)))
	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error { return b.Close() },
	})
	return b, nil
}

func natsBus(params bus_Params) (broker.Bus, error) {
	conn, err := nats.Connect(params.Config.NatsURL,
		nats.Name("room-coordinator-"+params.Config.InstanceID),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				params.Logger.Warn("nats disconnected", slog.String("err", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			params.Logger.Info("nats reconnected", slog.String("url", conn.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return broker.NewNATS(conn, params.Logger), nil
}

var BrokerModule = fx.Module("broker", fx.Provide(bus))
