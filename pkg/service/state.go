package service

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/romashorodok/room-coordinator/internal/directory"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/internal/roomstate"
	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.uber.org/fx"
)

type shared_Params struct {
	fx.In

	Config variables.Config
	Redis  redis.UniversalClient `optional:"true"`
	Logger *slog.Logger
}

func roomStateStore(params shared_Params) *roomstate.Store {
	opts := []roomstate.StoreOption{roomstate.WithLogger(params.Logger)}
	if params.Redis != nil {
		opts = append(opts, roomstate.WithShared(roomstate.NewRedis(params.Redis)))
	}
	return roomstate.NewStore(opts...)
}

func connectionDirectory(params shared_Params) *directory.Directory {
	opts := []directory.Option{
		directory.WithTTL(params.Config.DirectoryTTL),
		directory.WithLogger(params.Logger),
	}
	if params.Redis != nil {
		opts = append(opts, directory.WithRedis(params.Redis))
	}
	return directory.New(opts...)
}

var StateModule = fx.Module("state", fx.Provide(
	roomconfig.DefaultRegistry,
	roomStateStore,
	connectionDirectory,
))
