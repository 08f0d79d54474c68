package service

import (
	"context"
	"log/slog"

	"github.com/romashorodok/room-coordinator/internal/access"
	"github.com/romashorodok/room-coordinator/internal/entitystore"
	"github.com/romashorodok/room-coordinator/internal/room"
	"github.com/romashorodok/room-coordinator/internal/roomstate"
	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.uber.org/fx"
)

func entityStore(lc fx.Lifecycle, cfg variables.Config) (*entitystore.Store, error) {
	store, err := entitystore.Open(cfg.EntityStoreDSN)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store, nil
}

func roomCatalog(store *entitystore.Store) room.Catalog {
	return store
}

type accessPipeline_Params struct {
	fx.In

	Entities *entitystore.Store
	State    *roomstate.Store
	Logger   *slog.Logger
}

// accessPipeline backs every collaborator check with the entity store.
func accessPipeline(params accessPipeline_Params) *access.Pipeline {
	return access.NewPipeline(
		access.WithEnrollment(params.Entities),
		access.WithCredits(params.Entities),
		access.WithRoles(params.Entities),
		access.WithOccupancy(params.State),
		access.WithLogger(params.Logger),
	)
}

var EntityStoreModule = fx.Module("entitystore", fx.Provide(
	entityStore,
	roomCatalog,
	accessPipeline,
))
