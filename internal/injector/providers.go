package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/simcore/internal/collab/netsync"
	"github.com/zeusync/simcore/internal/config"
	"github.com/zeusync/simcore/internal/core/components"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/events/bus"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/system/analyzer"
	"github.com/zeusync/simcore/internal/core/world"
	"github.com/zeusync/simcore/internal/server"
)

// App is the assembled host.
type App struct {
	Config config.Config
	Logger *log.Logger
	World  *world.World
	Feed   *netsync.Feed
	Server *server.Server
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideBus,
	ProvideTypes,
	ProvideWorld,
	ProvideCodec,
	ProvideFeed,
	ProvideServer,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) *log.Logger {
	level, ok := log.ParseLevel(cfg.Log.Level)
	if !ok {
		level = log.LevelInfo
	}
	return log.New(level)
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

// ProvideTypes returns a type table holding the built-in components.
func ProvideTypes() (*ecs.Types, error) {
	types := ecs.NewTypes()
	if _, err := components.Register(types); err != nil {
		return nil, err
	}
	return types, nil
}

func ProvideWorld(cfg config.Config, logger *log.Logger, b bus.EventBus, types *ecs.Types) *world.World {
	return world.New(world.Options{
		Name:    cfg.World.Name,
		Workers: cfg.World.Workers,
		Grain:   cfg.World.Grain,
		Overlap: analyzer.ParseOverlapMode(cfg.World.Overlap),
		Types:   types,
		Logger:  logger.Named(cfg.World.Name),
		Bus:     b,
	})
}

func ProvideCodec(types *ecs.Types) (*netsync.Codec, error) {
	return netsync.NewCodec(types)
}

func ProvideFeed(w *world.World, codec *netsync.Codec, logger *log.Logger) (*netsync.Feed, error) {
	return netsync.NewFeed(w, codec, logger)
}

func ProvideServer(cfg config.Config, w *world.World, feed *netsync.Feed, logger *log.Logger) *server.Server {
	sc := server.DefaultServerConfig()
	sc.Listen = cfg.Net.Listen
	sc.Path = cfg.Net.Path
	sc.TickRate = cfg.Sim.TickRate
	sc.Ticks = cfg.Sim.Ticks
	return server.NewServer(w, feed, sc, logger)
}
