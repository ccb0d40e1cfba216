package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"

	"github.com/zeusync/simcore/internal/collab/audio"
	"github.com/zeusync/simcore/internal/collab/physics"
	"github.com/zeusync/simcore/internal/collab/render"
	"github.com/zeusync/simcore/internal/config"
	"github.com/zeusync/simcore/internal/core/components"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/world"
	"github.com/zeusync/simcore/internal/injector"
	"github.com/zeusync/simcore/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	profileMode := flag.String("profile", "", "write a cpu or mem profile to the working directory")
	bodies := flag.Int("bodies", 64, "number of falling bodies in the demo scene")
	flag.Parse()

	if err := run(*configPath, *profileMode, *bodies); err != nil {
		fmt.Fprintln(os.Stderr, "simd:", err)
		os.Exit(1)
	}
}

func run(configPath, profileMode string, bodies int) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	switch profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("unknown profile mode %q", profileMode)
	}

	app, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Logger.Sync() }()

	w := app.World
	if err = physics.NewLink(&physics.EulerSolver{Gravity: components.Vec3{Y: -9.81}}).Install(w); err != nil {
		return err
	}
	collector := render.NewCollector()
	if err = collector.Attach(w); err != nil {
		return err
	}
	voices := audio.NewDoubleBuffer()
	gatherer := audio.NewGatherer(voices, audio.Options{Falloff: 0.1, After: []string{physics.WriteSystem}})
	if err = gatherer.Install(w); err != nil {
		return err
	}
	if err = spawnScene(w, bodies); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = app.Server.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-app.Server.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = app.Server.Stop(shutdown); err != nil && !errors.Is(err, server.ErrServerNotRunning) {
		app.Logger.Error("Error stopping server", log.Error(err))
	}

	if f := collector.Latest(); f != nil {
		app.Logger.Info("Last render frame", log.Uint64("frame", f.Number), log.Int("draws", f.Draws()))
	}
	if s := voices.Front(); s != nil {
		app.Logger.Info("Last audio snapshot", log.Uint64("frame", s.Frame), log.Int("voices", len(s.Voices)))
	}
	return app.Server.Err()
}

type part struct {
	kind  ecs.TypeKey
	value any
}

func attach(w *world.World, e ecs.Entity, parts ...part) error {
	for _, p := range parts {
		if _, err := w.AddComponent(e, p.kind, p.value); err != nil {
			return err
		}
	}
	return nil
}

// spawnScene places a listener at the origin, a static floor and a grid
// of falling bodies that render and emit sound.
func spawnScene(w *world.World, bodies int) error {
	keys, err := components.Register(w.Types())
	if err != nil {
		return err
	}
	unit := components.Vec3{X: 1, Y: 1, Z: 1}

	listener, err := w.CreateEntity()
	if err != nil {
		return err
	}
	if err = attach(w, listener,
		part{keys.Transform, &components.Transform{Scale: unit}},
		part{keys.AudioListener, &components.AudioListener{Gain: 1}},
	); err != nil {
		return err
	}

	floor, err := w.CreateEntity()
	if err != nil {
		return err
	}
	if err = attach(w, floor,
		part{keys.Transform, &components.Transform{Position: components.Vec3{Y: -1}, Scale: components.Vec3{X: 100, Y: 1, Z: 100}}},
		part{keys.RigidBody, &components.RigidBody{Static: true}},
		part{keys.MeshRenderer, &components.MeshRenderer{Mesh: "plane", Material: "ground"}},
	); err != nil {
		return err
	}

	for i := range bodies {
		e, err := w.CreateEntity()
		if err != nil {
			return err
		}
		pos := components.Vec3{X: float64(i%8) * 2, Y: 10 + float64(i/8)*2}
		if err = attach(w, e,
			part{keys.Transform, &components.Transform{Position: pos, Scale: unit}},
			part{keys.RigidBody, &components.RigidBody{Mass: 1}},
			part{keys.MeshRenderer, &components.MeshRenderer{Mesh: "cube", Material: "crate"}},
			part{keys.AudioSource, &components.AudioSource{Clip: "hum", Volume: 0.5, Playing: true}},
		); err != nil {
			return err
		}
	}
	return nil
}
