// Package app assembles the scene runtime from configuration: definitions,
// blueprints, persistence backend, registry, dispatcher and scheduled jobs.
// Binaries construct a transport and hand it to New.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/scenekit/internal/config"
	"github.com/kingrea/scenekit/internal/demo"
	"github.com/kingrea/scenekit/internal/dispatch"
	"github.com/kingrea/scenekit/internal/jobs"
	"github.com/kingrea/scenekit/internal/logging"
	"github.com/kingrea/scenekit/internal/persist"
	"github.com/kingrea/scenekit/internal/persist/memory"
	"github.com/kingrea/scenekit/internal/persist/mongostore"
	"github.com/kingrea/scenekit/internal/persist/redisstore"
	"github.com/kingrea/scenekit/internal/persist/sqlitestore"
	"github.com/kingrea/scenekit/internal/scene"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

// Job keys registered by every runtime.
const (
	JobReconcile    = "reconcile"
	JobReloadScenes = "reload-scenes"
)

// App is a wired runtime.
type App struct {
	Config     config.Config
	Logger     zerolog.Logger
	Location   *time.Location
	Defs       *scenedef.Store
	Types      *scene.Types
	Hooks      *scene.Hooks
	Store      persist.Store
	Writer     *persist.Writer
	Registry   *scene.Registry
	Dispatcher *dispatch.Dispatcher
	Jobs       *jobs.Registry[jobs.Func]
	Scheduler  *jobs.Scheduler
}

// OpenStore connects the configured persistence backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (persist.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		store, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		store, err := redisstore.Dial(ctx, cfg.RedisURL, redisstore.Options{Prefix: cfg.RedisPrefix, TTL: cfg.TTL})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendMongo:
		store, err := mongostore.Dial(ctx, cfg.MongoURI, mongostore.Options{
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.Backend)
	}
}

// New wires the runtime over tr.
func New(ctx context.Context, cfg config.Config, tr transport.Transport, logger zerolog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	defs, err := scenedef.Open(cfg.Scenes)
	if err != nil {
		return nil, err
	}

	types := scene.NewTypes()
	hooks := scene.NewHooks()
	err = demo.Register(types, hooks, demo.Options{
		Checker: demo.SampleCalendar(time.Now().In(loc)),
		Logger:  logging.Component(logger, "demo"),
	})
	if err != nil {
		return nil, err
	}
	if err := types.Validate(defs, hooks); err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	writer := persist.NewWriter(store,
		persist.WithShards(cfg.Writer.Shards),
		persist.WithQueueSize(cfg.Writer.QueueSize),
		persist.WithOpTimeout(cfg.Writer.OpTimeout),
		persist.WithLogger(logging.Component(logger, "persist")),
	)
	registry := scene.NewRegistry(types, defs, tr, writer,
		scene.WithLogger(logging.Component(logger, "scene")),
		scene.WithHooks(hooks),
		scene.WithLocation(loc),
	)
	dispatcher := dispatch.New(registry, tr,
		dispatch.WithLogger(logging.Component(logger, "dispatch")),
		dispatch.WithDefaultScene(cfg.DefaultScene),
	)

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Location:   loc,
		Defs:       defs,
		Types:      types,
		Hooks:      hooks,
		Store:      store,
		Writer:     writer,
		Registry:   registry,
		Dispatcher: dispatcher,
	}
	if err := a.buildJobs(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildJobs() error {
	reg := jobs.NewRegistry[jobs.Func]("job")
	reg.MustRegister(JobReconcile, a.Registry.SaveAll)
	reg.MustRegister(JobReloadScenes, a.ReloadScenes)
	schedules := append([]jobs.Schedule{}, a.Config.Jobs...)
	for _, r := range a.Config.Refresh {
		if err := reg.Register(r.JobKey(), func(ctx context.Context) error {
			return a.Dispatcher.Refresh(ctx, r.Scene, r.Page)
		}); err != nil {
			return err
		}
		schedules = append(schedules, jobs.Schedule{Key: r.JobKey(), Cron: r.Cron})
	}
	scheduler, err := jobs.NewScheduler(reg, schedules,
		jobs.WithLogger(logging.Component(a.Logger, "jobs")),
		jobs.WithClock(func() time.Time { return time.Now().In(a.Location) }),
	)
	if err != nil {
		return err
	}
	a.Jobs = reg
	a.Scheduler = scheduler
	return nil
}

// ReloadScenes loads the definition set again and swaps it in only when every
// blueprint and hook still validates against it. On error the live set stays.
func (a *App) ReloadScenes(context.Context) error {
	scenes, err := scenedef.LoadPath(a.Config.Scenes)
	if err != nil {
		return err
	}
	if err := a.Types.Validate(scenedef.NewStore(scenes), a.Hooks); err != nil {
		return fmt.Errorf("app: reload rejected: %w", err)
	}
	a.Defs.Replace(scenes)
	a.Logger.Info().Strs("scenes", a.Defs.Names()).Msg("app: scenes reloaded")
	return nil
}

// Restore rehydrates persisted sessions. With rerender every restored
// session's message is refreshed.
func (a *App) Restore(ctx context.Context, rerender bool) (int, error) {
	return a.Registry.LoadFromDB(ctx, scene.LoadOptions{Rerender: rerender})
}

// Close saves every live session, drains the writer and closes the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Registry.SaveAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Writer.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: close store: %w", err))
	}
	return errors.Join(errs...)
}
