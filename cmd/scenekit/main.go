// Command scenekit runs the scene runtime against Telegram. Updates arrive by
// long polling and, when enabled, through the local HTTP event bridge; both
// feed one router so each user's events are handled in order.
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

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/scenekit/internal/app"
	"github.com/kingrea/scenekit/internal/bridge"
	"github.com/kingrea/scenekit/internal/config"
	"github.com/kingrea/scenekit/internal/logging"
	"github.com/kingrea/scenekit/internal/transport/telegram"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to scenekit.yaml (defaults to $SCENEKIT_CONFIG or ./scenekit.yaml)")
	rerender := flag.Bool("rerender", false, "refresh every restored session's message at boot")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		die("load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		die("init logging: %v", err)
	}
	defer logger.Close()
	if !cfg.Telegram.Enabled() {
		die("telegram.token is required; use scene-console for local runs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, tr, err := telegram.NewBot(cfg.Telegram, logging.Component(logger.Logger, "telegram"))
	if err != nil {
		die("%v", err)
	}
	runtime, err := app.New(ctx, cfg, tr, logger.Logger)
	if err != nil {
		die("build runtime: %v", err)
	}
	if _, err := runtime.Restore(ctx, *rerender); err != nil {
		logger.Error().Err(err).Msg("scenekit: restore failed")
	}

	router := bridge.NewRouter(runtime.Dispatcher,
		bridge.RouterWithLogger(logging.Component(logger.Logger, "router")),
		bridge.RouterWithWorkers(cfg.Writer.Shards),
		bridge.RouterWithDedupeWindow(cfg.Bridge.DedupeWindow),
	)
	server := bridge.NewServer(bridge.SettingsFromConfig(cfg.Bridge),
		bridge.WithProcessor(router),
		bridge.WithSessionCount(runtime.Registry.Len),
		bridge.WithLogger(logging.Component(logger.Logger, "bridge")),
	)
	poller := telegram.NewPoller(bot, router, cfg.Telegram.PollTimeout, logging.Component(logger.Logger, "telegram"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return runtime.Scheduler.Run(gctx) })
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			if errors.Is(err, bridge.ErrDisabled) {
				return nil
			}
			return err
		}
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info().Str("default_scene", cfg.DefaultScene).Str("store", cfg.Store.Backend).Msg("scenekit: running")
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := runtime.Close(closeCtx); err != nil {
		logger.Error().Err(err).Msg("scenekit: close failed")
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("scenekit: stopped with error")
		logger.Close()
		os.Exit(1)
	}
	logger.Info().Msg("scenekit: stopped")
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
