// Command scene-console drives the scene runtime from a terminal. Messages
// render in a bubbletea view and inline buttons are selectable with the
// keyboard, so scene definitions can be tried without a bot token.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/scenekit/internal/app"
	"github.com/kingrea/scenekit/internal/config"
	"github.com/kingrea/scenekit/internal/logging"
	"github.com/kingrea/scenekit/internal/transport/console"
)

func main() {
	configPath := flag.String("config", "", "path to scenekit.yaml (defaults to $SCENEKIT_CONFIG or ./scenekit.yaml)")
	sceneType := flag.String("scene", "", "scene to start (defaults to default_scene)")
	userID := flag.Int64("user", 1, "user id to act as")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		die("load config: %v", err)
	}
	// The terminal belongs to the view.
	cfg.Log.Output = "file"
	logger, err := logging.New(cfg.Log)
	if err != nil {
		die("init logging: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	c := console.New()
	runtime, err := app.New(ctx, cfg, c, logger.Logger)
	if err != nil {
		die("build runtime: %v", err)
	}
	if _, err := runtime.Restore(ctx, false); err != nil {
		logger.Error().Err(err).Msg("scene-console: restore failed")
	}

	start := strings.TrimSpace("/start " + *sceneType)
	model := console.NewModel(c, runtime.Dispatcher, *userID).StartWith(start)
	p := tea.NewProgram(model, tea.WithAltScreen())
	c.Attach(p.Send)
	_, runErr := p.Run()

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := runtime.Close(closeCtx); err != nil {
		logger.Error().Err(err).Msg("scene-console: close failed")
	}
	if runErr != nil {
		die("run console: %v", runErr)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
