// Package app wires the server components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"flock/internal/autosave"
	"flock/pkg/chat"
	"flock/pkg/config"
	"flock/pkg/federation"
	"flock/pkg/hub"
	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/store"
	"flock/pkg/upgrade"
	"flock/pkg/user"
)

// systemUserID is the reserved sender of server-authored messages.
const systemUserID = "0"

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	version string

	profiles *user.Profiles
	lists    *user.ChatsLists
	notifs   *user.NotificationCenter
	engine   *chat.Engine
	fed      *federation.Manager
	sessions *hub.Registry
	saver    *autosave.Saver

	srv *http.Server
}

// New opens the store, runs format migrations and builds the registries.
// It does not start the HTTP server; call Run to start and block until
// shutdown.
func New(cfg *config.Config, version string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	config.Set(cfg)

	if err := store.Open(cfg.Storage.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Storage.DBPath, err)
	}
	if _, err := upgrade.Run(context.Background()); err != nil {
		return nil, fmt.Errorf("format migration failed: %w", err)
	}

	a := &App{cfg: cfg, version: version}
	a.profiles = user.NewProfiles()
	a.lists = user.NewChatsLists()
	a.notifs = user.NewNotificationCenter()
	a.engine = chat.NewEngine(a.profiles, a.lists, a.notifs, cfg.SelfURL())
	a.sessions = hub.NewRegistry()

	a.fed = federation.NewManager(a.engine, a.profiles, cfg.SelfURL(),
		cfg.Server.PublicName, version, cfg.Federation.Enabled)
	a.engine.SetResolver(a.fed)
	a.profiles.SetResolver(a.fed)

	if err := a.seedSystemProfile(); err != nil {
		return nil, err
	}

	saver, err := autosave.New(cfg.Autosave,
		a.engine, a.profiles, a.lists,
		autosave.FlusherFunc(a.fed.SaveKnownServers))
	if err != nil {
		return nil, err
	}
	a.saver = saver

	return a, nil
}

// seedSystemProfile makes sure uid "0" resolves so system messages render
// with a name in clients.
func (a *App) seedSystemProfile() error {
	if _, err := a.profiles.Get(systemUserID); err == nil {
		return nil
	}
	name := a.cfg.Accounts.SystemProfileName
	if name == "" {
		name = "Server"
	}
	_, err := a.profiles.Create(systemUserID, models.Profile{Name: name})
	return err
}

// Run starts the HTTP server and the autosave scheduler and blocks until
// ctx is cancelled or a fatal server error occurs. State is flushed on
// the way out.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.printBanner()

	a.saver.Start(ctx)
	go a.console(ctx, cancel)

	errCh := a.startHTTP()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			runErr = err
		}
	}
	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	logger.Info("server_stopping")
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_failed", zap.Error(err))
		}
	}
	a.saver.Flush()
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", zap.Error(err))
	}
	logger.Info("server_stopped")
	logger.Sync()
}
