// Package app wires every component from a Config. Nothing here is global:
// each App owns its components and releases them on Close.
package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"adbdesk/adb"
	"adbdesk/api"
	"adbdesk/config"
	"adbdesk/plugin"
	"adbdesk/script"
	"adbdesk/service"
	"adbdesk/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	Config   config.Config
	ADB      *adb.Client
	Registry *service.DeviceRegistry
	Commands *service.CommandService
	Actions  *service.ActionDispatcher
	Scripts  *script.Runner
	Plugins  *plugin.Catalog
	Hub      *api.WebSocketHub
	// Watcher and History are nil when disabled in the config.
	Watcher *plugin.Watcher
	History *store.HistoryStore

	db *sql.DB
}

func New(cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	var recorder service.HistoryRecorder
	if cfg.History.Enabled {
		db, err := config.InitDatabase(cfg.History.Path)
		if err != nil {
			return nil, errors.Wrap(err, "history database")
		}
		a.db = db
		a.History = store.NewHistoryStore(db)
		recorder = a.History
	}

	a.ADB = adb.NewClient(cfg.ADB.Path, cfg.ADB.CommandTimeout)
	a.Registry = service.NewDeviceRegistry(a.ADB, cfg.Monitor.Interval)
	a.Commands = service.NewCommandService(a.ADB, recorder)
	a.Actions = service.NewActionDispatcher(a.Registry, a.ADB, recorder)
	a.Scripts = script.NewRunner(cfg.Python.Interpreter, cfg.Python.Timeout,
		script.WithInteractiveTimeout(cfg.Python.InteractiveTimeout))

	catalog, err := plugin.NewCatalog(cfg.Plugins.Dir, a.Scripts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Plugins = catalog
	a.Hub = api.NewWebSocketHub(a.Registry)
	if cfg.Plugins.Watch {
		a.Watcher = plugin.NewWatcher(catalog)
		a.Watcher.OnReload = a.Hub.BroadcastPlugins
	}
	return a, nil
}

// Router builds the HTTP engine over the app's components.
func (a *App) Router() *gin.Engine {
	h := &api.Handlers{
		Devices:   a.Registry,
		Inspector: a.ADB,
		Commands:  a.Commands,
		Actions:   a.Actions,
		Scripts:   a.Scripts,
		Plugins:   a.Plugins,
	}
	if a.History != nil {
		h.History = a.History
	}

	router := api.NewEngine()
	api.SetupRoutes(router, h, a.Hub, api.RouteOptions{
		RateLimit: a.Config.Server.RateLimit,
		RateBurst: a.Config.Server.RateBurst,
	})
	return router
}

// Serve loads plugins, starts monitoring and the HTTP server, and blocks until
// ctx ends or the server fails.
func (a *App) Serve(ctx context.Context) error {
	loaded := a.Plugins.ScanAndLoad()
	log.Info().Str("module", "app").Int("plugins", len(loaded)).Str("dir", a.Plugins.Root()).Msg("plugins scanned")

	if a.Watcher != nil {
		if err := a.Watcher.Start(); err != nil {
			log.Warn().Str("module", "app").Err(err).Msg("plugin watcher disabled")
		}
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.Hub.Run(hubCtx)

	if a.Config.Monitor.Enabled {
		a.Registry.StartMonitoring(a.Hub.BroadcastDevices)
	}

	if version, err := a.Scripts.Version(ctx); err != nil {
		log.Warn().Str("module", "app").Str("interpreter", a.Scripts.Interpreter()).Msg("python interpreter not available")
	} else {
		log.Info().Str("module", "app").Str("python", version).Msg("python interpreter found")
	}

	server := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("module", "app").Str("addr", server.Addr).Msgf("API server running on http://%s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	log.Info().Str("module", "app").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}

// Close stops monitoring, the watcher and every script, then closes the database.
func (a *App) Close() error {
	if a.Registry != nil {
		a.Registry.StopMonitoring()
	}
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.Scripts != nil {
		a.Scripts.TerminateAll()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return errors.Wrap(err, "close database")
		}
		a.db = nil
	}
	return nil
}
