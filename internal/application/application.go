// Package application wires storage, sessions and the HTTP server into one
// runnable unit.
package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agentdeck/internal/appserver"
	"agentdeck/internal/db"
	"agentdeck/internal/gateway"
	"agentdeck/internal/global"
	"agentdeck/internal/lifecycle"
	"agentdeck/internal/logging"
	"agentdeck/internal/runlog"
	"agentdeck/internal/supervisor"
)

const (
	defaultHost     = "0.0.0.0"
	defaultPort     = 3000
	httpStopTimeout = 3 * time.Second
)

type Application struct {
	localAPIBaseURL string
	dbDSN           string
	registry        *gateway.Registry
	runFn           func(context.Context) error
	shutdownFn      func(context.Context) error
}

func StartApplication(_ context.Context, opts StartOptions) (*Application, error) {
	host := strings.TrimSpace(opts.LocalHost)
	if host == "" {
		host = defaultHost
	}
	port := opts.LocalPort
	if port <= 0 {
		port = defaultPort
	}
	app := &Application{
		localAPIBaseURL: fmt.Sprintf("http://%s:%d", host, port),
		dbDSN:           strings.TrimSpace(opts.DBDSN),
		runFn:           func(context.Context) error { return nil },
		shutdownFn:      func(context.Context) error { return nil },
	}
	if opts.Hooks.Run != nil || opts.Hooks.Shutdown != nil {
		if opts.Hooks.Run != nil {
			app.runFn = opts.Hooks.Run
		}
		if opts.Hooks.Shutdown != nil {
			app.shutdownFn = opts.Hooks.Shutdown
		}
		return app, nil
	}
	if err := bootstrap(app, opts, host, port); err != nil {
		return nil, err
	}
	return app, nil
}

func bootstrap(app *Application, opts StartOptions, host string, port int) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("module", "application")

	configDir := strings.TrimSpace(opts.ConfigDir)
	if configDir == "" {
		return errors.New("config dir is required")
	}
	dsn := strings.TrimSpace(opts.DBDSN)
	if dsn == "" {
		dsn = filepath.Join(configDir, "agentdeck.db")
	}
	gdb, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	var closeDBOnce sync.Once
	var closeDBErr error
	closeDB := func() error {
		closeDBOnce.Do(func() { closeDBErr = db.Close(gdb) })
		return closeDBErr
	}
	runs, err := runlog.NewStore(gdb)
	if err != nil {
		_ = closeDB()
		return err
	}

	contracts := global.NewContractStore(configDir)
	if p := strings.TrimSpace(opts.ContractPath); p != "" {
		contracts = global.NewContractStoreAt(p)
	}
	if c, err := contracts.LoadOrInit(); err != nil {
		// Sessions re-read the contract on every start and report the
		// error to the client then.
		logger.Warn("launch contract not usable", "path", contracts.Path(), "err", err)
	} else {
		logger.Info("launch contract loaded", "path", contracts.Path(), "version", c.ContractVersion, "profiles", len(c.Profiles))
	}

	agentDir := strings.TrimSpace(opts.AgentDir)
	if agentDir == "" {
		if agentDir, err = os.Getwd(); err != nil {
			_ = closeDB()
			return err
		}
	}

	registry := gateway.NewRegistry(func(id string, sink supervisor.Sink) *supervisor.Session {
		return supervisor.NewSession(supervisor.Options{
			ID:       id,
			Contract: contracts.LoadOrInit,
			BaseDir:  agentDir,
			Recorder: runs,
			Sink:     sink,
			Logger:   opts.Logger,
		})
	})
	server, err := appserver.NewServer(appserver.Deps{
		Gateway: gateway.Deps{Registry: registry, Runs: runs, Logger: opts.Logger},
		WebUI: appserver.WebUIConfig{
			Mode:        strings.TrimSpace(opts.WebUI.Mode),
			DevProxyURL: strings.TrimSpace(opts.WebUI.DevProxyURL),
			DistDir:     strings.TrimSpace(opts.WebUI.DistDir),
			Notice:      strings.TrimSpace(opts.WebUI.Notice),
		},
	})
	if err != nil {
		_ = closeDB()
		return err
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stopHTTP := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), httpStopTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	mgr := lifecycle.NewManager(lifecycle.WithLogger(opts.Logger))
	mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			_ = stopHTTP()
		}()
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	mgr.AddShutdown("close-run-history", func(context.Context) error {
		return closeDB()
	})
	mgr.AddShutdown("stop-agents", func(context.Context) error {
		registry.StopAll()
		return nil
	})
	mgr.AddShutdown("http-server-shutdown", func(context.Context) error {
		return stopHTTP()
	})

	app.localAPIBaseURL = "http://" + addr
	app.dbDSN = dsn
	app.registry = registry
	app.runFn = func(ctx context.Context) error {
		return mgr.StartAndWait(ctx)
	}
	app.shutdownFn = func(context.Context) error {
		err := stopHTTP()
		registry.StopAll()
		return errors.Join(err, closeDB())
	}
	return nil
}

func (a *Application) LocalAPIBaseURL() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.localAPIBaseURL)
}

func (a *Application) DBDSN() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.dbDSN)
}

// Registry is nil when the application was started with hooks.
func (a *Application) Registry() *gateway.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.runFn == nil {
		return nil
	}
	return a.runFn(ctx)
}

func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil || a.shutdownFn == nil {
		return nil
	}
	return a.shutdownFn(ctx)
}
