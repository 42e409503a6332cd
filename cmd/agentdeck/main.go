package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"agentdeck/internal/application"
	"agentdeck/internal/command"
	"agentdeck/internal/config"
	"agentdeck/internal/db"
	"agentdeck/internal/global"
	"agentdeck/internal/launch"
	"agentdeck/internal/logging"
)

var version = "dev"
var buildTime = "unknown"

var startApplication = application.StartApplication
var lookPath = exec.LookPath
var diagnosticExec launch.Exec = launch.RealExec{}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunServe: func(ctx context.Context, cfg config.Config) error {
			return runServe(ctx, os.Stdout, cfg)
		},
		RunMigrateUp: runMigrateUp,
		RunContractInit: func(_ context.Context, cfg config.Config, force bool) error {
			return runContractInit(os.Stdout, cfg, force)
		},
		RunContractShow: func(_ context.Context, cfg config.Config, format string) error {
			return runContractShow(os.Stdout, cfg, format)
		},
		RunContractCheck: func(_ context.Context, cfg config.Config) error {
			return runContractCheck(os.Stdout, cfg)
		},
		RunDiagnose: func(ctx context.Context, cfg config.Config) error {
			return runDiagnose(ctx, os.Stdout, cfg)
		},
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "agentdeck"}).Error("agentdeck failed", "err", err)
		os.Exit(1)
	}
}

func newRuntimeLogger(writer io.Writer, cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Writer:    writer,
		Component: "agentdeck",
	})
}

func configDirOf(cfg config.Config) (string, error) {
	if dir := strings.TrimSpace(cfg.ConfigDir); dir != "" {
		return dir, nil
	}
	return global.DefaultConfigDir()
}

func contractStoreOf(cfg config.Config) (*global.ContractStore, error) {
	if p := strings.TrimSpace(cfg.ContractPath); p != "" {
		return global.NewContractStoreAt(p), nil
	}
	dir, err := configDirOf(cfg)
	if err != nil {
		return nil, err
	}
	return global.NewContractStore(dir), nil
}

func agentDirOf(cfg config.Config) (string, error) {
	if dir := strings.TrimSpace(cfg.AgentDir); dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

func runServe(ctx context.Context, out io.Writer, cfg config.Config) error {
	configDir, err := configDirOf(cfg)
	if err != nil {
		return err
	}
	logger := newRuntimeLogger(os.Stderr, cfg)
	app, err := startApplication(ctx, application.StartOptions{
		ConfigDir:    configDir,
		DBDSN:        cfg.DBDSN,
		ContractPath: cfg.ContractPath,
		AgentDir:     cfg.AgentDir,
		LocalHost:    cfg.Host,
		LocalPort:    cfg.Port,
		WebUI: application.WebUIOptions{
			Mode:        cfg.WebUIMode,
			DevProxyURL: cfg.WebUIDevProxyURL,
			DistDir:     cfg.WebUIDistDir,
			Notice:      cfg.WebUINotice,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "agentdeck listening at %s (version=%s built=%s)\n", app.LocalAPIBaseURL(), version, buildTime)
	return app.Run(ctx)
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	dsn := strings.TrimSpace(cfg.DBDSN)
	if dsn == "" {
		dir, err := configDirOf(cfg)
		if err != nil {
			return err
		}
		dsn = filepath.Join(dir, "agentdeck.db")
	}
	gdb, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Close(gdb)
}

func runContractInit(out io.Writer, cfg config.Config, force bool) error {
	store, err := contractStoreOf(cfg)
	if err != nil {
		return err
	}
	if _, err := os.Stat(store.Path()); err == nil && !force {
		return fmt.Errorf("%s already exists, pass --force to overwrite it", store.Path())
	}
	if err := store.Save(launch.DefaultContract()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote %s\n", store.Path())
	return nil
}

func runContractShow(out io.Writer, cfg config.Config, format string) error {
	store, err := contractStoreOf(cfg)
	if err != nil {
		return err
	}
	c, err := store.LoadOrInit()
	if err != nil {
		return err
	}
	var b []byte
	switch format {
	case "json":
		b, err = json.MarshalIndent(c, "", "  ")
		b = append(b, '\n')
	case "yaml":
		b, err = yaml.Marshal(c)
	default:
		b, err = toml.Marshal(c)
	}
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}

// runContractCheck validates the contract and resolves the install directory
// and every profile command against this machine.
func runContractCheck(out io.Writer, cfg config.Config) error {
	store, err := contractStoreOf(cfg)
	if err != nil {
		return err
	}
	c, err := store.LoadOrInit()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "contract %s (version %s, supported %s)\n", store.Path(), c.ContractVersion, launch.SupportedContractConstraint)

	baseDir, err := agentDirOf(cfg)
	if err != nil {
		return err
	}
	paths, err := c.ResolveInstall(baseDir)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "install_dir %s\n", paths.InstallDir)

	var errs []error
	for i, p := range c.Profiles {
		resolved, err := launch.ResolveProfile(paths, p, lookPath)
		if err != nil {
			_, _ = fmt.Fprintf(out, "profile %d %s: FAIL %v\n", i, p.Name, err)
			errs = append(errs, fmt.Errorf("profile %s: %w", p.Name, err))
			continue
		}
		_, _ = fmt.Fprintf(out, "profile %d %s: ok %s\n", i, p.Name, resolved.Binary)
	}
	if c.HasDiagnostic() {
		_, _ = fmt.Fprintf(out, "diagnostic %s %s\n", c.Diagnostic.Command, strings.Join(c.Diagnostic.Args, " "))
	}
	return errors.Join(errs...)
}

func runDiagnose(ctx context.Context, out io.Writer, cfg config.Config) error {
	store, err := contractStoreOf(cfg)
	if err != nil {
		return err
	}
	c, err := store.LoadOrInit()
	if err != nil {
		return err
	}
	baseDir, err := agentDirOf(cfg)
	if err != nil {
		return err
	}
	paths, err := c.ResolveInstall(baseDir)
	if err != nil {
		return err
	}
	env := c.BuildEnv(os.Environ(), launch.Credentials{}, c.Select(0), paths)
	output, err := c.RunDiagnostic(ctx, diagnosticExec, paths, env)
	if len(output) > 0 {
		_, _ = out.Write(output)
	}
	return err
}
