package command

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"agentdeck/internal/config"
)

type Deps struct {
	LoadConfig       func() config.Config
	RunServe         func(context.Context, config.Config) error
	RunMigrateUp     func(context.Context, config.Config) error
	RunContractInit  func(ctx context.Context, cfg config.Config, force bool) error
	RunContractShow  func(ctx context.Context, cfg config.Config, format string) error
	RunContractCheck func(context.Context, config.Config) error
	RunDiagnose      func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "agentdeck",
		Usage: "web control panel for a terminal agent",
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps, loadConfig(deps))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the panel",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, deps, loadConfig(deps))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							if deps.RunMigrateUp == nil {
								return errors.New("migrate up runner is not configured")
							}
							return deps.RunMigrateUp(ctx.Context, loadConfig(deps))
						},
					},
				},
			},
			{
				Name:  "contract",
				Usage: "manage the launch contract",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "write the default launch contract",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "force", Usage: "overwrite an existing contract"},
						},
						Action: func(ctx *cli.Context) error {
							if deps.RunContractInit == nil {
								return errors.New("contract init runner is not configured")
							}
							return deps.RunContractInit(ctx.Context, loadConfig(deps), ctx.Bool("force"))
						},
					},
					{
						Name:  "show",
						Usage: "print the effective launch contract",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "format", Value: "toml", Usage: "toml, json or yaml"},
						},
						Action: func(ctx *cli.Context) error {
							if deps.RunContractShow == nil {
								return errors.New("contract show runner is not configured")
							}
							format := strings.ToLower(strings.TrimSpace(ctx.String("format")))
							switch format {
							case "toml", "json", "yaml":
							default:
								return cli.Exit("unknown format "+format, 2)
							}
							return deps.RunContractShow(ctx.Context, loadConfig(deps), format)
						},
					},
					{
						Name:  "check",
						Usage: "validate the launch contract and resolve every profile",
						Action: func(ctx *cli.Context) error {
							if deps.RunContractCheck == nil {
								return errors.New("contract check runner is not configured")
							}
							return deps.RunContractCheck(ctx.Context, loadConfig(deps))
						},
					},
				},
			},
			{
				Name:  "diagnose",
				Usage: "run the contract's diagnostic command once",
				Action: func(ctx *cli.Context) error {
					if deps.RunDiagnose == nil {
						return errors.New("diagnose runner is not configured")
					}
					return deps.RunDiagnose(ctx.Context, loadConfig(deps))
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}
