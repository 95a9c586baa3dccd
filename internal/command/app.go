// Package command builds the urfave/cli application: a "serve" command that
// starts the monitor loop and HTTP API, and a "migrate up" subcommand for
// the historydb schema.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yuki-yano/vde-monitor/internal/config"
)

// Deps wires the command layer to the rest of the application without an
// import cycle; tests substitute fakes for each runner.
type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "vde-monitor",
		Usage: "terminal-multiplexer agent observability server",
		Action: func(ctx *cli.Context) error {
			cfg := loadConfig(deps)
			return runServe(ctx.Context, deps, cfg, ctx)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the monitor loop and HTTP API",
				Flags: serveFlags(),
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(deps)
					return runServe(ctx.Context, deps, cfg, ctx)
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
							cfg := loadConfig(deps)
							return runMigrateUp(ctx.Context, deps, cfg)
						},
					},
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

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Usage: "local listen host",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "local listen port",
		},
		&cli.StringFlag{
			Name:  "config-dir",
			Usage: "vde-monitor config directory",
		},
		&cli.StringFlag{
			Name:  "tmux-socket",
			Usage: "tmux socket path",
		},
		&cli.IntFlag{
			Name:  "tick-interval-ms",
			Usage: "monitor tick interval in milliseconds",
		},
	}
}

func runServe(ctx context.Context, deps Deps, cfg config.Config, cliCtx *cli.Context) error {
	if cliCtx != nil && cliCtx.Args().Len() > 0 {
		return fmt.Errorf("unexpected argument: %s", cliCtx.Args().First())
	}
	cfg = applyServeFlagOverrides(cliCtx, cfg)
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func applyServeFlagOverrides(cliCtx *cli.Context, cfg config.Config) config.Config {
	if cliCtx == nil {
		return cfg
	}

	if cliCtx.IsSet("host") {
		cfg.LocalHost = strings.TrimSpace(cliCtx.String("host"))
	}
	if cliCtx.IsSet("port") {
		cfg.LocalPort = cliCtx.Int("port")
	}
	if cliCtx.IsSet("tmux-socket") {
		cfg.TmuxSocket = strings.TrimSpace(cliCtx.String("tmux-socket"))
	}
	if cliCtx.IsSet("tick-interval-ms") {
		cfg.TickIntervalMs = cliCtx.Int("tick-interval-ms")
	}
	if cliCtx.IsSet("config-dir") {
		_ = os.Setenv("VDE_MONITOR_CONFIG_DIR", strings.TrimSpace(cliCtx.String("config-dir")))
	}

	return cfg
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}
