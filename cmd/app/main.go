package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/linkkeeper/internal"
	pkgconfig "github.com/starford/linkkeeper/pkg/config"
)

type mode func(ctx context.Context, opts ...internal.Option) error

func action(name string, run mode) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		found, err := pkgconfig.LoadOptional(configPath, cfg)
		if err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		if !found {
			slog.Warn("config file not found, using defaults", slog.String("path", configPath))
		}

		if err := run(ctx, internal.WithConfig(cfg)); err != nil {
			return fmt.Errorf("%s error: %w", name, err)
		}
		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "linkkeeper",
		Usage:  "Keep [[Title]] links between notes consistent: propagate renames, index links, report broken ones",
		Action: action("run", internal.Run),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "watch",
				Usage:  "Run on every change to the note store",
				Action: action("watch", internal.Watch),
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and run events, with optional periodic runs",
				Action: action("serve", internal.Serve),
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: action("mcp", internal.ServeMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
