// Command hypersight watches HLS camera streams, runs object detection on
// sampled frames and records per-processor metric events.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mikeyg42/hypersight/internal/config"
	"github.com/mikeyg42/hypersight/internal/watchlog"
)

const (
	flagConfig   = "config"
	flagEnvFile  = "env-file"
	flagLogLevel = "log-level"
	flagCamera   = "camera"
	flagSeed     = "seed"
)

func main() {
	var app *application

	cliApp := &cli.App{
		Name:  "hypersight",
		Usage: "watch camera streams and count what they see",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{config.EnvPrefix + "_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  flagEnvFile,
				Usage: "dotenv `FILE`s applied before environment overrides",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override log.level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			app, err = newApplication(c.String(flagConfig), c.StringSlice(flagEnvFile), c.String(flagLogLevel))
			return err
		},
		After: func(c *cli.Context) error {
			if app != nil {
				app.close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "watch a single camera until it is deleted or the process is signalled",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: flagCamera, Usage: "camera `ID`", Required: true},
				},
				Action: func(c *cli.Context) error {
					return app.watch(c.Context, c.Int64(flagCamera))
				},
			},
			{
				Name:  "supervise",
				Usage: "watch every camera and serve the query API",
				Action: func(c *cli.Context) error {
					return app.supervise(c.Context)
				},
			},
			{
				Name:  "relay",
				Usage: "run the face presence websocket relay",
				Action: func(c *cli.Context) error {
					return app.relay(c.Context)
				},
			},
			{
				Name:  "init-db",
				Usage: "create the schema and optionally load cameras and processors",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagSeed, Usage: "YAML `FILE` with cameras and processors"},
				},
				Action: func(c *cli.Context) error {
					return app.initDB(c.Context, c.String(flagSeed))
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintln(os.Stderr, "hypersight:", err)
		if app != nil {
			app.logger.Error("Exiting", watchlog.Error(err))
			app.logger.Sync()
		}
		stop()
		os.Exit(1)
	}
}
