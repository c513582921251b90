package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/yadda07/holesdetection/config"
	"github.com/yadda07/holesdetection/logging"
	"github.com/yadda07/holesdetection/pipeline"
)

const SOURCE string = `source`
const TARGET string = `target`
const OVERWRITE string = `overwrite`
const PAGESIZE string = `pagesize`
const CONFIG string = `config`
const VERBOSE string = `verbose`

func main() {
	// the environment may also come from a .env file, which is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Setup(false)
		log.Warn().Err(err).Msg("could not read .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		log.Fatal().Err(err).Msg("holesdetection failed")
	}
}

//nolint:funlen
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "holesdetection"
	app.Usage = "Keep the polygon features that have holes"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     SOURCE,
			Aliases:  []string{"s"},
			Usage:    "Source dataset (.shp, .gpkg, .geojson or .json)",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(SOURCE)},
		},
		&cli.StringFlag{
			Name:     TARGET,
			Aliases:  []string{"t"},
			Usage:    "Target dataset, same format as the source",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(TARGET)},
		},
		&cli.BoolFlag{
			Name:     OVERWRITE,
			Aliases:  []string{"o"},
			Usage:    "Overwrite the target if it exists",
			Value:    true,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(OVERWRITE)},
		},
		&cli.IntFlag{
			Name:     PAGESIZE,
			Aliases:  []string{"p"},
			Usage:    "Page Size, how many features are written per transaction to a target GPKG",
			Value:    pipeline.DefaultOptions().PageSize,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(PAGESIZE)},
		},
		&cli.StringFlag{
			Name:     CONFIG,
			Aliases:  []string{"c"},
			Usage:    "JSON config file with the keys source, target, overwrite and pageSize. Flags take precedence",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(CONFIG)},
		},
		&cli.BoolFlag{
			Name:     VERBOSE,
			Aliases:  []string{"V"},
			Usage:    "Log debug information, like the geometries that could not be decoded",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(VERBOSE)},
		},
	}

	app.Before = func(c *cli.Context) error {
		logging.Setup(c.Bool(VERBOSE))
		return nil
	}

	app.Action = func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		opts := pipeline.DefaultOptions()
		opts.Overwrite = cfg.Overwrite
		opts.PageSize = cfg.PageSize

		summary, err := pipeline.Process(c.Context, cfg.Source, cfg.Target, opts)
		if err != nil {
			return err
		}
		log.Debug().Msg(summary.String())
		return nil
	}
	return app
}

// loadConfig merges the config file, if any, with the flags and environment
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if c.IsSet(CONFIG) {
		var err error
		cfg, err = config.Load(c.String(CONFIG))
		if err != nil {
			return cfg, err
		}
	}
	if c.IsSet(SOURCE) {
		cfg.Source = c.String(SOURCE)
	}
	if c.IsSet(TARGET) {
		cfg.Target = c.String(TARGET)
	}
	if c.IsSet(OVERWRITE) {
		cfg.Overwrite = c.Bool(OVERWRITE)
	}
	if c.IsSet(PAGESIZE) {
		cfg.PageSize = c.Int(PAGESIZE)
	}
	return cfg, cfg.Validate()
}
