package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/parley/internal/core/config"
	"github.com/hay-kot/parley/internal/feed/memfeed"
	"github.com/hay-kot/parley/internal/printer"
	"github.com/hay-kot/parley/internal/server"
	"github.com/hay-kot/parley/internal/store/jsonfile"
	"github.com/hay-kot/parley/internal/store/pebblestore"
)

type ServeCmd struct {
	flags *Flags

	listen  string
	storage string
	static  string
	origins []string
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the feed server",
		UsageText: "parley serve [options]",
		Description: `Serves the chat tree over a websocket change feed at /feed, with a REST
view of the tree at /v1/tree, health at /healthz and Prometheus metrics at
/metrics.

Storage backends:
  memory    nothing is persisted
  jsonfile  one JSON file per channel under $DATA_DIR/tree
  pebble    a pebble database under $DATA_DIR/pebble

Flags override the server section of the config file. A .env file in the
working directory is loaded at startup.

Examples:
  parley serve
  parley serve --listen :8080 --storage pebble
  parley serve --static ./web --origin https://chat.example.com`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Aliases:     []string{"l"},
				Usage:       "address to listen on",
				Sources:     cli.EnvVars("PARLEY_LISTEN"),
				Destination: &cmd.listen,
			},
			&cli.StringFlag{
				Name:        "storage",
				Usage:       "storage backend (memory, jsonfile, pebble)",
				Sources:     cli.EnvVars("PARLEY_STORAGE"),
				Destination: &cmd.storage,
			},
			&cli.StringFlag{
				Name:        "static",
				Usage:       "directory served at /",
				Sources:     cli.EnvVars("PARLEY_STATIC"),
				Destination: &cmd.static,
			},
			&cli.StringSliceFlag{
				Name:        "origin",
				Usage:       "allowed browser origin (repeatable, * for any)",
				Sources:     cli.EnvVars("PARLEY_ALLOWED_ORIGINS"),
				Destination: &cmd.origins,
			},
		},
		Action: cmd.run,
	})

	return app
}

// settings merges flags over the config file.
func (cmd *ServeCmd) settings() (config.ServerConfig, error) {
	s := cmd.flags.Config.Server
	if cmd.listen != "" {
		s.Listen = cmd.listen
	}
	if cmd.storage != "" {
		s.Storage = cmd.storage
	}
	if cmd.static != "" {
		s.Static = cmd.static
	}
	if len(cmd.origins) > 0 {
		s.AllowedOrigins = cmd.origins
	}

	check := *cmd.flags.Config
	check.Server = s
	if err := check.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	settings, err := cmd.settings()
	if err != nil {
		return fmt.Errorf("invalid server options: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, closeStore, err := cmd.openFeed(ctx, settings.Storage)
	if err != nil {
		return err
	}
	defer closeStore()
	defer f.Close() //nolint:errcheck

	srv := server.New(f, server.Options{
		AllowedOrigins: settings.AllowedOrigins,
		StaticDir:      settings.Static,
		RPS:            settings.RPS,
		Burst:          settings.Burst,
	}, log.With().Str("component", "server").Logger())

	p.Successf("Serving %s storage on %s", settings.Storage, settings.Listen)
	return srv.ListenAndServe(ctx, settings.Listen)
}

// openFeed creates the in-memory feed over the selected storage backend.
func (cmd *ServeCmd) openFeed(ctx context.Context, storage string) (*memfeed.Feed, func(), error) {
	cfg := cmd.flags.Config
	logger := memfeed.WithLogger(log.With().Str("component", "memfeed").Logger())
	noop := func() {}

	switch storage {
	case config.StorageMemory:
		f, err := memfeed.New(ctx, logger)
		return f, noop, err

	case config.StorageJSONFile:
		f, err := memfeed.New(ctx, logger, memfeed.WithPersister(jsonfile.NewTreeStore(cfg.TreeDir())))
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", cfg.TreeDir(), err)
		}
		return f, noop, nil

	case config.StoragePebble:
		db, err := pebblestore.Open(cfg.PebbleDir())
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("close pebble")
			}
		}
		f, err := memfeed.New(ctx, logger, memfeed.WithPersister(db))
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("load %s: %w", cfg.PebbleDir(), err)
		}
		return f, closeDB, nil
	}

	return nil, nil, fmt.Errorf("unknown storage %q", storage)
}
