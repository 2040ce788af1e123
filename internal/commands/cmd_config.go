package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/hay-kot/parley/internal/commands/doctor"
	"github.com/hay-kot/parley/internal/core/config"
	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/printer"
)

type ConfigCmd struct {
	flags  *Flags
	format string
	deep   bool
}

// NewConfigCmd creates the config command group.
func NewConfigCmd(flags *Flags) *ConfigCmd {
	return &ConfigCmd{flags: flags}
}

// Register adds `config validate` and `config show` to the application.
func (cmd *ConfigCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Inspect the resolved configuration",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Report the feed, scope and storage parley resolved",
				UsageText: "parley config validate [--deep] [--format json]",
				Description: "Reports the settings parley resolved from the config file and flags and " +
					"fails on any it cannot run with. --deep also dials the feed server.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
					&cli.BoolFlag{
						Name:        "deep",
						Usage:       "check the feed server answers reads",
						Destination: &cmd.deep,
					},
				},
				Action: cmd.validate,
			},
			{
				Name:      "show",
				Usage:     "Print the resolved configuration as YAML",
				UsageText: "parley config show",
				Action:    cmd.show,
			},
		},
	})

	return app
}

func (cmd *ConfigCmd) validate(ctx context.Context, c *cli.Command) error {
	checks := []doctor.Check{doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.configSource())}
	if cmd.deep && cmd.flags.Config != nil {
		checks = append(checks, doctor.NewFeedCheck(cmd.flags.FeedURL(), cmd.dialFeed))
	}

	results := doctor.RunAll(ctx, checks)
	tally := doctor.Count(results)

	if cmd.format == "json" {
		return writeReportJSON(c, results, tally)
	}

	p := printer.Ctx(ctx)
	writeReport(p, results, tally)
	if !tally.Healthy() {
		p.Errorf("configuration has %d problem(s)", tally.Failed)
		return cli.Exit("", 1)
	}
	p.Successf("Configuration is valid")
	return nil
}

func (cmd *ConfigCmd) dialFeed(ctx context.Context, _ string) (feed.Reader, io.Closer, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := cmd.flags.dial(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

func (cmd *ConfigCmd) show(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Config == nil {
		return fmt.Errorf("configuration not loaded")
	}
	return writeResolvedConfig(c.Root().Writer, *cmd.flags.Config, cmd.flags.Server)
}

// writeResolvedConfig writes cfg as YAML with the --server override applied.
func writeResolvedConfig(w io.Writer, cfg config.Config, server string) error {
	if server != "" {
		cfg.Feed.URL = server
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
