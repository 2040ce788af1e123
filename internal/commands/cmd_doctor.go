package commands

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/parley/internal/commands/doctor"
	"github.com/hay-kot/parley/internal/core/account"
	"github.com/hay-kot/parley/internal/core/feed"
	"github.com/hay-kot/parley/internal/printer"
)

type DoctorCmd struct {
	flags  *Flags
	format string
	fix    bool
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Run health checks on your parley setup",
		UsageText:   "parley doctor [options]",
		Description: "Runs diagnostic checks on configuration, the feed server, and the stored session.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
			&cli.BoolFlag{
				Name:        "fix",
				Usage:       "clear a session whose user no longer exists",
				Destination: &cmd.fix,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// One connection serves both the feed check and the session check.
	var users doctor.UserLookup
	client, dialErr := cmd.flags.dial(dialCtx, nil)
	if dialErr == nil {
		defer client.Close() //nolint:errcheck
		users = account.New(client, account.Options{})
	}

	dial := func(context.Context, string) (feed.Reader, io.Closer, error) {
		if dialErr != nil {
			return nil, nil, dialErr
		}
		return client, io.NopCloser(nil), nil
	}

	checks := []doctor.Check{
		doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.configSource()),
		doctor.NewFeedCheck(cmd.flags.FeedURL(), dial),
		doctor.NewSessionCheck(cmd.flags.Sessions, users, cmd.fix),
	}

	results := doctor.RunAll(ctx, checks)
	tally := doctor.Count(results)

	if cmd.format == "json" {
		return writeReportJSON(c, results, tally)
	}

	writeReport(printer.Ctx(ctx), results, tally)
	if tally.Fixable > 0 && !cmd.fix {
		printer.Ctx(ctx).Infof("%d issue(s) can be fixed with 'parley doctor --fix'", tally.Fixable)
	}
	if !tally.Healthy() {
		return cli.Exit("", 1)
	}
	return nil
}

// writeReportJSON encodes check results for scripts. Commands using it exit
// zero and leave health to the "healthy" field.
func writeReportJSON(c *cli.Command, results []doctor.Result, tally doctor.Tally) error {
	out := struct {
		Healthy bool            `json:"healthy"`
		Summary doctor.Tally    `json:"summary"`
		Checks  []doctor.Result `json:"checks"`
	}{
		Healthy: tally.Healthy(),
		Summary: tally,
		Checks:  results,
	}

	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// writeReport prints one section per result followed by the totals.
func writeReport(p *printer.Printer, results []doctor.Result, tally doctor.Tally) {
	for _, result := range results {
		p.Section(result.Name)

		for _, item := range result.Items {
			switch item.Status {
			case doctor.StatusPass:
				p.CheckItem(item.Label, item.Detail)
			case doctor.StatusWarn:
				p.WarnItem(item.Label, item.Detail)
			case doctor.StatusFail:
				p.FailItem(item.Label, item.Detail)
			}
		}

		p.Printf("")
	}

	p.Printf("Summary: %d passed, %d warnings, %d failed", tally.Passed, tally.Warned, tally.Failed)
}
