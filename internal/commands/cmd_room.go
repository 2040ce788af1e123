package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/parley/internal/parley"
	"github.com/hay-kot/parley/internal/printer"
)

type RoomCmd struct {
	flags *Flags

	match string
	room  string
}

// NewRoomCmd creates a new room command.
func NewRoomCmd(flags *Flags) *RoomCmd {
	return &RoomCmd{flags: flags}
}

// Register adds the room and channel commands to the application.
func (cmd *RoomCmd) Register(app *cli.Command) *cli.Command {
	matchFlag := &cli.StringFlag{
		Name:        "match",
		Aliases:     []string{"m"},
		Usage:       "only list ids or names matching a glob pattern (e.g. 'team-*')",
		Destination: &cmd.match,
	}
	roomFlag := &cli.StringFlag{
		Name:        "room",
		Aliases:     []string{"r"},
		Usage:       "room id (defaults to chat.room from the config)",
		Destination: &cmd.room,
	}

	app.Commands = append(app.Commands,
		&cli.Command{
			Name:  "room",
			Usage: "List and create rooms",
			Commands: []*cli.Command{
				{
					Name:      "ls",
					Usage:     "List rooms",
					UsageText: "parley room ls [--match PATTERN]",
					Flags:     []cli.Flag{matchFlag},
					Action:    cmd.runRoomLs,
				},
				{
					Name:      "new",
					Usage:     "Create a room with a general channel",
					UsageText: "parley room new NAME",
					Description: `Creates a room. Its id is derived from NAME: lowercase, with runs of
other characters collapsed to '-'. Creating a room that exists fails.`,
					Action: cmd.runRoomNew,
				},
			},
		},
		&cli.Command{
			Name:  "channel",
			Usage: "List and create channels",
			Commands: []*cli.Command{
				{
					Name:      "ls",
					Usage:     "List the channels of a room",
					UsageText: "parley channel ls [--room ROOM] [--match PATTERN]",
					Flags:     []cli.Flag{roomFlag, matchFlag},
					Action:    cmd.runChannelLs,
				},
				{
					Name:      "new",
					Usage:     "Create a channel in a room",
					UsageText: "parley channel new [--room ROOM] NAME",
					Flags:     []cli.Flag{roomFlag},
					Action:    cmd.runChannelNew,
				},
			},
		},
	)

	return app
}

func (cmd *RoomCmd) withService(ctx context.Context, fn func(*parley.Service) error) error {
	conn, err := cmd.flags.connect(ctx, parley.Hooks{}, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn.service)
}

func (cmd *RoomCmd) matches(values ...string) (bool, error) {
	if cmd.match == "" {
		return true, nil
	}
	if !doublestar.ValidatePattern(cmd.match) {
		return false, fmt.Errorf("invalid --match pattern %q", cmd.match)
	}
	for _, v := range values {
		ok, err := doublestar.Match(cmd.match, v)
		if err != nil {
			return false, fmt.Errorf("invalid --match pattern: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (cmd *RoomCmd) roomID() string {
	if cmd.room != "" {
		return cmd.room
	}
	return cmd.flags.Config.Chat.Room
}

func (cmd *RoomCmd) runRoomLs(ctx context.Context, c *cli.Command) error {
	return cmd.withService(ctx, func(svc *parley.Service) error {
		rooms, err := svc.Rooms(ctx)
		if err != nil {
			return fmt.Errorf("list rooms: %w", err)
		}

		w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tNAME\tCREATED")
		shown := 0
		for _, r := range rooms {
			ok, err := cmd.matches(r.ID, r.Name)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			shown++
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Name, humanize.Time(r.CreatedAt))
		}
		if shown == 0 {
			printer.Ctx(ctx).Infof("No rooms found")
			return nil
		}
		return w.Flush()
	})
}

func (cmd *RoomCmd) runRoomNew(ctx context.Context, c *cli.Command) error {
	name := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if _, err := cmd.flags.requireSession(ctx); err != nil {
		return err
	}

	return cmd.withService(ctx, func(svc *parley.Service) error {
		room, err := svc.CreateRoom(ctx, name)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		printer.Ctx(ctx).Successf("Created room %s (%s/%s)", room.Name, room.ID, parley.DefaultChannel)
		return nil
	})
}

func (cmd *RoomCmd) runChannelLs(ctx context.Context, c *cli.Command) error {
	room := cmd.roomID()
	return cmd.withService(ctx, func(svc *parley.Service) error {
		channels, err := svc.Channels(ctx, room)
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}

		w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SCOPE\tNAME\tCREATED")
		shown := 0
		for _, ch := range channels {
			ok, err := cmd.matches(ch.ID, ch.Name)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			shown++
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", ch.Scope(), ch.Name, humanize.Time(ch.CreatedAt))
		}
		if shown == 0 {
			printer.Ctx(ctx).Infof("No channels found in %s", room)
			return nil
		}
		return w.Flush()
	})
}

func (cmd *RoomCmd) runChannelNew(ctx context.Context, c *cli.Command) error {
	name := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if name == "" {
		return fmt.Errorf("channel name is required")
	}
	if _, err := cmd.flags.requireSession(ctx); err != nil {
		return err
	}

	room := cmd.roomID()
	return cmd.withService(ctx, func(svc *parley.Service) error {
		ch, err := svc.CreateChannel(ctx, room, name)
		if err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
		printer.Ctx(ctx).Successf("Created channel %s", ch.Scope())
		return nil
	})
}
