package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/parley/internal/tui"
)

type ChatCmd struct {
	flags *Flags

	channel string
	style   string
}

// NewChatCmd creates a new chat command
func NewChatCmd(flags *Flags) *ChatCmd {
	return &ChatCmd{flags: flags}
}

// Flags returns the chat flags for registration on the root command
func (cmd *ChatCmd) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "channel",
			Local:       true,
			Usage:       "channel to open (ROOM/CHANNEL or CHANNEL)",
			Sources:     cli.EnvVars("PARLEY_CHANNEL"),
			Destination: &cmd.channel,
		},
		&cli.StringFlag{
			Name:        "style",
			Local:       true,
			Usage:       "markdown style for message bodies (dark, light, notty, ...)",
			Sources:     cli.EnvVars("PARLEY_STYLE"),
			Value:       "dark",
			Destination: &cmd.style,
		},
	}
}

// Run executes the chat client. Exported for use as default command.
func (cmd *ChatCmd) Run(ctx context.Context, c *cli.Command) error {
	return cmd.run(ctx, c)
}

func (cmd *ChatCmd) run(ctx context.Context, _ *cli.Command) error {
	if _, err := cmd.flags.requireSession(ctx); err != nil {
		return err
	}
	scope, err := cmd.flags.scope(cmd.channel)
	if err != nil {
		return err
	}

	bridge := tui.NewBridge()
	conn, err := cmd.flags.connect(ctx, bridge.Hooks(), bridge.SetConnected)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.service.SwitchScope(ctx, scope); err != nil {
		return fmt.Errorf("open %s: %w", scope, err)
	}

	m := tui.New(conn.service, bridge, tui.Options{MarkdownStyle: cmd.style})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}

	return nil
}
