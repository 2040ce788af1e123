package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/core/reactions"
	"github.com/hay-kot/parley/internal/parley"
	"github.com/hay-kot/parley/internal/printer"
	"github.com/hay-kot/parley/pkg/tmpl"
)

const (
	// settleQuiet is how long the initial window must stay silent before a
	// command treats it as delivered.
	settleQuiet   = 250 * time.Millisecond
	settleTimeout = 10 * time.Second
	lookupTimeout = 5 * time.Second
)

type MsgCmd struct {
	flags *Flags

	channel string
	asJSON  bool
	format  string

	// send flags
	replyTo  string
	sendFile string

	// tail flags
	last   int
	follow bool
}

// NewMsgCmd creates a new msg command.
func NewMsgCmd(flags *Flags) *MsgCmd {
	return &MsgCmd{flags: flags}
}

// Register adds the msg command to the application.
func (cmd *MsgCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "msg",
		Usage: "Send, edit, react to and read messages",
		Description: `Message commands operate on one channel, given as --channel ROOM/CHANNEL or
--channel CHANNEL (in the configured room). Without --channel the configured
chat.room and chat.channel are used.

Only the most recent messages of a channel are loaded (feed.window), so edit,
react and --reply-to accept ids from that window.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "channel",
				Aliases:     []string{"c"},
				Usage:       "channel to use (ROOM/CHANNEL or CHANNEL)",
				Sources:     cli.EnvVars("PARLEY_CHANNEL"),
				Destination: &cmd.channel,
			},
		},
		Commands: []*cli.Command{
			cmd.sendCmd(),
			cmd.editCmd(),
			cmd.reactCmd(),
			cmd.tailCmd(),
			cmd.searchCmd(),
		},
	})

	return app
}

func (cmd *MsgCmd) outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print messages as JSON lines",
			Destination: &cmd.asJSON,
		},
		&cli.StringFlag{
			Name:        "format",
			Usage:       "print each message with a Go template (e.g. '{{ .AuthorName }}: {{ oneline .Text }}')",
			Destination: &cmd.format,
		},
	}
}

func (cmd *MsgCmd) sendCmd() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message",
		UsageText: "parley msg send [--reply-to ID] [message]",
		Description: `Sends a message to the channel and prints its id.

The message can be provided as:
- A command-line argument
- From a file with -f/--file
- From stdin if no argument is provided

Examples:
  parley msg send "hello"
  parley msg send --channel lobby/random "hi all"
  parley msg send --reply-to -NxYz... "agreed"
  git log -1 --format=%s | parley msg send`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "reply-to",
				Aliases:     []string{"r"},
				Usage:       "id of the message to reply to",
				Destination: &cmd.replyTo,
			},
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "read message from file",
				Destination: &cmd.sendFile,
			},
		},
		Action: cmd.runSend,
	}
}

func (cmd *MsgCmd) editCmd() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Replace the text of one of your messages",
		UsageText: "parley msg edit ID TEXT",
		Action:    cmd.runEdit,
	}
}

func (cmd *MsgCmd) reactCmd() *cli.Command {
	return &cli.Command{
		Name:      "react",
		Usage:     "Toggle an emoji reaction on a message",
		UsageText: "parley msg react ID EMOJI",
		Action:    cmd.runReact,
	}
}

func (cmd *MsgCmd) tailCmd() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Print the most recent messages",
		UsageText: "parley msg tail [--last N] [--follow] [--json | --format TEMPLATE]",
		Description: `Prints the most recent messages of the channel, oldest first.
With --follow, keeps printing new messages until interrupted.

--format takes a Go template over the fields printed by --json (ID, AuthorName,
Text, CreatedAt, EditedAt, ParentID, Quote, Reactions) and the functions shq,
json, oneline, ago and time.

Examples:
  parley msg tail -n 5
  parley msg tail --follow --format '{{ time "15:04" .CreatedAt }} {{ .AuthorName }}: {{ oneline .Text }}'`,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:        "last",
				Aliases:     []string{"n"},
				Usage:       "print only the last N messages",
				Value:       20,
				Destination: &cmd.last,
			},
			&cli.BoolFlag{
				Name:        "follow",
				Aliases:     []string{"F"},
				Usage:       "keep printing new messages",
				Destination: &cmd.follow,
			},
		}, cmd.outputFlags()...),
		Action: cmd.runTail,
	}
}

func (cmd *MsgCmd) searchCmd() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the loaded messages",
		UsageText: "parley msg search [--json | --format TEMPLATE] QUERY",
		Description: `Case-insensitive search over the text, author and reaction emoji of the
recent messages of the channel. Results are printed newest first.`,
		Flags:  cmd.outputFlags(),
		Action: cmd.runSearch,
	}
}

// open connects, signs in and switches to the selected channel. The
// returned activity tracks delivery of the channel window.
func (cmd *MsgCmd) open(ctx context.Context, onAdded func(chat.Message)) (*conn, *activity, error) {
	if _, err := cmd.flags.requireSession(ctx); err != nil {
		return nil, nil, err
	}
	scope, err := cmd.flags.scope(cmd.channel)
	if err != nil {
		return nil, nil, err
	}

	act := newActivity()
	hooks := act.hooks()
	if onAdded != nil {
		hooks.OnMessageAdded = func(m chat.Message) {
			act.touch()
			onAdded(m)
		}
	}

	conn, err := cmd.flags.connect(ctx, hooks, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.service.SwitchScope(ctx, scope); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open %s: %w", scope, err)
	}
	return conn, act, nil
}

// settled waits for the initial window of the active channel.
func settled(ctx context.Context, act *activity) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := act.settle(ctx, settleQuiet); err != nil {
		return fmt.Errorf("waiting for messages: %w", err)
	}
	return nil
}

func (cmd *MsgCmd) runSend(ctx context.Context, c *cli.Command) error {
	text, err := cmd.messageText(c)
	if err != nil {
		return err
	}

	conn, _, err := cmd.open(ctx, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	svc := conn.service

	if cmd.replyTo != "" {
		parent, err := waitForMessage(ctx, svc, cmd.replyTo, lookupTimeout)
		if err != nil {
			return err
		}
		if err := svc.SetReplyDraft(&parent); err != nil {
			return err
		}
	}

	id, err := svc.Send(ctx, text)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	_, _ = fmt.Fprintln(c.Root().Writer, id)
	return nil
}

// messageText reads the message from the argument, --file or stdin.
func (cmd *MsgCmd) messageText(c *cli.Command) (string, error) {
	var text string
	switch {
	case c.NArg() >= 1:
		text = strings.Join(c.Args().Slice(), " ")
	case cmd.sendFile != "":
		data, err := os.ReadFile(cmd.sendFile)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		text = string(data)
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	text = strings.TrimRight(text, "\r\n")
	if strings.TrimSpace(text) == "" {
		return "", chat.ErrEmptyText
	}
	return text, nil
}

func (cmd *MsgCmd) runEdit(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: %s", c.UsageText)
	}
	id := c.Args().First()
	text := strings.Join(c.Args().Tail(), " ")

	conn, _, err := cmd.open(ctx, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := waitForMessage(ctx, conn.service, id, lookupTimeout); err != nil {
		return err
	}
	if err := conn.service.Edit(ctx, id, text); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	printer.Ctx(ctx).Successf("Edited %s", id)
	return nil
}

func (cmd *MsgCmd) runReact(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: %s", c.UsageText)
	}
	id, emoji := c.Args().Get(0), c.Args().Get(1)

	conn, _, err := cmd.open(ctx, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := waitForMessage(ctx, conn.service, id, lookupTimeout); err != nil {
		return err
	}
	added, err := conn.service.React(ctx, id, emoji)
	if err != nil {
		return fmt.Errorf("react: %w", err)
	}

	p := printer.Ctx(ctx)
	if added {
		p.Successf("Reacted %s to %s", emoji, id)
	} else {
		p.Successf("Removed %s from %s", emoji, id)
	}
	return nil
}

func (cmd *MsgCmd) runTail(ctx context.Context, c *cli.Command) error {
	// Hooks must not block; messages beyond the buffer are dropped.
	added := make(chan chat.Message, 256)
	var following atomic.Bool
	var onAdded func(chat.Message)
	if cmd.follow {
		onAdded = func(m chat.Message) {
			if !following.Load() {
				return
			}
			select {
			case added <- m:
			default:
			}
		}
	}

	conn, act, err := cmd.open(ctx, onAdded)
	if err != nil {
		return err
	}
	defer conn.Close()
	svc := conn.service

	if err := settled(ctx, act); err != nil {
		return err
	}

	out, err := cmd.messageWriter(c.Root().Writer, svc)
	if err != nil {
		return err
	}
	// Forward before the snapshot; duplicates are filtered by id.
	following.Store(true)
	msgs := svc.Messages()
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = true
	}
	if cmd.last > 0 && len(msgs) > cmd.last {
		msgs = msgs[len(msgs)-cmd.last:]
	}
	for _, m := range msgs {
		if err := out.write(m); err != nil {
			return err
		}
	}

	if !cmd.follow {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-added:
			// A reconnect re-delivers the whole window.
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			if err := out.write(m); err != nil {
				return err
			}
		}
	}
}

func (cmd *MsgCmd) runSearch(ctx context.Context, c *cli.Command) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("usage: %s", c.UsageText)
	}

	conn, act, err := cmd.open(ctx, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := settled(ctx, act); err != nil {
		return err
	}

	results := conn.service.Search(query)
	if len(results) == 0 {
		printer.Ctx(ctx).Infof("No messages match %q", query)
		return nil
	}

	out, err := cmd.messageWriter(c.Root().Writer, conn.service)
	if err != nil {
		return err
	}
	for _, m := range results {
		if err := out.write(m); err != nil {
			return err
		}
	}
	return nil
}

// messageJSON is one line of --json output.
type messageJSON struct {
	chat.Message
	Quote     *chat.Quote          `json:"quote,omitempty"`
	Reactions []reactions.Reaction `json:"reactions,omitempty"`
}

// messageWriter prints messages with their quote and reactions.
type messageWriter struct {
	svc    *parley.Service
	w      io.Writer
	p      *printer.Printer
	enc    *json.Encoder
	format *tmpl.Template
	json   bool
	now    func() time.Time
}

func (cmd *MsgCmd) messageWriter(w io.Writer, svc *parley.Service) (*messageWriter, error) {
	if cmd.asJSON && cmd.format != "" {
		return nil, fmt.Errorf("--json and --format are mutually exclusive")
	}
	mw := &messageWriter{
		svc:  svc,
		w:    w,
		p:    printer.New(w),
		enc:  json.NewEncoder(w),
		json: cmd.asJSON,
		now:  time.Now,
	}
	if cmd.format != "" {
		t, err := tmpl.Parse(cmd.format, mw.now)
		if err != nil {
			return nil, fmt.Errorf("invalid --format: %w", err)
		}
		mw.format = t
	}
	return mw, nil
}

func (w *messageWriter) write(m chat.Message) error {
	view := printer.MessageView{
		Message:   m,
		Reactions: w.svc.Reactions(m.ID).Reactions,
	}
	if q, ok := w.svc.Quote(m.ID); ok {
		view.Quote = &q
	}
	data := messageJSON{Message: m, Quote: view.Quote, Reactions: view.Reactions}

	switch {
	case w.json:
		return w.enc.Encode(data)
	case w.format != nil:
		out, err := w.format.Execute(data)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w.w, out)
		return err
	default:
		w.p.Message(view, w.now())
		return nil
	}
}
