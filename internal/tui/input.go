package tui

import (
	"fmt"
	"strings"
)

// command is a parsed slash command.
type command struct {
	name string
	args []string
	// rest is the input after the first argument, spacing preserved.
	rest string
}

// parseInput splits composer input into a slash command or plain text.
// A leading "//" escapes a message that starts with a slash.
func parseInput(s string) (cmd command, text string, isCommand bool) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "//") {
		return command{}, trimmed[1:], false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return command{}, s, false
	}

	name, args, _ := strings.Cut(trimmed[1:], " ")
	cmd = command{name: strings.ToLower(name), args: strings.Fields(args)}
	if len(cmd.args) > 0 {
		_, rest, _ := strings.Cut(strings.TrimSpace(args), cmd.args[0])
		cmd.rest = strings.TrimSpace(rest)
	}
	return cmd, "", true
}

// arg returns the i-th argument or "".
func (c command) arg(i int) string {
	if i < len(c.args) {
		return c.args[i]
	}
	return ""
}

// commandHelp is shown by /help.
var commandHelp = []struct{ usage, desc string }{
	{"/join ROOM[/CHANNEL]", "switch room or channel"},
	{"/channel NAME", "switch channel in this room"},
	{"/rooms", "list rooms"},
	{"/channels", "list channels in this room"},
	{"/newroom NAME", "create a room"},
	{"/newchannel NAME", "create a channel in this room"},
	{"/reply [REF]", "reply to a message (default: latest)"},
	{"/edit REF TEXT", "edit one of your messages"},
	{"/react REF EMOJI", "toggle a reaction"},
	{"/search [QUERY]", "filter messages, empty clears"},
	{"/cancel", "clear reply and search"},
	{"/quit", "exit"},
}

func helpText() string {
	var b strings.Builder
	for _, h := range commandHelp {
		fmt.Fprintf(&b, "%-22s %s\n", h.usage, h.desc)
	}
	b.WriteString("ctrl+p / ctrl+n recall earlier input. ")
	b.WriteString("REF is the end of a message id as shown in the timeline, or ^ for the latest message.")
	return b.String()
}
