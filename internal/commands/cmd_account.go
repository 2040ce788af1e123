package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/parley/internal/core/account"
	"github.com/hay-kot/parley/internal/core/chat"
	"github.com/hay-kot/parley/internal/printer"
	"github.com/hay-kot/parley/internal/styles"
)

type AccountCmd struct {
	flags *Flags

	email         string
	username      string
	passwordStdin bool
}

// NewAccountCmd creates a new account command.
func NewAccountCmd(flags *Flags) *AccountCmd {
	return &AccountCmd{flags: flags}
}

// Register adds the account command to the application.
func (cmd *AccountCmd) Register(app *cli.Command) *cli.Command {
	credentialFlags := []cli.Flag{
		&cli.StringFlag{
			Name:        "email",
			Aliases:     []string{"e"},
			Usage:       "account email (prompted when omitted)",
			Destination: &cmd.email,
		},
		&cli.BoolFlag{
			Name:        "password-stdin",
			Usage:       "read the password from stdin instead of prompting",
			Destination: &cmd.passwordStdin,
		},
	}

	app.Commands = append(app.Commands, &cli.Command{
		Name:  "account",
		Usage: "Register, sign in and sign out",
		Description: `Account commands. The signed-in session is stored in $DATA_DIR/session.json
and used by every other command.`,
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Create an account and sign in",
				UsageText: "parley account register [--email EMAIL] [--username NAME]",
				Flags: append(credentialFlags, &cli.StringFlag{
					Name:        "username",
					Aliases:     []string{"u"},
					Usage:       "display name (defaults to the part of the email before @)",
					Destination: &cmd.username,
				}),
				Action: cmd.runRegister,
			},
			{
				Name:      "login",
				Usage:     "Sign in to an existing account",
				UsageText: "parley account login [--email EMAIL]",
				Flags:     credentialFlags,
				Action:    cmd.runLogin,
			},
			{
				Name:   "logout",
				Usage:  "Sign out",
				Action: cmd.runLogout,
			},
			{
				Name:   "whoami",
				Usage:  "Show the signed-in user",
				Action: cmd.runWhoami,
			},
		},
	})

	return app
}

// credentials collects email and password from flags, stdin or a form.
func (cmd *AccountCmd) credentials(register bool) (email, password, username string, err error) {
	email, username = cmd.email, cmd.username

	if cmd.passwordStdin {
		password, err = readLine(os.Stdin)
		if err != nil {
			return "", "", "", fmt.Errorf("read password: %w", err)
		}
		if email == "" {
			return "", "", "", errors.New("--email is required with --password-stdin")
		}
		return email, password, username, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", "", "", errors.New("stdin is not a terminal, use --email and --password-stdin")
	}

	fields := []huh.Field{
		huh.NewInput().
			Title("Email").
			Value(&email).
			Validate(required("email")),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(func(s string) error {
				if register && len(s) < account.MinPasswordLength {
					return fmt.Errorf("at least %d characters", account.MinPasswordLength)
				}
				return required("password")(s)
			}),
	}
	if register {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Description("Leave empty to use the part of your email before @").
			Value(&username))
	}

	form := huh.NewForm(huh.NewGroup(fields...)).WithTheme(styles.FormTheme())
	if err := form.Run(); err != nil {
		return "", "", "", err
	}
	return email, password, username, nil
}

func (cmd *AccountCmd) runRegister(ctx context.Context, c *cli.Command) error {
	email, password, username, err := cmd.credentials(true)
	if err != nil {
		return err
	}
	return cmd.withAccounts(ctx, func(accounts *account.Service) (chat.Session, error) {
		return accounts.Register(ctx, email, password, username)
	}, "Registered")
}

func (cmd *AccountCmd) runLogin(ctx context.Context, c *cli.Command) error {
	email, password, _, err := cmd.credentials(false)
	if err != nil {
		return err
	}
	return cmd.withAccounts(ctx, func(accounts *account.Service) (chat.Session, error) {
		return accounts.Login(ctx, email, password)
	}, "Signed in")
}

// withAccounts runs fn against the server's user records and stores the
// resulting session.
func (cmd *AccountCmd) withAccounts(ctx context.Context, fn func(*account.Service) (chat.Session, error), verb string) error {
	client, err := cmd.flags.dial(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck

	sess, err := fn(account.New(client, account.Options{}))
	if err != nil {
		return err
	}

	if err := cmd.flags.Sessions.Save(ctx, sess, cmd.flags.FeedURL()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	printer.Ctx(ctx).Successf("%s as %s <%s>", verb, sess.Username, sess.Email)
	return nil
}

func (cmd *AccountCmd) runLogout(ctx context.Context, c *cli.Command) error {
	if err := cmd.flags.Sessions.Clear(ctx); err != nil {
		return err
	}
	printer.Ctx(ctx).Successf("Signed out")
	return nil
}

func (cmd *AccountCmd) runWhoami(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	sess, err := cmd.flags.Sessions.Load(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		p.Infof("Not signed in")
		return nil
	}

	server, _ := cmd.flags.Sessions.Server(ctx)
	_, _ = fmt.Fprintf(c.Root().Writer, "%s <%s>\n", sess.Username, sess.Email)
	p.Infof("user %s on %s", sess.UserID, server)
	return nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

// readLine reads one line without its line ending.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}
