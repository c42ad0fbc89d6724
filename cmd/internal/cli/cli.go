// Package cli implements startd-cli, a thin JSON-RPC client for session
// management.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"startd/cmd/internal/errs"
	v1 "startd/shared/contracts/rpc/v1"

	"golang.org/x/term"
)

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("usage")

const usage = `usage: startd-cli [-host URL] [-cookie-file PATH] <command>

commands:
  login [-password PASSWORD]     log in (prompts when -password is omitted)
  logout                         end the current session
  session list [-format json]    list active sessions
  session kill <id,id,...>       force-logout sessions
`

// CLI holds the process streams so commands can be driven from tests.
type CLI struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// readPassword is swapped out in tests.
	readPassword func() (string, error)
}

func New(stdin io.Reader, stdout, stderr io.Writer) *CLI {
	c := &CLI{stdin: stdin, stdout: stdout, stderr: stderr}
	c.readPassword = c.promptPassword
	return c
}

// Run parses args (without the program name) and executes one command.
func (c *CLI) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("startd-cli", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() { fmt.Fprint(c.stderr, usage) }

	host := fs.String("host", envOr("STARTD_HOST", "http://127.0.0.1:5959"), "server base URL")
	cookieFile := fs.String("cookie-file", envOr("STARTD_CLI_COOKIE", defaultCookieFile()), "where the session cookie is kept")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return ErrUsage
	}

	client := &Client{BaseURL: *host, CookieFile: *cookieFile}

	switch rest[0] {
	case "login":
		return c.login(ctx, client, rest[1:])
	case "logout":
		return client.Call(ctx, v1.MethodAuthLogout, nil, nil)
	case "session":
		if len(rest) < 2 {
			fs.Usage()
			return ErrUsage
		}
		switch rest[1] {
		case "list":
			return c.sessionList(ctx, client, rest[2:])
		case "kill":
			return c.sessionKill(ctx, client, rest[2:])
		}
	}

	fs.Usage()
	return fmt.Errorf("%w: unknown command %q", ErrUsage, strings.Join(rest, " "))
}

func (c *CLI) login(ctx context.Context, client *Client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	pw := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	password := *pw
	if password == "" {
		var err error
		if password, err = c.readPassword(); err != nil {
			return err
		}
	}

	return client.Call(ctx, v1.MethodAuthLogin, v1.LoginParams{
		Password: password,
		Metadata: []byte(`{"platforms":["cli"]}`),
	}, nil)
}

func (c *CLI) sessionList(ctx context.Context, client *Client, args []string) error {
	fs := flag.NewFlagSet("session list", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	format := fs.String("format", "table", "output format: table or json")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if *format != "table" && *format != "json" {
		return fmt.Errorf("%w: unknown format %q", ErrUsage, *format)
	}

	var list v1.SessionList
	if err := client.Call(ctx, v1.MethodSessionList, nil, &list); err != nil {
		return err
	}
	if *format == "json" {
		return writeJSON(c.stdout, list)
	}
	return writeSessionTable(c.stdout, list)
}

func (c *CLI) sessionKill(ctx context.Context, client *Client, args []string) error {
	var ids []string
	for _, a := range args {
		for _, id := range strings.Split(a, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: session kill needs at least one id", ErrUsage)
	}

	var res v1.KillResult
	if err := client.Call(ctx, v1.MethodSessionKill, v1.KillParams{IDs: ids}, &res); err != nil {
		return err
	}
	for _, id := range res.Killed {
		fmt.Fprintln(c.stdout, id)
	}
	return nil
}

func (c *CLI) promptPassword() (string, error) {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.stderr, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.stderr)
		return string(b), err
	}

	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ExitCode maps err to the process exit status: the error kind's code for
// server errors, 2 for usage errors, 1 otherwise.
func ExitCode(err error) int {
	var rpcErr *v1.Error
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUsage):
		return 2
	case errors.As(err, &rpcErr) && rpcErr.Data != nil:
		return errs.Code(errs.Parse(rpcErr.Data.Kind))
	default:
		return 1
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func defaultCookieFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".startd-cookie"
	}
	return filepath.Join(dir, "startd", "cookie")
}
