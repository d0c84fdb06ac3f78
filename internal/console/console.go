// Package console implements the text command interface over the shortener
// service, both as an interactive loop and as one-shot commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/sundayezeilo/urlshortener/internal/errx"
	"github.com/sundayezeilo/urlshortener/internal/shortener"
)

// ErrExit is returned by Exec for the exit command.
var ErrExit = errors.New("exit requested")

const prompt = "> "

const helpText = `Commands:
  create <url> [limit]   shorten url, optionally with a click limit
  open <code>            open a short link in the browser
  list                   list your links
  delete <code>          delete one of your links
  limit <code> <n>       change the click limit of one of your links
  whoami                 show the current user id
  user <uuid>            switch to another user id
  newuser                start over with a fresh user id
  help                   show this help
  exit                   quit
`

// Config holds configuration for the Console.
type Config struct {
	Logger zerolog.Logger
}

// Console parses commands, calls the service and prints the results.
// Output is serialized, so Notify may be called from other goroutines.
type Console struct {
	service shortener.Service
	logger  zerolog.Logger

	mu  sync.Mutex
	out io.Writer
}

func New(service shortener.Service, out io.Writer, config *Config) *Console {
	if config == nil {
		config = &Config{Logger: zerolog.Nop()}
	}
	return &Console{
		service: service,
		out:     out,
		logger:  config.Logger.With().Str("component", "console").Logger(),
	}
}

// Run reads commands from in, one per line, until exit, end of input or ctx
// cancellation. Command failures are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	const op = "console.Run"

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.printf("URL shortener. Type 'help' for commands.\n")
	for {
		c.printf(prompt)

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			c.printf("\n")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			c.printf("\n")
			if err := <-scanErr; err != nil {
				return errx.E(op, errx.IO, err)
			}
			return nil
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}

		err := c.Exec(ctx, args)
		if errors.Is(err, ErrExit) {
			c.printf("Bye.\n")
			return nil
		}
		if err != nil {
			c.printf("%s\n", Message(err))
		}
	}
}

// Exec runs a single command. args[0] is the command name.
func (c *Console) Exec(ctx context.Context, args []string) error {
	const op = "console.Exec"

	if len(args) == 0 {
		return errx.E(op, errx.Invalid, errors.New("no command given, type 'help'"))
	}

	name, rest := strings.ToLower(args[0]), args[1:]
	c.logger.Debug().Str("command", name).Int("args", len(rest)).Msg("executing command")

	var err error
	switch name {
	case "create":
		err = c.create(ctx, rest)
	case "open":
		err = c.open(ctx, rest)
	case "list":
		err = c.list(ctx, rest)
	case "delete":
		err = c.delete(ctx, rest)
	case "limit":
		err = c.limit(ctx, rest)
	case "whoami":
		err = c.whoami(rest)
	case "user":
		err = c.switchUser(rest)
	case "newuser":
		err = c.newUser(rest)
	case "help":
		c.printf("%s", helpText)
	case "exit", "quit":
		return ErrExit
	default:
		err = fmt.Errorf("unknown command %q, type 'help'", args[0])
		return errx.E(op, errx.Invalid, err)
	}
	if err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}
	return nil
}

// Notify prints a notice about a link removed in the background.
func (c *Console) Notify(link shortener.Link) {
	c.printf("\nNotice: link %s expired and was removed.\n", link.Code)
}

func (c *Console) create(ctx context.Context, args []string) error {
	const op = "console.create"

	if len(args) < 1 || len(args) > 2 {
		return usage(op, "create <url> [limit]")
	}

	req := shortener.CreateLinkRequest{OriginalURL: args[0]}
	if len(args) == 2 {
		n, err := parseLimit(op, args[1])
		if err != nil {
			return err
		}
		req.MaxClicks = &n
	}

	link, err := c.service.Create(ctx, req)
	if err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	c.printf("Link created.\n"+
		"  Owner:     %s\n"+
		"  Code:      %s\n"+
		"  Short URL: %s\n"+
		"  Expires:   %s\n"+
		"  Limit:     %d clicks\n",
		link.OwnerID, link.Code, link.ShortURL, formatTime(link.ExpiresAt), link.MaxClicks)
	return nil
}

func (c *Console) open(ctx context.Context, args []string) error {
	const op = "console.open"

	if len(args) != 1 {
		return usage(op, "open <code>")
	}

	link, err := c.service.Open(ctx, args[0])
	if err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	c.printf("Opening %s (clicks: %d/%d)\n", link.OriginalURL, link.ClicksDone, link.MaxClicks)
	return nil
}

func (c *Console) list(ctx context.Context, args []string) error {
	const op = "console.list"

	if len(args) != 0 {
		return usage(op, "list")
	}

	links, err := c.service.ListMine(ctx)
	if err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}
	if len(links) == 0 {
		c.printf("No links yet.\n")
		return nil
	}

	c.printf("%s\n", strings.Join(lo.Map(links, func(l shortener.Link, _ int) string { return FormatLink(l) }), "\n"))
	return nil
}

func (c *Console) delete(ctx context.Context, args []string) error {
	const op = "console.delete"

	if len(args) != 1 {
		return usage(op, "delete <code>")
	}
	if err := c.service.DeleteMine(ctx, args[0]); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	c.printf("Link %s deleted.\n", args[0])
	return nil
}

func (c *Console) limit(ctx context.Context, args []string) error {
	const op = "console.limit"

	if len(args) != 2 {
		return usage(op, "limit <code> <n>")
	}
	n, err := parseLimit(op, args[1])
	if err != nil {
		return err
	}

	link, err := c.service.UpdateLimitMine(ctx, args[0], n)
	if err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	c.printf("Limit for %s set to %d (clicks used: %d).\n", link.Code, link.MaxClicks, link.ClicksDone)
	if link.QuotaReached() {
		c.printf("Notice: link %s has no clicks left.\n", link.Code)
	}
	return nil
}

func (c *Console) whoami(args []string) error {
	if len(args) != 0 {
		return usage("console.whoami", "whoami")
	}

	if id, ok := c.service.CurrentUser(); ok {
		c.printf("Current user: %s\n", id)
	} else {
		c.printf("No current user yet. Create a link or run 'user <uuid>'.\n")
	}
	return nil
}

func (c *Console) switchUser(args []string) error {
	const op = "console.switchUser"

	if len(args) != 1 {
		return usage(op, "user <uuid>")
	}
	if err := c.service.SwitchUser(args[0]); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	id, _ := c.service.CurrentUser()
	c.printf("Switched to user %s\n", id)
	return nil
}

func (c *Console) newUser(args []string) error {
	const op = "console.newUser"

	if len(args) != 0 {
		return usage(op, "newuser")
	}
	id, err := c.service.NewUser()
	if err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	c.printf("New user: %s\n", id)
	return nil
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Message turns a failure into the text shown to the user. Each kind gets a
// distinct message.
func Message(err error) string {
	cause := errx.Cause(err)

	switch errx.KindOf(err) {
	case errx.Invalid:
		return fmt.Sprintf("Invalid input: %v", cause)
	case errx.NotFound:
		return "Link not found."
	case errx.Forbidden:
		return "Access denied: you can only manage your own links."
	case errx.Expired:
		return "Notice: the link has expired and was removed."
	case errx.QuotaExceeded:
		return "Notice: the link has reached its click limit."
	case errx.NoIdentity:
		return "No current user yet. Create a link or run 'user <uuid>' first."
	case errx.Exhausted:
		return "Could not generate a unique code, please try again."
	case errx.IO:
		return fmt.Sprintf("Storage error: %v", cause)
	case errx.Unavailable:
		return fmt.Sprintf("Random source unavailable: %v", cause)
	default:
		return fmt.Sprintf("Error: %v", cause)
	}
}

// FormatLink renders one list entry.
func FormatLink(l shortener.Link) string {
	return fmt.Sprintf("%s -> %s | clicks: %d/%d | expires: %s",
		l.Code, l.OriginalURL, l.ClicksDone, l.MaxClicks, formatTime(l.ExpiresAt))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseLimit(op, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errx.E(op, errx.Invalid, fmt.Errorf("limit must be an integer, got %q", s))
	}
	return n, nil
}

func usage(op, form string) error {
	return errx.E(op, errx.Invalid, fmt.Errorf("usage: %s", form))
}
