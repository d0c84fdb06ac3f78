package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sundayezeilo/urlshortener/internal/app"
	"github.com/sundayezeilo/urlshortener/internal/config"
	"github.com/sundayezeilo/urlshortener/internal/console"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type command struct {
	use   string
	short string
	args  cobra.PositionalArgs
}

var commands = []command{
	{use: "create <url> [limit]", short: "Shorten a URL, optionally with a click limit", args: cobra.RangeArgs(1, 2)},
	{use: "open <code>", short: "Open a short link in the browser", args: cobra.ExactArgs(1)},
	{use: "list", short: "List your links", args: cobra.NoArgs},
	{use: "delete <code>", short: "Delete one of your links", args: cobra.ExactArgs(1)},
	{use: "limit <code> <n>", short: "Change the click limit of one of your links", args: cobra.ExactArgs(2)},
	{use: "whoami", short: "Show the current user id", args: cobra.NoArgs},
	{use: "user <uuid>", short: "Switch to another user id", args: cobra.ExactArgs(1)},
	{use: "newuser", short: "Start over with a fresh user id", args: cobra.NoArgs},
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "urlshortener",
		Short: "Local URL shortener with click limits and expiring links",
		Long: `urlshortener mints short codes for URLs, tracks a click limit and an
expiration for each link and keeps everything in a local file.

Without a subcommand it starts an interactive console.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configFile, func(ctx context.Context, a *app.App) error {
				return a.Start(ctx)
			})
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultFile, "KEY=VALUE configuration file")

	for _, c := range commands {
		root.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  c.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, configFile, func(ctx context.Context, a *app.App) error {
					err := a.Exec(ctx, append([]string{cmd.Name()}, args...))
					if err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), console.Message(err))
					}
					return err
				})
			},
		})
	}

	return root
}

// withApp builds the application, runs fn and shuts the application down.
func withApp(cmd *cobra.Command, configFile string, fn func(ctx context.Context, a *app.App) error) (err error) {
	ctx := cmd.Context()

	a, err := app.New(ctx, app.Options{
		ConfigFile: configFile,
		In:         cmd.InOrStdin(),
		Out:        cmd.OutOrStdout(),
		LogOut:     cmd.ErrOrStderr(),
	})
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return err
	}
	defer func() {
		if shutdownErr := a.Shutdown(); shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}
	}()

	return fn(ctx, a)
}
