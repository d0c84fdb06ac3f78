package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/sundayezeilo/urlshortener/internal/browser"
	"github.com/sundayezeilo/urlshortener/internal/config"
	"github.com/sundayezeilo/urlshortener/internal/console"
	"github.com/sundayezeilo/urlshortener/internal/shortener"
	"github.com/sundayezeilo/urlshortener/internal/sweeper"
)

// Options controls how New builds the application.
type Options struct {
	// ConfigFile is the KEY=VALUE file passed to config.Load.
	ConfigFile string
	// Config, when set, is used as is and ConfigFile is ignored.
	Config *config.Config

	In     io.Reader // console input, default os.Stdin
	Out    io.Writer // console output, default os.Stdout
	LogOut io.Writer // log output, default os.Stderr
}

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Repo    shortener.Repository
	Service shortener.Service
	Sweeper *sweeper.Sweeper
	Console *console.Console

	in io.Reader
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.LogOut == nil {
		opts.LogOut = os.Stderr
	}

	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	logger := setupLogger(cfg.App, opts.LogOut)

	logger.Info().
		Str("env", cfg.App.Environment).
		Str("backend", cfg.Storage.Backend).
		Msg("starting application")

	repo, err := newRepository(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	opener := browser.New(&browser.Config{Fallback: opts.Out, Logger: logger})
	svc := shortener.NewService(repo, &shortener.ServiceConfig{
		TTL:              cfg.Shortener.TTL,
		DefaultMaxClicks: cfg.Shortener.DefaultMaxClicks,
		BaseURL:          cfg.Shortener.BaseURL,
		IdentityFile:     cfg.Storage.UserIDFile,
		Opener:           opener,
		Logger:           logger,
	})
	cons := console.New(svc, opts.Out, &console.Config{Logger: logger})
	sw := sweeper.New(repo, &sweeper.Config{
		Interval: cfg.Shortener.CleanupInterval,
		OnEvict:  cons.Notify,
		Logger:   logger,
	})

	logger.Info().
		Dur("ttl", cfg.Shortener.TTL).
		Str("base_url", cfg.Shortener.BaseURL).
		Msg("application initialized")

	return &App{
		Config:  cfg,
		Logger:  logger,
		Repo:    repo,
		Service: svc,
		Sweeper: sw,
		Console: cons,
		in:      opts.In,
	}, nil
}

// Start starts the background sweeper and runs the interactive console until
// the user exits, input ends or ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Sweeper.Start(); err != nil {
		return fmt.Errorf("sweeper error: %w", err)
	}
	if err := a.Console.Run(ctx, a.in); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}

// Exec runs a single console command. Expired links are swept first, since no
// background sweeper runs for one-shot commands.
func (a *App) Exec(ctx context.Context, args []string) error {
	if _, err := a.Sweeper.SweepNow(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("sweep before command failed")
	}
	return a.Console.Exec(ctx, args)
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.Logger.Info().Msg("shutting down application")

	<-a.Sweeper.Stop().Done()

	if closer, ok := a.Repo.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("storage closed")
	}
	return nil
}

func newRepository(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (shortener.Repository, error) {
	repoConfig := &shortener.RepositoryConfig{Logger: logger}

	switch cfg.Backend {
	case config.BackendMemory:
		return shortener.NewMemoryRepository(), nil
	case config.BackendSQLite:
		repo, err := shortener.NewSQLiteRepository(ctx, cfg.SQLitePath, repoConfig)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.BackendFile, "":
		repo, err := shortener.NewFileRepository(cfg.File, repoConfig)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// setupLogger creates a structured logger. Outside production it writes
// human-readable lines, otherwise JSON.
func setupLogger(cfg config.AppConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if !cfg.IsProduction() {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
