// Package browser hands URLs to the desktop's default browser.
package browser

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog"
)

// Launcher starts the command that opens rawURL.
type Launcher func(name string, args ...string) error

// Config holds configuration for the Opener.
type Config struct {
	// Fallback receives the manual-open hint when no browser could be launched.
	Fallback io.Writer
	Logger   zerolog.Logger
	// GOOS overrides runtime.GOOS. Tests only.
	GOOS string
	// Launch overrides process execution. Tests only.
	Launch Launcher
}

// Opener opens URLs with the platform's URL handler.
type Opener struct {
	fallback io.Writer
	logger   zerolog.Logger
	goos     string
	launch   Launcher
}

func New(config *Config) *Opener {
	if config == nil {
		config = &Config{Logger: zerolog.Nop()}
	}

	o := &Opener{
		fallback: config.Fallback,
		logger:   config.Logger.With().Str("component", "browser").Logger(),
		goos:     config.GOOS,
		launch:   config.Launch,
	}
	if o.fallback == nil {
		o.fallback = io.Discard
	}
	if o.goos == "" {
		o.goos = runtime.GOOS
	}
	if o.launch == nil {
		o.launch = startProcess
	}
	return o
}

// Open launches the browser for rawURL. When that is impossible it prints a
// hint to open the link manually instead. Open never fails: a click has
// already been counted by the time it is called.
func (o *Opener) Open(rawURL string) error {
	name, args, ok := Command(o.goos, rawURL)
	if !ok {
		o.logger.Debug().Str("goos", o.goos).Msg("no url handler for platform")
		o.printFallback(rawURL)
		return nil
	}

	if err := o.launch(name, args...); err != nil {
		o.logger.Warn().Err(err).Str("command", name).Msg("failed to launch browser")
		o.printFallback(rawURL)
	}
	return nil
}

func (o *Opener) printFallback(rawURL string) {
	fmt.Fprintf(o.fallback, "Open the link manually: %s\n", rawURL)
}

// Command returns the URL handler invocation for goos.
func Command(goos, rawURL string) (name string, args []string, ok bool) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{rawURL}, true
	case "darwin":
		return "open", []string{rawURL}, true
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", rawURL}, true
	default:
		return "", nil, false
	}
}

// startProcess starts the handler without waiting for the browser to exit.
func startProcess(name string, args ...string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return err
	}
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
