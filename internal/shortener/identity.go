package shortener

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/sundayezeilo/urlshortener/internal/idgen"
)

// identityFile mirrors the current user id to a one-line file.
type identityFile struct {
	path   string
	logger zerolog.Logger
}

// load returns the stored id. A missing, unreadable or malformed file yields
// ok=false; the last two are logged and the content is discarded.
func (f identityFile) load() (id string, ok bool) {
	if f.path == "" {
		return "", false
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false
	}
	if err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("cannot read user id file, a new id will be created")
		return "", false
	}

	id, err = idgen.Parse(string(data))
	if err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("malformed user id file, a new id will be created")
		return "", false
	}
	return id, true
}

func (f identityFile) store(id string) error {
	if f.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.path, err)
	}
	if err := os.WriteFile(f.path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}
