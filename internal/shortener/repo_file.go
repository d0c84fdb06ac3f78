package shortener

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	jsoniter "github.com/json-iterator/go"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/sundayezeilo/urlshortener/internal/errx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RepositoryConfig holds configuration shared by the repository backends.
type RepositoryConfig struct {
	Logger zerolog.Logger
}

func (c *RepositoryConfig) logger() zerolog.Logger {
	if c == nil {
		return zerolog.Nop()
	}
	return c.Logger
}

// FileRepository keeps every link in memory and mirrors the whole collection
// to a single JSON file on each mutation.
//
// Mutations hold mu across "write file, then publish to memory", so the file
// and the map never disagree on a committed state. Reads go straight to the
// concurrent map and never take mu.
type FileRepository struct {
	path   string
	logger zerolog.Logger

	mu    sync.Mutex
	links cmap.ConcurrentMap[string, Link]
}

// NewFileRepository loads path, creating an empty store file (and its parent
// directories) when it does not exist. Unparseable content is an errx.IO error.
func NewFileRepository(path string, config *RepositoryConfig) (*FileRepository, error) {
	const op = "shortener.repo.NewFileRepository"

	if path == "" {
		return nil, errx.E(op, errx.Invalid, errors.New("storage file path cannot be empty"))
	}

	r := &FileRepository{
		path:   path,
		logger: config.logger().With().Str("component", "file_repository").Str("path", path).Logger(),
		links:  cmap.New[Link](),
	}

	if err := r.load(); err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return r, nil
}

func (r *FileRepository) load() error {
	const op = "shortener.repo.load"

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info().Msg("storage file not found, creating empty store")
		return r.persist(nil)
	}
	if err != nil {
		return errx.E(op, errx.IO, fmt.Errorf("read %s: %w", r.path, err))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		r.logger.Info().Msg("storage file is empty")
		return nil
	}

	var links []Link
	if err := json.Unmarshal(data, &links); err != nil {
		return errx.E(op, errx.IO, fmt.Errorf("parse %s: %w", r.path, err))
	}
	for _, l := range links {
		r.links.Set(l.Code, l)
	}

	r.logger.Info().Int("links", r.links.Count()).Msg("storage file loaded")
	return nil
}

// persist writes snapshot sorted newest first. Callers hold mu.
func (r *FileRepository) persist(snapshot map[string]Link) error {
	const op = "shortener.repo.persist"

	links := lo.Values(snapshot)
	slices.SortFunc(links, sortNewestFirst)

	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}
	if err := writeFileAtomic(r.path, append(data, '\n')); err != nil {
		r.logger.Error().Err(err).Msg("failed to persist links")
		return errx.E(op, errx.IO, err)
	}
	return nil
}

func (r *FileRepository) Save(ctx context.Context, link Link) error {
	const op = "shortener.repo.Save"

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.links.Items()
	snapshot[link.Code] = link
	if err := r.persist(snapshot); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}
	r.links.Set(link.Code, link)
	return nil
}

func (r *FileRepository) FindByCode(ctx context.Context, code string) (Link, error) {
	const op = "shortener.repo.FindByCode"

	link, ok := r.links.Get(code)
	if !ok {
		return Link{}, errx.E(op, errx.NotFound, fmt.Errorf("link %q not found", code))
	}
	return link, nil
}

func (r *FileRepository) FindByOwner(ctx context.Context, ownerID string) ([]Link, error) {
	links := lo.Filter(lo.Values(r.links.Items()), func(l Link, _ int) bool {
		return l.OwnerID == ownerID
	})
	slices.SortFunc(links, sortNewestFirst)
	return links, nil
}

func (r *FileRepository) DeleteByCode(ctx context.Context, code string) error {
	const op = "shortener.repo.DeleteByCode"

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.links.Items()
	delete(snapshot, code)
	if err := r.persist(snapshot); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}
	r.links.Remove(code)
	return nil
}

func (r *FileRepository) FindAll(ctx context.Context) ([]Link, error) {
	return lo.Values(r.links.Items()), nil
}

// writeFileAtomic writes data to a temp file next to path and renames it into
// place, creating parent directories as needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
