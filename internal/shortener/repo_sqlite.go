package shortener

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"github.com/sundayezeilo/urlshortener/internal/errx"
)

const linksTable = "links"

// timestampLayout is fixed-width so that text ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timestamp stores a time.Time as UTC text.
type timestamp time.Time

func (ts timestamp) Value() (driver.Value, error) {
	return time.Time(ts).UTC().Format(timestampLayout), nil
}

func (ts *timestamp) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*ts = timestamp(time.Time{})
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case time.Time:
		*ts = timestamp(v.UTC())
		return nil
	default:
		return fmt.Errorf("cannot scan type %T into timestamp", value)
	}
}

func (ts *timestamp) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*ts = timestamp(t.UTC())
	return nil
}

type linkRow struct {
	Code        string    `db:"code"`
	OwnerID     string    `db:"owner_id"`
	OriginalURL string    `db:"original_url"`
	ShortURL    string    `db:"short_url"`
	MaxClicks   int       `db:"max_clicks"`
	ClicksDone  int       `db:"clicks_done"`
	CreatedAt   timestamp `db:"created_at"`
	ExpiresAt   timestamp `db:"expires_at"`
}

func toLinkRow(l Link) linkRow {
	return linkRow{
		Code:        l.Code,
		OwnerID:     l.OwnerID,
		OriginalURL: l.OriginalURL,
		ShortURL:    l.ShortURL,
		MaxClicks:   l.MaxClicks,
		ClicksDone:  l.ClicksDone,
		CreatedAt:   timestamp(l.CreatedAt),
		ExpiresAt:   timestamp(l.ExpiresAt),
	}
}

func (r linkRow) toDomain() Link {
	return Link{
		Code:        r.Code,
		OwnerID:     r.OwnerID,
		OriginalURL: r.OriginalURL,
		ShortURL:    r.ShortURL,
		MaxClicks:   r.MaxClicks,
		ClicksDone:  r.ClicksDone,
		CreatedAt:   time.Time(r.CreatedAt),
		ExpiresAt:   time.Time(r.ExpiresAt),
	}
}

// SQLiteRepository stores links in an embedded SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	gq     *goqu.Database
	logger zerolog.Logger

	// SQLite serializes writers itself; mu keeps Save and DeleteByCode
	// linearizable with the same guarantee as the file backend.
	mu sync.Mutex
}

// NewSQLiteRepository opens (or creates) the database at path and applies the schema.
func NewSQLiteRepository(ctx context.Context, path string, config *RepositoryConfig) (*SQLiteRepository, error) {
	const op = "shortener.repo.NewSQLiteRepository"

	if path == "" {
		return nil, errx.E(op, errx.Invalid, errors.New("sqlite path cannot be empty"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errx.E(op, errx.IO, err)
	}

	db, err := sql.Open("sqlite", formatSQLiteDSN(path))
	if err != nil {
		return nil, errx.E(op, errx.IO, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errx.E(op, errx.IO, fmt.Errorf("ping %s: %w", path, err))
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, errx.E(op, errx.IO, fmt.Errorf("migrate %s: %w", path, err))
	}

	logger := config.logger().With().Str("component", "sqlite_repository").Str("path", path).Logger()
	logger.Info().Msg("sqlite store ready")

	return &SQLiteRepository{
		db:     db,
		gq:     goqu.New("sqlite3", db),
		logger: logger,
	}, nil
}

func formatSQLiteDSN(path string) string {
	// See: https://pkg.go.dev/modernc.org/sqlite#pkg-overview
	params := url.Values{}
	params.Set("mode", "rwc")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")

	return "file:" + path + "?" + params.Encode()
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS links (
		code TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		original_url TEXT NOT NULL,
		short_url TEXT NOT NULL,
		max_clicks INTEGER NOT NULL,
		clicks_done INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_links_owner_id ON links(owner_id);
	CREATE INDEX IF NOT EXISTS idx_links_expires_at ON links(expires_at);
	`

	_, err := db.ExecContext(ctx, schema)
	return err
}

func (r *SQLiteRepository) Save(ctx context.Context, link Link) error {
	const op = "shortener.repo.Save"

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.gq.WithTx(func(tx *goqu.TxDatabase) error {
		if _, err := tx.Delete(linksTable).Where(goqu.Ex{"code": link.Code}).Executor().ExecContext(ctx); err != nil {
			return err
		}
		_, err := tx.Insert(linksTable).Rows(toLinkRow(link)).Executor().ExecContext(ctx)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Str("code", link.Code).Msg("failed to save link")
		return errx.E(op, errx.IO, err)
	}
	return nil
}

func (r *SQLiteRepository) FindByCode(ctx context.Context, code string) (Link, error) {
	const op = "shortener.repo.FindByCode"

	var row linkRow
	found, err := r.gq.From(linksTable).Where(goqu.Ex{"code": code}).ScanStructContext(ctx, &row)
	if err != nil {
		return Link{}, errx.E(op, errx.IO, err)
	}
	if !found {
		return Link{}, errx.E(op, errx.NotFound, fmt.Errorf("link %q not found", code))
	}
	return row.toDomain(), nil
}

func (r *SQLiteRepository) FindByOwner(ctx context.Context, ownerID string) ([]Link, error) {
	const op = "shortener.repo.FindByOwner"

	var rows []linkRow
	err := r.gq.From(linksTable).
		Where(goqu.Ex{"owner_id": ownerID}).
		Order(goqu.C("created_at").Desc(), goqu.C("code").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, errx.E(op, errx.IO, err)
	}

	links := lo.Map(rows, func(row linkRow, _ int) Link { return row.toDomain() })
	slices.SortStableFunc(links, sortNewestFirst)
	return links, nil
}

func (r *SQLiteRepository) DeleteByCode(ctx context.Context, code string) error {
	const op = "shortener.repo.DeleteByCode"

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.gq.Delete(linksTable).Where(goqu.Ex{"code": code}).Executor().ExecContext(ctx); err != nil {
		r.logger.Error().Err(err).Str("code", code).Msg("failed to delete link")
		return errx.E(op, errx.IO, err)
	}
	return nil
}

func (r *SQLiteRepository) FindAll(ctx context.Context) ([]Link, error) {
	const op = "shortener.repo.FindAll"

	var rows []linkRow
	if err := r.gq.From(linksTable).ScanStructsContext(ctx, &rows); err != nil {
		return nil, errx.E(op, errx.IO, err)
	}
	return lo.Map(rows, func(row linkRow, _ int) Link { return row.toDomain() }), nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
