package shortener

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/sundayezeilo/urlshortener/internal/errx"
)

type repoFactory func(t *testing.T) Repository

func repoFactories() map[string]repoFactory {
	return map[string]repoFactory{
		"memory": func(t *testing.T) Repository {
			return NewMemoryRepository()
		},
		"file": func(t *testing.T) Repository {
			r, err := NewFileRepository(filepath.Join(t.TempDir(), "links.json"), nil)
			require.NoError(t, err)
			return r
		},
		"sqlite": func(t *testing.T) Repository {
			r, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "links.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = r.Close() })
			return r
		},
	}
}

func testLink(code, owner string, createdAt time.Time) Link {
	return Link{
		Code:        code,
		OwnerID:     owner,
		OriginalURL: "https://example.com/" + code,
		ShortURL:    "http://localhost/" + code,
		MaxClicks:   5,
		ClicksDone:  1,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(time.Hour),
	}
}

var sortByCode = cmpopts.SortSlices(func(a, b Link) bool { return a.Code < b.Code })

func TestRepositoryContract(t *testing.T) {
	ctx := context.Background()

	for name, newRepo := range repoFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("save then find", func(t *testing.T) {
				r := newRepo(t)
				link := testLink("abc123", "owner-a", t0)

				require.NoError(t, r.Save(ctx, link))

				got, err := r.FindByCode(ctx, "abc123")
				require.NoError(t, err)
				if diff := cmp.Diff(link, got); diff != "" {
					t.Errorf("FindByCode() mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("find absent code", func(t *testing.T) {
				r := newRepo(t)

				_, err := r.FindByCode(ctx, "absent")
				require.Equal(t, errx.NotFound, errx.KindOf(err))
			})

			t.Run("save upserts by code", func(t *testing.T) {
				r := newRepo(t)
				link := testLink("abc123", "owner-a", t0)
				require.NoError(t, r.Save(ctx, link))

				link.ClicksDone = 4
				link.MaxClicks = 9
				require.NoError(t, r.Save(ctx, link))

				all, err := r.FindAll(ctx)
				require.NoError(t, err)
				require.Len(t, all, 1)
				require.Equal(t, 4, all[0].ClicksDone)
				require.Equal(t, 9, all[0].MaxClicks)
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				r := newRepo(t)
				require.NoError(t, r.Save(ctx, testLink("abc123", "owner-a", t0)))

				require.NoError(t, r.DeleteByCode(ctx, "abc123"))
				require.NoError(t, r.DeleteByCode(ctx, "abc123"))
				require.NoError(t, r.DeleteByCode(ctx, "never-existed"))

				_, err := r.FindByCode(ctx, "abc123")
				require.Equal(t, errx.NotFound, errx.KindOf(err))
			})

			t.Run("find by owner orders newest first then by code", func(t *testing.T) {
				r := newRepo(t)
				links := []Link{
					testLink("old001", "owner-a", t0),
					testLink("new00b", "owner-a", t0.Add(time.Minute)),
					testLink("new00a", "owner-a", t0.Add(time.Minute)),
					testLink("mid001", "owner-a", t0.Add(time.Second)),
					testLink("oth001", "owner-b", t0.Add(time.Hour)),
				}
				for _, l := range links {
					require.NoError(t, r.Save(ctx, l))
				}

				got, err := r.FindByOwner(ctx, "owner-a")
				require.NoError(t, err)

				want := []Link{links[2], links[1], links[3], links[0]}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("FindByOwner() mismatch (-want +got):\n%s", diff)
				}

				none, err := r.FindByOwner(ctx, "nobody")
				require.NoError(t, err)
				require.Empty(t, none)
			})

			t.Run("find all returns every record", func(t *testing.T) {
				r := newRepo(t)
				want := []Link{
					testLink("aaa111", "owner-a", t0),
					testLink("bbb222", "owner-b", t0.Add(time.Second)),
				}
				for _, l := range want {
					require.NoError(t, r.Save(ctx, l))
				}

				got, err := r.FindAll(ctx)
				require.NoError(t, err)
				if diff := cmp.Diff(want, got, sortByCode); diff != "" {
					t.Errorf("FindAll() mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("concurrent mutations are not lost", func(t *testing.T) {
				r := newRepo(t)
				const writers = 8
				const perWriter = 10

				var wg sync.WaitGroup
				for w := range writers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for i := range perWriter {
							code := fmt.Sprintf("w%di%02d", w, i)
							if err := r.Save(ctx, testLink(code, "owner-a", t0)); err != nil {
								t.Errorf("Save(%s) error: %v", code, err)
							}
							if i%2 == 1 {
								if err := r.DeleteByCode(ctx, code); err != nil {
									t.Errorf("DeleteByCode(%s) error: %v", code, err)
								}
							}
						}
					}()
				}
				wg.Wait()

				all, err := r.FindAll(ctx)
				require.NoError(t, err)
				require.Len(t, all, writers*perWriter/2)
			})
		})
	}
}

func TestFileRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing file and parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "links.json")

		r, err := NewFileRepository(path, nil)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.JSONEq(t, "[]", string(data))

		all, err := r.FindAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("round trips through the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "links.json")
		r, err := NewFileRepository(path, nil)
		require.NoError(t, err)

		want := []Link{
			testLink("aaa111", "owner-a", t0),
			testLink("bbb222", "owner-b", t0.Add(1500*time.Millisecond)),
			testLink("ccc333", "owner-a", t0.Add(-time.Hour)),
		}
		for _, l := range want {
			require.NoError(t, r.Save(ctx, l))
		}

		reloaded, err := NewFileRepository(path, nil)
		require.NoError(t, err)

		got, err := reloaded.FindAll(ctx)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, sortByCode); diff != "" {
			t.Errorf("reloaded links mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("writes records newest first", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "links.json")
		r, err := NewFileRepository(path, nil)
		require.NoError(t, err)

		require.NoError(t, r.Save(ctx, testLink("old001", "owner-a", t0)))
		require.NoError(t, r.Save(ctx, testLink("new001", "owner-b", t0.Add(time.Hour))))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var onDisk []Link
		require.NoError(t, json.Unmarshal(data, &onDisk))
		require.Len(t, onDisk, 2)
		require.Equal(t, "new001", onDisk[0].Code)
		require.Equal(t, "old001", onDisk[1].Code)
		require.Contains(t, string(data), `"createdAt": "2025-03-01T13:00:00Z"`)
	})

	t.Run("malformed file fails construction", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "links.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"code": "abc123",`), 0o644))

		_, err := NewFileRepository(path, nil)
		require.Error(t, err)
		require.Equal(t, errx.IO, errx.KindOf(err))
	})

	t.Run("blank file loads as empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "links.json")
		require.NoError(t, os.WriteFile(path, []byte(" \n\t"), 0o644))

		r, err := NewFileRepository(path, nil)
		require.NoError(t, err)

		all, err := r.FindAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("rejects empty path", func(t *testing.T) {
		_, err := NewFileRepository("", nil)
		require.Equal(t, errx.Invalid, errx.KindOf(err))
	})

	t.Run("failed persist leaves memory unchanged", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "links.json")
		r, err := NewFileRepository(path, nil)
		require.NoError(t, err)
		require.NoError(t, r.Save(ctx, testLink("keep01", "owner-a", t0)))

		// a directory in place of the file makes the rename fail
		require.NoError(t, os.Remove(path))
		require.NoError(t, os.Mkdir(path, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(path, "occupied"), nil, 0o644))

		err = r.Save(ctx, testLink("lost01", "owner-a", t0))
		require.Equal(t, errx.IO, errx.KindOf(err))
		_, err = r.FindByCode(ctx, "lost01")
		require.Equal(t, errx.NotFound, errx.KindOf(err))

		err = r.DeleteByCode(ctx, "keep01")
		require.Equal(t, errx.IO, errx.KindOf(err))
		_, err = r.FindByCode(ctx, "keep01")
		require.NoError(t, err)
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		r, err := NewFileRepository(filepath.Join(dir, "links.json"), nil)
		require.NoError(t, err)
		for i := range 5 {
			require.NoError(t, r.Save(ctx, testLink(fmt.Sprintf("code%02d", i), "owner-a", t0)))
		}

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("concurrent readers never see a torn record", func(t *testing.T) {
		r, err := NewFileRepository(filepath.Join(t.TempDir(), "links.json"), nil)
		require.NoError(t, err)
		link := testLink("hot001", "owner-a", t0)
		link.ClicksDone, link.MaxClicks = 0, 0
		require.NoError(t, r.Save(ctx, link))

		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				l := link
				l.ClicksDone, l.MaxClicks = i, i
				if err := r.Save(ctx, l); err != nil {
					t.Errorf("Save() error: %v", err)
				}
			}
			close(done)
		}()

		for {
			select {
			case <-done:
				wg.Wait()
				got, err := r.FindByCode(ctx, "hot001")
				require.NoError(t, err)
				require.Equal(t, 50, got.ClicksDone)
				require.Equal(t, 50, got.MaxClicks)
				return
			default:
			}
			got, err := r.FindByCode(ctx, "hot001")
			require.NoError(t, err)
			require.Equal(t, got.ClicksDone, got.MaxClicks, "torn read")
		}
	})
}

func TestSQLiteRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db", "links.db")
		r, err := NewSQLiteRepository(ctx, path, nil)
		require.NoError(t, err)

		want := testLink("abc123", "owner-a", t0.Add(123456789*time.Nanosecond))
		require.NoError(t, r.Save(ctx, want))
		require.NoError(t, r.Close())

		reopened, err := NewSQLiteRepository(ctx, path, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = reopened.Close() })

		got, err := reopened.FindByCode(ctx, "abc123")
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("reopened link mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects empty path", func(t *testing.T) {
		_, err := NewSQLiteRepository(ctx, "", nil)
		require.Equal(t, errx.Invalid, errx.KindOf(err))
	})
}
