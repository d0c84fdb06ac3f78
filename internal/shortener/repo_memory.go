package shortener

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/sundayezeilo/urlshortener/internal/errx"
)

// MemoryRepository is a Repository without persistence. State is lost when
// the process exits.
type MemoryRepository struct {
	mu    sync.RWMutex
	links map[string]Link
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{links: make(map[string]Link)}
}

func (r *MemoryRepository) Save(ctx context.Context, link Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[link.Code] = link
	return nil
}

func (r *MemoryRepository) FindByCode(ctx context.Context, code string) (Link, error) {
	const op = "shortener.repo.FindByCode"

	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[code]
	if !ok {
		return Link{}, errx.E(op, errx.NotFound, fmt.Errorf("link %q not found", code))
	}
	return link, nil
}

func (r *MemoryRepository) FindByOwner(ctx context.Context, ownerID string) ([]Link, error) {
	r.mu.RLock()
	links := lo.Filter(lo.Values(r.links), func(l Link, _ int) bool {
		return l.OwnerID == ownerID
	})
	r.mu.RUnlock()

	slices.SortFunc(links, sortNewestFirst)
	return links, nil
}

func (r *MemoryRepository) DeleteByCode(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, code)
	return nil
}

func (r *MemoryRepository) FindAll(ctx context.Context) ([]Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.links), nil
}
