package shortener

import "context"

// Repository is the link store. It is the only owner of link records: callers
// get copies and every mutation is a read-modify-write through Save.
//
// Implementations must be safe for concurrent use. Save and DeleteByCode are
// linearizable with respect to each other.
type Repository interface {
	// Save upserts by code and persists before returning.
	Save(ctx context.Context, link Link) error
	// FindByCode returns an errx.NotFound error when the code is absent.
	// No expiry filtering is applied.
	FindByCode(ctx context.Context, code string) (Link, error)
	// FindByOwner returns the owner's links newest first, ties broken by code.
	FindByOwner(ctx context.Context, ownerID string) ([]Link, error)
	// DeleteByCode removes the record if present; deleting an absent code is
	// not an error.
	DeleteByCode(ctx context.Context, code string) error
	// FindAll returns a snapshot of every record.
	FindAll(ctx context.Context) ([]Link, error)
}
