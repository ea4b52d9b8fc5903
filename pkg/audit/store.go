package audit

import (
	"context"
	"time"
)

// Store is the persistence collaborator for audit records. Writers (the
// capture pipeline and the sweeper) and readers (the query engine) share
// it concurrently; the store provides no coordination beyond what its
// backing database gives, which is assumed to be at least read-committed.
type Store interface {
	// Insert persists one record and assigns its ID.
	Insert(ctx context.Context, rec *AuditRecord) error

	// Get returns the record with the given id, or NotFoundError.
	Get(ctx context.Context, id int64) (*AuditRecord, error)

	// Query returns one page of records matching every present
	// predicate in spec, ordered by the spec's sort key with an id
	// ascending tie-break so pagination is deterministic.
	Query(ctx context.Context, spec FilterSpec) ([]*AuditRecord, error)

	// Count returns the number of records matching spec, ignoring
	// pagination.
	Count(ctx context.Context, spec FilterSpec) (int64, error)

	// Stats aggregates the records matching spec.
	Stats(ctx context.Context, spec FilterSpec) (*Stats, error)

	// ExpiredBatch returns up to limit records with timestamp strictly
	// before cutoff, oldest ids first. Used by the retention sweeper.
	ExpiredBatch(ctx context.Context, cutoff time.Time, limit int) ([]*AuditRecord, error)

	// DeleteByIDs removes the given records and reports how many rows
	// were deleted. Missing ids are not an error.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)

	Close() error
}
