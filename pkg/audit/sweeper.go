package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// DefaultSweepBatchSize bounds how many records one sweep iteration
// loads, archives and deletes. Small batches keep row locks short so
// sweeps never stall concurrent captures or queries.
const DefaultSweepBatchSize = 1000

// Archiver receives each expired batch before it is deleted. A nil
// archiver means delete without archiving.
type Archiver interface {
	Archive(ctx context.Context, records []*AuditRecord) error
}

// SweeperOptions carries the optional collaborators of a Sweeper.
type SweeperOptions struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Archiver  Archiver
	BatchSize int
}

// Sweeper removes records older than a retention cutoff in bounded
// batches. It is the only component allowed to delete audit records.
type Sweeper struct {
	store     Store
	logger    *observability.Logger
	metrics   *observability.Metrics
	archiver  Archiver
	batchSize int
}

// NewSweeper builds a retention sweeper over store.
func NewSweeper(store Store, opts SweeperOptions) *Sweeper {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultSweepBatchSize
	}
	return &Sweeper{
		store:     store,
		logger:    logger,
		metrics:   opts.Metrics,
		archiver:  opts.Archiver,
		batchSize: batch,
	}
}

// Sweep deletes every record older than retention, batch by batch, and
// returns how many records were removed. The cutoff is fixed at entry
// so records captured during a long sweep are never eligible. When an
// archiver is configured, a batch is deleted only after its archive
// write succeeded; an archive failure aborts the sweep with the batch
// still intact.
func (s *Sweeper) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	cutoff := time.Now().UTC().Add(-retention)
	return s.SweepBefore(ctx, cutoff)
}

// SweepBefore deletes every record with a timestamp strictly before
// cutoff.
func (s *Sweeper) SweepBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	var deleted int64

	for {
		if err := ctx.Err(); err != nil {
			s.observe("cancelled")
			return deleted, err
		}

		batch, err := s.store.ExpiredBatch(ctx, cutoff, s.batchSize)
		if err != nil {
			s.observe("error")
			return deleted, fmt.Errorf("load expired batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, batch); err != nil {
				s.observe("error")
				return deleted, fmt.Errorf("archive batch: %w", err)
			}
			if s.metrics != nil {
				s.metrics.ArchivedBatchTotal.Inc()
			}
		}

		ids := make([]int64, len(batch))
		for i, rec := range batch {
			ids[i] = rec.ID
		}
		n, err := s.store.DeleteByIDs(ctx, ids)
		if err != nil {
			s.observe("error")
			return deleted, fmt.Errorf("delete batch: %w", err)
		}
		deleted += n
		if s.metrics != nil {
			s.metrics.SweptRecordsTotal.Add(float64(n))
		}

		// A short batch means the table is drained up to the cutoff.
		if len(batch) < s.batchSize {
			break
		}
	}

	s.observe("ok")
	s.logger.WithFields(map[string]interface{}{
		"deleted":  deleted,
		"cutoff":   cutoff.Format(time.RFC3339),
		"duration": time.Since(start).String(),
	}).Info("retention sweep complete")
	return deleted, nil
}

func (s *Sweeper) observe(status string) {
	if s.metrics != nil {
		s.metrics.SweepsTotal.WithLabelValues(status).Inc()
	}
}
