package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and embedded callers.
// It mirrors the SQL stores' filter and ordering semantics exactly.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*AuditRecord
	nextID  int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Insert(_ context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	clone.ID = s.nextID
	s.nextID++
	s.records = append(s.records, &clone)
	rec.ID = clone.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ID == id {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, &NotFoundError{ID: id}
}

func (s *MemoryStore) Query(_ context.Context, spec FilterSpec) ([]*AuditRecord, error) {
	s.mu.RLock()
	matched := s.matching(spec)
	s.mu.RUnlock()

	sortRecords(matched, spec)

	offset := spec.Offset()
	if offset >= len(matched) {
		return []*AuditRecord{}, nil
	}
	matched = matched[offset:]
	if spec.PageSize > 0 && len(matched) > spec.PageSize {
		matched = matched[:spec.PageSize]
	}

	out := make([]*AuditRecord, len(matched))
	for i, rec := range matched {
		clone := *rec
		out[i] = &clone
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, spec FilterSpec) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matching(spec))), nil
}

func (s *MemoryStore) Stats(_ context.Context, spec FilterSpec) (*Stats, error) {
	s.mu.RLock()
	matched := s.matching(spec)
	s.mu.RUnlock()

	stats := &Stats{
		Total:         int64(len(matched)),
		ByAction:      make(map[Action]int64),
		ByContentType: make(map[string]int64),
	}
	for _, rec := range matched {
		stats.ByAction[rec.Action]++
		stats.ByContentType[rec.ContentType]++
		ts := rec.Timestamp
		if stats.OldestTimestamp == nil || ts.Before(*stats.OldestTimestamp) {
			stats.OldestTimestamp = &ts
		}
		if stats.NewestTimestamp == nil || ts.After(*stats.NewestTimestamp) {
			stats.NewestTimestamp = &ts
		}
	}
	return stats, nil
}

func (s *MemoryStore) ExpiredBatch(_ context.Context, cutoff time.Time, limit int) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expired := make([]*AuditRecord, 0)
	for _, rec := range s.records {
		if rec.Timestamp.Before(cutoff) {
			clone := *rec
			expired = append(expired, &clone)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *MemoryStore) DeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := s.records[:0]
	var deleted int64
	for _, rec := range s.records {
		if _, gone := drop[rec.ID]; gone {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return deleted, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// matching must be called with the lock held.
func (s *MemoryStore) matching(spec FilterSpec) []*AuditRecord {
	matched := make([]*AuditRecord, 0)
	for _, rec := range s.records {
		if recordMatches(rec, spec) {
			matched = append(matched, rec)
		}
	}
	return matched
}

func recordMatches(rec *AuditRecord, spec FilterSpec) bool {
	if spec.ContentType != "" && rec.ContentType != spec.ContentType {
		return false
	}
	if spec.UserID != nil && (rec.UserID == nil || *rec.UserID != *spec.UserID) {
		return false
	}
	if spec.Action != "" && rec.Action != spec.Action {
		return false
	}
	if spec.RecordID != "" && rec.RecordID != spec.RecordID {
		return false
	}
	if spec.RequestID != "" && rec.RequestID != spec.RequestID {
		return false
	}
	if spec.IPAddress != "" && rec.IPAddress != spec.IPAddress {
		return false
	}
	if spec.UserAgent != "" && !strings.Contains(rec.UserAgent, spec.UserAgent) {
		return false
	}
	if spec.StartDate != nil && rec.Timestamp.Before(*spec.StartDate) {
		return false
	}
	if spec.EndDate != nil && rec.Timestamp.After(*spec.EndDate) {
		return false
	}
	return true
}

func sortRecords(records []*AuditRecord, spec FilterSpec) {
	desc := spec.SortDir != SortAsc
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		var less, equal bool
		switch spec.SortField {
		case SortContentType:
			less, equal = a.ContentType < b.ContentType, a.ContentType == b.ContentType
		case SortAction:
			less, equal = a.Action < b.Action, a.Action == b.Action
		case SortUser:
			ai, bi := userSortKey(a), userSortKey(b)
			less, equal = ai < bi, ai == bi
		default:
			less, equal = a.Timestamp.Before(b.Timestamp), a.Timestamp.Equal(b.Timestamp)
		}
		if equal {
			// Tie-break on id ascending regardless of direction, matching
			// the SQL stores' ORDER BY ... , id ASC.
			return a.ID < b.ID
		}
		if desc {
			return !less
		}
		return less
	})
}

func userSortKey(rec *AuditRecord) int64 {
	if rec.UserID == nil {
		return -1
	}
	return *rec.UserID
}
