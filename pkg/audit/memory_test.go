package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRecords(t *testing.T, store Store, records ...*AuditRecord) {
	t.Helper()
	for _, rec := range records {
		require.NoError(t, store.Insert(context.Background(), rec))
	}
}

func at(day int) time.Time {
	return time.Date(2026, 1, day, 12, 0, 0, 0, time.UTC)
}

func TestMemoryStore_InsertAndGet(t *testing.T) {
	store := NewMemoryStore()
	userID := int64(7)

	rec := &AuditRecord{
		ContentType: "article",
		RecordID:    "a-1",
		Action:      ActionCreate,
		Timestamp:   at(1),
		UserID:      &userID,
		Username:    "alice",
		Payload:     map[string]interface{}{"title": "hello"},
	}
	require.NoError(t, store.Insert(context.Background(), rec))
	assert.Equal(t, int64(1), rec.ID)

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "article", got.ContentType)
	assert.Equal(t, "alice", got.Username)

	_, err = store.Get(context.Background(), 999)
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	store := NewMemoryStore()
	alice, bob := int64(1), int64(2)
	seedRecords(t, store,
		&AuditRecord{ContentType: "article", RecordID: "a-1", Action: ActionCreate, Timestamp: at(1), UserID: &alice, UserAgent: "Mozilla/5.0"},
		&AuditRecord{ContentType: "article", RecordID: "a-1", Action: ActionUpdate, Timestamp: at(2), UserID: &bob, UserAgent: "curl/8.0"},
		&AuditRecord{ContentType: "page", RecordID: "p-1", Action: ActionDelete, Timestamp: at(3), UserID: &alice, IPAddress: "10.0.0.9"},
	)

	t.Run("by content type", func(t *testing.T) {
		records, err := store.Query(context.Background(), FilterSpec{ContentType: "article", Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("by record identity", func(t *testing.T) {
		records, err := store.Query(context.Background(), FilterSpec{ContentType: "article", RecordID: "a-1", Action: ActionUpdate, Page: 1, PageSize: 10})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, ActionUpdate, records[0].Action)
	})

	t.Run("by user", func(t *testing.T) {
		count, err := store.Count(context.Background(), FilterSpec{UserID: &alice})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("user agent is a contains match", func(t *testing.T) {
		records, err := store.Query(context.Background(), FilterSpec{UserAgent: "curl", Page: 1, PageSize: 10})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "curl/8.0", records[0].UserAgent)
	})

	t.Run("ip address is an exact match", func(t *testing.T) {
		records, err := store.Query(context.Background(), FilterSpec{IPAddress: "10.0.0", Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("date range is inclusive", func(t *testing.T) {
		start, end := at(2), at(3)
		records, err := store.Query(context.Background(), FilterSpec{StartDate: &start, EndDate: &end, Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestMemoryStore_Ordering(t *testing.T) {
	store := NewMemoryStore()
	// Two records share a timestamp to exercise the id tie-break.
	seedRecords(t, store,
		&AuditRecord{ContentType: "article", Action: ActionCreate, Timestamp: at(2)},
		&AuditRecord{ContentType: "article", Action: ActionUpdate, Timestamp: at(2)},
		&AuditRecord{ContentType: "article", Action: ActionDelete, Timestamp: at(1)},
	)

	t.Run("descending with id tie-break ascending", func(t *testing.T) {
		records, err := store.Query(context.Background(), FilterSpec{
			Page: 1, PageSize: 10, SortField: SortTimestamp, SortDir: SortDesc,
		})
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []int64{1, 2, 3}, []int64{records[0].ID, records[1].ID, records[2].ID})
	})

	t.Run("ascending", func(t *testing.T) {
		records, err := store.Query(context.Background(), FilterSpec{
			Page: 1, PageSize: 10, SortField: SortTimestamp, SortDir: SortAsc,
		})
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, int64(3), records[0].ID)
		assert.Equal(t, int64(1), records[1].ID)
		assert.Equal(t, int64(2), records[2].ID)
	})
}

func TestMemoryStore_PaginationPartition(t *testing.T) {
	store := NewMemoryStore()
	for day := 1; day <= 7; day++ {
		seedRecords(t, store, &AuditRecord{ContentType: "article", Action: ActionCreate, Timestamp: at(day)})
	}

	// Walking all pages must yield every record exactly once.
	seen := map[int64]int{}
	for page := 1; page <= 3; page++ {
		records, err := store.Query(context.Background(), FilterSpec{
			Page: page, PageSize: 3, SortField: SortTimestamp, SortDir: SortDesc,
		})
		require.NoError(t, err)
		for _, rec := range records {
			seen[rec.ID]++
		}
	}
	assert.Len(t, seen, 7)
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %d appeared %d times", id, n)
	}

	t.Run("page past the end is empty", func(t *testing.T) {
		records, err := store.Query(context.Background(), FilterSpec{Page: 50, PageSize: 3})
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestMemoryStore_Stats(t *testing.T) {
	store := NewMemoryStore()
	seedRecords(t, store,
		&AuditRecord{ContentType: "article", Action: ActionCreate, Timestamp: at(1)},
		&AuditRecord{ContentType: "article", Action: ActionUpdate, Timestamp: at(2)},
		&AuditRecord{ContentType: "page", Action: ActionCreate, Timestamp: at(3)},
	)

	stats, err := store.Stats(context.Background(), FilterSpec{})
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.ByAction[ActionCreate])
	assert.Equal(t, int64(1), stats.ByAction[ActionUpdate])
	assert.Equal(t, int64(2), stats.ByContentType["article"])
	require.NotNil(t, stats.OldestTimestamp)
	assert.Equal(t, at(1), *stats.OldestTimestamp)
	require.NotNil(t, stats.NewestTimestamp)
	assert.Equal(t, at(3), *stats.NewestTimestamp)
}

func TestMemoryStore_ExpiredBatchAndDelete(t *testing.T) {
	store := NewMemoryStore()
	for day := 1; day <= 5; day++ {
		seedRecords(t, store, &AuditRecord{ContentType: "article", Action: ActionCreate, Timestamp: at(day)})
	}

	cutoff := at(4)
	batch, err := store.ExpiredBatch(context.Background(), cutoff, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].ID)
	assert.Equal(t, int64(2), batch[1].ID)

	deleted, err := store.DeleteByIDs(context.Background(), []int64{batch[0].ID, batch[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := store.Count(context.Background(), FilterSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	deleted, err = store.DeleteByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
