package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	userID := int64(7)

	rec := &AuditRecord{
		ContentType:   "article",
		RecordID:      "a-1",
		Action:        ActionUpdate,
		Timestamp:     at(1),
		UserID:        &userID,
		Username:      "alice",
		ChangedFields: []string{"title"},
		Payload:       map[string]interface{}{"title": "new"},
		Previous:      map[string]interface{}{"title": "old"},
		RequestID:     "req-1",
		IPAddress:     "10.0.0.1",
		UserAgent:     "curl/8.0",
		Metadata:      map[string]interface{}{"success": true},
	}
	require.NoError(t, store.Insert(context.Background(), rec))
	assert.Equal(t, int64(1), rec.ID)

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "article", got.ContentType)
	assert.Equal(t, ActionUpdate, got.Action)
	assert.True(t, got.Timestamp.Equal(at(1)))
	require.NotNil(t, got.UserID)
	assert.Equal(t, int64(7), *got.UserID)
	assert.Equal(t, []string{"title"}, got.ChangedFields)
	assert.Equal(t, map[string]interface{}{"title": "new"}, got.Payload)
	assert.Equal(t, map[string]interface{}{"title": "old"}, got.Previous)
	assert.Equal(t, map[string]interface{}{"success": true}, got.Metadata)

	t.Run("optional fields stay nil", func(t *testing.T) {
		bare := &AuditRecord{ContentType: "page", Action: ActionDelete, Timestamp: at(2)}
		require.NoError(t, store.Insert(context.Background(), bare))

		got, err := store.Get(context.Background(), bare.ID)
		require.NoError(t, err)
		assert.Nil(t, got.UserID)
		assert.Nil(t, got.ChangedFields)
		assert.Nil(t, got.Payload)
		assert.Nil(t, got.Previous)
		assert.Nil(t, got.Metadata)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := store.Get(context.Background(), 999)
		assert.True(t, IsNotFound(err))
	})
}

func TestSQLiteStore_QueryFilters(t *testing.T) {
	store := newSQLiteStore(t)
	alice := int64(1)
	seedRecords(t, store,
		&AuditRecord{ContentType: "article", RecordID: "a-1", Action: ActionCreate, Timestamp: at(1), UserID: &alice, UserAgent: "curl/8.0"},
		&AuditRecord{ContentType: "article", RecordID: "a-1", Action: ActionUpdate, Timestamp: at(2), UserAgent: "Mozilla/5.0"},
		&AuditRecord{ContentType: "page", RecordID: "p-1", Action: ActionDelete, Timestamp: at(3), UserAgent: "curl/7.9"},
	)

	base := FilterSpec{Page: 1, PageSize: 10}

	t.Run("content type", func(t *testing.T) {
		spec := base
		spec.ContentType = "article"
		records, err := store.Query(context.Background(), spec)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("user", func(t *testing.T) {
		spec := base
		spec.UserID = &alice
		records, err := store.Query(context.Background(), spec)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "a-1", records[0].RecordID)
	})

	t.Run("user agent substring", func(t *testing.T) {
		spec := base
		spec.UserAgent = "curl"
		records, err := store.Query(context.Background(), spec)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("like metacharacters do not wildcard", func(t *testing.T) {
		spec := base
		spec.UserAgent = "curl%"
		records, err := store.Query(context.Background(), spec)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("date range", func(t *testing.T) {
		start, end := at(2), at(3)
		spec := base
		spec.StartDate = &start
		spec.EndDate = &end
		records, err := store.Query(context.Background(), spec)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestSQLiteStore_OrderingAndPagination(t *testing.T) {
	store := newSQLiteStore(t)
	// Shared timestamp forces the id tie-break.
	for i := 0; i < 5; i++ {
		seedRecords(t, store, &AuditRecord{ContentType: "article", Action: ActionCreate, Timestamp: at(1)})
	}

	page1, err := store.Query(context.Background(), FilterSpec{Page: 1, PageSize: 2, SortDir: SortDesc})
	require.NoError(t, err)
	page2, err := store.Query(context.Background(), FilterSpec{Page: 2, PageSize: 2, SortDir: SortDesc})
	require.NoError(t, err)
	page3, err := store.Query(context.Background(), FilterSpec{Page: 3, PageSize: 2, SortDir: SortDesc})
	require.NoError(t, err)

	var ids []int64
	for _, rec := range append(append(page1, page2...), page3...) {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
}

func TestSQLiteStore_CountAndStats(t *testing.T) {
	store := newSQLiteStore(t)
	seedRecords(t, store,
		&AuditRecord{ContentType: "article", Action: ActionCreate, Timestamp: at(1)},
		&AuditRecord{ContentType: "article", Action: ActionUpdate, Timestamp: at(2)},
		&AuditRecord{ContentType: "page", Action: ActionDelete, Timestamp: at(3)},
	)

	total, err := store.Count(context.Background(), FilterSpec{ContentType: "article"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	stats, err := store.Stats(context.Background(), FilterSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.ByAction[ActionCreate])
	assert.Equal(t, int64(2), stats.ByContentType["article"])
	require.NotNil(t, stats.OldestTimestamp)
	assert.True(t, stats.OldestTimestamp.Equal(at(1)))
	require.NotNil(t, stats.NewestTimestamp)
	assert.True(t, stats.NewestTimestamp.Equal(at(3)))
}

func TestSQLiteStore_Retention(t *testing.T) {
	store := newSQLiteStore(t)
	for day := 1; day <= 4; day++ {
		seedRecords(t, store, &AuditRecord{ContentType: "article", Action: ActionCreate, Timestamp: at(day)})
	}

	expired, err := store.ExpiredBatch(context.Background(), at(3), 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, int64(1), expired[0].ID)
	assert.Equal(t, int64(2), expired[1].ID)

	deleted, err := store.DeleteByIDs(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := store.Count(context.Background(), FilterSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)

	t.Run("empty ids", func(t *testing.T) {
		deleted, err := store.DeleteByIDs(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}
