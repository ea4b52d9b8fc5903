package audit

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres spins up a throwaway postgres container. Gated behind
// CHRONICLE_INTEGRATION_TESTS so the unit suite stays docker-free.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("CHRONICLE_INTEGRATION_TESTS") == "" {
		t.Skip("set CHRONICLE_INTEGRATION_TESTS=1 to run container-backed tests")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("chronicle_test"),
		tcpostgres.WithUsername("chronicle"),
		tcpostgres.WithPassword("chronicle"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestPostgresStore_Integration(t *testing.T) {
	db := startPostgres(t)
	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	alice := int64(7)

	seedRecords(t, store,
		&AuditRecord{ContentType: "article", RecordID: "a-1", Action: ActionCreate, Timestamp: at(1), UserID: &alice, UserAgent: "curl/8.0",
			Payload: map[string]interface{}{"title": "hello"}, ChangedFields: []string{"title"}},
		&AuditRecord{ContentType: "article", RecordID: "a-1", Action: ActionUpdate, Timestamp: at(2), UserAgent: "Mozilla/5.0"},
		&AuditRecord{ContentType: "page", RecordID: "p-1", Action: ActionDelete, Timestamp: at(3)},
	)

	t.Run("get round-trips json columns", func(t *testing.T) {
		rec, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"title": "hello"}, rec.Payload)
		assert.Equal(t, []string{"title"}, rec.ChangedFields)
	})

	t.Run("filters and pagination", func(t *testing.T) {
		records, err := store.Query(ctx, FilterSpec{ContentType: "article", Page: 1, PageSize: 10, SortDir: SortAsc})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, ActionCreate, records[0].Action)

		records, err = store.Query(ctx, FilterSpec{UserAgent: "curl", Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Len(t, records, 1)

		total, err := store.Count(ctx, FilterSpec{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := store.Stats(ctx, FilterSpec{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Total)
		assert.Equal(t, int64(2), stats.ByContentType["article"])
	})

	t.Run("retention", func(t *testing.T) {
		expired, err := store.ExpiredBatch(ctx, at(3), 10)
		require.NoError(t, err)
		require.Len(t, expired, 2)

		deleted, err := store.DeleteByIDs(ctx, []int64{expired[0].ID, expired[1].ID})
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		total, err := store.Count(ctx, FilterSpec{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})
}
