package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// SQLiteStore persists audit records in an embedded SQLite database.
// It exists for single-node deployments and local development; the
// query semantics are identical to PostgresStore because both go
// through the same predicate compiler.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and ensures
// the schema. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent captures.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_type TEXT NOT NULL,
		record_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		user_id INTEGER,
		username TEXT NOT NULL DEFAULT '',
		changed_fields TEXT,
		payload TEXT,
		previous TEXT,
		request_id TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_content_type_ts ON audit_log(content_type, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_log_record_id_ts ON audit_log(record_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_log_user_id_ts ON audit_log(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action_ts ON audit_log(action, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_log_request_id ON audit_log(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *AuditRecord) error {
	changedJSON, payloadJSON, previousJSON, metadataJSON, err := marshalRecordJSON(rec)
	if err != nil {
		return &StoreError{Op: "insert", Err: err}
	}

	query := `
		INSERT INTO audit_log (
			content_type, record_id, action, timestamp, user_id, username,
			changed_fields, payload, previous, request_id, ip_address, user_agent, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		rec.ContentType, rec.RecordID, string(rec.Action), rec.Timestamp, rec.UserID, rec.Username,
		changedJSON, payloadJSON, previousJSON, rec.RequestID, rec.IPAddress, rec.UserAgent, metadataJSON,
	)
	if err != nil {
		return &StoreError{Op: "insert", Err: err}
	}
	rec.ID, err = result.LastInsertId()
	if err != nil {
		return &StoreError{Op: "insert", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*AuditRecord, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM audit_log WHERE id = ?", auditColumns), id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	return rec, nil
}

func (s *SQLiteStore) Query(ctx context.Context, spec FilterSpec) ([]*AuditRecord, error) {
	b := compileFilter(dialectSQLite, spec)
	query := fmt.Sprintf("SELECT %s FROM audit_log%s%s", auditColumns, b.clause(), orderClause(spec))

	args := b.args
	if spec.PageSize > 0 {
		query += " LIMIT ?"
		args = append(args, spec.PageSize)
		if offset := spec.Offset(); offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}
	return records, nil
}

func (s *SQLiteStore) Count(ctx context.Context, spec FilterSpec) (int64, error) {
	b := compileFilter(dialectSQLite, spec)
	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_log"+b.clause(), b.args...).Scan(&total)
	if err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return total, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, spec FilterSpec) (*Stats, error) {
	b := compileFilter(dialectSQLite, spec)
	where := b.clause()
	stats := &Stats{
		ByAction:      make(map[Action]int64),
		ByContentType: make(map[string]int64),
	}

	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM audit_log"+where, b.args...,
	).Scan(&stats.Total, &oldest, &newest)
	if err != nil {
		return nil, &StoreError{Op: "stats", Err: err}
	}
	if oldest.Valid {
		stats.OldestTimestamp = &oldest.Time
	}
	if newest.Valid {
		stats.NewestTimestamp = &newest.Time
	}

	if err := s.groupCount(ctx, "action", where, b.args, func(key string, count int64) {
		stats.ByAction[Action(key)] = count
	}); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "content_type", where, b.args, func(key string, count int64) {
		stats.ByContentType[key] = count
	}); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *SQLiteStore) groupCount(ctx context.Context, column, where string, args []interface{}, collect func(string, int64)) error {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_log%s GROUP BY %s", column, where, column)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return &StoreError{Op: "stats", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return &StoreError{Op: "stats", Err: err}
		}
		collect(key, count)
	}
	if err := rows.Err(); err != nil {
		return &StoreError{Op: "stats", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ExpiredBatch(ctx context.Context, cutoff time.Time, limit int) ([]*AuditRecord, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM audit_log WHERE timestamp < ? ORDER BY id ASC LIMIT ?", auditColumns)
	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, &StoreError{Op: "expired_batch", Err: err}
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, &StoreError{Op: "expired_batch", Err: err}
	}
	return records, nil
}

func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM audit_log WHERE id IN (%s)", strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return 0, &StoreError{Op: "delete", Err: err}
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &StoreError{Op: "delete", Err: err}
	}
	return deleted, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
