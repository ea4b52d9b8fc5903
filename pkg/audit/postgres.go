package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("chronicle-audit-store")

// PostgresStore persists audit records in a PostgreSQL audit_log table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection and ensures the audit_log
// table and its indexes exist.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}
	return s, nil
}

// ensureSchema creates the table and the composite indexes backing the
// filter allow-list plus the timestamp index for retention range scans.
func (s *PostgresStore) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		content_type VARCHAR(255) NOT NULL,
		record_id VARCHAR(255) NOT NULL DEFAULT '',
		action VARCHAR(10) NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		user_id BIGINT,
		username VARCHAR(255) NOT NULL DEFAULT '',
		changed_fields JSONB,
		payload JSONB,
		previous JSONB,
		request_id VARCHAR(255) NOT NULL DEFAULT '',
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		metadata JSONB
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

const auditColumns = `id, content_type, record_id, action, timestamp, user_id, username,
		changed_fields, payload, previous, request_id, ip_address, user_agent, metadata`

// Insert persists one record and assigns its store-generated ID.
func (s *PostgresStore) Insert(ctx context.Context, rec *AuditRecord) error {
	ctx, span := tracer.Start(ctx, "audit.insert", trace.WithAttributes(
		attribute.String("audit.content_type", rec.ContentType),
		attribute.String("audit.action", string(rec.Action)),
	))
	defer span.End()

	changedJSON, payloadJSON, previousJSON, metadataJSON, err := marshalRecordJSON(rec)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &StoreError{Op: "insert", Err: err}
	}

	query := `
		INSERT INTO audit_log (
			content_type, record_id, action, timestamp, user_id, username,
			changed_fields, payload, previous, request_id, ip_address, user_agent, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13
		) RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		rec.ContentType, rec.RecordID, string(rec.Action), rec.Timestamp, rec.UserID, rec.Username,
		changedJSON, payloadJSON, previousJSON, rec.RequestID, rec.IPAddress, rec.UserAgent, metadataJSON,
	).Scan(&rec.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &StoreError{Op: "insert", Err: err}
	}
	return nil
}

// Get returns the record with the given id.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "audit.get")
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM audit_log WHERE id = $1", auditColumns), id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &StoreError{Op: "get", Err: err}
	}
	return rec, nil
}

// Query returns one page of matching records in stable sort order.
func (s *PostgresStore) Query(ctx context.Context, spec FilterSpec) ([]*AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "audit.query")
	defer span.End()

	b := compileFilter(dialectPostgres, spec)
	query := fmt.Sprintf("SELECT %s FROM audit_log%s%s", auditColumns, b.clause(), orderClause(spec))

	args := b.args
	if spec.PageSize > 0 {
		args = append(args, spec.PageSize)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset := spec.Offset(); offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &StoreError{Op: "query", Err: err}
	}
	return records, nil
}

// Count returns the total number of matching records.
func (s *PostgresStore) Count(ctx context.Context, spec FilterSpec) (int64, error) {
	ctx, span := tracer.Start(ctx, "audit.count")
	defer span.End()

	b := compileFilter(dialectPostgres, spec)
	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_log"+b.clause(), b.args...).Scan(&total)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, &StoreError{Op: "count", Err: err}
	}
	return total, nil
}

// Stats aggregates the filtered set: counts by action and content type,
// the total, and the oldest/newest timestamps.
func (s *PostgresStore) Stats(ctx context.Context, spec FilterSpec) (*Stats, error) {
	ctx, span := tracer.Start(ctx, "audit.stats")
	defer span.End()

	b := compileFilter(dialectPostgres, spec)
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
		span.SetStatus(codes.Error, err.Error())
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
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.groupCount(ctx, "content_type", where, b.args, func(key string, count int64) {
		stats.ByContentType[key] = count
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return stats, nil
}

func (s *PostgresStore) groupCount(ctx context.Context, column, where string, args []interface{}, collect func(string, int64)) error {
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

// ExpiredBatch returns up to limit records older than cutoff, oldest
// ids first, for the retention sweeper.
func (s *PostgresStore) ExpiredBatch(ctx context.Context, cutoff time.Time, limit int) ([]*AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "audit.expired_batch")
	defer span.End()

	query := fmt.Sprintf(
		"SELECT %s FROM audit_log WHERE timestamp < $1 ORDER BY id ASC LIMIT $2", auditColumns)
	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &StoreError{Op: "expired_batch", Err: err}
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &StoreError{Op: "expired_batch", Err: err}
	}
	return records, nil
}

// DeleteByIDs removes the given records.
func (s *PostgresStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "audit.delete", trace.WithAttributes(
		attribute.Int("audit.batch_size", len(ids)),
	))
	defer span.End()

	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_log WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, &StoreError{Op: "delete", Err: err}
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &StoreError{Op: "delete", Err: err}
	}
	return deleted, nil
}

// Close is a no-op; the *sql.DB is owned by the caller and may be
// shared with other components.
func (s *PostgresStore) Close() error {
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*AuditRecord, error) {
	rec := &AuditRecord{}
	var action string
	var changedJSON, payloadJSON, previousJSON, metadataJSON []byte

	err := row.Scan(
		&rec.ID, &rec.ContentType, &rec.RecordID, &action, &rec.Timestamp, &rec.UserID, &rec.Username,
		&changedJSON, &payloadJSON, &previousJSON, &rec.RequestID, &rec.IPAddress, &rec.UserAgent, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}
	rec.Action = Action(action)

	if err := unmarshalInto(changedJSON, &rec.ChangedFields); err != nil {
		return nil, err
	}
	if err := unmarshalInto(payloadJSON, &rec.Payload); err != nil {
		return nil, err
	}
	if err := unmarshalInto(previousJSON, &rec.Previous); err != nil {
		return nil, err
	}
	if err := unmarshalInto(metadataJSON, &rec.Metadata); err != nil {
		return nil, err
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]*AuditRecord, error) {
	records := make([]*AuditRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func marshalRecordJSON(rec *AuditRecord) (changed, payload, previous, metadata []byte, err error) {
	if changed, err = marshalOptional(rec.ChangedFields); err != nil {
		return
	}
	if payload, err = marshalOptional(rec.Payload); err != nil {
		return
	}
	if previous, err = marshalOptional(rec.Previous); err != nil {
		return
	}
	metadata, err = marshalOptional(rec.Metadata)
	return
}

func marshalOptional(v interface{}) ([]byte, error) {
	switch value := v.(type) {
	case []string:
		if value == nil {
			return nil, nil
		}
	case map[string]interface{}:
		if value == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalInto(data []byte, dest interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
