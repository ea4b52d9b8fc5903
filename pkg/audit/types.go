package audit

import (
	"encoding/json"
	"time"
)

// Action is the kind of content mutation a record describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// AuditRecord is one immutable fact about one content mutation.
// Records are created by the capture pipeline, read by the query engine,
// and removed only by the retention sweeper. Corrections are new records,
// never updates.
type AuditRecord struct {
	ID          int64  `json:"id"`
	ContentType string `json:"content_type"`
	RecordID    string `json:"record_id,omitempty"`
	Action      Action `json:"action"`

	// Timestamp is assigned once by the capture pipeline, never
	// client-supplied.
	Timestamp time.Time `json:"timestamp"`

	// Actor information; nil/empty for system or anonymous operations.
	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// ChangedFields lists the top-level keys that differed between
	// Previous and Payload. Excluded fields never appear here.
	ChangedFields []string `json:"changed_fields,omitempty"`

	// Payload is the post-mutation state, Previous the pre-mutation
	// state. Both are scrubbed of excluded fields before persistence.
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Previous map[string]interface{} `json:"previous,omitempty"`

	// Request provenance, best effort.
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Metadata carries HTTP method, path, status code, latency and the
	// success flag for failed-mutation records.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON serializes the record.
func (r *AuditRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// SortField is a sortable column, restricted to the indexed set.
type SortField string

const (
	SortTimestamp   SortField = "timestamp"
	SortContentType SortField = "contentType"
	SortAction      SortField = "action"
	SortUser        SortField = "user"
)

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// FilterSpec is a validated, bounded description of one query. It is
// produced by ParseFilter (or by the shorthand query helpers) and is the
// only form of query input the store accepts; no string parsing happens
// downstream of it.
type FilterSpec struct {
	ContentType string
	UserID      *int64
	Action      Action
	RecordID    string
	RequestID   string
	IPAddress   string
	UserAgent   string

	StartDate *time.Time
	EndDate   *time.Time

	Page     int
	PageSize int

	SortField SortField
	SortDir   SortDirection
}

// Offset returns the row offset implied by Page/PageSize.
func (f FilterSpec) Offset() int {
	if f.Page < 1 || f.PageSize < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// AppliedFilters returns the predicates present in the spec, keyed by
// their query parameter names. List responses echo this back so clients
// can see which filters were actually applied.
func (f FilterSpec) AppliedFilters() map[string]interface{} {
	filters := map[string]interface{}{}
	if f.ContentType != "" {
		filters["contentType"] = f.ContentType
	}
	if f.UserID != nil {
		filters["userId"] = *f.UserID
	}
	if f.Action != "" {
		filters["action"] = f.Action
	}
	if f.RecordID != "" {
		filters["recordId"] = f.RecordID
	}
	if f.RequestID != "" {
		filters["requestId"] = f.RequestID
	}
	if f.IPAddress != "" {
		filters["ipAddress"] = f.IPAddress
	}
	if f.UserAgent != "" {
		filters["userAgent"] = f.UserAgent
	}
	if f.StartDate != nil {
		filters["startDate"] = f.StartDate.Format(time.RFC3339)
	}
	if f.EndDate != nil {
		filters["endDate"] = f.EndDate.Format(time.RFC3339)
	}
	return filters
}

// SortDescriptor is one applied sort key, echoed in list metadata.
type SortDescriptor struct {
	Field     SortField     `json:"field"`
	Direction SortDirection `json:"direction"`
}

// SortDescriptors returns the effective sort order, normalized the same
// way the stores normalize it: unknown fields fall back to timestamp and
// anything but asc is desc.
func (f FilterSpec) SortDescriptors() []SortDescriptor {
	field := f.SortField
	if _, ok := sortColumns[field]; !ok {
		field = SortTimestamp
	}
	dir := f.SortDir
	if dir != SortAsc {
		dir = SortDesc
	}
	return []SortDescriptor{{Field: field, Direction: dir}}
}

// Pagination describes the position of one page within the full result
// set. Total counts every matching record, not just the returned page.
type Pagination struct {
	Page        int   `json:"page"`
	PageSize    int   `json:"pageSize"`
	PageCount   int   `json:"pageCount"`
	Total       int64 `json:"total"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

// Page is one page of records plus its pagination metadata. Spec is the
// filter that produced the page, carried along so response metadata can
// echo the applied predicates and sort.
type Page struct {
	Records    []*AuditRecord `json:"records"`
	Pagination Pagination     `json:"pagination"`
	Spec       FilterSpec     `json:"-"`
}

// Stats aggregates the filtered record set for dashboards.
type Stats struct {
	Total           int64            `json:"total"`
	ByAction        map[Action]int64 `json:"by_action"`
	ByContentType   map[string]int64 `json:"by_content_type"`
	OldestTimestamp *time.Time       `json:"oldest_timestamp,omitempty"`
	NewestTimestamp *time.Time       `json:"newest_timestamp,omitempty"`
}

// ExportFormat selects the serialization for bulk export.
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
