package audit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

// ServiceOptions carries the optional collaborators of a Service.
type ServiceOptions struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// QueryEnabled gates the read surface. When it returns false every
	// query operation fails with ErrDisabled; capture is unaffected.
	QueryEnabled func() bool

	// QueryTimeout bounds each query against the store. Zero disables
	// the bound.
	QueryTimeout time.Duration
}

// Service is the read side of the audit log: it validates filters,
// delegates to the store and wraps results in pagination envelopes.
// Write access goes through Recorder; Service never mutates records.
type Service struct {
	store        Store
	logger       *observability.Logger
	metrics      *observability.Metrics
	queryEnabled func() bool
	queryTimeout time.Duration
}

// NewService builds a query engine over store.
func NewService(store Store, opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	enabled := opts.QueryEnabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Service{
		store:        store,
		logger:       logger,
		metrics:      opts.Metrics,
		queryEnabled: enabled,
		queryTimeout: opts.QueryTimeout,
	}
}

// Query runs a validated filter and returns one page of records with
// its pagination envelope. The total count and the page rows come from
// the same filter, so the envelope is consistent with the rows even
// when the page is past the end.
func (s *Service) Query(ctx context.Context, spec FilterSpec) (page *Page, err error) {
	if !s.queryEnabled() {
		return nil, ErrDisabled
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveQuery("query", err, time.Since(start))
		}
	}()

	ctx, cancel := s.bound(ctx)
	defer cancel()

	total, err := s.store.Count(ctx, spec)
	if err != nil {
		return nil, s.mapStoreErr(ctx, "count", err)
	}

	records, err := s.store.Query(ctx, spec)
	if err != nil {
		return nil, s.mapStoreErr(ctx, "query", err)
	}

	return &Page{
		Records:    records,
		Pagination: paginate(spec, total),
		Spec:       spec,
	}, nil
}

// QueryValues parses raw URL query parameters and runs the resulting
// filter. Parse failures surface as a ValidationError listing every
// invalid parameter.
func (s *Service) QueryValues(ctx context.Context, values url.Values) (*Page, error) {
	spec, err := ParseFilter(values)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, spec)
}

// QueryByRecord returns the history of one object, newest first by
// default. Extra filter parameters narrow the history further.
func (s *Service) QueryByRecord(ctx context.Context, contentType, recordID string, values url.Values) (*Page, error) {
	spec, err := ParseFilter(values)
	if err != nil {
		return nil, err
	}
	if !contentTypePattern.MatchString(contentType) {
		return nil, &ValidationError{Fields: map[string]string{
			"contentType": "must match " + contentTypePattern.String(),
		}}
	}
	if recordID == "" {
		return nil, &ValidationError{Fields: map[string]string{
			"recordId": "must not be empty",
		}}
	}
	spec.ContentType = contentType
	spec.RecordID = recordID
	return s.Query(ctx, spec)
}

// QueryByContentType returns records for one content type.
func (s *Service) QueryByContentType(ctx context.Context, contentType string, values url.Values) (*Page, error) {
	spec, err := ParseFilter(values)
	if err != nil {
		return nil, err
	}
	if !contentTypePattern.MatchString(contentType) {
		return nil, &ValidationError{Fields: map[string]string{
			"contentType": "must match " + contentTypePattern.String(),
		}}
	}
	spec.ContentType = contentType
	return s.Query(ctx, spec)
}

// QueryByUser returns records attributed to one user.
func (s *Service) QueryByUser(ctx context.Context, userID string, values url.Values) (*Page, error) {
	spec, err := ParseFilter(values)
	if err != nil {
		return nil, err
	}
	id, convErr := strconv.ParseInt(userID, 10, 64)
	if convErr != nil || id < 1 {
		return nil, &ValidationError{Fields: map[string]string{
			"userId": "must be a positive integer",
		}}
	}
	spec.UserID = &id
	return s.Query(ctx, spec)
}

// Get returns one record by its identifier.
func (s *Service) Get(ctx context.Context, id int64) (rec *AuditRecord, err error) {
	if !s.queryEnabled() {
		return nil, ErrDisabled
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveQuery("get", err, time.Since(start))
		}
	}()

	ctx, cancel := s.bound(ctx)
	defer cancel()

	rec, err = s.store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, s.mapStoreErr(ctx, "get", err)
	}
	return rec, nil
}

// Stats returns aggregate counts over the records matching the filter's
// predicates. Pagination parameters are ignored.
func (s *Service) Stats(ctx context.Context, values url.Values) (stats *Stats, err error) {
	if !s.queryEnabled() {
		return nil, ErrDisabled
	}

	spec, err := ParseFilter(values)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveQuery("stats", err, time.Since(start))
		}
	}()

	ctx, cancel := s.bound(ctx)
	defer cancel()

	stats, err = s.store.Stats(ctx, spec)
	if err != nil {
		return nil, s.mapStoreErr(ctx, "stats", err)
	}
	return stats, nil
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// mapStoreErr folds deadline expiry into ErrTimeout so callers can tell
// a slow store apart from a broken one.
func (s *Service) mapStoreErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.WithField("operation", op).Warn("audit query timed out")
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	s.logger.WithError(err).WithField("operation", op).Error("audit query failed")
	return err
}

// paginate derives the envelope for one page. Total pages are computed
// with ceiling division; an empty result set still reports page 1 of 0.
func paginate(spec FilterSpec, total int64) Pagination {
	pageCount := 0
	if total > 0 {
		pageCount = int((total + int64(spec.PageSize) - 1) / int64(spec.PageSize))
	}
	return Pagination{
		Page:        spec.Page,
		PageSize:    spec.PageSize,
		PageCount:   pageCount,
		Total:       total,
		HasNextPage: spec.Page < pageCount,
		HasPrevPage: spec.Page > 1 && total > 0,
	}
}
