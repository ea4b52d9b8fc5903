package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/chronicle/pkg/async"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

// CaptureConfig gates and shapes the capture pipeline. It is an
// immutable snapshot resolved once per capture, so a reload mid-request
// cannot produce a half-old half-new record.
type CaptureConfig struct {
	// Enabled globally switches capture on or off. Disabled capture is
	// a no-op costing one config lookup.
	Enabled bool

	// ExcludeContentTypes lists content types that are never captured.
	ExcludeContentTypes map[string]struct{}

	// ExcludedFields are stripped from ChangedFields, Payload and
	// Previous before persistence.
	ExcludedFields map[string]struct{}

	// Actions restricts which mutation kinds are captured. Empty means
	// all of create, update, delete.
	Actions map[Action]struct{}

	// WriteTimeout bounds each store write attempt.
	WriteTimeout time.Duration

	// MaxRetries is the number of additional attempts after the first
	// failed store write. Loss after the final attempt is accepted.
	MaxRetries int

	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration
}

// DefaultCaptureConfig captures everything except internal bookkeeping
// fields, with a short write timeout and two retries.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Enabled: true,
		ExcludedFields: map[string]struct{}{
			"createdAt": {},
			"updatedAt": {},
		},
		ExcludeContentTypes: map[string]struct{}{},
		Actions:             map[Action]struct{}{},
		WriteTimeout:        5 * time.Second,
		MaxRetries:          2,
		RetryBackoff:        100 * time.Millisecond,
	}
}

func (c CaptureConfig) captures(action Action) bool {
	if len(c.Actions) == 0 {
		return true
	}
	_, ok := c.Actions[action]
	return ok
}

// ConfigSource yields the current capture configuration. Implementations
// must return a consistent snapshot; pkg/config's watcher swaps the
// snapshot atomically on reload.
type ConfigSource func() CaptureConfig

// StaticConfig adapts a fixed CaptureConfig into a ConfigSource.
func StaticConfig(cfg CaptureConfig) ConfigSource {
	return func() CaptureConfig { return cfg }
}

// RequestContext is the provenance of the request that performed a
// mutation. All fields are best effort.
type RequestContext struct {
	RequestID string
	UserID    *int64
	Username  string
	IPAddress string
	UserAgent string

	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
}

// Mutation describes one content mutation for capture. Previous is the
// pre-mutation state (absent for create), Payload the post-mutation
// state (absent for delete).
type Mutation struct {
	ContentType string
	Action      Action
	RecordID    string
	Previous    map[string]interface{}
	Payload     map[string]interface{}

	// Succeeded marks whether the mutation itself succeeded. Failed
	// attempts still produce exactly one record, flagged in metadata.
	Succeeded bool

	Request RequestContext
}

// FailureHandler observes capture persistence failures after retries
// are exhausted. It runs on a pool worker; it must not block.
type FailureHandler func(rec *AuditRecord, err error)

// RecorderOptions carries the optional collaborators of a Recorder.
type RecorderOptions struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	OnFailure FailureHandler
}

// Recorder is the capture pipeline. Record never blocks and never
// returns an error: persistence runs on a bounded worker pool, a full
// queue drops the record, and store failures are absorbed after bounded
// retries. Audit capture can lose records; it can never break or delay
// the mutation that triggered it.
type Recorder struct {
	store     Store
	pool      *async.Pool
	source    ConfigSource
	logger    *observability.Logger
	metrics   *observability.Metrics
	onFailure FailureHandler
}

// NewRecorder builds a capture pipeline over store, executing writes on
// pool and resolving configuration from source on every capture.
func NewRecorder(store Store, pool *async.Pool, source ConfigSource, opts RecorderOptions) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Recorder{
		store:     store,
		pool:      pool,
		source:    source,
		logger:    logger,
		metrics:   opts.Metrics,
		onFailure: opts.OnFailure,
	}
}

// Record captures one mutation. It is fire-and-forget: by the time it
// returns, the record is either queued for persistence or dropped, and
// the caller's success path is unaffected either way.
func (r *Recorder) Record(mut Mutation) {
	cfg := r.source()
	if !cfg.Enabled {
		return
	}
	if _, excluded := cfg.ExcludeContentTypes[mut.ContentType]; excluded {
		return
	}
	if !mut.Action.Valid() || !cfg.captures(mut.Action) {
		return
	}

	rec := buildRecord(mut, cfg)

	if ok := r.pool.TrySubmit(func(ctx context.Context) error {
		r.persist(ctx, rec, cfg)
		return nil
	}); !ok {
		if r.metrics != nil {
			r.metrics.CaptureDropped.Inc()
		}
		r.logger.WithFields(map[string]interface{}{
			"content_type": rec.ContentType,
			"request_id":   rec.RequestID,
		}).Warn("audit capture queue full, record dropped")
	}
}

// buildRecord assembles the immutable record: the timestamp is assigned
// here, exactly once, and excluded fields are scrubbed from every
// payload-bearing field before the record leaves the pipeline.
func buildRecord(mut Mutation, cfg CaptureConfig) *AuditRecord {
	rec := &AuditRecord{
		ContentType:   mut.ContentType,
		RecordID:      mut.RecordID,
		Action:        mut.Action,
		Timestamp:     time.Now().UTC(),
		UserID:        mut.Request.UserID,
		Username:      mut.Request.Username,
		ChangedFields: ChangedFields(mut.Action, mut.Previous, mut.Payload, cfg.ExcludedFields),
		RequestID:     mut.Request.RequestID,
		IPAddress:     mut.Request.IPAddress,
		UserAgent:     mut.Request.UserAgent,
		Metadata:      map[string]interface{}{"success": mut.Succeeded},
	}

	if mut.Action != ActionDelete {
		rec.Payload = Scrub(mut.Payload, cfg.ExcludedFields)
	}
	if mut.Action != ActionCreate {
		rec.Previous = Scrub(mut.Previous, cfg.ExcludedFields)
	}

	if mut.Request.Method != "" {
		rec.Metadata["method"] = mut.Request.Method
	}
	if mut.Request.Path != "" {
		rec.Metadata["path"] = mut.Request.Path
	}
	if mut.Request.StatusCode != 0 {
		rec.Metadata["status_code"] = mut.Request.StatusCode
	}
	if mut.Request.Duration != 0 {
		rec.Metadata["duration_ms"] = mut.Request.Duration.Milliseconds()
	}
	return rec
}

// persist writes the record with bounded retries. Failures end here:
// they are logged, counted and handed to the failure hook, never
// propagated toward the mutation's caller.
func (r *Recorder) persist(ctx context.Context, rec *AuditRecord, cfg CaptureConfig) {
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if r.metrics != nil {
				r.metrics.CaptureRetries.Inc()
			}
			select {
			case <-ctx.Done():
				r.fail(rec, ctx.Err())
				return
			case <-time.After(cfg.RetryBackoff):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.WriteTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.WriteTimeout)
		}
		err = r.store.Insert(attemptCtx, rec)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if r.metrics != nil {
				r.metrics.CaptureTotal.WithLabelValues(string(rec.Action)).Inc()
			}
			return
		}
	}
	r.fail(rec, err)
}

func (r *Recorder) fail(rec *AuditRecord, err error) {
	if r.metrics != nil {
		r.metrics.CaptureFailures.Inc()
	}
	r.logger.WithError(err).WithFields(map[string]interface{}{
		"content_type": rec.ContentType,
		"record_id":    rec.RecordID,
		"request_id":   rec.RequestID,
	}).Error("audit capture write failed, record dropped")
	if r.onFailure != nil {
		r.onFailure(rec, err)
	}
}
