// Package audit captures and serves an immutable history of content
// mutations.
//
// # Overview
//
// Every create, update and delete of a content object produces one
// AuditRecord: who changed what, when, from where, with the before and
// after state and the list of changed top-level fields. Records are
// append-only; corrections are new records, and only the retention
// sweeper removes them.
//
// # Capture
//
// The Recorder is fire-and-forget. Record queues persistence on a
// bounded worker pool and returns immediately; a full queue drops the
// record and store failures are retried a bounded number of times and
// then absorbed. Capture can lose records but can never fail or delay
// the mutation that triggered it.
//
//	recorder.Record(audit.Mutation{
//		ContentType: "article",
//		Action:      audit.ActionUpdate,
//		RecordID:    "42",
//		Previous:    before,
//		Payload:     after,
//		Succeeded:   true,
//	})
//
// HTTP services normally go through CaptureMiddleware instead, which
// fills in request provenance and the response outcome:
//
//	if pending := audit.MutationFromContext(r.Context()); pending != nil {
//		pending.Observe("article", audit.ActionUpdate, id, before, after)
//	}
//
// # Query
//
// The Service validates filters, delegates to a Store and returns
// pagination envelopes. Filters accept only a fixed allow-list of
// parameters, each backed by an indexed column; unknown parameters are
// ignored and invalid ones fail with a per-field ValidationError.
//
//	page, err := service.QueryByRecord(ctx, "article", "42", r.URL.Query())
//
// # Retention
//
// The Sweeper deletes records older than a cutoff in bounded batches,
// optionally archiving each batch to S3 as gzipped NDJSON first.
// Export supports JSON, CSV and NDJSON for external analysis.
//
// # Stores
//
// PostgresStore is the production store, SQLiteStore serves single-node
// deployments, and MemoryStore backs tests. All three answer queries
// through the same predicate semantics.
package audit
