package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/chronicle/pkg/observability"
)

type captureCtxKey struct{}

// PendingMutation accumulates mutation details during request handling.
// The capture middleware finishes it with request provenance and the
// response outcome once the handler returns.
type PendingMutation struct {
	mu  sync.Mutex
	mut *Mutation
}

// Observe notes the mutation this request performed. Handlers call it
// once, after the domain write; calling it again replaces the earlier
// observation.
func (p *PendingMutation) Observe(contentType string, action Action, recordID string, previous, payload map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mut = &Mutation{
		ContentType: contentType,
		Action:      action,
		RecordID:    recordID,
		Previous:    previous,
		Payload:     payload,
	}
}

// SetActor attributes the mutation to a user. It may be called before
// or after Observe.
func (p *PendingMutation) SetActor(userID *int64, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mut == nil {
		p.mut = &Mutation{}
	}
	p.mut.Request.UserID = userID
	p.mut.Request.Username = username
}

func (p *PendingMutation) take() *Mutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	mut := p.mut
	p.mut = nil
	return mut
}

// MutationFromContext returns the pending mutation installed by
// CaptureMiddleware, or nil when capture is not active for the request.
func MutationFromContext(ctx context.Context) *PendingMutation {
	pending, _ := ctx.Value(captureCtxKey{}).(*PendingMutation)
	return pending
}

// CaptureMiddleware installs a PendingMutation on write requests and
// hands observed mutations to the recorder after the response is sent.
// The record inherits the request id, client address, user agent and
// the response outcome; a response status of 400 or above marks the
// mutation as failed.
func CaptureMiddleware(recorder *Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}

			pending := &PendingMutation{}
			ctx := context.WithValue(r.Context(), captureCtxKey{}, pending)

			start := time.Now()
			rw := &captureResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			mut := pending.take()
			if mut == nil || mut.ContentType == "" {
				return
			}

			mut.Succeeded = rw.status < http.StatusBadRequest
			mut.Request.RequestID = observability.GetRequestID(ctx)
			mut.Request.IPAddress = clientAddr(r)
			mut.Request.UserAgent = r.UserAgent()
			mut.Request.Method = r.Method
			mut.Request.Path = r.URL.Path
			mut.Request.StatusCode = rw.status
			mut.Request.Duration = time.Since(start)

			recorder.Record(*mut)
		})
	}
}

type captureResponseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *captureResponseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// clientAddr prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
