package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/chronicle/pkg/httputil"
)

// ExportMaxRecords caps how many records one export request returns.
const ExportMaxRecords = 10000

// Authorizer decides whether a request may read the audit log. A nil
// authorizer allows everything; deployments plug in their own policy.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// Handlers exposes the audit log over HTTP.
type Handlers struct {
	service    *Service
	sweeper    *Sweeper
	authorizer Authorizer
}

// NewHandlers creates audit handlers over service. sweeper may be nil
// when the deployment runs sweeps out of process; the cleanup endpoint
// then responds 503. authorizer may be nil.
func NewHandlers(service *Service, sweeper *Sweeper, authorizer Authorizer) *Handlers {
	return &Handlers{
		service:    service,
		sweeper:    sweeper,
		authorizer: authorizer,
	}
}

// RegisterRoutes registers audit log routes. Literal paths are
// registered before the {id} catch-all so "stats" and "export" are
// never parsed as record ids.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit-logs", h.list).Methods("GET")
	router.HandleFunc("/audit-logs/stats", h.stats).Methods("GET")
	router.HandleFunc("/audit-logs/export", h.export).Methods("GET")
	router.HandleFunc("/audit-logs/cleanup", h.cleanup).Methods("POST")
	router.HandleFunc("/audit-logs/record/{contentType}/{recordId}", h.byRecord).Methods("GET")
	router.HandleFunc("/audit-logs/content-type/{contentType}", h.byContentType).Methods("GET")
	router.HandleFunc("/audit-logs/user/{userId}", h.byUser).Methods("GET")
	router.HandleFunc("/audit-logs/{id:[0-9]+}", h.get).Methods("GET")
}

func (h *Handlers) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.authorizer == nil {
		return true
	}
	if err := h.authorizer.Authorize(r); err != nil {
		httputil.WriteForbidden(w, err.Error())
		return false
	}
	return true
}

// list handles GET /audit-logs
func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	page, err := h.service.QueryValues(r.Context(), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writePage(w, page)
}

// byRecord handles GET /audit-logs/record/{contentType}/{recordId}
func (h *Handlers) byRecord(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	vars := mux.Vars(r)
	page, err := h.service.QueryByRecord(r.Context(), vars["contentType"], vars["recordId"], r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writePage(w, page)
}

// byContentType handles GET /audit-logs/content-type/{contentType}
func (h *Handlers) byContentType(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	vars := mux.Vars(r)
	page, err := h.service.QueryByContentType(r.Context(), vars["contentType"], r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writePage(w, page)
}

// byUser handles GET /audit-logs/user/{userId}
func (h *Handlers) byUser(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	vars := mux.Vars(r)
	page, err := h.service.QueryByUser(r.Context(), vars["userId"], r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writePage(w, page)
}

// get handles GET /audit-logs/{id}
func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid record id")
		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteEnvelope(w, rec, nil)
}

// stats handles GET /audit-logs/stats
func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	stats, err := h.service.Stats(r.Context(), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteEnvelope(w, stats, nil)
}

// export handles GET /audit-logs/export
func (h *Handlers) export(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	switch format {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported export format: %s", format))
		return
	}

	spec, err := ParseFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	// Exports ignore page boundaries up to a hard cap.
	spec.Page = 1
	spec.PageSize = ExportMaxRecords

	page, err := h.service.Query(r.Context(), spec)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := Export(page.Records, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-logs.json")
	}
	w.Write(data)
}

type cleanupRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

type cleanupResponse struct {
	Deleted int64 `json:"deleted"`
}

// cleanup handles POST /audit-logs/cleanup
func (h *Handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	if h.sweeper == nil {
		httputil.WriteServiceUnavailable(w, "retention sweeper is not configured")
		return
	}

	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.OlderThanDays < 1 {
		httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid cleanup request", map[string]string{
			"olderThanDays": "must be a positive integer",
		})
		return
	}

	deleted, err := h.sweeper.Sweep(r.Context(), time.Duration(req.OlderThanDays)*24*time.Hour)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, cleanupResponse{Deleted: deleted})
}

func (h *Handlers) writePage(w http.ResponseWriter, page *Page) {
	httputil.WriteEnvelope(w, page.Records, map[string]interface{}{
		"pagination": page.Pagination,
		"filters":    page.Spec.AppliedFilters(),
		"sort":       page.Spec.SortDescriptors(),
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid filter parameters", verr.Fields)
		return
	}
	var nferr *NotFoundError
	if errors.As(err, &nferr) {
		httputil.WriteNotFoundError(w, nferr.Error())
		return
	}
	switch {
	case errors.Is(err, ErrDisabled):
		httputil.WriteServiceUnavailable(w, "audit log queries are disabled")
	case errors.Is(err, ErrTimeout):
		httputil.WriteErrorMessage(w, http.StatusGatewayTimeout, "audit log query timed out")
	default:
		httputil.WriteInternalError(w, err)
	}
}
