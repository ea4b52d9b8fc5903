package audit

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPageSize applies when the caller sends no pageSize.
	DefaultPageSize = 25

	// MaxPageSize caps pageSize. Larger requests are clamped, not
	// rejected, so oversized clients degrade instead of erroring.
	MaxPageSize = 100

	// maxOpaqueLen bounds opaque string filters (recordId, requestId,
	// ipAddress, userAgent).
	maxOpaqueLen = 256
)

// contentTypePattern accepts plain identifiers plus the namespaced
// "api::articles.article" style with :: separators.
var contentTypePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+(::[A-Za-z0-9_.-]+)*$`)

var sortColumns = map[SortField]struct{}{
	SortTimestamp:   {},
	SortContentType: {},
	SortAction:      {},
	SortUser:        {},
}

// ParseFilter compiles untrusted query parameters into a FilterSpec.
// Field names and operators are never trusted beyond the allow-list;
// unrecognized keys are ignored for forward compatibility. All field
// failures are collected into a single ValidationError.
func ParseFilter(values url.Values) (FilterSpec, error) {
	spec := FilterSpec{
		Page:      1,
		PageSize:  DefaultPageSize,
		SortField: SortTimestamp,
		SortDir:   SortDesc,
	}
	fieldErrs := map[string]string{}

	if v := strings.TrimSpace(values.Get("contentType")); v != "" {
		if !contentTypePattern.MatchString(v) {
			fieldErrs["contentType"] = "must be a simple identifier (letters, digits, '-', '_', '::')"
		} else {
			spec.ContentType = v
		}
	}

	if v := strings.TrimSpace(values.Get("userId")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			fieldErrs["userId"] = "must be a positive integer"
		} else {
			spec.UserID = &id
		}
	}

	if v := strings.TrimSpace(values.Get("action")); v != "" {
		action := Action(v)
		if !action.Valid() {
			fieldErrs["action"] = "must be one of create, update, delete"
		} else {
			spec.Action = action
		}
	}

	spec.StartDate = parseDateField(values, "startDate", fieldErrs)
	spec.EndDate = parseDateField(values, "endDate", fieldErrs)
	if spec.StartDate != nil && spec.EndDate != nil && spec.StartDate.After(*spec.EndDate) {
		fieldErrs["startDate"] = "must not be after endDate"
	}

	spec.RecordID = parseOpaqueField(values, "recordId", fieldErrs)
	spec.RequestID = parseOpaqueField(values, "requestId", fieldErrs)
	spec.IPAddress = parseOpaqueField(values, "ipAddress", fieldErrs)
	spec.UserAgent = parseOpaqueField(values, "userAgent", fieldErrs)

	if _, ok := values["page"]; ok {
		v := strings.TrimSpace(values.Get("page"))
		if v != "" {
			page, err := strconv.Atoi(v)
			if err != nil {
				fieldErrs["page"] = "must be an integer"
			} else if page < 1 {
				fieldErrs["page"] = "must be at least 1"
			} else {
				spec.Page = page
			}
		}
	}

	if _, ok := values["pageSize"]; ok {
		v := strings.TrimSpace(values.Get("pageSize"))
		if v != "" {
			size, err := strconv.Atoi(v)
			switch {
			case err != nil:
				fieldErrs["pageSize"] = "must be an integer"
			case size < 1:
				fieldErrs["pageSize"] = "must be at least 1"
			case size > MaxPageSize:
				spec.PageSize = MaxPageSize
			default:
				spec.PageSize = size
			}
		}
	}

	if v := strings.TrimSpace(values.Get("sort")); v != "" {
		field, dir, ok := strings.Cut(v, ":")
		if !ok {
			fieldErrs["sort"] = "must have the form field:direction"
		} else {
			sf := SortField(field)
			sd := SortDirection(dir)
			if _, known := sortColumns[sf]; !known {
				fieldErrs["sort"] = "sortable fields are timestamp, contentType, action, user"
			} else if sd != SortAsc && sd != SortDesc {
				fieldErrs["sort"] = "direction must be asc or desc"
			} else {
				spec.SortField = sf
				spec.SortDir = sd
			}
		}
	}

	if len(fieldErrs) > 0 {
		return FilterSpec{}, &ValidationError{Fields: fieldErrs}
	}
	return spec, nil
}

// parseDateField accepts RFC 3339 timestamps and plain dates.
func parseDateField(values url.Values, name string, fieldErrs map[string]string) *time.Time {
	v := strings.TrimSpace(values.Get(name))
	if v == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t
	}
	fieldErrs[name] = "must be an RFC 3339 timestamp or YYYY-MM-DD date"
	return nil
}

func parseOpaqueField(values url.Values, name string, fieldErrs map[string]string) string {
	v := values.Get(name)
	if len(v) > maxOpaqueLen {
		fieldErrs[name] = "exceeds maximum length of 256"
		return ""
	}
	return v
}
