package audit

import (
	"reflect"
	"sort"
)

// Scrub returns a copy of payload with every excluded field removed.
// A nil payload stays nil; an empty exclusion set still copies, so the
// stored record never aliases caller-owned maps.
func Scrub(payload map[string]interface{}, excluded map[string]struct{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		if _, skip := excluded[key]; skip {
			continue
		}
		out[key] = value
	}
	return out
}

// ChangedFields computes the changed-field set for a mutation:
// every top-level key of post whose value differs from pre for updates,
// every non-excluded key of post for creates, and nothing for deletes.
// The result is sorted for stable storage and comparison.
func ChangedFields(action Action, pre, post map[string]interface{}, excluded map[string]struct{}) []string {
	if action == ActionDelete {
		return nil
	}

	fields := make([]string, 0, len(post))
	for key, next := range post {
		if _, skip := excluded[key]; skip {
			continue
		}
		if action == ActionCreate {
			fields = append(fields, key)
			continue
		}
		prev, had := pre[key]
		if !had || !reflect.DeepEqual(prev, next) {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields
}
