package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, WriteEnvelope(rr, []string{"a", "b"}, map[string]interface{}{"total": 2}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var env struct {
		Data []string               `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Equal(t, []string{"a", "b"}, env.Data)
	assert.Equal(t, float64(2), env.Meta["total"])
}

func TestWriteEnvelope_OmitsEmptyMeta(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, WriteEnvelope(rr, "x", nil))
	assert.NotContains(t, rr.Body.String(), "meta")
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		errMsg string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad input") }, http.StatusBadRequest, "bad input"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "no access") }, http.StatusForbidden, "no access"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "missing") }, http.StatusNotFound, "missing"},
		{"too many requests", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests, "slow down"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w, errors.New("boom")) }, http.StatusInternalServerError, "boom"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "down") }, http.StatusServiceUnavailable, "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.write(rr)

			assert.Equal(t, tt.status, rr.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.errMsg, resp.Error)
		})
	}
}

func TestWriteDetailedError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteDetailedError(rr, http.StatusBadRequest, "invalid filter parameters", map[string]string{
		"userId": "must be a positive integer",
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "invalid filter parameters", resp.Error)
	assert.Equal(t, "must be a positive integer", resp.Details["userId"])
}
