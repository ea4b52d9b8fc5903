package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixtures() []*AuditRecord {
	userID := int64(7)
	return []*AuditRecord{
		{
			ID:            1,
			ContentType:   "article",
			RecordID:      "a-1",
			Action:        ActionCreate,
			Timestamp:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			UserID:        &userID,
			Username:      "alice",
			ChangedFields: []string{"body", "title"},
			Payload:       map[string]interface{}{"title": "hello"},
			RequestID:     "req-1",
			IPAddress:     "10.0.0.1",
			UserAgent:     "curl",
			Metadata:      map[string]interface{}{"success": true},
		},
		{
			ID:          2,
			ContentType: "page",
			Action:      ActionDelete,
			Timestamp:   time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestExportJSON(t *testing.T) {
	data, err := Export(exportFixtures(), ExportFormatJSON)
	require.NoError(t, err)

	var records []*AuditRecord
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "article", records[0].ContentType)
	assert.Equal(t, "alice", records[0].Username)
}

func TestExportNDJSON(t *testing.T) {
	data, err := Export(exportFixtures(), ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first AuditRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, int64(1), first.ID)

	var second AuditRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, ActionDelete, second.Action)
}

func TestExportCSV(t *testing.T) {
	data, err := Export(exportFixtures(), ExportFormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2026-01-02 03:04:05", rows[1][1])
	assert.Equal(t, "article", rows[1][2])
	assert.Equal(t, "create", rows[1][4])
	assert.Equal(t, "7", rows[1][5])
	assert.Equal(t, "body;title", rows[1][7])

	// Nil pointer and empty maps render as empty cells.
	assert.Equal(t, "", rows[2][5])
	assert.Equal(t, "", rows[2][11])
}

func TestExportCSV_Empty(t *testing.T) {
	data, err := Export(nil, ExportFormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestExport_UnknownFormat(t *testing.T) {
	_, err := Export(nil, ExportFormat("xml"))
	assert.Error(t, err)
}
