package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Export serializes records in the requested format.
func Export(records []*AuditRecord, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(records)
	case ExportFormatNDJSON:
		return exportNDJSON(records)
	case ExportFormatCSV:
		return exportCSV(records)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportJSON exports records as a JSON array
func exportJSON(records []*AuditRecord) ([]byte, error) {
	return json.MarshalIndent(records, "", "  ")
}

// exportNDJSON exports records as newline-delimited JSON
func exportNDJSON(records []*AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports records as CSV. Structured fields (payloads,
// metadata) are JSON-encoded inside their cell.
func exportCSV(records []*AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"ContentType",
		"RecordID",
		"Action",
		"UserID",
		"Username",
		"ChangedFields",
		"RequestID",
		"IPAddress",
		"UserAgent",
		"Payload",
		"Previous",
		"Metadata",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		payloadCell, err := formatJSONCell(rec.Payload)
		if err != nil {
			return nil, err
		}
		previousCell, err := formatJSONCell(rec.Previous)
		if err != nil {
			return nil, err
		}
		metadataCell, err := formatJSONCell(rec.Metadata)
		if err != nil {
			return nil, err
		}

		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.ContentType,
			rec.RecordID,
			string(rec.Action),
			formatInt64Ptr(rec.UserID),
			rec.Username,
			strings.Join(rec.ChangedFields, ";"),
			rec.RequestID,
			rec.IPAddress,
			rec.UserAgent,
			payloadCell,
			previousCell,
			metadataCell,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}

func formatJSONCell(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode cell: %w", err)
	}
	return string(data), nil
}
