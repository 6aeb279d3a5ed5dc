package audit

import (
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var csvHeader = []string{
	"id", "timestamp", "userId", "userRole", "action",
	"resource", "resourceId", "success", "errorMessage", "details",
}

// ExportCSV renders matching entries as CSV, one row per entry, with the
// details column JSON-encoded. Filter semantics match Query.
func (l *Log) ExportCSV(filter Filter) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write(csvHeader); err != nil {
		return "", err
	}

	for _, entry := range l.Query(filter) {
		details := ""
		if len(entry.Details) > 0 {
			data, err := json.Marshal(entry.Details)
			if err != nil {
				return "", err
			}
			details = string(data)
		}

		row := []string{
			entry.ID,
			entry.Timestamp.Format(time.RFC3339),
			entry.UserID,
			entry.UserRole,
			entry.Action,
			entry.Resource,
			entry.ResourceID,
			strconv.FormatBool(entry.Success),
			entry.ErrorMessage,
			details,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
