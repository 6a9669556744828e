package models

import "time"

// LogEntry is a single normalized log record. It is immutable once the
// normalizer has assigned its ID and Timestamp; the only way an entry
// leaves the system afterwards is retention trimming.
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level,omitempty"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Source    string                 `json:"source,omitempty"`
}

// StoredTimeLayout is the fixed-width UTC layout used for the ts column.
// Fixed width keeps lexicographic order identical to chronological order,
// which the (ts DESC, id DESC) index relies on for the trim and recent queries.
const StoredTimeLayout = "2006-01-02T15:04:05.000000000Z"

// StoredTimestamp renders the entry timestamp for persistence.
func (e LogEntry) StoredTimestamp() string {
	return e.Timestamp.UTC().Format(StoredTimeLayout)
}
