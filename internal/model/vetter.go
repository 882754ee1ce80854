package model

import (
	"encoding/json"
	"time"
)

// LogEntry is one structured vetter log line.
type LogEntry struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// VetterState is the per-user persisted pipeline state. Active is the
// mutual-exclusion guard: at most one run per user holds it at a time.
// ProcessedMessageIDs only ever grows.
type VetterState struct {
	Active              bool       `json:"active"`
	LastRunAt           *time.Time `json:"lastRunAt"`
	LastReportID        string     `json:"lastReportId"`
	NextRunAt           *time.Time `json:"nextRunAt"`
	ProcessedMessageIDs []string   `json:"processedMessageIds"`
	Logs                []LogEntry `json:"logs"`
}

// ReportMeta is the durable payload attached to one report record.
type ReportMeta struct {
	Descriptor string          `json:"descriptor"`
	Stats      RunStats        `json:"stats"`
	ReportFile string          `json:"reportFile"`
	ReportPath string          `json:"reportPath"`
	Results    json.RawMessage `json:"results"`
}

// ReportRecord is one completed run's durable summary. Append-only.
type ReportRecord struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Snippet     string     `json:"snippet"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	Meta        ReportMeta `json:"meta"`
}
