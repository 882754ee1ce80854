package model

import "time"

// Action is the classifier's three-way decision.
type Action string

const (
	ActionTrash     Action = "TRASH"
	ActionKeep      Action = "KEEP"
	ActionImportant Action = "IMPORTANT"
)

// Verdict is the classifier's structured decision about one message.
type Verdict struct {
	Action      Action  `json:"action"`
	IsScam      bool    `json:"is_scam"`
	IsImportant bool    `json:"is_important"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

// ResultItem is one reviewed message with its verdict and side effects.
// Immutable once appended to a run's result set.
type ResultItem struct {
	ID            string              `json:"id"`
	From          string              `json:"from"`
	Subject       string              `json:"subject"`
	ReceivedAt    time.Time           `json:"receivedAt"`
	Verdict       Verdict             `json:"verdict"`
	LabelsApplied []string            `json:"labelsApplied"`
	Attachments   []AttachmentSummary `json:"attachments"`
}

// RunStats summarizes one run.
type RunStats struct {
	Reviewed  int `json:"reviewed"`
	Skipped   int `json:"skipped"`
	Important int `json:"important"`
	Trash     int `json:"trash"`
	Keep      int `json:"keep"`
}
