package model

import (
	"strings"
	"time"
)

// Part is one node of a message's MIME part tree with inline body data
// already base64url-decoded. Attachment bytes referenced by AttachmentID are
// fetched lazily through the gateway.
type Part struct {
	Filename     string
	MimeType     string
	AttachmentID string
	Data         []byte
	Parts        []*Part
}

// RawMessage is the gateway's representation of one fetched message.
type RawMessage struct {
	ID           string
	Snippet      string
	InternalDate time.Time
	Headers      map[string]string
	Payload      *Part
}

// Header returns a header value by case-insensitive name.
func (m *RawMessage) Header(name string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[strings.ToLower(name)]
}

// AttachmentKind classifies how an attachment was handled.
type AttachmentKind string

const (
	AttachmentImage   AttachmentKind = "image"
	AttachmentPDF     AttachmentKind = "pdf"
	AttachmentText    AttachmentKind = "text"
	AttachmentOther   AttachmentKind = "other"
	AttachmentSkipped AttachmentKind = "skipped"
)

// Attachment is one extracted attachment, bounded by the run config.
// DataURL is set for images, Text for pdf/text excerpts, Reason for skips.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	Filename string         `json:"filename"`
	MimeType string         `json:"mimeType"`
	SizeMB   float64        `json:"sizeMB"`
	DataURL  string         `json:"-"`
	Text     string         `json:"-"`
	Reason   string         `json:"reason,omitempty"`
}

// AttachmentSummary is the durable, payload-free view kept on results.
type AttachmentSummary struct {
	Kind     AttachmentKind `json:"kind"`
	Filename string         `json:"filename"`
	MimeType string         `json:"mimeType"`
	SizeMB   float64        `json:"sizeMB"`
	Summary  string         `json:"summary"`
}

// Envelope is an immutable snapshot of one message at review time.
type Envelope struct {
	ID          string
	From        string
	FromEmail   string
	Subject     string
	ReceivedAt  time.Time
	Body        string
	Attachments []Attachment
}
