// Package inbox implements the inbox review pipeline: discovering
// unreviewed messages, extracting bounded attachment payloads, classifying
// them, applying mailbox side effects under the safe-mode policy, and
// producing a durable report.
package inbox

import (
	"context"
	"errors"
	"fmt"

	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
)

// Gateway is the mailbox capability the pipeline drives. Authentication and
// token refresh are the adapter's concern; a missing credential surfaces as
// ErrCredentialsMissing.
type Gateway interface {
	ListMessageIDs(ctx context.Context, query string, maxResults int) ([]string, error)
	GetMessage(ctx context.Context, id string) (*model.RawMessage, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	EnsureLabels(ctx context.Context, names []string) (map[string]string, error)
	ApplyLabels(ctx context.Context, messageID string, labelIDs []string) error
	TrashMessage(ctx context.Context, messageID string) error
}

// GatewayFactory resolves the per-user gateway. Resolution fails with
// ErrCredentialsMissing when the user never connected a mailbox or the
// stored grant is no longer usable.
type GatewayFactory interface {
	GatewayFor(ctx context.Context, email string) (Gateway, error)
}

// GatewayFactoryFunc adapts a function to the GatewayFactory interface.
type GatewayFactoryFunc func(ctx context.Context, email string) (Gateway, error)

func (f GatewayFactoryFunc) GatewayFor(ctx context.Context, email string) (Gateway, error) {
	return f(ctx, email)
}

// Classifier decides what to do with one message. Classify never fails:
// any backend trouble degrades to the fixed fallback verdict.
type Classifier interface {
	Classify(ctx context.Context, cfg runconfig.RunConfig, env *model.Envelope, descriptor string) model.Verdict
	DescribeImportance(ctx context.Context, settings model.Settings) string
}

// Labels the pipeline applies.
const (
	LabelScam          = "SCAM"
	LabelReviewSpam    = "REVIEW_SPAM"
	LabelImportantToMe = "IMPORTANT_TO_ME"
)

// ErrCredentialsMissing means no usable mailbox credentials exist for the
// user. Scheduled jobs self-stop on it; manual triggers surface it.
var ErrCredentialsMissing = errors.New("mailbox credentials missing")

// ListingFailedError wraps a failure of the initial message listing, the
// only per-message-independent step; it aborts the whole run.
type ListingFailedError struct {
	Err error
}

func (e *ListingFailedError) Error() string {
	return fmt.Sprintf("message listing failed: %v", e.Err)
}

func (e *ListingFailedError) Unwrap() error { return e.Err }
