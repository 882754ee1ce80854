package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"inboxvetter/internal/inbox"
	"inboxvetter/internal/model"
	"inboxvetter/pkg/metrics"
)

// Client implements the pipeline's gateway over the Gmail API for one
// authenticated user.
type Client struct {
	srv    *gmailapi.Service
	logger *zap.Logger
}

// Factory builds per-user gateways. It satisfies inbox.GatewayFactory.
type Factory struct {
	auth   *Authenticator
	logger *zap.Logger
}

func NewFactory(auth *Authenticator, logger *zap.Logger) *Factory {
	return &Factory{auth: auth, logger: logger}
}

func (f *Factory) GatewayFor(ctx context.Context, email string) (inbox.Gateway, error) {
	source, err := f.auth.TokenSource(ctx, email)
	if err != nil {
		return nil, err
	}

	srv, err := gmailapi.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to build gmail service: %w", err)
	}
	return &Client{srv: srv, logger: f.logger.With(zap.String("email", email))}, nil
}

func (c *Client) ListMessageIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	start := time.Now()
	res, err := c.srv.Users.Messages.List("me").
		Q(query).
		MaxResults(int64(maxResults)).
		Context(ctx).
		Do()
	if err != nil {
		metrics.RecordGmailLatency("list", "error", time.Since(start))
		return nil, fmt.Errorf("gmail list failed: %w", err)
	}
	metrics.RecordGmailLatency("list", "ok", time.Since(start))

	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (*model.RawMessage, error) {
	start := time.Now()
	msg, err := c.srv.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		metrics.RecordGmailLatency("get", "error", time.Since(start))
		return nil, fmt.Errorf("gmail get failed: %w", err)
	}
	metrics.RecordGmailLatency("get", "ok", time.Since(start))
	return toRawMessage(msg), nil
}

func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	start := time.Now()
	body, err := c.srv.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		metrics.RecordGmailLatency("attachment", "error", time.Since(start))
		return nil, fmt.Errorf("gmail attachment fetch failed: %w", err)
	}
	metrics.RecordGmailLatency("attachment", "ok", time.Since(start))

	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(body.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	return data, nil
}

// EnsureLabels resolves label names to ids, creating any that are missing.
func (c *Client) EnsureLabels(ctx context.Context, names []string) (map[string]string, error) {
	res, err := c.srv.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail label list failed: %w", err)
	}

	existing := make(map[string]string, len(res.Labels))
	for _, label := range res.Labels {
		existing[label.Name] = label.Id
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		if id, ok := existing[name]; ok {
			out[name] = id
			continue
		}
		created, err := c.srv.Users.Labels.Create("me", &gmailapi.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("gmail label create failed for %s: %w", name, err)
		}
		c.logger.Info("Created label", zap.String("label", name))
		out[name] = created.Id
	}
	return out, nil
}

func (c *Client) ApplyLabels(ctx context.Context, messageID string, labelIDs []string) error {
	start := time.Now()
	_, err := c.srv.Users.Messages.Modify("me", messageID, &gmailapi.ModifyMessageRequest{
		AddLabelIds: labelIDs,
	}).Context(ctx).Do()
	if err != nil {
		metrics.RecordGmailLatency("modify", "error", time.Since(start))
		return fmt.Errorf("gmail label apply failed: %w", err)
	}
	metrics.RecordGmailLatency("modify", "ok", time.Since(start))
	return nil
}

func (c *Client) TrashMessage(ctx context.Context, messageID string) error {
	start := time.Now()
	_, err := c.srv.Users.Messages.Trash("me", messageID).Context(ctx).Do()
	if err != nil {
		metrics.RecordGmailLatency("trash", "error", time.Since(start))
		return fmt.Errorf("gmail trash failed: %w", err)
	}
	metrics.RecordGmailLatency("trash", "ok", time.Since(start))
	return nil
}
