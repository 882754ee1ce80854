package inbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
	"inboxvetter/pkg/metrics"
)

// RunLogger receives the run's human-readable log lines. The lifecycle
// layer routes them into the per-user bounded log.
type RunLogger func(level, message string)

// RunOutcome is what one pipeline pass produced. ProcessedIDs contains
// every id the run touched, whether it was reviewed, skipped, or failed
// mid-review.
type RunOutcome struct {
	Results      []model.ResultItem
	Stats        model.RunStats
	ProcessedIDs []string
	Descriptor   string
}

// Deduper is the cross-replica fast-path guard over message ids. Seen
// filters ids another replica already handled. MarkProcessed is called
// only after a message's side effects were attempted, never at listing
// time, so a run that dies early leaves its ids eligible for re-scan.
type Deduper interface {
	Seen(ctx context.Context, scope, id string) bool
	MarkProcessed(ctx context.Context, scope, id string)
}

// Pipeline reviews one user's inbox: list, dedup, fetch, classify, mutate,
// collect. It holds no per-user state; callers pass the dedup set in and
// persist the outcome.
type Pipeline struct {
	gateways   GatewayFactory
	classifier Classifier
	deduper    Deduper
	logger     *zap.Logger
}

func NewPipeline(gateways GatewayFactory, classifier Classifier, deduper Deduper, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		gateways:   gateways,
		classifier: classifier,
		deduper:    deduper,
		logger:     logger,
	}
}

// Run executes one review pass. The listing step is the only fatal one;
// after it, every failure is contained to the message it concerns. Message
// order on the wire is preserved in Results.
func (p *Pipeline) Run(
	ctx context.Context,
	email string,
	cfg runconfig.RunConfig,
	settings model.Settings,
	processed map[string]bool,
	logf RunLogger,
) (*RunOutcome, error) {
	if logf == nil {
		logf = func(string, string) {}
	}

	gateway, err := p.gateways.GatewayFor(ctx, email)
	if err != nil {
		return nil, err
	}

	descriptor := p.classifier.DescribeImportance(ctx, settings)
	omitted := runconfig.OmittedSenders(settings)

	logf("info", fmt.Sprintf("Listing messages with query %q", cfg.GmailQuery))
	ids, err := gateway.ListMessageIDs(ctx, cfg.GmailQuery, cfg.GmailMaxResults)
	if err != nil {
		return nil, &ListingFailedError{Err: err}
	}

	scope := "inbox:" + email
	var fresh []string
	for _, id := range ids {
		if processed[id] {
			continue
		}
		if p.deduper != nil && p.deduper.Seen(ctx, scope, id) {
			continue
		}
		fresh = append(fresh, id)
	}

	outcome := &RunOutcome{
		Results:    []model.ResultItem{},
		Descriptor: descriptor,
	}
	if len(fresh) == 0 {
		logf("info", "No new messages to review")
		return outcome, nil
	}
	logf("info", fmt.Sprintf("Reviewing %d new messages (%d listed)", len(fresh), len(ids)))

	labelIDs, err := gateway.EnsureLabels(ctx, []string{LabelScam, LabelReviewSpam, LabelImportantToMe})
	if err != nil {
		// Degraded but not fatal: verdicts still get computed and reported.
		logf("warn", fmt.Sprintf("Label setup failed, labels disabled this run: %v", err))
		labelIDs = map[string]string{}
	}

	for _, id := range fresh {
		outcome.ProcessedIDs = append(outcome.ProcessedIDs, id)

		item, reviewed := p.reviewMessage(ctx, gateway, id, cfg, omitted, descriptor, labelIDs, logf)
		if p.deduper != nil {
			p.deduper.MarkProcessed(ctx, scope, id)
		}
		if item == nil {
			outcome.Stats.Skipped++
			continue
		}
		outcome.Results = append(outcome.Results, *item)
		if !reviewed {
			outcome.Stats.Skipped++
			continue
		}

		outcome.Stats.Reviewed++
		switch item.Verdict.Action {
		case model.ActionTrash:
			outcome.Stats.Trash++
		case model.ActionImportant:
			outcome.Stats.Important++
		default:
			outcome.Stats.Keep++
		}
		metrics.RecordMessage(string(item.Verdict.Action))
	}

	logf("info", fmt.Sprintf("Run finished: %d reviewed, %d skipped, %d important, %d trash",
		outcome.Stats.Reviewed, outcome.Stats.Skipped, outcome.Stats.Important, outcome.Stats.Trash))
	return outcome, nil
}

// reviewMessage handles one message end to end. Returns (nil, false) when
// the message could not even be fetched, (item, false) for an omitted
// sender, (item, true) for a classified message.
func (p *Pipeline) reviewMessage(
	ctx context.Context,
	gateway Gateway,
	id string,
	cfg runconfig.RunConfig,
	omitted []string,
	descriptor string,
	labelIDs map[string]string,
	logf RunLogger,
) (*model.ResultItem, bool) {
	message, err := gateway.GetMessage(ctx, id)
	if err != nil {
		p.logger.Warn("Message fetch failed", zap.String("message_id", id), zap.Error(err))
		logf("warn", fmt.Sprintf("Could not fetch message %s: %v", id, err))
		return nil, false
	}

	display, fromEmail := ParseAddress(message.Header("From"))
	subject := message.Header("Subject")

	if SenderIsOmitted(fromEmail, omitted) {
		logf("info", fmt.Sprintf("Skipping omitted sender %s", fromEmail))
		return &model.ResultItem{
			ID:         id,
			From:       display,
			Subject:    subject,
			ReceivedAt: message.InternalDate,
			Verdict: model.Verdict{
				Action:     model.ActionKeep,
				Confidence: 1,
				Reason:     "Sender is on the omitted list",
			},
			LabelsApplied: []string{},
			Attachments:   []model.AttachmentSummary{},
		}, false
	}

	attachments := ExtractAttachments(ctx, gateway, message, cfg, p.logger)
	env := &model.Envelope{
		ID:          id,
		From:        display,
		FromEmail:   fromEmail,
		Subject:     subject,
		ReceivedAt:  message.InternalDate,
		Body:        extractBody(message),
		Attachments: attachments,
	}

	verdict := p.classifier.Classify(ctx, cfg, env, descriptor)
	applied := p.applySideEffects(ctx, gateway, id, verdict, cfg.SafeMode, labelIDs, logf)

	logf("info", fmt.Sprintf("%s from %s: %s (%.2f) %s",
		verdict.Action, fromEmail, verdict.Reason, verdict.Confidence, subject))

	return &model.ResultItem{
		ID:            id,
		From:          display,
		Subject:       subject,
		ReceivedAt:    message.InternalDate,
		Verdict:       verdict,
		LabelsApplied: applied,
		Attachments:   Summaries(attachments),
	}, true
}

// applySideEffects labels and optionally trashes one message based on its
// verdict. Safe mode replaces the trash call with a REVIEW_SPAM label so a
// wrong verdict stays recoverable. Mutation failures are logged and the
// message stays in the result set.
func (p *Pipeline) applySideEffects(
	ctx context.Context,
	gateway Gateway,
	id string,
	verdict model.Verdict,
	safeMode bool,
	labelIDs map[string]string,
	logf RunLogger,
) []string {
	var names []string
	trash := false

	if verdict.Action == model.ActionTrash || verdict.IsScam {
		names = append(names, LabelScam)
		if safeMode {
			names = append(names, LabelReviewSpam)
		} else {
			trash = true
		}
	}
	if verdict.Action == model.ActionImportant || verdict.IsImportant {
		names = append(names, LabelImportantToMe)
	}

	applied := []string{}
	var ids []string
	for _, name := range names {
		if labelID, ok := labelIDs[name]; ok {
			ids = append(ids, labelID)
			applied = append(applied, name)
		}
	}
	if len(ids) > 0 {
		if err := gateway.ApplyLabels(ctx, id, ids); err != nil {
			p.logger.Warn("Label apply failed", zap.String("message_id", id), zap.Error(err))
			logf("warn", fmt.Sprintf("Could not label message %s: %v", id, err))
			applied = []string{}
		}
	}

	if trash {
		if err := gateway.TrashMessage(ctx, id); err != nil {
			p.logger.Warn("Trash failed", zap.String("message_id", id), zap.Error(err))
			logf("warn", fmt.Sprintf("Could not trash message %s: %v", id, err))
		}
	}

	return applied
}

var addressPattern = regexp.MustCompile(`^(.*?)<([^>]+)>$`)

// ParseAddress splits a From header into display form and bare lowercase
// address. A header without angle brackets is treated as a bare address.
func ParseAddress(header string) (display, email string) {
	header = strings.TrimSpace(header)
	if m := addressPattern.FindStringSubmatch(header); m != nil {
		display = strings.Trim(strings.TrimSpace(m[1]), `"`)
		email = strings.ToLower(strings.TrimSpace(m[2]))
		if display == "" {
			display = email
		}
		return display, email
	}
	return header, strings.ToLower(header)
}

// SenderIsOmitted matches an address against the omitted list. Entries
// match exactly, as a bare domain, or as an @-prefixed suffix.
func SenderIsOmitted(email string, omitted []string) bool {
	if email == "" {
		return false
	}
	email = strings.ToLower(email)
	domain := ""
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain = email[at+1:]
	}
	for _, entry := range omitted {
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "@") {
			if strings.HasSuffix(email, entry) {
				return true
			}
			continue
		}
		if email == entry || (domain != "" && domain == entry) {
			return true
		}
	}
	return false
}

// extractBody collects text/plain part bodies, falling back to the snippet.
func extractBody(message *model.RawMessage) string {
	if message.Payload == nil {
		return message.Snippet
	}
	var parts []*model.Part
	flattenParts(message.Payload, &parts)

	var chunks []string
	for _, part := range parts {
		if part.Filename != "" || len(part.Data) == 0 {
			continue
		}
		if strings.HasPrefix(part.MimeType, "text/plain") {
			chunks = append(chunks, string(part.Data))
		}
	}
	if len(chunks) == 0 {
		return message.Snippet
	}
	return strings.Join(chunks, "\n")
}
