package inbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
	"inboxvetter/pkg/metrics"
)

// cleanupTimeout bounds the persistence calls that release the active
// flag. These run on a context detached from the caller so a canceled
// run can still hand the flag back.
const cleanupTimeout = 10 * time.Second

// RunContext is the state snapshot handed to a run that won the active
// flag. The run owns the flag until FinalizeRun or FailRun releases it.
type RunContext struct {
	Email        string
	Settings     model.Settings
	ProcessedIDs []string
	Logs         []model.LogEntry
	StartedAt    time.Time
}

// FinalizeInput carries everything a completed run persists in one atomic
// step: the report, the grown dedup set, the trimmed logs, and the
// released active flag.
type FinalizeInput struct {
	Email      string
	Report     *model.ReportRecord
	NewIDs     []string
	Logs       []model.LogEntry
	NextRunAt  *time.Time
	FinishedAt time.Time
}

// AlreadyActiveError means BeginRun lost the race: another run holds the
// user's active flag.
type AlreadyActiveError struct {
	State *model.VetterState
}

func (e *AlreadyActiveError) Error() string {
	return "a run is already active for this user"
}

// StateStore is the persistence boundary of the run lifecycle. BeginRun
// must be atomic: exactly one of N concurrent calls for the same user may
// succeed, the rest get *AlreadyActiveError.
type StateStore interface {
	BeginRun(ctx context.Context, email string) (*RunContext, error)
	FinalizeRun(ctx context.Context, input FinalizeInput) error
	FailRun(ctx context.Context, email string, logs []model.LogEntry) error
	GetState(ctx context.Context, email string) (*model.VetterState, error)
}

// Runner executes one full vetting run for a user: acquire the active
// flag, drive the pipeline, persist the report and state, release the
// flag. Exactly one of FinalizeRun or FailRun is reached on every path
// that got past BeginRun.
type Runner struct {
	store     StateStore
	pipeline  *Pipeline
	reportDir string
	logger    *zap.Logger
}

func NewRunner(store StateStore, pipeline *Pipeline, reportDir string, logger *zap.Logger) *Runner {
	return &Runner{
		store:     store,
		pipeline:  pipeline,
		reportDir: reportDir,
		logger:    logger,
	}
}

// Execute runs the full lifecycle. Trigger is recorded in metrics and the
// report description ("manual" or "scheduled"). A conflicting run returns
// *AlreadyActiveError unwrapped so callers can map it to their surface.
func (r *Runner) Execute(
	ctx context.Context,
	email string,
	overrides runconfig.Values,
	trigger string,
	nextRunAt *time.Time,
) (*model.ReportRecord, error) {
	runCtx, err := r.store.BeginRun(ctx, email)
	if err != nil {
		if _, ok := err.(*AlreadyActiveError); ok {
			metrics.RecordRun(trigger, "conflict")
		}
		return nil, err
	}

	ring := model.NewLogRing(model.DefaultLogCapacity, runCtx.Logs)
	logf := func(level, message string) {
		ring.Append(level, message)
	}
	logf("info", fmt.Sprintf("Run started (%s)", trigger))

	cfg := runconfig.Build(runCtx.Settings, overrides)
	processed := make(map[string]bool, len(runCtx.ProcessedIDs))
	for _, id := range runCtx.ProcessedIDs {
		processed[id] = true
	}

	outcome, err := r.pipeline.Run(ctx, email, cfg, runCtx.Settings, processed, logf)
	if err != nil {
		return nil, r.failRun(ctx, email, ring, trigger, err)
	}

	now := time.Now().UTC()
	htmlBody := RenderReport(email, outcome.Descriptor, outcome.Results, outcome.Stats, now)
	filename, path, err := WriteReport(r.reportDir, email, now, htmlBody)
	if err != nil {
		return nil, r.failRun(ctx, email, ring, trigger, err)
	}

	resultsJSON, err := json.Marshal(outcome.Results)
	if err != nil {
		return nil, r.failRun(ctx, email, ring, trigger, err)
	}

	report := &model.ReportRecord{
		ID:    newReportID(),
		Email: email,
		Title: ReportTitle(outcome.Stats),
		Description: fmt.Sprintf("Automated inbox review of %d messages (%s trigger).",
			outcome.Stats.Reviewed+outcome.Stats.Skipped, trigger),
		Snippet:   ReportSnippet(outcome.Stats),
		Status:    ReportStatus(outcome.Stats),
		CreatedAt: now,
		Meta: model.ReportMeta{
			Descriptor: outcome.Descriptor,
			Stats:      outcome.Stats,
			ReportFile: filename,
			ReportPath: path,
			Results:    resultsJSON,
		},
	}

	logf("info", fmt.Sprintf("Report %s written (%s)", report.ID, filename))

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	err = r.store.FinalizeRun(finalizeCtx, FinalizeInput{
		Email:      email,
		Report:     report,
		NewIDs:     outcome.ProcessedIDs,
		Logs:       ring.Entries(),
		NextRunAt:  nextRunAt,
		FinishedAt: now,
	})
	if err != nil {
		r.logger.Error("Run finalize failed",
			zap.String("email", email),
			zap.String("report_id", report.ID),
			zap.Error(err),
		)
		metrics.RecordRun(trigger, "failed")
		return nil, fmt.Errorf("finalize run: %w", err)
	}

	metrics.RecordRun(trigger, "completed")
	r.logger.Info("Run completed",
		zap.String("email", email),
		zap.String("report_id", report.ID),
		zap.Int("reviewed", outcome.Stats.Reviewed),
		zap.Int("important", outcome.Stats.Important),
		zap.Int("trash", outcome.Stats.Trash),
	)
	return report, nil
}

// failRun releases the active flag with the failure logged, then returns
// the original cause. The release runs on a context detached from the
// run's own: when the cause is a cancellation, the flag must still come
// back or every later BeginRun conflicts.
func (r *Runner) failRun(ctx context.Context, email string, ring *model.LogRing, trigger string, cause error) error {
	ring.Append("error", fmt.Sprintf("Run failed: %v", cause))
	metrics.RecordRun(trigger, "failed")

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := r.store.FailRun(releaseCtx, email, ring.Entries()); err != nil {
		r.logger.Error("Releasing active flag after failure also failed",
			zap.String("email", email),
			zap.Error(err),
		)
	}
	r.logger.Warn("Run failed", zap.String("email", email), zap.Error(cause))
	return cause
}

func newReportID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return fmt.Sprintf("report-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
