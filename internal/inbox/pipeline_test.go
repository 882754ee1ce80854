package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"go.uber.org/zap"

	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
)

type fakeGateway struct {
	ids         []string
	listErr     error
	listGate    chan struct{} // optional: blocks ListMessageIDs until closed
	listEntered chan struct{} // optional: signaled when ListMessageIDs starts
	messages    map[string]*model.RawMessage
	getErr      map[string]error
	attData     map[string][]byte
	attErr      map[string]error
	labels      map[string]string
	ensureErr   error
	applyErr    error

	applied map[string][]string
	trashed []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		messages: map[string]*model.RawMessage{},
		getErr:   map[string]error{},
		attData:  map[string][]byte{},
		attErr:   map[string]error{},
		labels: map[string]string{
			LabelScam:          "L1",
			LabelReviewSpam:    "L2",
			LabelImportantToMe: "L3",
		},
		applied: map[string][]string{},
	}
}

func (g *fakeGateway) ListMessageIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	if g.listEntered != nil {
		select {
		case g.listEntered <- struct{}{}:
		default:
		}
	}
	if g.listGate != nil {
		select {
		case <-g.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.ids, nil
}

func (g *fakeGateway) GetMessage(ctx context.Context, id string) (*model.RawMessage, error) {
	if err := g.getErr[id]; err != nil {
		return nil, err
	}
	msg, ok := g.messages[id]
	if !ok {
		return nil, errors.New("no such message")
	}
	return msg, nil
}

func (g *fakeGateway) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if err := g.attErr[attachmentID]; err != nil {
		return nil, err
	}
	return g.attData[attachmentID], nil
}

func (g *fakeGateway) EnsureLabels(ctx context.Context, names []string) (map[string]string, error) {
	if g.ensureErr != nil {
		return nil, g.ensureErr
	}
	return g.labels, nil
}

func (g *fakeGateway) ApplyLabels(ctx context.Context, messageID string, labelIDs []string) error {
	if g.applyErr != nil {
		return g.applyErr
	}
	g.applied[messageID] = append(g.applied[messageID], labelIDs...)
	return nil
}

func (g *fakeGateway) TrashMessage(ctx context.Context, messageID string) error {
	g.trashed = append(g.trashed, messageID)
	return nil
}

type fakeClassifier struct {
	verdicts map[string]model.Verdict
	calls    int
	gate     chan struct{} // optional: blocks Classify until closed
	entered  chan struct{} // optional: signaled when Classify starts
}

func (c *fakeClassifier) Classify(ctx context.Context, cfg runconfig.RunConfig, env *model.Envelope, descriptor string) model.Verdict {
	if c.entered != nil {
		select {
		case c.entered <- struct{}{}:
		default:
		}
	}
	if c.gate != nil {
		<-c.gate
	}
	c.calls++
	if v, ok := c.verdicts[env.ID]; ok {
		return v
	}
	return model.Verdict{Action: model.ActionKeep, Confidence: 0.9, Reason: "fine"}
}

func (c *fakeClassifier) DescribeImportance(ctx context.Context, settings model.Settings) string {
	return "payments"
}

// fakeDeduper records the Seen/MarkProcessed call order alongside any
// other fake appending to the same events slice.
type fakeDeduper struct {
	seen   map[string]bool
	marked []string
	events *[]string
}

func (d *fakeDeduper) Seen(ctx context.Context, scope, id string) bool {
	if d.events != nil {
		*d.events = append(*d.events, "seen:"+id)
	}
	return d.seen[id]
}

func (d *fakeDeduper) MarkProcessed(ctx context.Context, scope, id string) {
	if d.events != nil {
		*d.events = append(*d.events, "mark:"+id)
	}
	d.marked = append(d.marked, id)
}

type recordingClassifier struct {
	fakeClassifier
	events *[]string
}

func (c *recordingClassifier) Classify(ctx context.Context, cfg runconfig.RunConfig, env *model.Envelope, descriptor string) model.Verdict {
	*c.events = append(*c.events, "classify:"+env.ID)
	return c.fakeClassifier.Classify(ctx, cfg, env, descriptor)
}

func staticFactory(g Gateway) GatewayFactory {
	return GatewayFactoryFunc(func(ctx context.Context, email string) (Gateway, error) {
		return g, nil
	})
}

func testMessage(id, from, subject string) *model.RawMessage {
	return &model.RawMessage{
		ID:           id,
		Snippet:      "snippet",
		InternalDate: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Headers: map[string]string{
			"from":    from,
			"subject": subject,
		},
		Payload: &model.Part{
			MimeType: "text/plain",
			Data:     []byte("hello there"),
		},
	}
}

func testPipeline(g Gateway, c Classifier) *Pipeline {
	return NewPipeline(staticFactory(g), c, nil, zap.NewNop())
}

func TestRunSkipsProcessedIDs(t *testing.T) {
	g := newFakeGateway()
	g.ids = []string{"a", "b", "c"}
	g.messages["a"] = testMessage("a", "One <one@x.com>", "s1")
	g.messages["c"] = testMessage("c", "Three <three@x.com>", "s3")

	c := &fakeClassifier{}
	p := testPipeline(g, c)

	out, err := p.Run(context.Background(), "u@x.com", runconfig.Build(nil, nil), nil, map[string]bool{"b": true}, nil)
	be.Err(t, err, nil)
	be.Equal(t, len(out.Results), 2)
	be.Equal(t, out.ProcessedIDs, []string{"a", "c"})
	be.Equal(t, out.Stats.Reviewed, 2)
	be.Equal(t, out.Stats.Keep, 2)
	be.Equal(t, c.calls, 2)
}

func TestRunEmptyInbox(t *testing.T) {
	g := newFakeGateway()
	c := &fakeClassifier{}
	p := testPipeline(g, c)

	out, err := p.Run(context.Background(), "u@x.com", runconfig.Build(nil, nil), nil, nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, len(out.Results), 0)
	be.Equal(t, len(out.ProcessedIDs), 0)
	be.Equal(t, c.calls, 0)
}

func TestRunListingFailure(t *testing.T) {
	g := newFakeGateway()
	g.listErr = errors.New("quota exceeded")
	p := testPipeline(g, &fakeClassifier{})

	_, err := p.Run(context.Background(), "u@x.com", runconfig.Build(nil, nil), nil, nil, nil)
	var listErr *ListingFailedError
	be.True(t, errors.As(err, &listErr))
}

func TestRunSafeModeTrashVerdict(t *testing.T) {
	g := newFakeGateway()
	g.ids = []string{"a"}
	g.messages["a"] = testMessage("a", "Spam <spam@bad.com>", "win money")

	c := &fakeClassifier{verdicts: map[string]model.Verdict{
		"a": {Action: model.ActionTrash, IsScam: true, Confidence: 0.95, Reason: "scam"},
	}}
	p := testPipeline(g, c)

	out, err := p.Run(context.Background(), "u@x.com", runconfig.Build(nil, nil), nil, nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, out.Stats.Trash, 1)
	be.Equal(t, g.applied["a"], []string{"L1", "L2"})
	be.Equal(t, len(g.trashed), 0)
	be.Equal(t, out.Results[0].LabelsApplied, []string{LabelScam, LabelReviewSpam})
}

func TestRunUnsafeModeTrashes(t *testing.T) {
	g := newFakeGateway()
	g.ids = []string{"a"}
	g.messages["a"] = testMessage("a", "Spam <spam@bad.com>", "win money")

	c := &fakeClassifier{verdicts: map[string]model.Verdict{
		"a": {Action: model.ActionTrash, IsScam: true, Confidence: 0.95, Reason: "scam"},
	}}
	p := testPipeline(g, c)

	out, err := p.Run(context.Background(), "u@x.com",
		runconfig.Build(nil, runconfig.Values{"safeMode": false}), nil, nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, g.applied["a"], []string{"L1"})
	be.Equal(t, g.trashed, []string{"a"})
	be.Equal(t, out.Results[0].LabelsApplied, []string{LabelScam})
}

func TestRunImportantLabel(t *testing.T) {
	g := newFakeGateway()
	g.ids = []string{"a"}
	g.messages["a"] = testMessage("a", "Sponsor <deal@brand.com>", "sponsorship offer")

	c := &fakeClassifier{verdicts: map[string]model.Verdict{
		"a": {Action: model.ActionImportant, IsImportant: true, Confidence: 0.9, Reason: "deal"},
	}}
	p := testPipeline(g, c)

	out, err := p.Run(context.Background(), "u@x.com", runconfig.Build(nil, nil), nil, nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, out.Stats.Important, 1)
	be.Equal(t, g.applied["a"], []string{"L3"})
}

func TestRunOmittedSenderSkipsClassifier(t *testing.T) {
	g := newFakeGateway()
	g.ids = []string{"a"}
	g.messages["a"] = testMessage("a", "Boss <boss@corp.com>", "weekly sync")

	c := &fakeClassifier{}
	p := testPipeline(g, c)

	settings := model.Settings{"omittedSenders": "boss@corp.com"}
	out, err := p.Run(context.Background(), "u@x.com", runconfig.Build(settings, nil), settings, nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, c.calls, 0)
	be.Equal(t, out.Stats.Skipped, 1)
	be.Equal(t, out.Stats.Reviewed, 0)
	be.Equal(t, len(out.Results), 1)
	be.Equal(t, out.Results[0].Verdict.Action, model.ActionKeep)
	be.Equal(t, out.Results[0].Verdict.Confidence, 1.0)
	be.Equal(t, len(g.applied["a"]), 0)
	be.Equal(t, out.ProcessedIDs, []string{"a"})
}

func TestRunMarksDedupOnlyAfterReview(t *testing.T) {
	g := newFakeGateway()
	g.ids = []string{"a", "b"}
	g.messages["a"] = testMessage("a", "One <one@x.com>", "s1")
	g.messages["b"] = testMessage("b", "Two <two@x.com>", "s2")

	var events []string
	d := &fakeDeduper{events: &events}
	c := &recordingClassifier{events: &events}
	p := NewPipeline(staticFactory(g), c, d, zap.NewNop())

	out, err := p.Run(context.Background(), "u@x.com", runconfig.Build(nil, nil), nil, nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, out.ProcessedIDs, []string{"a", "b"})

	// listing must not claim anything; each id is marked only once its
	// review ran, so a run dying on "a" leaves "b" open for a re-scan
	be.Equal(t, events, []string{
		"seen:a", "seen:b",
		"classify:a", "mark:a",
		"classify:b", "mark:b",
	})
}

func TestRunSkipsIDsSeenByAnotherReplica(t *testing.T) {
	g := newFakeGateway()
	g.ids = []string{"a", "b"}
	g.messages["b"] = testMessage("b", "Two <two@x.com>", "s2")

	d := &fakeDeduper{seen: map[string]bool{"a": true}}
	c := &fakeClassifier{}
	p := NewPipeline(staticFactory(g), c, d, zap.NewNop())

	out, err := p.Run(context.Background(), "u@x.com", runconfig.Build(nil, nil), nil, nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, out.ProcessedIDs, []string{"b"})
	be.Equal(t, d.marked, []string{"b"})
	be.Equal(t, c.calls, 1)
}

func TestRunFetchFailureStillMarksProcessed(t *testing.T) {
	g := newFakeGateway()
	g.ids = []string{"a", "b"}
	g.getErr["a"] = errors.New("gone")
	g.messages["b"] = testMessage("b", "Two <two@x.com>", "s2")

	p := testPipeline(g, &fakeClassifier{})

	out, err := p.Run(context.Background(), "u@x.com", runconfig.Build(nil, nil), nil, nil, nil)
	be.Err(t, err, nil)
	be.Equal(t, out.ProcessedIDs, []string{"a", "b"})
	be.Equal(t, out.Stats.Skipped, 1)
	be.Equal(t, out.Stats.Reviewed, 1)
	be.Equal(t, len(out.Results), 1)
}

func TestParseAddress(t *testing.T) {
	display, email := ParseAddress(`"Jordan Q" <Jordan@Example.com>`)
	be.Equal(t, display, "Jordan Q")
	be.Equal(t, email, "jordan@example.com")

	display, email = ParseAddress("bare@example.com")
	be.Equal(t, display, "bare@example.com")
	be.Equal(t, email, "bare@example.com")

	display, email = ParseAddress("<only@example.com>")
	be.Equal(t, display, "only@example.com")
	be.Equal(t, email, "only@example.com")
}

func TestSenderIsOmitted(t *testing.T) {
	omitted := []string{"boss@corp.com", "corp.org", "@news.example.com"}

	be.True(t, SenderIsOmitted("boss@corp.com", omitted))
	be.True(t, SenderIsOmitted("BOSS@corp.com", omitted))
	be.True(t, SenderIsOmitted("anyone@corp.org", omitted))
	be.True(t, SenderIsOmitted("digest@news.example.com", omitted))
	be.True(t, !SenderIsOmitted("boss@other.com", omitted))
	be.True(t, !SenderIsOmitted("corp.org@gmail.com", omitted))
	be.True(t, !SenderIsOmitted("", omitted))
}
