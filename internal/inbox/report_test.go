package inbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"inboxvetter/internal/model"
)

func TestReportFilename(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 678000000, time.UTC)
	be.Equal(t, ReportFilename(at), "inbox_report-2026-01-02T03-04-05-678Z.html")
}

func TestReportTitleAndStatus(t *testing.T) {
	urgent := model.RunStats{Reviewed: 5, Important: 2, Trash: 1, Keep: 2}
	be.Equal(t, ReportTitle(urgent), "Important inbox alerts (2)")
	be.Equal(t, ReportStatus(urgent), "urgent")
	be.Equal(t, ReportSnippet(urgent), "Important 2 • Trash 1 • Keep 2")

	calm := model.RunStats{Reviewed: 3, Keep: 3}
	be.Equal(t, ReportTitle(calm), "Inbox review (3 messages)")
	be.Equal(t, ReportStatus(calm), "completed")
}

func TestRenderReportEscapesAndLinks(t *testing.T) {
	results := []model.ResultItem{{
		ID:         "msg123",
		From:       "Evil <evil@x.com>",
		Subject:    `<script>alert("x")</script>`,
		ReceivedAt: time.Now(),
		Verdict: model.Verdict{
			Action:     model.ActionTrash,
			IsScam:     true,
			Confidence: 0.99,
			Reason:     "phishing",
		},
		LabelsApplied: []string{LabelScam, LabelReviewSpam},
	}}
	stats := model.RunStats{Reviewed: 1, Trash: 1}

	html := RenderReport("u@x.com", "payments", results, stats, time.Now())

	be.True(t, strings.Contains(html, "https://mail.google.com/mail/u/0/#all/msg123"))
	be.True(t, !strings.Contains(html, "<script>alert"))
	be.True(t, strings.Contains(html, "&lt;script&gt;"))
	be.True(t, strings.Contains(html, badgeColorTrash))
	be.True(t, strings.Contains(html, `class="pill"`))
	be.True(t, strings.Contains(html, "phishing"))
}

func TestRenderReportEmpty(t *testing.T) {
	html := RenderReport("u@x.com", "payments", nil, model.RunStats{}, time.Now())
	be.True(t, strings.Contains(html, "No new messages"))
	be.True(t, strings.Contains(html, "Inbox review (0 messages)"))
}

func TestWriteReportPerUserDir(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	filename, path, err := WriteReport(dir, "user@example.com", at, "<html></html>")
	be.Err(t, err, nil)
	be.Equal(t, filename, ReportFilename(at))
	be.Equal(t, path, filepath.Join(dir, "user@example.com", filename))

	data, err := os.ReadFile(path)
	be.Err(t, err, nil)
	be.Equal(t, string(data), "<html></html>")
}

func TestSanitizeDirName(t *testing.T) {
	be.Equal(t, sanitizeDirName("user@example.com"), "user@example.com")
	be.Equal(t, sanitizeDirName("weird/..\\name"), "weird_.._name")
}
