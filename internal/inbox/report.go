package inbox

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inboxvetter/internal/model"
)

// ReportTitle names the report after its most urgent content.
func ReportTitle(stats model.RunStats) string {
	if stats.Important > 0 {
		return fmt.Sprintf("Important inbox alerts (%d)", stats.Important)
	}
	return fmt.Sprintf("Inbox review (%d messages)", stats.Reviewed)
}

// ReportSnippet is the one-line summary shown in report listings.
func ReportSnippet(stats model.RunStats) string {
	return fmt.Sprintf("Important %d • Trash %d • Keep %d", stats.Important, stats.Trash, stats.Keep)
}

// ReportStatus marks reports with important findings as urgent.
func ReportStatus(stats model.RunStats) string {
	if stats.Important > 0 {
		return "urgent"
	}
	return "completed"
}

// ReportFilename derives the report file name from its generation time.
// Colons and dots are not filesystem-safe everywhere, so they become dashes.
func ReportFilename(generatedAt time.Time) string {
	iso := generatedAt.UTC().Format("2006-01-02T15:04:05.000Z")
	safe := strings.NewReplacer(":", "-", ".", "-").Replace(iso)
	return "inbox_report-" + safe + ".html"
}

// WriteReport persists the rendered report under a per-user directory and
// returns the file name and full path.
func WriteReport(baseDir, email string, generatedAt time.Time, htmlBody string) (filename, path string, err error) {
	dir := filepath.Join(baseDir, sanitizeDirName(email))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create report dir: %w", err)
	}
	filename = ReportFilename(generatedAt)
	path = filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(htmlBody), 0o644); err != nil {
		return "", "", fmt.Errorf("write report: %w", err)
	}
	return filename, path, nil
}

func sanitizeDirName(email string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_', r == '@':
			return r
		default:
			return '_'
		}
	}, email)
}

const (
	badgeColorImportant = "#3b82f6"
	badgeColorTrash     = "#ef4444"
	badgeColorKeep      = "#10b981"
)

func badgeColor(action model.Action) string {
	switch action {
	case model.ActionImportant:
		return badgeColorImportant
	case model.ActionTrash:
		return badgeColorTrash
	default:
		return badgeColorKeep
	}
}

// RenderReport produces the self-contained HTML report for one run. All
// user-controlled strings are escaped; each row deep-links to the message
// in the Gmail web UI.
func RenderReport(email, descriptor string, results []model.ResultItem, stats model.RunStats, generatedAt time.Time) string {
	var b strings.Builder

	b.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>` + html.EscapeString(ReportTitle(stats)) + `</title>
<style>
  body { background: #0f172a; color: #e2e8f0; font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; padding: 24px; }
  h1 { font-size: 20px; margin: 0 0 4px; }
  .meta { color: #94a3b8; font-size: 13px; margin-bottom: 20px; }
  .stats { display: flex; gap: 16px; margin-bottom: 24px; }
  .stat { background: #1e293b; border-radius: 8px; padding: 12px 18px; }
  .stat .num { font-size: 22px; font-weight: 600; }
  .stat .label { color: #94a3b8; font-size: 12px; text-transform: uppercase; }
  .msg { background: #1e293b; border-radius: 10px; padding: 16px; margin-bottom: 12px; }
  .msg .head { display: flex; align-items: center; gap: 10px; margin-bottom: 6px; }
  .badge { border-radius: 999px; color: #fff; font-size: 11px; font-weight: 600; padding: 3px 10px; }
  .pill { background: #7f1d1d; border-radius: 999px; color: #fecaca; font-size: 11px; padding: 3px 10px; }
  .idx { color: #475569; font-size: 12px; }
  .from { color: #94a3b8; font-size: 13px; }
  .subject { font-weight: 600; }
  .reason { color: #cbd5e1; font-size: 13px; margin-top: 6px; }
  .labels, .atts { color: #64748b; font-size: 12px; margin-top: 6px; }
  a { color: #60a5fa; text-decoration: none; }
  .empty { color: #94a3b8; padding: 40px 0; text-align: center; }
</style>
</head>
<body>
`)

	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(ReportTitle(stats)))
	fmt.Fprintf(&b, `<div class="meta">%s &middot; %s &middot; important = %s</div>`+"\n",
		html.EscapeString(email),
		generatedAt.UTC().Format("2006-01-02 15:04 UTC"),
		html.EscapeString(descriptor),
	)

	b.WriteString(`<div class="stats">` + "\n")
	for _, s := range []struct {
		num   int
		label string
	}{
		{stats.Reviewed, "reviewed"},
		{stats.Important, "important"},
		{stats.Trash, "trash"},
		{stats.Keep, "keep"},
		{stats.Skipped, "skipped"},
	} {
		fmt.Fprintf(&b, `<div class="stat"><div class="num">%d</div><div class="label">%s</div></div>`+"\n", s.num, s.label)
	}
	b.WriteString("</div>\n")

	if len(results) == 0 {
		b.WriteString(`<div class="empty">No new messages were found in this window.</div>` + "\n")
	}

	for i, item := range results {
		b.WriteString(`<div class="msg">` + "\n")
		b.WriteString(`<div class="head">` + "\n")
		fmt.Fprintf(&b, `<span class="idx">#%d</span>`+"\n", i+1)
		fmt.Fprintf(&b, `<span class="badge" style="background:%s">%s</span>`+"\n",
			badgeColor(item.Verdict.Action), html.EscapeString(string(item.Verdict.Action)))
		if item.Verdict.IsScam {
			b.WriteString(`<span class="pill">scam</span>` + "\n")
		}
		fmt.Fprintf(&b, `<span class="subject"><a href="https://mail.google.com/mail/u/0/#all/%s">%s</a></span>`+"\n",
			html.EscapeString(item.ID), html.EscapeString(orDefault(item.Subject, "(no subject)")))
		b.WriteString("</div>\n")
		fmt.Fprintf(&b, `<div class="from">%s &middot; %s &middot; confidence %.2f</div>`+"\n",
			html.EscapeString(item.From),
			item.ReceivedAt.UTC().Format("2006-01-02 15:04"),
			item.Verdict.Confidence,
		)
		if item.Verdict.Reason != "" {
			fmt.Fprintf(&b, `<div class="reason">%s</div>`+"\n", html.EscapeString(item.Verdict.Reason))
		}
		if len(item.LabelsApplied) > 0 {
			fmt.Fprintf(&b, `<div class="labels">labels: %s</div>`+"\n",
				html.EscapeString(strings.Join(item.LabelsApplied, ", ")))
		}
		if len(item.Attachments) > 0 {
			var atts []string
			for _, a := range item.Attachments {
				atts = append(atts, a.Summary)
			}
			fmt.Fprintf(&b, `<div class="atts">attachments: %s</div>`+"\n",
				html.EscapeString(strings.Join(atts, "; ")))
		}
		b.WriteString("</div>\n")
	}

	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
