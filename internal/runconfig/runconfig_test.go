package runconfig

import (
	"testing"

	"github.com/nalgeon/be"

	"inboxvetter/internal/model"
)

func TestBuildDefaults(t *testing.T) {
	cfg := Build(nil, nil)

	be.True(t, cfg.SafeMode)
	be.True(t, cfg.AllowAttachments)
	be.Equal(t, cfg.MaxAttachmentMB, float64(DefaultMaxAttachmentMB))
	be.Equal(t, cfg.MaxImages, DefaultMaxImages)
	be.Equal(t, cfg.MaxPdfTextChars, DefaultMaxPdfTextChars)
	be.Equal(t, cfg.GmailMaxResults, DefaultGmailMaxResults)
	be.Equal(t, cfg.WindowDays, DefaultWindowDays)
	be.Equal(t, cfg.Model, DefaultModel)
	be.Equal(t, cfg.GmailQuery, "label:inbox newer_than:7d")
}

func TestBuildOverridesBeatSettings(t *testing.T) {
	settings := model.Settings{
		"safeMode":   true,
		"maxImages":  float64(2),
		"windowDays": float64(3),
	}
	overrides := Values{
		"safeMode":  "false",
		"maxImages": "5",
	}

	cfg := Build(settings, overrides)

	be.True(t, !cfg.SafeMode)
	be.Equal(t, cfg.MaxImages, 5)
	be.Equal(t, cfg.WindowDays, 3)
}

func TestBuildClamps(t *testing.T) {
	cfg := Build(model.Settings{
		"windowDays":      float64(500),
		"gmailMaxResults": float64(99999),
		"maxPdfTextChars": float64(1),
		"maxAttachmentMB": float64(-2),
	}, nil)

	be.Equal(t, cfg.WindowDays, 30)
	be.Equal(t, cfg.GmailMaxResults, 500)
	be.Equal(t, cfg.MaxPdfTextChars, 500)
	be.Equal(t, cfg.MaxAttachmentMB, 1.0)
}

func TestBoolFromTokens(t *testing.T) {
	for _, v := range []any{true, "true", "1", "yes", "on", "YES", float64(1)} {
		be.True(t, BoolFrom(v, false))
	}
	for _, v := range []any{false, "false", "0", "no", "off", float64(0)} {
		be.True(t, !BoolFrom(v, true))
	}
	// unparseable falls back
	be.True(t, BoolFrom("maybe", true))
	be.True(t, !BoolFrom("maybe", false))
	be.True(t, BoolFrom(nil, true))
}

func TestNumberFromStrings(t *testing.T) {
	be.Equal(t, NumberFrom("12.5", 1, Bounds{Min: 1}), 12.5)
	be.Equal(t, NumberFrom("junk", 7, Bounds{Min: 1}), 7.0)
	be.Equal(t, NumberFrom(float64(0.2), 1, Bounds{Min: 1}), 1.0)
	be.Equal(t, NumberFrom(float64(9.6), 1, Bounds{Min: 1, Max: 10, Round: true}), 10.0)
}

func TestNormalizeQueryWindow(t *testing.T) {
	be.Equal(t, NormalizeQuery("label:inbox", 7), "label:inbox newer_than:7d")
	// an existing window clause is respected
	be.Equal(t, NormalizeQuery("newer_than:3d is:unread", 7), "newer_than:3d is:unread")
	be.Equal(t, NormalizeQuery("from:x NEWER_THAN:14d", 7), "from:x NEWER_THAN:14d")
	// newer_than inside another token does not count
	be.Equal(t, NormalizeQuery("subject:newer_than:5dworth", 7), "subject:newer_than:5dworth newer_than:7d")
}

func TestOmittedSenders(t *testing.T) {
	senders := OmittedSenders(model.Settings{
		"omittedSenders": "Boss@Corp.com, corp.org , @news.example.com",
	})

	be.Equal(t, senders, []string{"boss@corp.com", "corp.org", "@news.example.com"})
	be.Equal(t, len(OmittedSenders(nil)), 0)
}

func TestImportanceDescription(t *testing.T) {
	be.Equal(t, ImportanceDescription(model.Settings{"importantDesc": " invoices "}), "invoices")
	be.Equal(t, ImportanceDescription(nil), "")
}
