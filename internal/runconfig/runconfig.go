// Package runconfig normalizes loosely-typed user settings and call-site
// overrides into the fixed-shape, clamped configuration one inbox run uses.
package runconfig

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"inboxvetter/internal/model"
)

const (
	DefaultGmailQuery      = "label:inbox"
	DefaultModel           = "gpt-4.1-mini"
	DefaultMaxAttachmentMB = 5
	DefaultMaxImages       = 3
	DefaultMaxPdfTextChars = 4000
	DefaultGmailMaxResults = 200
	DefaultWindowDays      = 7
)

// RunConfig is one run's validated, bounded configuration. All numeric
// fields are clamped at construction; GmailQuery carries the effective
// newer_than window clause.
type RunConfig struct {
	SafeMode         bool
	AllowAttachments bool
	MaxAttachmentMB  float64
	MaxImages        int
	MaxPdfTextChars  int
	GmailQuery       string
	GmailQueryRaw    string
	GmailMaxResults  int
	WindowDays       int
	Model            string
}

// Values is the loose input shape accepted at the boundary.
type Values = map[string]any

// Build merges settings and overrides into a RunConfig. Total function:
// every input is defaulted and clamped, it never fails.
func Build(settings model.Settings, overrides Values) RunConfig {
	pick := func(key string) any {
		if overrides != nil {
			if v, ok := overrides[key]; ok && v != nil {
				return v
			}
		}
		if settings != nil {
			if v, ok := settings[key]; ok && v != nil {
				return v
			}
		}
		return nil
	}

	windowDays := NumberFrom(pick("windowDays"), DefaultWindowDays, Bounds{Min: 1, Max: 30, Round: true})
	rawQuery := strings.TrimSpace(StringFrom(pick("gmailQuery"), DefaultGmailQuery))
	if rawQuery == "" {
		rawQuery = DefaultGmailQuery
	}

	return RunConfig{
		SafeMode:         BoolFrom(pick("safeMode"), true),
		AllowAttachments: BoolFrom(pick("allowAttachments"), true),
		MaxAttachmentMB:  NumberFrom(pick("maxAttachmentMB"), DefaultMaxAttachmentMB, Bounds{Min: 1}),
		MaxImages:        int(NumberFrom(pick("maxImages"), DefaultMaxImages, Bounds{Min: 0, Round: true})),
		MaxPdfTextChars:  int(NumberFrom(pick("maxPdfTextChars"), DefaultMaxPdfTextChars, Bounds{Min: 500, Round: true})),
		GmailMaxResults:  int(NumberFrom(pick("gmailMaxResults"), DefaultGmailMaxResults, Bounds{Min: 1, Max: 500, Round: true})),
		WindowDays:       int(windowDays),
		GmailQuery:       NormalizeQuery(rawQuery, int(windowDays)),
		GmailQueryRaw:    rawQuery,
		Model:            StringFrom(pick("model"), DefaultModel),
	}
}

// Bounds constrain a parsed number. Max==0 means unbounded above.
type Bounds struct {
	Min   float64
	Max   float64
	Round bool
}

// BoolFrom parses loose boolean forms: bools, numbers, and the string
// tokens true/1/yes/on and false/0/no/off. Anything else keeps fallback.
func BoolFrom(value any, fallback bool) bool {
	switch v := value.(type) {
	case nil:
		return fallback
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		normalized := strings.ToLower(strings.TrimSpace(v))
		switch normalized {
		case "":
			return fallback
		case "false", "0", "no", "off":
			return false
		case "true", "1", "yes", "on":
			return true
		}
		return fallback
	}
	return fallback
}

// NumberFrom parses loose numeric forms and clamps into bounds. Non-finite
// or unparseable values keep fallback.
func NumberFrom(value any, fallback float64, bounds Bounds) float64 {
	num, ok := toFloat(value)
	if !ok || math.IsNaN(num) || math.IsInf(num, 0) {
		num = fallback
	}
	if bounds.Round {
		num = math.Round(num)
	}
	if num < bounds.Min {
		num = bounds.Min
	}
	if bounds.Max > 0 && num > bounds.Max {
		num = bounds.Max
	}
	return num
}

// StringFrom returns a trimmed string form, or fallback when empty.
func StringFrom(value any, fallback string) string {
	switch v := value.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case fmt.Stringer:
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return fallback
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		var f float64
		if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

var windowClausePattern = regexp.MustCompile(`(?i)(^|\s)newer_than:\d+d(\s|$)`)

// NormalizeQuery appends a newer_than:<d>d clause bounding result age,
// unless the query already carries a window clause of its own.
func NormalizeQuery(query string, windowDays int) string {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		trimmed = DefaultGmailQuery
	}
	if windowDays < 1 {
		windowDays = 1
	}
	if windowClausePattern.MatchString(trimmed) {
		return trimmed
	}
	return fmt.Sprintf("%s newer_than:%dd", trimmed, windowDays)
}

// OmittedSenders parses the comma-separated omission list from settings
// into lowercase entries.
func OmittedSenders(settings model.Settings) []string {
	raw := ""
	if settings != nil {
		raw = StringFrom(settings["omittedSenders"], "")
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// ImportanceDescription returns the user's free-text description of what
// makes an email important.
func ImportanceDescription(settings model.Settings) string {
	if settings == nil {
		return ""
	}
	return StringFrom(settings["importantDesc"], "")
}
