package inbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
)

// ExtractAttachments walks the message's MIME part tree and returns bounded
// attachment payloads: inline data URIs for images, truncated text excerpts
// for pdf/text parts, size-only records otherwise. Oversized parts and
// failed fetches become skipped records; a single bad attachment never
// fails the message. At most cfg.MaxImages images are kept, earliest first,
// followed by all non-image attachments.
func ExtractAttachments(
	ctx context.Context,
	gateway Gateway,
	message *model.RawMessage,
	cfg runconfig.RunConfig,
	logger *zap.Logger,
) []model.Attachment {
	if !cfg.AllowAttachments || message == nil || message.Payload == nil {
		return nil
	}

	var parts []*model.Part
	flattenParts(message.Payload, &parts)

	var attachments []model.Attachment
	imageCount := 0

	for _, part := range parts {
		if part.Filename == "" || (part.AttachmentID == "" && len(part.Data) == 0) {
			continue
		}

		filename := part.Filename
		mimeType := part.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		data := part.Data
		if part.AttachmentID != "" {
			fetched, err := gateway.GetAttachment(ctx, message.ID, part.AttachmentID)
			if err != nil {
				logger.Warn("Attachment fetch failed",
					zap.String("message_id", message.ID),
					zap.String("filename", filename),
					zap.Error(err),
				)
				attachments = append(attachments, model.Attachment{
					Kind:     model.AttachmentSkipped,
					Filename: filename,
					MimeType: mimeType,
					Reason:   fmt.Sprintf("Fetch failed: %v", err),
				})
				continue
			}
			data = fetched
		}
		if len(data) == 0 {
			continue
		}

		sizeMB := float64(len(data)) / (1024 * 1024)
		if sizeMB > cfg.MaxAttachmentMB {
			attachments = append(attachments, model.Attachment{
				Kind:     model.AttachmentSkipped,
				Filename: filename,
				MimeType: mimeType,
				SizeMB:   sizeMB,
				Reason:   fmt.Sprintf("Too large (%.1f MB)", sizeMB),
			})
			continue
		}

		switch {
		case strings.HasPrefix(mimeType, "image/"):
			if imageCount >= cfg.MaxImages {
				continue
			}
			imageCount++
			attachments = append(attachments, model.Attachment{
				Kind:     model.AttachmentImage,
				Filename: filename,
				MimeType: mimeType,
				SizeMB:   sizeMB,
				DataURL:  fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
			})
		case mimeType == "application/pdf":
			attachments = append(attachments, model.Attachment{
				Kind:     model.AttachmentPDF,
				Filename: filename,
				MimeType: mimeType,
				SizeMB:   sizeMB,
				Text:     pdfText(data, filename, sizeMB, cfg.MaxPdfTextChars),
			})
		case strings.HasPrefix(mimeType, "text/"):
			attachments = append(attachments, model.Attachment{
				Kind:     model.AttachmentText,
				Filename: filename,
				MimeType: mimeType,
				SizeMB:   sizeMB,
				Text:     truncate(string(data), cfg.MaxPdfTextChars),
			})
		default:
			attachments = append(attachments, model.Attachment{
				Kind:     model.AttachmentOther,
				Filename: filename,
				MimeType: mimeType,
				SizeMB:   sizeMB,
			})
		}
	}

	// Images first (already capped, in encounter order), then the rest.
	ordered := make([]model.Attachment, 0, len(attachments))
	for _, att := range attachments {
		if att.Kind == model.AttachmentImage {
			ordered = append(ordered, att)
		}
	}
	for _, att := range attachments {
		if att.Kind != model.AttachmentImage {
			ordered = append(ordered, att)
		}
	}
	return ordered
}

func flattenParts(part *model.Part, out *[]*model.Part) {
	if part == nil {
		return
	}
	*out = append(*out, part)
	for _, child := range part.Parts {
		flattenParts(child, out)
	}
}

// pdfText extracts plain text from a PDF, best effort. Extraction failures
// become a placeholder note so the classifier still sees the attachment.
func pdfText(data []byte, filename string, sizeMB float64, maxChars int) string {
	text, err := extractPdfText(data)
	if err != nil || strings.TrimSpace(text) == "" {
		return fmt.Sprintf("[PDF %s present, %.2f MB. Could not extract text.]", filename, sizeMB)
	}
	return truncate(text, maxChars)
}

func extractPdfText(data []byte) (text string, err error) {
	// The pdf library panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SummarizeAttachments renders a short per-kind count line, e.g.
// "2 img, 1 pdf, 1 skipped".
func SummarizeAttachments(list []model.Attachment) string {
	counts := map[model.AttachmentKind]int{}
	for _, att := range list {
		counts[att.Kind]++
	}
	var parts []string
	if n := counts[model.AttachmentImage]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d img", n))
	}
	if n := counts[model.AttachmentPDF]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d pdf", n))
	}
	if n := counts[model.AttachmentText]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d txt", n))
	}
	if n := counts[model.AttachmentOther]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d other", n))
	}
	if n := counts[model.AttachmentSkipped]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", n))
	}
	return strings.Join(parts, ", ")
}

// Summaries converts attachments to their durable, payload-free form.
func Summaries(list []model.Attachment) []model.AttachmentSummary {
	out := make([]model.AttachmentSummary, 0, len(list))
	for _, att := range list {
		out = append(out, model.AttachmentSummary{
			Kind:     att.Kind,
			Filename: att.Filename,
			MimeType: att.MimeType,
			SizeMB:   att.SizeMB,
			Summary:  SummarizeAttachments([]model.Attachment{att}),
		})
	}
	return out
}
