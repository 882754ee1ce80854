package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"inboxvetter/internal/model"
)

// toRawMessage converts an API message into the pipeline's representation:
// headers lowercased for case-insensitive lookup, inline body data decoded,
// the part tree preserved.
func toRawMessage(msg *gmailapi.Message) *model.RawMessage {
	raw := &model.RawMessage{
		ID:           msg.Id,
		Snippet:      msg.Snippet,
		InternalDate: time.UnixMilli(msg.InternalDate),
		Headers:      map[string]string{},
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			raw.Headers[strings.ToLower(header.Name)] = header.Value
		}
		raw.Payload = toPart(msg.Payload)
	}
	return raw
}

func toPart(part *gmailapi.MessagePart) *model.Part {
	out := &model.Part{
		Filename: part.Filename,
		MimeType: part.MimeType,
	}

	if part.Body != nil {
		out.AttachmentID = part.Body.AttachmentId
		if part.Body.Data != "" {
			if data, err := decodeBody(part.Body.Data); err == nil {
				out.Data = data
			}
		}
	}

	for _, child := range part.Parts {
		out.Parts = append(out.Parts, toPart(child))
	}
	return out
}

func decodeBody(data string) ([]byte, error) {
	return base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
}
