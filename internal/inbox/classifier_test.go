package inbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nalgeon/be"
	"go.uber.org/zap"

	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
)

func toolCallResponse(args string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"tool_calls": []map[string]any{{
					"function": map[string]any{
						"name":      "set_classification",
						"arguments": args,
					},
				}},
			},
		}},
	}
}

func classifierServer(t *testing.T, handler http.HandlerFunc) *OpenAIClassifier {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewOpenAIClassifier("test-key", ts.URL, zap.NewNop())
}

func testEnvelope() *model.Envelope {
	return &model.Envelope{
		ID:      "m1",
		From:    "Sender <sender@example.com>",
		Subject: "hello",
		Body:    "body text",
	}
}

func TestClassifyToolCall(t *testing.T) {
	c := classifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		be.Equal(t, r.URL.Path, "/chat/completions")
		be.Equal(t, r.Header.Get("Authorization"), "Bearer test-key")

		var payload map[string]any
		be.Err(t, json.NewDecoder(r.Body).Decode(&payload), nil)
		be.Equal(t, payload["model"], runconfig.DefaultModel)

		json.NewEncoder(w).Encode(toolCallResponse(
			`{"action":"IMPORTANT","is_scam":false,"is_important":false,"confidence":0.87,"reason":"sponsorship offer"}`,
		))
	})

	v := c.Classify(context.Background(), runconfig.Build(nil, nil), testEnvelope(), "")
	be.Equal(t, v.Action, model.ActionImportant)
	// IMPORTANT implies is_important even when the model says otherwise
	be.True(t, v.IsImportant)
	be.Equal(t, v.Confidence, 0.87)
	be.Equal(t, v.Reason, "sponsorship offer")
}

func TestClassifyInlineJSONFallback(t *testing.T) {
	c := classifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": `Here you go: {"action":"KEEP","is_scam":false,"is_important":false,"confidence":0.6,"reason":"ok"}`,
				},
			}},
		})
	})

	v := c.Classify(context.Background(), runconfig.Build(nil, nil), testEnvelope(), "")
	be.Equal(t, v.Action, model.ActionKeep)
	be.Equal(t, v.Confidence, 0.6)
}

func TestClassifyServerErrorFallsBack(t *testing.T) {
	c := classifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	v := c.Classify(context.Background(), runconfig.Build(nil, nil), testEnvelope(), "")
	be.Equal(t, v.Action, model.ActionKeep)
	be.True(t, !v.IsScam)
	be.Equal(t, v.Confidence, 0.2)
	be.True(t, strings.HasPrefix(v.Reason, "OpenAI error:"))
}

func TestClassifyGarbagePayloadFallsBack(t *testing.T) {
	c := classifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(toolCallResponse(`not json at all`))
	})

	v := c.Classify(context.Background(), runconfig.Build(nil, nil), testEnvelope(), "")
	be.Equal(t, v.Action, model.ActionKeep)
	be.True(t, strings.HasPrefix(v.Reason, "OpenAI error:"))
}

func TestClassifyMissingAPIKey(t *testing.T) {
	c := NewOpenAIClassifier("", "", zap.NewNop())

	v := c.Classify(context.Background(), runconfig.Build(nil, nil), testEnvelope(), "")
	be.Equal(t, v.Action, model.ActionKeep)
	be.Equal(t, v.Confidence, 0.2)
}

func TestNormalizeVerdict(t *testing.T) {
	v := normalizeVerdict(&rawVerdict{Action: "DESTROY", Confidence: 4, Reason: strings.Repeat("r", 400)})
	be.Equal(t, v.Action, model.ActionKeep)
	be.Equal(t, v.Confidence, 1.0)
	be.Equal(t, len(v.Reason), 300)

	v = normalizeVerdict(&rawVerdict{Action: "TRASH", Confidence: -1})
	be.Equal(t, v.Action, model.ActionTrash)
	be.Equal(t, v.Confidence, 0.0)
}

func TestSupportsVision(t *testing.T) {
	be.True(t, supportsVision("gpt-4o"))
	be.True(t, supportsVision("gpt-4.1-mini"))
	be.True(t, supportsVision("GPT-5-turbo"))
	be.True(t, !supportsVision("o3-mini"))
	be.True(t, !supportsVision("davinci"))
}

func TestDescribeImportanceDefault(t *testing.T) {
	c := NewOpenAIClassifier("", "", zap.NewNop())
	be.Equal(t, c.DescribeImportance(context.Background(), nil), DefaultDescriptor)
}

func TestDescribeImportanceRewrite(t *testing.T) {
	c := classifierServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"content": "\"invoices and contracts\"\n"},
			}},
		})
	})

	got := c.DescribeImportance(context.Background(), model.Settings{"importantDesc": "stuff about invoices"})
	be.Equal(t, got, "invoices and contracts")
}

func TestFallbackVerdictNeverTrash(t *testing.T) {
	v := FallbackVerdict("timeout")
	be.Equal(t, v.Action, model.ActionKeep)
	be.True(t, !v.IsScam)
	be.True(t, !v.IsImportant)
	be.Equal(t, v.Reason, "OpenAI error: timeout")
}
