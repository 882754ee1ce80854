package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"inboxvetter/internal/model"
	"inboxvetter/internal/runconfig"
	"inboxvetter/pkg/circuitbreaker"
	"inboxvetter/pkg/metrics"
)

// DefaultDescriptor parameterizes IMPORTANT when the user gave no
// description, or when rewriting it failed.
const DefaultDescriptor = "sponsorships/brand deals/payments/account security/school/admin"

const classifierBodyLimit = 4000

// OpenAIClassifier calls the OpenAI chat completions API with a strict
// function schema. It fails open: every failure mode degrades to a fixed
// KEEP verdict so one bad call never blocks a run or trashes a message.
type OpenAIClassifier struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewOpenAIClassifier(apiKey, baseURL string, logger *zap.Logger) *OpenAIClassifier {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClassifier{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

var visionModelPattern = regexp.MustCompile(`(?i)^(gpt-5|gpt-4o|gpt-4\.1|gpt-4o-mini|gpt-4\.1-mini)`)
var completionTokenPattern = regexp.MustCompile(`(?i)^(gpt-5|o[0-9])`)

func supportsVision(model string) bool {
	return visionModelPattern.MatchString(model)
}

// FallbackVerdict is what a degraded classification resolves to: never
// TRASH, low confidence, the cause carried in the reason.
func FallbackVerdict(cause string) model.Verdict {
	return model.Verdict{
		Action:      model.ActionKeep,
		IsScam:      false,
		IsImportant: false,
		Confidence:  0.2,
		Reason:      truncate(fmt.Sprintf("OpenAI error: %s", cause), 300),
	}
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type rawVerdict struct {
	Action      string  `json:"action"`
	IsScam      bool    `json:"is_scam"`
	IsImportant bool    `json:"is_important"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

// Classify builds the structured request for one envelope and interprets
// the strictly-typed result. Never returns an error.
func (c *OpenAIClassifier) Classify(
	ctx context.Context,
	cfg runconfig.RunConfig,
	env *model.Envelope,
	descriptor string,
) model.Verdict {
	if descriptor == "" {
		descriptor = DefaultDescriptor
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = runconfig.DefaultModel
	}

	system := fmt.Sprintf(`You are an email screener for the mailbox owner.
Decide if the email is:
- "TRASH" (obvious scam/phish/junk/unsolicited sales),
- "KEEP" (legit but not critical),
- "IMPORTANT" (%s).

Consider email text, and if present, attachment content (images/PDF text).
Prefer IMPORTANT for sponsorship/payment/security even if tentative.
Return the result ONLY via the provided function schema.`, descriptor)

	contentParts := []chatContentPart{
		{
			Type: "text",
			Text: fmt.Sprintf("Subject: %s\nFrom: %s\nBody (truncated):\n%s",
				env.Subject, env.From, truncate(env.Body, classifierBodyLimit)),
		},
	}

	if supportsVision(modelName) {
		for _, att := range env.Attachments {
			if att.Kind == model.AttachmentImage && att.DataURL != "" {
				contentParts = append(contentParts, chatContentPart{
					Type:     "image_url",
					ImageURL: &chatImageURL{URL: att.DataURL},
				})
			}
		}
	}

	var excerpts []string
	for _, att := range env.Attachments {
		if (att.Kind == model.AttachmentPDF || att.Kind == model.AttachmentText) && att.Text != "" {
			excerpts = append(excerpts, fmt.Sprintf("---\nAttachment: %s (%s, %.2f MB)\n%s",
				att.Filename, att.MimeType, att.SizeMB, att.Text))
		}
	}
	if len(excerpts) > 0 {
		contentParts = append(contentParts, chatContentPart{
			Type: "text",
			Text: "Attachment text excerpts:\n" + strings.Join(excerpts, "\n"),
		})
	}

	payload := map[string]any{
		"model": modelName,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: contentParts},
		},
		"tools": []map[string]any{
			{
				"type": "function",
				"function": map[string]any{
					"name":        "set_classification",
					"description": "Return the email classification in strict schema.",
					"parameters": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"action":       map[string]any{"type": "string", "enum": []string{"TRASH", "KEEP", "IMPORTANT"}},
							"is_scam":      map[string]any{"type": "boolean"},
							"is_important": map[string]any{"type": "boolean"},
							"confidence":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
							"reason":       map[string]any{"type": "string"},
						},
						"required":             []string{"action", "is_scam", "is_important", "confidence", "reason"},
						"additionalProperties": false,
					},
				},
			},
		},
		"tool_choice": map[string]any{
			"type":     "function",
			"function": map[string]any{"name": "set_classification"},
		},
	}
	applyTokenParams(payload, modelName, 200, 0.1)

	start := time.Now()
	resp, err := c.complete(ctx, payload)
	if err != nil {
		metrics.RecordClassifierLatency(modelName, "error", time.Since(start))
		c.logger.Warn("Classification degraded to fallback",
			zap.String("message_id", env.ID),
			zap.String("model", modelName),
			zap.Error(err),
		)
		return FallbackVerdict(err.Error())
	}
	metrics.RecordClassifierLatency(modelName, "ok", time.Since(start))

	raw, err := parseVerdict(resp)
	if err != nil {
		c.logger.Warn("Classifier returned no usable structured data",
			zap.String("message_id", env.ID),
			zap.Error(err),
		)
		return FallbackVerdict(err.Error())
	}

	return normalizeVerdict(raw)
}

// DescribeImportance rewrites the user's free-text importance description
// into a short phrase for prompt injection. Best effort: any failure
// returns the fixed default.
func (c *OpenAIClassifier) DescribeImportance(ctx context.Context, settings model.Settings) string {
	base := runconfig.ImportanceDescription(settings)
	if base == "" {
		return DefaultDescriptor
	}

	prompt := fmt.Sprintf("Take this description of what emails are important to the user:\n\n%q\n\n"+
		"Rewrite it as a short phrase (max 12 words) that can fit inside parentheses after the word IMPORTANT.", base)

	payload := map[string]any{
		"model": runconfig.DefaultModel,
		"messages": []chatMessage{
			{Role: "system", Content: "You produce concise phrases."},
			{Role: "user", Content: prompt},
		},
	}
	applyTokenParams(payload, runconfig.DefaultModel, 40, 0.4)

	resp, err := c.complete(ctx, payload)
	if err != nil {
		c.logger.Warn("Importance descriptor generation failed", zap.Error(err))
		return DefaultDescriptor
	}
	if len(resp.Choices) == 0 {
		return DefaultDescriptor
	}
	cleaned := strings.TrimSpace(strings.NewReplacer("\"", " ", "\n", " ").Replace(resp.Choices[0].Message.Content))
	if cleaned == "" {
		return DefaultDescriptor
	}
	return cleaned
}

func (c *OpenAIClassifier) complete(ctx context.Context, payload map[string]any) (*chatResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("openai 5xx: %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("openai error: %d", resp.StatusCode)
		}

		return json.NewDecoder(resp.Body).Decode(&parsed)
	})
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// applyTokenParams sets the completion-token and temperature parameters in
// the form the selected model family accepts.
func applyTokenParams(payload map[string]any, modelName string, maxTokens int, temperature float64) {
	if completionTokenPattern.MatchString(modelName) {
		payload["max_completion_tokens"] = maxTokens
		return
	}
	payload["max_tokens"] = maxTokens
	payload["temperature"] = temperature
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func parseVerdict(resp *chatResponse) (*rawVerdict, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion")
	}
	msg := resp.Choices[0].Message

	var args string
	for _, call := range msg.ToolCalls {
		if call.Function.Name == "set_classification" && call.Function.Arguments != "" {
			args = call.Function.Arguments
			break
		}
	}
	if args == "" {
		// Some models reply with the JSON inline instead of a tool call.
		args = jsonObjectPattern.FindString(msg.Content)
	}
	if args == "" {
		return nil, fmt.Errorf("classifier returned no structured data")
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		return nil, fmt.Errorf("classifier payload did not match schema: %w", err)
	}
	return &raw, nil
}

// normalizeVerdict enforces the verdict invariants regardless of what the
// model returned: valid action, IMPORTANT implies is_important, bounded
// confidence and reason.
func normalizeVerdict(raw *rawVerdict) model.Verdict {
	action := model.Action(raw.Action)
	switch action {
	case model.ActionTrash, model.ActionKeep, model.ActionImportant:
	default:
		action = model.ActionKeep
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return model.Verdict{
		Action:      action,
		IsScam:      raw.IsScam,
		IsImportant: raw.IsImportant || action == model.ActionImportant,
		Confidence:  confidence,
		Reason:      truncate(raw.Reason, 300),
	}
}
