package ai

import (
	"context"
	"log/slog"

	"github.com/autolumiku/wabot/internal/intent"
)

type classifyAnswer struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	IsStaff    bool    `json:"is_staff"`
	IsCustomer bool    `json:"is_customer"`
}

// Classifier asks the model for an intent and falls back to keywords when the
// model fails or answers with an unknown label.
type Classifier struct {
	client   *Client
	fallback intent.Classifier
}

// NewClassifier creates a model-backed classifier. A nil fallback uses
// intent.KeywordClassifier.
func NewClassifier(client *Client, fallback intent.Classifier) *Classifier {
	if fallback == nil {
		fallback = intent.KeywordClassifier{}
	}
	return &Classifier{client: client, fallback: fallback}
}

func (c *Classifier) Classify(ctx context.Context, input intent.ClassifyInput) (intent.Result, error) {
	// Commands are never worth a model call.
	if intent.IsVerifyCommand(input.Text) {
		return c.fallback.Classify(ctx, input)
	}
	if _, ok := intent.SlashCommand(input.Text); ok {
		return c.fallback.Classify(ctx, input)
	}

	var answer classifyAnswer
	err := c.client.completeJSON(ctx, classifyPrompt(), classifyUserPrompt(input.Text, input.HasMedia, input.KnownStaff), &answer)
	if err != nil {
		c.client.logger.Warn("classification failed, using keywords",
			slog.String("tenant_id", input.TenantID),
			slog.Any("error", err),
		)
		return c.fallback.Classify(ctx, input)
	}
	parsed, ok := intent.Parse(answer.Intent)
	if !ok {
		c.client.logger.Warn("unknown intent from model", slog.String("intent", answer.Intent))
		return c.fallback.Classify(ctx, input)
	}
	confidence := answer.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return intent.Result{
		Intent:     parsed,
		Confidence: confidence,
		IsStaff:    answer.IsStaff || input.KnownStaff,
		IsCustomer: answer.IsCustomer,
	}, nil
}
