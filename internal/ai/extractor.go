package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/autolumiku/wabot/internal/command"
	"github.com/autolumiku/wabot/internal/inventory"
)

type draftAnswer struct {
	Make         string          `json:"make"`
	Model        string          `json:"model"`
	Variant      string          `json:"variant"`
	Year         int             `json:"year"`
	Price        json.RawMessage `json:"price"`
	Color        string          `json:"color"`
	Mileage      int             `json:"mileage"`
	Transmission string          `json:"transmission"`
	FuelType     string          `json:"fuel_type"`
}

// Extractor reads a vehicle listing with the model. The command engine falls
// back to its rule extractor when this returns an error or no model name.
type Extractor struct {
	client *Client
}

func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

func (e *Extractor) Extract(ctx context.Context, text string) (inventory.Draft, error) {
	var answer draftAnswer
	if err := e.client.completeJSON(ctx, extractSystemPrompt, text, &answer); err != nil {
		return inventory.Draft{}, err
	}
	draft := answer.draft()
	if draft.Model == "" {
		return draft, command.ErrNoVehicleData
	}
	return draft, nil
}

func (a draftAnswer) draft() inventory.Draft {
	d := inventory.Draft{
		Make:         titleCase(a.Make),
		Model:        titleCase(a.Model),
		Variant:      strings.TrimSpace(a.Variant),
		Year:         a.Year,
		Color:        strings.ToLower(strings.TrimSpace(a.Color)),
		Mileage:      a.Mileage,
		Transmission: oneOf(a.Transmission, "manual", "matic"),
		FuelType:     oneOf(a.FuelType, "bensin", "diesel", "hybrid", "listrik"),
	}
	if d.Mileage < 0 {
		d.Mileage = 0
	}
	raw := strings.Trim(strings.TrimSpace(string(a.Price)), `"`)
	if price, ok := inventory.ParsePrice(raw); ok {
		d.Price = price
	}
	return d
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func oneOf(value string, allowed ...string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	return ""
}
