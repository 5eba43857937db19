package ai

import (
	"context"
	"strings"

	"github.com/autolumiku/wabot/internal/channel/inbound"
	"github.com/autolumiku/wabot/internal/inventory"
)

type replyAnswer struct {
	Text           string   `json:"text"`
	ShouldEscalate bool     `json:"should_escalate"`
	VehicleIDs     []string `json:"vehicle_ids"`
}

// Responder generates customer replies grounded on the inventory snapshot in
// the conversation context. Vehicle ids the model names are turned into photos.
type Responder struct {
	client *Client
}

func NewResponder(client *Client) *Responder {
	return &Responder{client: client}
}

func (r *Responder) Generate(ctx context.Context, cc inbound.ConversationContext, text string) (inbound.Reply, error) {
	var answer replyAnswer
	prompt := replyUserPrompt(cc.History, cc.Vehicles, cc.Conversation.CustomerName, text)
	if err := r.client.completeJSON(ctx, replySystemPrompt, prompt, &answer); err != nil {
		return inbound.Reply{}, err
	}
	reply := inbound.Reply{
		Text:           strings.TrimSpace(answer.Text),
		ShouldEscalate: answer.ShouldEscalate,
		Images:         photosFor(cc.Vehicles, answer.VehicleIDs),
	}
	if reply.Text == "" {
		reply.ShouldEscalate = true
	}
	return reply, nil
}

// photosFor returns the first photo of each named vehicle, at most three.
// Ids not present in the snapshot are ignored.
func photosFor(vehicles []inventory.Vehicle, ids []string) []string {
	var photos []string
	for _, id := range ids {
		if len(photos) == 3 {
			break
		}
		id = inventory.NormalizeDisplayID(id)
		for _, v := range vehicles {
			if v.DisplayID == id && len(v.Photos) > 0 {
				photos = append(photos, v.Photos[0])
				break
			}
		}
	}
	return photos
}
