package inbound

import (
	"context"
	"fmt"
	"strings"

	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/intent"
	"github.com/autolumiku/wabot/internal/inventory"
	messagepkg "github.com/autolumiku/wabot/internal/message"
)

const (
	historyLimit   = 10
	inventoryLimit = 20
	maxReplyImages = 3
)

// ConversationContext is what a Responder sees when answering a customer.
type ConversationContext struct {
	Conversation conversation.Conversation
	Intent       intent.Intent
	// History holds up to the last ten messages, oldest first, without the
	// message being answered.
	History []messagepkg.Message
	// Vehicles holds up to twenty available vehicles of the tenant.
	Vehicles []inventory.Vehicle
}

// Reply is a generated answer. UploadRequest is only honored for staff
// conversations, where it is staged as an upload data fragment.
type Reply struct {
	Text           string           `json:"text"`
	ShouldEscalate bool             `json:"should_escalate"`
	Images         []string         `json:"images,omitempty"`
	UploadRequest  *inventory.Draft `json:"upload_request,omitempty"`
}

// Responder produces customer-facing replies.
type Responder interface {
	Generate(ctx context.Context, cc ConversationContext, text string) (Reply, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, cc ConversationContext, text string) (Reply, error)

func (f ResponderFunc) Generate(ctx context.Context, cc ConversationContext, text string) (Reply, error) {
	return f(ctx, cc, text)
}

// TemplateResponder answers from fixed Indonesian templates and the inventory
// snapshot. It is used when no model is configured and never fails.
type TemplateResponder struct {
	ShowroomName string
}

func (t TemplateResponder) Generate(_ context.Context, cc ConversationContext, text string) (Reply, error) {
	name := t.ShowroomName
	if name == "" {
		name = "showroom kami"
	}
	matches := MatchVehicles(cc.Vehicles, text)
	switch cc.Intent {
	case intent.CustomerGreeting:
		greeting := "Halo"
		if cc.Conversation.CustomerName != "" {
			greeting += " " + cc.Conversation.CustomerName
		}
		return Reply{Text: fmt.Sprintf("%s, selamat datang di %s! Ada mobil yang sedang Anda cari? Sebutkan merek, model, atau budget Anda.", greeting, name)}, nil
	case intent.CustomerTestDrive:
		return Reply{
			Text:           "Terima kasih! Tim kami akan segera menghubungi Anda untuk menjadwalkan test drive.",
			ShouldEscalate: true,
		}, nil
	case intent.CustomerPriceInquiry, intent.CustomerVehicleInquiry:
		if len(matches) == 0 {
			if len(cc.Vehicles) == 0 {
				return Reply{Text: "Mohon maaf, saat ini belum ada unit yang tersedia. Tim kami akan mengabari Anda."}, nil
			}
			return Reply{Text: "Unit yang Anda cari belum tersedia. Berikut unit yang ready saat ini:\n" + vehicleLines(cc.Vehicles, 5)}, nil
		}
		return Reply{
			Text:   "Berikut unit yang tersedia:\n" + vehicleLines(matches, 5),
			Images: vehicleImages(matches),
		}, nil
	}
	if len(matches) > 0 {
		return Reply{Text: "Berikut unit yang mungkin Anda maksud:\n" + vehicleLines(matches, 5), Images: vehicleImages(matches)}, nil
	}
	return Reply{Text: "Terima kasih sudah menghubungi " + name + ". Ada yang bisa kami bantu terkait unit mobil kami?"}, nil
}

// MatchVehicles returns the vehicles whose make or model appears in text.
func MatchVehicles(vehicles []inventory.Vehicle, text string) []inventory.Vehicle {
	words := strings.Fields(strings.ToLower(text))
	var out []inventory.Vehicle
	for _, v := range vehicles {
		for _, w := range words {
			w = strings.Trim(w, ".,?!")
			if w == "" {
				continue
			}
			if w == strings.ToLower(v.Make) || w == strings.ToLower(v.Model) || w == strings.ToLower(v.DisplayID) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func vehicleLines(vehicles []inventory.Vehicle, limit int) string {
	lines := make([]string, 0, limit)
	for i, v := range vehicles {
		if i == limit {
			break
		}
		line := fmt.Sprintf("- %s (ID %s) %s", v.Draft().Title(), v.DisplayID, inventory.FormatPrice(v.Price))
		if v.Mileage > 0 {
			line += fmt.Sprintf(", %d km", v.Mileage)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func vehicleImages(vehicles []inventory.Vehicle) []string {
	var images []string
	for _, v := range vehicles {
		if len(images) == maxReplyImages {
			break
		}
		if len(v.Photos) > 0 {
			images = append(images, v.Photos[0])
		}
	}
	return images
}
