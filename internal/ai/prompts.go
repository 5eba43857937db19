package ai

import (
	"fmt"
	"strings"

	"github.com/autolumiku/wabot/internal/intent"
	"github.com/autolumiku/wabot/internal/inventory"
	"github.com/autolumiku/wabot/internal/message"
)

const classifySystemPrompt = `You classify WhatsApp messages sent to a used-car showroom in Indonesia.
Answer with a JSON object {"intent": string, "confidence": number between 0 and 1, "is_staff": bool, "is_customer": bool}.
Allowed intents:
%s
Staff members manage inventory ("upload Brio 2020 120jt", "status ABC123 SOLD", "stok", "laporan").
Customers ask about cars, prices, credit and test drives. Use customer_general when unsure.`

const extractSystemPrompt = `You extract a used-car listing from an Indonesian staff message.
Answer with a JSON object {"make": string, "model": string, "variant": string, "year": number,
"price": string, "color": string, "mileage": number, "transmission": "manual"|"matic"|"",
"fuel_type": "bensin"|"diesel"|"hybrid"|"listrik"|""}.
Keep price exactly as written (for example "120jt" or "165000000"). Leave unknown fields empty or 0.
Never invent a model that is not in the message.`

const replySystemPrompt = `You are the WhatsApp assistant of a used-car showroom. Reply in friendly, short Indonesian.
Only mention vehicles from the inventory list, with their ID and price. Never promise discounts.
Answer with a JSON object {"text": string, "should_escalate": bool, "vehicle_ids": [string]}.
Set should_escalate when the customer asks for a human, wants to negotiate, complains, or you cannot help.
vehicle_ids lists at most 3 inventory IDs whose photos should be sent with the reply.`

func classifyPrompt() string {
	labels := make([]string, 0, len(intent.All))
	for _, i := range intent.All {
		if i == intent.FlowCancelled {
			continue
		}
		labels = append(labels, "- "+string(i))
	}
	return fmt.Sprintf(classifySystemPrompt, strings.Join(labels, "\n"))
}

func classifyUserPrompt(text string, hasMedia, knownStaff bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message: %q\n", text)
	fmt.Fprintf(&b, "Has photo: %t\n", hasMedia)
	fmt.Fprintf(&b, "Sender is verified staff: %t\n", knownStaff)
	return b.String()
}

func replyUserPrompt(history []message.Message, vehicles []inventory.Vehicle, customerName, text string) string {
	var b strings.Builder
	b.WriteString("Inventory:\n")
	if len(vehicles) == 0 {
		b.WriteString("(no vehicles available)\n")
	}
	for _, v := range vehicles {
		fmt.Fprintf(&b, "- %s: %s, %s", v.DisplayID, v.Draft().Title(), inventory.FormatPrice(v.Price))
		if v.Color != "" {
			fmt.Fprintf(&b, ", %s", v.Color)
		}
		if v.Mileage > 0 {
			fmt.Fprintf(&b, ", %d km", v.Mileage)
		}
		if v.Transmission != "" {
			fmt.Fprintf(&b, ", %s", v.Transmission)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nConversation:\n")
	for _, m := range history {
		who := "customer"
		if m.Direction == message.DirectionOutbound {
			who = "assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
	}
	if customerName != "" {
		fmt.Fprintf(&b, "\nCustomer name: %s\n", customerName)
	}
	fmt.Fprintf(&b, "\nNew message: %s\n", text)
	return b.String()
}
