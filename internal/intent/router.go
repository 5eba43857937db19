package intent

import (
	"strings"

	"github.com/autolumiku/wabot/internal/conversation/flow"
)

// RouteInput is everything the router decides on.
type RouteInput struct {
	Text     string
	HasMedia bool
	// IsStaff is the conversation's sticky staff flag, not the classifier's guess.
	IsStaff  bool
	Flow     flow.Context
	Decision flow.Decision
	Result   Result
}

type routeRule struct {
	name string
	when func(RouteInput) bool
	then func(RouteInput) Intent
}

func constant(i Intent) func(RouteInput) Intent {
	return func(RouteInput) Intent { return i }
}

// rules are evaluated in order; the first match wins.
var rules = []routeRule{
	{
		name: "verify_command",
		when: func(in RouteInput) bool { return IsVerifyCommand(in.Text) },
		then: constant(VerifyIdentity),
	},
	{
		name: "verification_pending",
		when: func(in RouteInput) bool { return in.Flow.AwaitingVerification() && in.Decision.FlowInput },
		then: constant(VerifyIdentity),
	},
	{
		name: "upload_flow_input",
		when: func(in RouteInput) bool { return in.Flow.InUpload() && in.Decision.FlowInput },
		then: constant(StaffUploadVehicle),
	},
	{
		name: "staff_slash_command",
		when: func(in RouteInput) bool {
			_, ok := SlashCommand(in.Text)
			return in.IsStaff && ok
		},
		then: func(in RouteInput) Intent {
			i, _ := SlashCommand(in.Text)
			return i
		},
	},
	{
		name: "staff_action_trigger",
		when: func(in RouteInput) bool {
			_, ok := MatchTrigger(in.Text)
			return in.IsStaff && in.Result.Intent.IsCustomer() && ok
		},
		then: func(in RouteInput) Intent {
			i, _ := MatchTrigger(in.Text)
			return i
		},
	},
	{
		name: "staff_listing_data",
		when: func(in RouteInput) bool {
			return in.IsStaff && in.Result.Intent.IsCustomer() && !flow.IsQuestion(in.Text) &&
				LooksLikeVehicleData(strings.ToLower(in.Text))
		},
		then: constant(StaffUploadVehicle),
	},
	{
		name: "staff_media",
		when: func(in RouteInput) bool { return in.IsStaff && in.Result.Intent.IsCustomer() && in.HasMedia },
		then: constant(StaffUploadVehicle),
	},
	{
		name: "classifier",
		when: func(in RouteInput) bool { return in.Result.Intent != "" },
		then: func(in RouteInput) Intent { return in.Result.Intent },
	},
	{
		name: "fallback",
		when: func(RouteInput) bool { return true },
		then: constant(CustomerGeneral),
	},
}

// Route returns the final intent and the name of the rule that produced it.
// Staff intents reaching a non-staff conversation are left for the command
// engine's authorization gate to reject.
func Route(in RouteInput) (Intent, string) {
	for _, rule := range rules {
		if rule.when(in) {
			return rule.then(in), rule.name
		}
	}
	return CustomerGeneral, "fallback"
}

// IsVerifyCommand reports whether text begins with "/verify".
func IsVerifyCommand(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), "/verify")
}
