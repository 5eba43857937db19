// Package intent classifies inbound messages and routes them to a final intent.
package intent

import (
	"context"
	"strings"
)

// Intent is a routed message intent. Customer intents are prefixed "customer_",
// staff command intents "staff_".
type Intent string

const (
	CustomerGreeting       Intent = "customer_greeting"
	CustomerVehicleInquiry Intent = "customer_vehicle_inquiry"
	CustomerPriceInquiry   Intent = "customer_price_inquiry"
	CustomerTestDrive      Intent = "customer_test_drive"
	CustomerGeneral        Intent = "customer_general"

	StaffUploadVehicle  Intent = "staff_upload_vehicle"
	StaffUpdateStatus   Intent = "staff_update_status"
	StaffCheckInventory Intent = "staff_check_inventory"
	StaffGetStats       Intent = "staff_get_stats"
	StaffEditVehicle    Intent = "staff_edit_vehicle"
	StaffHelp           Intent = "staff_help"

	VerifyIdentity Intent = "verify_identity"
	FlowCancelled  Intent = "flow_cancelled"
)

// All lists every intent the router can produce.
var All = []Intent{
	CustomerGreeting, CustomerVehicleInquiry, CustomerPriceInquiry, CustomerTestDrive, CustomerGeneral,
	StaffUploadVehicle, StaffUpdateStatus, StaffCheckInventory, StaffGetStats, StaffEditVehicle, StaffHelp,
	VerifyIdentity, FlowCancelled,
}

// IsStaff reports whether i is a staff command intent.
func (i Intent) IsStaff() bool {
	return strings.HasPrefix(string(i), "staff_")
}

// IsCustomer reports whether i is customer-scoped.
func (i Intent) IsCustomer() bool {
	return strings.HasPrefix(string(i), "customer_")
}

// Parse maps a classifier label to a known intent.
func Parse(raw string) (Intent, bool) {
	value := Intent(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range All {
		if known == value {
			return known, true
		}
	}
	return "", false
}

// ClassifyInput is what a classifier sees of an inbound message.
type ClassifyInput struct {
	Text       string
	SenderID   string
	TenantID   string
	HasMedia   bool
	KnownStaff bool
}

// Result is a classifier verdict. IsStaff is advisory: it never lowers the
// conversation's staff flag.
type Result struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	IsStaff    bool    `json:"is_staff"`
	IsCustomer bool    `json:"is_customer"`
}

// Classifier produces an intent for an inbound message.
type Classifier interface {
	Classify(ctx context.Context, input ClassifyInput) (Result, error)
}
