package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/autolumiku/wabot/internal/conversation/flow"
	"github.com/autolumiku/wabot/internal/inventory"
)

var (
	yearPattern  = regexp.MustCompile(`\b(19[89]\d|20\d\d)\b`)
	pricePattern = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s?(?:jt|juta|rb|ribu|m|miliar)\b|\b\d{7,}\b`)

	testDriveWords = []string{"test drive", "tes drive", "testdrive", "coba unit", "coba mobil", "lihat unit", "lihat langsung"}
	priceWords     = []string{"harga", "berapa", "nego", "kredit", "cicilan", "dp", "angsuran", "otr", "price"}
	vehicleWords   = []string{"ada", "stok", "mobil", "unit", "ready", "tersedia", "tipe", "warna", "km"}
)

// KeywordClassifier is the deterministic classifier used when no model is
// configured and as the fallback when the model fails.
type KeywordClassifier struct{}

// Classify never returns an error.
func (KeywordClassifier) Classify(_ context.Context, input ClassifyInput) (Result, error) {
	result := Result{IsStaff: input.KnownStaff, IsCustomer: !input.KnownStaff}
	text := strings.ToLower(strings.TrimSpace(input.Text))

	if IsVerifyCommand(text) {
		result.Intent, result.Confidence = VerifyIdentity, 1
		return result, nil
	}
	if i, ok := SlashCommand(text); ok {
		result.Intent, result.Confidence = i, 1
		return result, nil
	}
	if input.KnownStaff && (input.HasMedia || LooksLikeVehicleData(text)) {
		result.Intent, result.Confidence = StaffUploadVehicle, 0.8
		return result, nil
	}
	switch {
	case flow.IsGreeting(text) && len(strings.Fields(text)) <= 3:
		result.Intent, result.Confidence = CustomerGreeting, 0.9
	case containsAny(text, testDriveWords):
		result.Intent, result.Confidence = CustomerTestDrive, 0.8
	case containsWord(text, priceWords):
		result.Intent, result.Confidence = CustomerPriceInquiry, 0.7
	case containsWord(text, vehicleWords) || yearPattern.MatchString(text):
		result.Intent, result.Confidence = CustomerVehicleInquiry, 0.6
	default:
		result.Intent, result.Confidence = CustomerGeneral, 0.3
	}
	return result, nil
}

// LooksLikeVehicleData matches listing-shaped text such as "Brio 2020 120jt hitam":
// a model year together with a price.
func LooksLikeVehicleData(text string) bool {
	if !yearPattern.MatchString(text) {
		return false
	}
	for _, match := range pricePattern.FindAllString(text, -1) {
		if _, ok := inventory.ParsePrice(match); ok {
			return true
		}
	}
	return false
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func containsWord(text string, words []string) bool {
	for _, token := range tokens(text) {
		for _, word := range words {
			if token == word {
				return true
			}
		}
	}
	return false
}
