package intent

import (
	"strings"
)

var slashCommands = map[string]Intent{
	"/upload": StaffUploadVehicle,
	"/status": StaffUpdateStatus,
	"/list":   StaffCheckInventory,
	"/stats":  StaffGetStats,
	"/edit":   StaffEditVehicle,
	"/help":   StaffHelp,
}

var triggerWords = []struct {
	words  []string
	intent Intent
}{
	{[]string{"upload", "tambah", "jual", "input"}, StaffUploadVehicle},
	{[]string{"status", "sold", "laku", "booking"}, StaffUpdateStatus},
	{[]string{"list", "stok", "daftar", "cek"}, StaffCheckInventory},
	{[]string{"stat", "stats", "laporan", "report"}, StaffGetStats},
}

// SlashCommand maps a leading "/command" token to its intent.
func SlashCommand(text string) (Intent, bool) {
	first := firstToken(text)
	if !strings.HasPrefix(first, "/") {
		return "", false
	}
	i, ok := slashCommands[first]
	return i, ok
}

// MatchTrigger finds the first action verb in text and returns the command
// intent it names, e.g. "tolong upload brio" -> staff_upload_vehicle.
func MatchTrigger(text string) (Intent, bool) {
	for _, token := range tokens(text) {
		for _, group := range triggerWords {
			for _, word := range group.words {
				if token == word {
					return group.intent, true
				}
			}
		}
	}
	return "", false
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func firstToken(text string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
