package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/autolumiku/wabot/internal/intent"
	"github.com/autolumiku/wabot/internal/inventory"
)

// Name identifies a staff command.
type Name string

const (
	NameUpload Name = "upload"
	NameStatus Name = "status"
	NameList   Name = "list"
	NameStats  Name = "stats"
	NameEdit   Name = "edit"
	NameHelp   Name = "help"
	NameVerify Name = "verify"
)

var intentNames = map[intent.Intent]Name{
	intent.StaffUploadVehicle:  NameUpload,
	intent.StaffUpdateStatus:   NameStatus,
	intent.StaffCheckInventory: NameList,
	intent.StaffGetStats:       NameStats,
	intent.StaffEditVehicle:    NameEdit,
	intent.StaffHelp:           NameHelp,
	intent.VerifyIdentity:      NameVerify,
}

// prefixes are the leading words stripped before argument parsing.
var prefixes = map[Name][]string{
	NameUpload: {"/upload", "upload", "tambah", "jual", "input"},
	NameStatus: {"/status", "status"},
	NameList:   {"/list", "list", "stok", "daftar", "cek"},
	NameStats:  {"/stats", "stats", "stat", "laporan", "report"},
	NameEdit:   {"/edit", "edit", "ubah"},
	NameHelp:   {"/help", "help", "bantuan"},
	NameVerify: {"/verify"},
}

// NameFor maps a routed intent to its command.
func NameFor(i intent.Intent) (Name, bool) {
	name, ok := intentNames[i]
	return name, ok
}

// StripPrefix removes the command word from the start of text, e.g.
// "/status ABC123 SOLD" -> "ABC123 SOLD".
func StripPrefix(name Name, text string) string {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, " ")
	first = strings.ToLower(first)
	for _, prefix := range prefixes[name] {
		if first == prefix {
			return strings.TrimSpace(rest)
		}
	}
	return text
}

// StatusParams are the normalized arguments of a status change.
type StatusParams struct {
	DisplayID string           `json:"display_id" validate:"required,alphanum"`
	Status    inventory.Status `json:"status" validate:"required,oneof=AVAILABLE BOOKED SOLD DELETED"`
}

// ListParams filter the inventory listing.
type ListParams struct {
	Status inventory.Status `json:"status,omitempty" validate:"omitempty,oneof=AVAILABLE BOOKED SOLD DELETED"`
	Make   string           `json:"make,omitempty"`
}

// StatsParams select the reporting period.
type StatsParams struct {
	Period string    `json:"period" validate:"oneof=today week month"`
	Since  time.Time `json:"since"`
}

// EditParams change one vehicle field. Value is normalized for Field.
type EditParams struct {
	DisplayID string `json:"display_id" validate:"required,alphanum"`
	Field     string `json:"field" validate:"required,oneof=price mileage color variant transmission fuel year"`
	Value     any    `json:"value"`
}

const statusUsage = "Format: /status <ID> <STATUS>. Contoh: /status ABC123 SOLD. Status yang valid: AVAILABLE, BOOKED, SOLD, DELETED."

// ParseStatus accepts the id and status in either order, e.g. "ABC123 SOLD" or "laku ABC123".
func ParseStatus(args string) (StatusParams, error) {
	var params StatusParams
	var unknown []string
	for _, token := range strings.Fields(args) {
		if status, ok := inventory.ParseStatus(token); ok && params.Status == "" {
			params.Status = status
			continue
		}
		if params.DisplayID == "" && looksLikeDisplayID(token) {
			params.DisplayID = inventory.NormalizeDisplayID(token)
			continue
		}
		unknown = append(unknown, token)
	}
	switch {
	case params.DisplayID == "" && params.Status == "":
		return StatusParams{}, userInput(statusUsage)
	case params.DisplayID == "":
		return StatusParams{}, userInput("ID kendaraan tidak ditemukan di pesan. %s", statusUsage)
	case params.Status == "" && len(unknown) > 0:
		return StatusParams{}, userInput("Status %q tidak dikenal. %s", unknown[0], statusUsage)
	case params.Status == "":
		return StatusParams{}, userInput("Status belum diisi. %s", statusUsage)
	}
	return params, nil
}

// ParseList reads an optional status and an optional make, e.g. "sold toyota".
func ParseList(args string) ListParams {
	var params ListParams
	for _, token := range strings.Fields(args) {
		if status, ok := inventory.ParseStatus(token); ok && params.Status == "" {
			params.Status = status
			continue
		}
		lower := strings.ToLower(token)
		if name, ok := makeNames[lower]; ok && params.Make == "" {
			params.Make = name
			continue
		}
		if maker, ok := modelMakes[lower]; ok && params.Make == "" {
			params.Make = maker
		}
	}
	return params
}

var periodAliases = map[string]string{
	"":         "today",
	"today":    "today",
	"hari":     "today",
	"harian":   "today",
	"week":     "week",
	"minggu":   "week",
	"mingguan": "week",
	"month":    "month",
	"bulan":    "month",
	"bulanan":  "month",
}

// ParseStats resolves the period and its start in loc. The default is today.
func ParseStats(args string, now time.Time, loc *time.Location) (StatsParams, error) {
	word, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(args)), " ")
	period, ok := periodAliases[word]
	if !ok {
		return StatsParams{}, userInput("Periode %q tidak dikenal. Gunakan: today, week, atau month.", word)
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	switch period {
	case "week":
		start = start.AddDate(0, 0, -6)
	case "month":
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	}
	return StatsParams{Period: period, Since: start}, nil
}

var fieldAliases = map[string]string{
	"price": inventory.FieldPrice, "harga": inventory.FieldPrice,
	"mileage": inventory.FieldMileage, "km": inventory.FieldMileage, "kilometer": inventory.FieldMileage,
	"color": inventory.FieldColor, "warna": inventory.FieldColor,
	"variant": inventory.FieldVariant, "varian": inventory.FieldVariant, "tipe": inventory.FieldVariant,
	"transmission": inventory.FieldTransmission, "transmisi": inventory.FieldTransmission,
	"fuel": inventory.FieldFuel, "bbm": inventory.FieldFuel, "bensin": inventory.FieldFuel,
	"year": inventory.FieldYear, "tahun": inventory.FieldYear,
}

const editUsage = "Format: /edit <ID> <field> <nilai>. Field: price, mileage, color, variant, transmission, fuel, year. Contoh: /edit ABC123 price 125jt"

// ParseEdit reads "<id> <field> <value...>" and normalizes value for the field.
func ParseEdit(args string, now time.Time) (EditParams, error) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return EditParams{}, userInput(editUsage)
	}
	if !looksLikeDisplayID(fields[0]) {
		return EditParams{}, userInput("ID %q tidak valid. %s", fields[0], editUsage)
	}
	field, ok := fieldAliases[strings.ToLower(fields[1])]
	if !ok {
		return EditParams{}, userInput("Field %q tidak dikenal. %s", fields[1], editUsage)
	}
	raw := strings.Join(fields[2:], " ")
	value, err := normalizeFieldValue(field, raw, now)
	if err != nil {
		return EditParams{}, err
	}
	return EditParams{DisplayID: inventory.NormalizeDisplayID(fields[0]), Field: field, Value: value}, nil
}

func normalizeFieldValue(field, raw string, now time.Time) (any, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch field {
	case inventory.FieldPrice:
		price, ok := inventory.ParsePrice(strings.ReplaceAll(lower, " ", ""))
		if !ok {
			return nil, userInput("Harga %q tidak terbaca. Contoh: 125jt atau 125000000.", raw)
		}
		return price, nil
	case inventory.FieldMileage:
		km, ok := parseMileage(strings.TrimSuffix(strings.ReplaceAll(lower, " ", ""), "km"))
		if !ok {
			return nil, userInput("Kilometer %q tidak terbaca. Contoh: 45000km.", raw)
		}
		return km, nil
	case inventory.FieldYear:
		if !isYear(lower, now.Year()+1) {
			return nil, userInput("Tahun %q tidak valid (1980-%d).", raw, now.Year()+1)
		}
		year, _ := strconv.Atoi(lower)
		return year, nil
	case inventory.FieldTransmission:
		value, ok := transmissions[lower]
		if !ok {
			return nil, userInput("Transmisi harus matic atau manual.")
		}
		return value, nil
	case inventory.FieldFuel:
		value, ok := fuels[lower]
		if !ok {
			return nil, userInput("Bahan bakar harus bensin, diesel, hybrid, atau listrik.")
		}
		return value, nil
	case inventory.FieldColor:
		if value, ok := colors[lower]; ok {
			return value, nil
		}
		return lower, nil
	default:
		return strings.TrimSpace(raw), nil
	}
}

func looksLikeDisplayID(token string) bool {
	if len(token) < 4 || len(token) > 12 {
		return false
	}
	hasDigit := false
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return hasDigit
}

// UploadUsage lists the recognized fields with two worked examples.
func UploadUsage() string {
	return "Data kendaraan tidak terbaca.\n" +
		"Field yang dikenali: merek, model, varian, tahun, harga, warna, kilometer, transmisi (matic/manual), bahan bakar (bensin/diesel/hybrid/listrik).\n" +
		"Contoh:\n" +
		"1. Brio 2020 120jt hitam\n" +
		"2. Toyota Avanza G 2019 matic 165jt 45000km silver"
}

// HelpText is the reply to /help.
func HelpText() string {
	return strings.Join([]string{
		"Perintah staff:",
		"/upload <data> - tambah unit, lalu kirim foto (urutan bebas)",
		"/status <ID> <AVAILABLE|BOOKED|SOLD|DELETED> - ubah status unit",
		"/list [status] [merek] - daftar unit",
		"/stats [today|week|month] - ringkasan stok",
		"/edit <ID> <field> <nilai> - ubah data unit",
		"/verify <nomor> - hubungkan nomor staff",
		"Ketik batal untuk membatalkan upload.",
	}, "\n")
}

func describeDraft(d inventory.Draft) string {
	parts := []string{d.Title()}
	if d.Price.IsPositive() {
		parts = append(parts, inventory.ShortPrice(d.Price))
	}
	if d.Color != "" {
		parts = append(parts, d.Color)
	}
	if d.Mileage > 0 {
		parts = append(parts, fmt.Sprintf("%d km", d.Mileage))
	}
	if d.Transmission != "" {
		parts = append(parts, d.Transmission)
	}
	return strings.Join(parts, ", ")
}
