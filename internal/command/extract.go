package command

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/autolumiku/wabot/internal/inventory"
)

// ErrNoVehicleData indicates the text carries no recognizable make or model.
var ErrNoVehicleData = errors.New("no vehicle data found")

// Extractor turns free text into a vehicle draft.
type Extractor interface {
	Extract(ctx context.Context, text string) (inventory.Draft, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, text string) (inventory.Draft, error)

func (f ExtractorFunc) Extract(ctx context.Context, text string) (inventory.Draft, error) {
	return f(ctx, text)
}

var modelMakes = map[string]string{
	"brio": "Honda", "jazz": "Honda", "civic": "Honda", "city": "Honda", "hrv": "Honda", "hr-v": "Honda",
	"crv": "Honda", "cr-v": "Honda", "mobilio": "Honda", "brv": "Honda", "br-v": "Honda", "accord": "Honda",
	"avanza": "Toyota", "innova": "Toyota", "fortuner": "Toyota", "yaris": "Toyota", "rush": "Toyota",
	"agya": "Toyota", "calya": "Toyota", "corolla": "Toyota", "camry": "Toyota", "raize": "Toyota", "veloz": "Toyota",
	"xpander": "Mitsubishi", "pajero": "Mitsubishi", "mirage": "Mitsubishi", "outlander": "Mitsubishi",
	"ertiga": "Suzuki", "swift": "Suzuki", "ignis": "Suzuki", "baleno": "Suzuki", "carry": "Suzuki", "xl7": "Suzuki",
	"xenia": "Daihatsu", "terios": "Daihatsu", "ayla": "Daihatsu", "sigra": "Daihatsu", "rocky": "Daihatsu",
	"livina": "Nissan", "march": "Nissan", "juke": "Nissan", "xtrail": "Nissan", "x-trail": "Nissan",
	"almaz": "Wuling", "confero": "Wuling", "cortez": "Wuling",
	"cx-5": "Mazda", "cx5": "Mazda", "mazda2": "Mazda",
}

var makeNames = map[string]string{
	"honda": "Honda", "toyota": "Toyota", "mitsubishi": "Mitsubishi", "suzuki": "Suzuki", "daihatsu": "Daihatsu",
	"nissan": "Nissan", "wuling": "Wuling", "mazda": "Mazda", "hyundai": "Hyundai", "kia": "Kia",
	"bmw": "BMW", "mercedes": "Mercedes-Benz", "chevrolet": "Chevrolet", "ford": "Ford", "isuzu": "Isuzu",
}

var colors = map[string]string{
	"hitam": "hitam", "black": "hitam", "putih": "putih", "white": "putih", "silver": "silver",
	"abu": "abu-abu", "abu-abu": "abu-abu", "grey": "abu-abu", "gray": "abu-abu", "merah": "merah", "red": "merah",
	"biru": "biru", "blue": "biru", "hijau": "hijau", "kuning": "kuning", "coklat": "coklat", "cokelat": "coklat",
	"orange": "oranye", "oranye": "oranye", "ungu": "ungu", "emas": "emas", "gold": "emas",
}

var transmissions = map[string]string{
	"matic": "matic", "at": "matic", "automatic": "matic", "otomatis": "matic", "cvt": "matic",
	"manual": "manual", "mt": "manual",
}

var fuels = map[string]string{
	"bensin": "bensin", "petrol": "bensin", "diesel": "diesel", "solar": "diesel",
	"hybrid": "hybrid", "listrik": "listrik", "ev": "listrik", "electric": "listrik",
}

var priceSuffixes = map[string]bool{"jt": true, "juta": true, "rb": true, "ribu": true, "m": true, "miliar": true, "milyar": true}

// hasDetails reports whether d carries anything besides make and model.
func hasDetails(d inventory.Draft) bool {
	return d.Year != 0 || d.Price.IsPositive() || d.Color != "" || d.Mileage != 0 ||
		d.Transmission != "" || d.FuelType != "" || d.Variant != ""
}

// RuleExtractor reads listing-style text such as "Toyota Avanza G 2019 matic
// 165jt 45000km silver" with dictionaries and number patterns. Without a model
// it returns ErrNoVehicleData together with whatever details it did find.
type RuleExtractor struct {
	Now func() time.Time
}

func (r RuleExtractor) Extract(_ context.Context, text string) (inventory.Draft, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	maxYear := now().Year() + 1

	tokens := strings.Fields(strings.ToLower(strings.NewReplacer(",", " ", ";", " ", "\n", " ").Replace(text)))
	used := make([]bool, len(tokens))
	var draft inventory.Draft

	for i, token := range tokens {
		if used[i] {
			continue
		}
		switch {
		case draft.Year == 0 && isYear(token, maxYear):
			draft.Year, _ = strconv.Atoi(token)
			used[i] = true
		case strings.HasSuffix(token, "km") && len(token) > 2:
			if km, ok := parseMileage(strings.TrimSuffix(token, "km")); ok {
				draft.Mileage = km
				used[i] = true
			}
		case i+2 < len(tokens) && (tokens[i+1] == "rb" || tokens[i+1] == "k") && tokens[i+2] == "km":
			if km, ok := parseMileage(token + tokens[i+1]); ok {
				draft.Mileage = km
				used[i], used[i+1], used[i+2] = true, true, true
			}
		case i+1 < len(tokens) && tokens[i+1] == "km":
			if km, ok := parseMileage(token); ok {
				draft.Mileage = km
				used[i], used[i+1] = true, true
			}
		case colors[token] != "" && draft.Color == "":
			draft.Color = colors[token]
			used[i] = true
		case transmissions[token] != "" && draft.Transmission == "":
			draft.Transmission = transmissions[token]
			used[i] = true
		case fuels[token] != "" && draft.FuelType == "":
			draft.FuelType = fuels[token]
			used[i] = true
		}
		if used[i] || !draft.Price.IsZero() {
			continue
		}
		if i+1 < len(tokens) && priceSuffixes[tokens[i+1]] {
			if price, ok := inventory.ParsePrice(token + tokens[i+1]); ok {
				draft.Price = price
				used[i], used[i+1] = true, true
				continue
			}
		}
		if price, ok := inventory.ParsePrice(token); ok {
			draft.Price = price
			used[i] = true
		}
	}

	modelAt := -1
	for i, token := range tokens {
		if used[i] {
			continue
		}
		if name, ok := makeNames[token]; ok && draft.Make == "" {
			draft.Make = name
			used[i] = true
			continue
		}
		if maker, ok := modelMakes[token]; ok && draft.Model == "" {
			if draft.Make == "" {
				draft.Make = maker
			}
			draft.Model = titleWord(token)
			used[i] = true
			modelAt = i
		}
	}
	if draft.Make != "" && draft.Model == "" {
		for i, token := range tokens {
			if !used[i] && isWord(token) {
				draft.Model = titleWord(token)
				used[i] = true
				modelAt = i
				break
			}
		}
	}
	if draft.Model == "" {
		return draft, ErrNoVehicleData
	}
	if next := modelAt + 1; next < len(tokens) && !used[next] && isWord(tokens[next]) && len(tokens[next]) <= 6 {
		draft.Variant = variantWord(tokens[next])
	}
	return draft, nil
}

func isYear(token string, maxYear int) bool {
	if len(token) != 4 {
		return false
	}
	year, err := strconv.Atoi(token)
	return err == nil && year >= 1980 && year <= maxYear
}

func parseMileage(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(raw, "rb"):
		raw, multiplier = strings.TrimSuffix(raw, "rb"), 1000
	case strings.HasSuffix(raw, "k"):
		raw, multiplier = strings.TrimSuffix(raw, "k"), 1000
	}
	raw = strings.ReplaceAll(raw, ".", "")
	value, err := decimal.NewFromString(raw)
	if err != nil || value.IsNegative() {
		return 0, false
	}
	return int(value.Mul(decimal.NewFromInt(multiplier)).IntPart()), true
}

func isWord(token string) bool {
	if token == "" || priceSuffixes[token] {
		return false
	}
	for _, r := range token {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return token[0] >= 'a' && token[0] <= 'z'
}

func titleWord(token string) string {
	if token == "" {
		return ""
	}
	return strings.ToUpper(token[:1]) + token[1:]
}

func variantWord(token string) string {
	if len(token) <= 3 {
		return strings.ToUpper(token)
	}
	return titleWord(token)
}
