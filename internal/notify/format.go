package notify

import (
	"fmt"
	"strings"

	"github.com/autolumiku/wabot/internal/inventory"
)

// Format renders the staff notification text for outcome.
func Format(o Outcome) string {
	actor := o.ActorName
	if actor == "" {
		actor = "staff"
	}
	switch o.Kind {
	case KindVehicleCreated:
		if o.Vehicle == nil {
			return ""
		}
		v := o.Vehicle
		var b strings.Builder
		fmt.Fprintf(&b, "Unit baru ditambahkan oleh %s\n", actor)
		fmt.Fprintf(&b, "%s\n", v.Draft().Title())
		fmt.Fprintf(&b, "Harga: %s\n", inventory.FormatPrice(v.Price))
		if v.Color != "" {
			fmt.Fprintf(&b, "Warna: %s\n", v.Color)
		}
		fmt.Fprintf(&b, "Foto: %d\n", len(v.Photos))
		fmt.Fprintf(&b, "ID: %s", v.DisplayID)
		return b.String()
	case KindStatusChanged:
		if o.Vehicle == nil {
			return ""
		}
		return fmt.Sprintf("Status %s (%s) diubah dari %s ke %s oleh %s",
			o.Vehicle.Draft().Title(), o.Vehicle.DisplayID, o.FromStatus, o.Vehicle.Status, actor)
	case KindVehicleEdited:
		if o.Vehicle == nil {
			return ""
		}
		return fmt.Sprintf("Data %s (%s) diperbarui oleh %s: %s",
			o.Vehicle.Draft().Title(), o.Vehicle.DisplayID, actor, o.Field)
	case KindDigest:
		if o.Stats == nil {
			return ""
		}
		return FormatStats("Ringkasan harian "+o.At.Format("02/01/2006"), *o.Stats)
	default:
		return ""
	}
}

// FormatStats renders an inventory summary under title.
func FormatStats(title string, s inventory.Stats) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Unit baru: %d\n", s.AddedInPeriod)
	fmt.Fprintf(&b, "Terjual: %d\n", s.SoldInPeriod)
	fmt.Fprintf(&b, "Tersedia: %d | Booking: %d | Terjual total: %d\n", s.Available, s.Booked, s.Sold)
	fmt.Fprintf(&b, "Nilai stok: %s", inventory.FormatPrice(s.InventoryValue))
	return b.String()
}
