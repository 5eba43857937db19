// Package staff reads the tenant staff directory, the sole source of truth
// for command authorization and identity verification.
package staff

import (
	"context"
	"errors"
	"strings"

	"github.com/autolumiku/wabot/internal/phone"
)

// Role is a staff member's role within a tenant.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleSales   Role = "sales"
)

// Label renders the role for chat replies.
func (r Role) Label() string {
	switch r {
	case RoleOwner:
		return "Owner"
	case RoleAdmin:
		return "Admin"
	case RoleManager:
		return "Manager"
	default:
		return "Sales"
	}
}

// ErrNotStaff indicates the phone or alias is not in the tenant's directory.
var ErrNotStaff = errors.New("not a staff member")

// Member is one directory entry. Phone is stored normalized.
type Member struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Phone    string   `json:"phone"`
	Name     string   `json:"name"`
	Role     Role     `json:"role"`
	Aliases  []string `json:"aliases,omitempty"`
}

// Directory lists a tenant's staff.
type Directory interface {
	ListUsers(ctx context.Context, tenantID string) ([]Member, error)
}

// Roster is a matcher over one tenant's directory listing.
type Roster struct {
	Members     []Member
	CountryCode string
}

// Load fetches the tenant's roster from dir.
func Load(ctx context.Context, dir Directory, tenantID, countryCode string) (Roster, error) {
	members, err := dir.ListUsers(ctx, tenantID)
	if err != nil {
		return Roster{}, err
	}
	return Roster{Members: members, CountryCode: countryCode}, nil
}

// ByPhone returns the member whose normalized phone equals raw's normalized form.
func (r Roster) ByPhone(raw string) (Member, bool) {
	normalized := phone.Normalize(raw, r.CountryCode)
	if normalized == "" {
		return Member{}, false
	}
	for _, m := range r.Members {
		if phone.Normalize(m.Phone, r.CountryCode) == normalized {
			return m, true
		}
	}
	return Member{}, false
}

// ByAlias returns the member whose phone equals the alias' numeric form or whose
// stored alias list contains it.
func (r Roster) ByAlias(raw string) (Member, bool) {
	key := phone.AliasKey(raw)
	if key == "" {
		return Member{}, false
	}
	digits := phone.Digits(key)
	for _, m := range r.Members {
		if digits != "" && phone.Digits(m.Phone) == digits {
			return m, true
		}
		for _, alias := range m.Aliases {
			if phone.AliasKey(alias) == key {
				return m, true
			}
		}
	}
	return Member{}, false
}

// Except returns members whose normalized phone differs from acting.
func (r Roster) Except(acting string) []Member {
	excluded := phone.Normalize(acting, r.CountryCode)
	out := make([]Member, 0, len(r.Members))
	for _, m := range r.Members {
		if excluded != "" && phone.Normalize(m.Phone, r.CountryCode) == excluded {
			continue
		}
		if strings.TrimSpace(m.Phone) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
