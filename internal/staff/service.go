package staff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/autolumiku/wabot/internal/db"
)

// DBService reads the users table.
type DBService struct {
	conn   dbpkg.Querier
	logger *slog.Logger
}

// NewService creates a staff directory service.
func NewService(log *slog.Logger, conn dbpkg.Querier) *DBService {
	if log == nil {
		log = slog.Default()
	}
	return &DBService{
		conn:   conn,
		logger: log.With(slog.String("service", "staff")),
	}
}

// ListUsers returns active staff for the tenant, ordered by name.
func (s *DBService) ListUsers(ctx context.Context, tenantID string) ([]Member, error) {
	rows, err := s.conn.Query(ctx, `SELECT id, tenant_id, phone, name, role, aliases
		FROM users WHERE tenant_id = $1 AND active ORDER BY name, phone`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()
	members := []Member{}
	for rows.Next() {
		var (
			m    Member
			id   pgtype.UUID
			role string
		)
		if err := rows.Scan(&id, &m.TenantID, &m.Phone, &m.Name, &role, &m.Aliases); err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		m.ID = dbpkg.UUIDString(id)
		m.Role = Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListTenants returns every tenant with at least one active staff member.
func (s *DBService) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT tenant_id FROM users WHERE active ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()
	tenants := []string{}
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenantID)
	}
	return tenants, rows.Err()
}
