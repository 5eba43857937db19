package commandlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/autolumiku/wabot/internal/db"
)

// DBService persists staff command logs.
type DBService struct {
	conn   dbpkg.Querier
	logger *slog.Logger
}

// NewService creates a command log service.
func NewService(log *slog.Logger, conn dbpkg.Querier) *DBService {
	if log == nil {
		log = slog.Default()
	}
	return &DBService{
		conn:   conn,
		logger: log.With(slog.String("service", "commandlog")),
	}
}

// Record inserts entry. Empty parameters are stored as an empty object.
func (s *DBService) Record(ctx context.Context, entry Entry) (Entry, error) {
	if strings.TrimSpace(entry.Command) == "" {
		return Entry{}, fmt.Errorf("command is required")
	}
	convID, err := dbpkg.ParseOptionalUUID(entry.ConversationID)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	vehicleID, err := dbpkg.ParseOptionalUUID(entry.VehicleID)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid vehicle id: %w", err)
	}
	params := entry.Parameters
	if len(params) == 0 {
		params = []byte("{}")
	}
	row := s.conn.QueryRow(ctx, `INSERT INTO staff_command_logs
		(tenant_id, conversation_id, staff_phone, command, parameters, success, result, vehicle_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+entryColumns,
		entry.TenantID, convID, entry.StaffPhone, entry.Command, params, entry.Success, entry.Result, vehicleID)
	saved, err := scanEntry(row)
	if err != nil {
		return Entry{}, fmt.Errorf("record command log: %w", err)
	}
	s.logger.Debug("command logged",
		slog.String("command", saved.Command),
		slog.String("tenant_id", saved.TenantID),
		slog.Bool("success", saved.Success),
	)
	return saved, nil
}

// ListByTenant returns the newest entries of a tenant.
func (s *DBService) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, `SELECT `+entryColumns+` FROM staff_command_logs
		WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list command logs: %w", err)
	}
	defer rows.Close()
	items := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command log: %w", err)
		}
		items = append(items, entry)
	}
	return items, rows.Err()
}

const entryColumns = `id, tenant_id, conversation_id, staff_phone, command, parameters, success, result, vehicle_id, created_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		id        pgtype.UUID
		convID    pgtype.UUID
		vehicleID pgtype.UUID
		params    []byte
	)
	if err := row.Scan(&id, &e.TenantID, &convID, &e.StaffPhone, &e.Command, &params, &e.Success, &e.Result,
		&vehicleID, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.ID = dbpkg.UUIDString(id)
	e.ConversationID = dbpkg.UUIDString(convID)
	e.VehicleID = dbpkg.UUIDString(vehicleID)
	e.Parameters = params
	return e, nil
}
