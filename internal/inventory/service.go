package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	dbpkg "github.com/autolumiku/wabot/internal/db"
)

// displayIDAttempts bounds regeneration after a display id collision.
const displayIDAttempts = 5

// DBService persists vehicles and their history in Postgres.
type DBService struct {
	conn   dbpkg.TxBeginner
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an inventory service.
func NewService(log *slog.Logger, conn dbpkg.TxBeginner) *DBService {
	if log == nil {
		log = slog.Default()
	}
	return &DBService{
		conn:   conn,
		logger: log.With(slog.String("service", "inventory")),
		now:    time.Now,
	}
}

const vehicleColumns = `id, display_id, tenant_id, make, model, variant, year, price, color, mileage,
	transmission, fuel_type, status, photos, created_by, created_at, updated_at`

// Create inserts the vehicle and its "created" history row in one transaction.
// When DuplicateSince is set, a recent vehicle with the same make, model and year
// aborts the transaction with *DuplicateError. The check runs under a
// transaction-scoped advisory lock so concurrent uploads of the same car serialize.
func (s *DBService) Create(ctx context.Context, input CreateInput) (Vehicle, error) {
	if strings.TrimSpace(input.TenantID) == "" {
		return Vehicle{}, fmt.Errorf("tenant id is required")
	}
	var created Vehicle
	err := dbpkg.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		if !input.DuplicateSince.IsZero() {
			lockKey := strings.ToLower(strings.Join([]string{input.TenantID, input.Draft.Make, input.Draft.Model, fmt.Sprint(input.Draft.Year)}, "|"))
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
				return fmt.Errorf("lock duplicate key: %w", err)
			}
			existing, found, err := findDuplicate(ctx, tx, input)
			if err != nil {
				return err
			}
			if found {
				return &DuplicateError{Existing: existing}
			}
		}
		vehicle, err := insertVehicle(ctx, tx, input)
		if err != nil {
			return err
		}
		changes := map[string]any{
			"make":  vehicle.Make,
			"model": vehicle.Model,
			"year":  vehicle.Year,
			"price": vehicle.Price.String(),
		}
		if err := insertHistory(ctx, tx, HistoryEntry{
			VehicleID: vehicle.ID,
			Action:    ActionCreated,
			ToStatus:  string(vehicle.Status),
			Changes:   changes,
			Actor:     input.CreatedBy,
		}); err != nil {
			return err
		}
		if input.ResetConversationID != "" {
			pgConvID, err := dbpkg.ParseUUID(input.ResetConversationID)
			if err != nil {
				return fmt.Errorf("invalid conversation id: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE conversations SET state = NULL, context_data = NULL, updated_at = now() WHERE id = $1`,
				pgConvID,
			); err != nil {
				return fmt.Errorf("clear conversation flow: %w", err)
			}
		}
		created = vehicle
		return nil
	})
	if err != nil {
		return Vehicle{}, err
	}
	s.logger.Info("vehicle created",
		slog.String("tenant_id", created.TenantID),
		slog.String("display_id", created.DisplayID),
		slog.String("vehicle_id", created.ID),
	)
	return created, nil
}

func findDuplicate(ctx context.Context, q dbpkg.Querier, input CreateInput) (Vehicle, bool, error) {
	row := q.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles
		WHERE tenant_id = $1 AND lower(make) = lower($2) AND lower(model) = lower($3) AND year = $4
		  AND created_at >= $5 AND status <> 'DELETED'
		ORDER BY created_at DESC LIMIT 1`,
		input.TenantID, input.Draft.Make, input.Draft.Model, input.Draft.Year, input.DuplicateSince,
	)
	vehicle, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vehicle{}, false, nil
	}
	if err != nil {
		return Vehicle{}, false, fmt.Errorf("check duplicate: %w", err)
	}
	return vehicle, true, nil
}

func insertVehicle(ctx context.Context, tx pgx.Tx, input CreateInput) (Vehicle, error) {
	photos := input.Photos
	if photos == nil {
		photos = []string{}
	}
	d := input.Draft
	for attempt := 0; attempt < displayIDAttempts; attempt++ {
		// A savepoint keeps the outer transaction usable after a unique violation.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return Vehicle{}, fmt.Errorf("begin savepoint: %w", err)
		}
		row := sp.QueryRow(ctx, `INSERT INTO vehicles
			(tenant_id, display_id, make, model, variant, year, price, color, mileage, transmission, fuel_type, status, photos, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING `+vehicleColumns,
			input.TenantID, NewDisplayID(), d.Make, d.Model, d.Variant, d.Year, d.Price, d.Color, d.Mileage,
			d.Transmission, d.FuelType, string(StatusAvailable), photos, input.CreatedBy,
		)
		vehicle, err := scanVehicle(row)
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return Vehicle{}, fmt.Errorf("release savepoint: %w", err)
			}
			return vehicle, nil
		}
		_ = sp.Rollback(ctx)
		if !dbpkg.IsUniqueViolation(err) {
			return Vehicle{}, fmt.Errorf("insert vehicle: %w", err)
		}
	}
	return Vehicle{}, fmt.Errorf("insert vehicle: display id collisions exhausted")
}

func insertHistory(ctx context.Context, q dbpkg.Querier, entry HistoryEntry) error {
	pgVehicleID, err := dbpkg.ParseUUID(entry.VehicleID)
	if err != nil {
		return fmt.Errorf("invalid vehicle id: %w", err)
	}
	changes := entry.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal history changes: %w", err)
	}
	if _, err := q.Exec(ctx, `INSERT INTO vehicle_history (vehicle_id, action, from_status, to_status, changes, actor)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pgVehicleID, entry.Action, entry.FromStatus, entry.ToStatus, payload, entry.Actor,
	); err != nil {
		return fmt.Errorf("insert vehicle history: %w", err)
	}
	return nil
}

// FindByDisplayID returns ErrVehicleNotFound when the tenant has no such vehicle.
func (s *DBService) FindByDisplayID(ctx context.Context, tenantID, displayID string) (Vehicle, error) {
	return findByDisplayID(ctx, s.conn, tenantID, displayID, false)
}

func findByDisplayID(ctx context.Context, q dbpkg.Querier, tenantID, displayID string, forUpdate bool) (Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE tenant_id = $1 AND display_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	vehicle, err := scanVehicle(q.QueryRow(ctx, query, tenantID, NormalizeDisplayID(displayID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Vehicle{}, ErrVehicleNotFound
	}
	if err != nil {
		return Vehicle{}, fmt.Errorf("get vehicle: %w", err)
	}
	return vehicle, nil
}

// UpdateStatus writes the new status and a "status_changed" history row
// atomically. It returns the updated vehicle and the previous status.
func (s *DBService) UpdateStatus(ctx context.Context, change StatusChange) (Vehicle, Status, error) {
	if !validStatus(change.Status) {
		return Vehicle{}, "", ErrInvalidStatus
	}
	var (
		updated  Vehicle
		previous Status
	)
	err := dbpkg.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		current, err := findByDisplayID(ctx, tx, change.TenantID, change.DisplayID, true)
		if err != nil {
			return err
		}
		previous = current.Status
		row := tx.QueryRow(ctx, `UPDATE vehicles SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+vehicleColumns,
			mustUUID(current.ID), string(change.Status))
		updated, err = scanVehicle(row)
		if err != nil {
			return fmt.Errorf("update vehicle status: %w", err)
		}
		return insertHistory(ctx, tx, HistoryEntry{
			VehicleID:  current.ID,
			Action:     ActionStatusChanged,
			FromStatus: string(previous),
			ToStatus:   string(change.Status),
			Actor:      change.Actor,
		})
	})
	if err != nil {
		return Vehicle{}, "", err
	}
	return updated, previous, nil
}

var editColumns = map[string]string{
	FieldPrice:        "price",
	FieldMileage:      "mileage",
	FieldColor:        "color",
	FieldVariant:      "variant",
	FieldTransmission: "transmission",
	FieldFuel:         "fuel_type",
	FieldYear:         "year",
}

// Edit updates one field and writes an "edited" history row atomically.
func (s *DBService) Edit(ctx context.Context, input EditInput) (Vehicle, error) {
	column, ok := editColumns[input.Field]
	if !ok {
		return Vehicle{}, ErrInvalidField
	}
	var updated Vehicle
	err := dbpkg.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		current, err := findByDisplayID(ctx, tx, input.TenantID, input.DisplayID, true)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `UPDATE vehicles SET `+column+` = $2, updated_at = now() WHERE id = $1 RETURNING `+vehicleColumns,
			mustUUID(current.ID), input.Value)
		updated, err = scanVehicle(row)
		if err != nil {
			return fmt.Errorf("edit vehicle: %w", err)
		}
		return insertHistory(ctx, tx, HistoryEntry{
			VehicleID: current.ID,
			Action:    ActionEdited,
			Changes: map[string]any{
				input.Field: map[string]any{"from": fieldValue(current, input.Field), "to": fmt.Sprint(input.Value)},
			},
			Actor: input.Actor,
		})
	})
	if err != nil {
		return Vehicle{}, err
	}
	return updated, nil
}

// List returns the newest vehicles matching filter. DELETED vehicles are
// hidden unless explicitly requested.
func (s *DBService) List(ctx context.Context, filter Filter) ([]Vehicle, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles
		WHERE tenant_id = $1
		  AND (($2 = '' AND status <> 'DELETED') OR status = $2)
		  AND ($3 = '' OR lower(make) = lower($3))
		ORDER BY created_at DESC
		LIMIT $4`,
		filter.TenantID, string(filter.Status), filter.Make, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()
	items := []Vehicle{}
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		items = append(items, vehicle)
	}
	return items, rows.Err()
}

// Stats aggregates counts for the tenant. Period counters use since.
func (s *DBService) Stats(ctx context.Context, tenantID string, since time.Time) (Stats, error) {
	stats := Stats{TenantID: tenantID, Since: since, ByMake: map[string]int{}}
	var value pgtype.Numeric
	err := s.conn.QueryRow(ctx, `SELECT
			count(*) FILTER (WHERE status <> 'DELETED'),
			count(*) FILTER (WHERE status = 'AVAILABLE'),
			count(*) FILTER (WHERE status = 'BOOKED'),
			count(*) FILTER (WHERE status = 'SOLD'),
			count(*) FILTER (WHERE created_at >= $2 AND status <> 'DELETED'),
			COALESCE(sum(price) FILTER (WHERE status = 'AVAILABLE'), 0)
		FROM vehicles WHERE tenant_id = $1`,
		tenantID, since,
	).Scan(&stats.Total, &stats.Available, &stats.Booked, &stats.Sold, &stats.AddedInPeriod, &value)
	if err != nil {
		return Stats{}, fmt.Errorf("vehicle stats: %w", err)
	}
	stats.InventoryValue = numericToDecimal(value)

	if err := s.conn.QueryRow(ctx, `SELECT count(DISTINCT h.vehicle_id)
		FROM vehicle_history h JOIN vehicles v ON v.id = h.vehicle_id
		WHERE v.tenant_id = $1 AND h.action = 'status_changed' AND h.to_status = 'SOLD' AND h.created_at >= $2`,
		tenantID, since,
	).Scan(&stats.SoldInPeriod); err != nil {
		return Stats{}, fmt.Errorf("sold in period: %w", err)
	}

	rows, err := s.conn.Query(ctx, `SELECT make, count(*) FROM vehicles
		WHERE tenant_id = $1 AND status = 'AVAILABLE' GROUP BY make ORDER BY count(*) DESC`, tenantID)
	if err != nil {
		return Stats{}, fmt.Errorf("stats by make: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			brand string
			count int
		)
		if err := rows.Scan(&brand, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats by make: %w", err)
		}
		stats.ByMake[brand] = count
	}
	return stats, rows.Err()
}

// History returns the audit trail of a vehicle, oldest first.
func (s *DBService) History(ctx context.Context, vehicleID string) ([]HistoryEntry, error) {
	pgID, err := dbpkg.ParseUUID(vehicleID)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, `SELECT vehicle_id, action, from_status, to_status, changes, actor, created_at
		FROM vehicle_history WHERE vehicle_id = $1 ORDER BY created_at`, pgID)
	if err != nil {
		return nil, fmt.Errorf("list vehicle history: %w", err)
	}
	defer rows.Close()
	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			entry   HistoryEntry
			id      pgtype.UUID
			changes []byte
		)
		if err := rows.Scan(&id, &entry.Action, &entry.FromStatus, &entry.ToStatus, &changes, &entry.Actor, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vehicle history: %w", err)
		}
		entry.VehicleID = dbpkg.UUIDString(id)
		if len(changes) > 0 {
			_ = json.Unmarshal(changes, &entry.Changes)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanVehicle(row pgx.Row) (Vehicle, error) {
	var (
		v      Vehicle
		id     pgtype.UUID
		price  pgtype.Numeric
		status string
	)
	if err := row.Scan(&id, &v.DisplayID, &v.TenantID, &v.Make, &v.Model, &v.Variant, &v.Year, &price, &v.Color,
		&v.Mileage, &v.Transmission, &v.FuelType, &status, &v.Photos, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return Vehicle{}, err
	}
	v.ID = dbpkg.UUIDString(id)
	v.Price = numericToDecimal(price)
	v.Status = Status(status)
	if v.Photos == nil {
		v.Photos = []string{}
	}
	return v, nil
}

func numericToDecimal(value pgtype.Numeric) decimal.Decimal {
	if !value.Valid || value.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value.Int, value.Exp)
}

func validStatus(status Status) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

func mustUUID(id string) pgtype.UUID {
	value, _ := dbpkg.ParseUUID(id)
	return value
}

func fieldValue(v Vehicle, field string) string {
	switch field {
	case FieldPrice:
		return v.Price.String()
	case FieldMileage:
		return fmt.Sprint(v.Mileage)
	case FieldColor:
		return v.Color
	case FieldVariant:
		return v.Variant
	case FieldTransmission:
		return v.Transmission
	case FieldFuel:
		return v.FuelType
	case FieldYear:
		return fmt.Sprint(v.Year)
	default:
		return ""
	}
}
