package room

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for room and group persistence.
type Repository interface {
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	ListRoomsByZone(ctx context.Context, zone string) ([]Room, error)
	CreateRoom(ctx context.Context, r *Room) error
	UpdateRoom(ctx context.Context, r *Room) error
	DeleteRoom(ctx context.Context, id string) error

	GetGroup(ctx context.Context, id string) (*DeviceGroup, error)
	ListGroups(ctx context.Context) ([]DeviceGroup, error)
	CreateGroup(ctx context.Context, g *DeviceGroup) error
	UpdateGroup(ctx context.Context, g *DeviceGroup) error
	DeleteGroup(ctx context.Context, id string) error
}

const roomColumns = `id, name, type, zone, icon, description, active, created_at, updated_at`

const groupColumns = `id, name, type, device_ids, room_ids, conditions, logic, icon, description, active, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetRoom retrieves a room by ID.
func (r *SQLiteRepository) GetRoom(ctx context.Context, id string) (*Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`

	rm, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("querying room: %w", err)
	}
	return rm, nil
}

// ListRooms retrieves all rooms ordered by name.
func (r *SQLiteRepository) ListRooms(ctx context.Context) ([]Room, error) {
	return r.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY name`)
}

// ListRoomsByZone retrieves the rooms in one zone.
func (r *SQLiteRepository) ListRoomsByZone(ctx context.Context, zone string) ([]Room, error) {
	return r.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms WHERE zone = ? ORDER BY name`, zone)
}

// CreateRoom inserts a new room.
func (r *SQLiteRepository) CreateRoom(ctx context.Context, rm *Room) error {
	now := time.Now().UTC()
	if rm.CreatedAt.IsZero() {
		rm.CreatedAt = now
	}
	rm.UpdatedAt = now

	query := `INSERT INTO rooms (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rm.ID,
		rm.Name,
		string(rm.Type),
		nullableString(rm.Zone),
		nullableString(rm.Icon),
		nullableString(rm.Description),
		boolToInt(rm.Active),
		rm.CreatedAt.Format(time.RFC3339),
		rm.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRoomExists
		}
		return fmt.Errorf("inserting room: %w", err)
	}
	return nil
}

// UpdateRoom modifies an existing room.
func (r *SQLiteRepository) UpdateRoom(ctx context.Context, rm *Room) error {
	rm.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE rooms SET
			name = ?, type = ?, zone = ?, icon = ?, description = ?,
			active = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rm.Name,
		string(rm.Type),
		nullableString(rm.Zone),
		nullableString(rm.Icon),
		nullableString(rm.Description),
		boolToInt(rm.Active),
		rm.UpdatedAt.Format(time.RFC3339),
		rm.ID,
	)
	if err != nil {
		return fmt.Errorf("updating room: %w", err)
	}
	return requireRow(result, ErrRoomNotFound)
}

// DeleteRoom removes a room by ID.
func (r *SQLiteRepository) DeleteRoom(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return requireRow(result, ErrRoomNotFound)
}

// GetGroup retrieves a device group by ID.
func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (*DeviceGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM device_groups WHERE id = ?`

	g, err := scanGroup(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("querying group: %w", err)
	}
	return g, nil
}

// ListGroups retrieves all device groups ordered by name.
func (r *SQLiteRepository) ListGroups(ctx context.Context) ([]DeviceGroup, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM device_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []DeviceGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	return groups, nil
}

// CreateGroup inserts a new device group.
func (r *SQLiteRepository) CreateGroup(ctx context.Context, g *DeviceGroup) error {
	deviceIDs, roomIDs, conditions, err := marshalGroup(g)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	query := `INSERT INTO device_groups (` + groupColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		g.ID,
		g.Name,
		string(g.Type),
		deviceIDs,
		roomIDs,
		conditions,
		nullableString(string(g.Logic)),
		nullableString(g.Icon),
		nullableString(g.Description),
		boolToInt(g.Active),
		g.CreatedAt.Format(time.RFC3339),
		g.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrGroupExists
		}
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// UpdateGroup modifies an existing device group.
func (r *SQLiteRepository) UpdateGroup(ctx context.Context, g *DeviceGroup) error {
	deviceIDs, roomIDs, conditions, err := marshalGroup(g)
	if err != nil {
		return err
	}
	g.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE device_groups SET
			name = ?, type = ?, device_ids = ?, room_ids = ?, conditions = ?,
			logic = ?, icon = ?, description = ?, active = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		g.Name,
		string(g.Type),
		deviceIDs,
		roomIDs,
		conditions,
		nullableString(string(g.Logic)),
		nullableString(g.Icon),
		nullableString(g.Description),
		boolToInt(g.Active),
		g.UpdatedAt.Format(time.RFC3339),
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("updating group: %w", err)
	}
	return requireRow(result, ErrGroupNotFound)
}

// DeleteGroup removes a device group by ID.
func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return requireRow(result, ErrGroupNotFound)
}

func (r *SQLiteRepository) queryRooms(ctx context.Context, query string, args ...any) ([]Room, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}
	return rooms, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(scanner rowScanner) (*Room, error) {
	var rm Room
	var zone, icon, description sql.NullString
	var active int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rm.ID,
		&rm.Name,
		(*string)(&rm.Type),
		&zone,
		&icon,
		&description,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rm.Zone = zone.String
	rm.Icon = icon.String
	rm.Description = description.String
	rm.Active = active != 0

	if rm.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rm.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rm, nil
}

func scanGroup(scanner rowScanner) (*DeviceGroup, error) {
	var g DeviceGroup
	var roomIDs, conditions, logic, icon, description sql.NullString
	var deviceIDs string
	var active int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&g.ID,
		&g.Name,
		(*string)(&g.Type),
		&deviceIDs,
		&roomIDs,
		&conditions,
		&logic,
		&icon,
		&description,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	g.Logic = ConditionLogic(logic.String)
	g.Icon = icon.String
	g.Description = description.String
	g.Active = active != 0

	if err := json.Unmarshal([]byte(deviceIDs), &g.DeviceIDs); err != nil {
		return nil, fmt.Errorf("unmarshalling device_ids: %w", err)
	}
	if roomIDs.Valid {
		if err := json.Unmarshal([]byte(roomIDs.String), &g.RoomIDs); err != nil {
			return nil, fmt.Errorf("unmarshalling room_ids: %w", err)
		}
	}
	if conditions.Valid {
		if err := json.Unmarshal([]byte(conditions.String), &g.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshalling conditions: %w", err)
		}
	}

	if g.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if g.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &g, nil
}

func marshalGroup(g *DeviceGroup) (deviceIDs, roomIDs, conditions string, err error) {
	ids := g.DeviceIDs
	if ids == nil {
		ids = []string{}
	}
	rawIDs, err := json.Marshal(ids)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling device_ids: %w", err)
	}
	rawRooms, err := json.Marshal(g.RoomIDs)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling room_ids: %w", err)
	}
	rawConds, err := json.Marshal(g.Conditions)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling conditions: %w", err)
	}
	return string(rawIDs), string(rawRooms), string(rawConds), nil
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
