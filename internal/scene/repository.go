package scene

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for scene persistence. The
// abstraction keeps the registry and engine testable without a
// database.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Scene, error)
	List(ctx context.Context) ([]Scene, error)
	ListActive(ctx context.Context) ([]Scene, error)
	Create(ctx context.Context, s *Scene) error
	Update(ctx context.Context, s *Scene) error
	Delete(ctx context.Context, id string) error

	// MarkExecuted records one completed execution.
	MarkExecuted(ctx context.Context, id string, at time.Time) error
}

const sceneColumns = `id, name, description, icon, triggers, actions,
			active, high_urgency, created_at, last_executed_at, execution_count`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a scene by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE id = ?`

	s, err := scanScene(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSceneNotFound
		}
		return nil, fmt.Errorf("querying scene by id: %w", err)
	}
	return s, nil
}

// List retrieves all scenes ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Scene, error) {
	return r.queryScenes(ctx, `SELECT `+sceneColumns+` FROM scenes ORDER BY name`)
}

// ListActive retrieves the scenes eligible for automatic evaluation.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Scene, error) {
	return r.queryScenes(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE active = 1 ORDER BY name`)
}

// Create inserts a new scene.
func (r *SQLiteRepository) Create(ctx context.Context, s *Scene) error {
	triggersJSON, actionsJSON, err := marshalDefinition(s)
	if err != nil {
		return err
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scenes (` + sceneColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		s.Name,
		nullableString(s.Description),
		nullableString(s.Icon),
		triggersJSON,
		actionsJSON,
		boolToInt(s.Active),
		boolToInt(s.HighUrgency),
		s.CreatedAt.Format(time.RFC3339),
		nullableTime(s.LastExecutedAt),
		s.ExecutionCount,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSceneExists
		}
		return fmt.Errorf("inserting scene: %w", err)
	}
	return nil
}

// Update modifies an existing scene definition. Execution bookkeeping
// is left to MarkExecuted.
func (r *SQLiteRepository) Update(ctx context.Context, s *Scene) error {
	triggersJSON, actionsJSON, err := marshalDefinition(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE scenes SET
			name = ?, description = ?, icon = ?, triggers = ?, actions = ?,
			active = ?, high_urgency = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		s.Name,
		nullableString(s.Description),
		nullableString(s.Icon),
		triggersJSON,
		actionsJSON,
		boolToInt(s.Active),
		boolToInt(s.HighUrgency),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating scene: %w", err)
	}
	return requireRow(result)
}

// Delete removes a scene by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting scene: %w", err)
	}
	return requireRow(result)
}

// MarkExecuted records one completed execution.
func (r *SQLiteRepository) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE scenes SET
			last_executed_at = ?, execution_count = execution_count + 1
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("marking scene executed: %w", err)
	}
	return requireRow(result)
}

func (r *SQLiteRepository) queryScenes(ctx context.Context, query string, args ...any) ([]Scene, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		scenes = append(scenes, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}
	return scenes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScene(scanner rowScanner) (*Scene, error) {
	var s Scene
	var description, icon, lastExecutedAt sql.NullString
	var triggersJSON, actionsJSON, createdAt string
	var active, highUrgency int

	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&description,
		&icon,
		&triggersJSON,
		&actionsJSON,
		&active,
		&highUrgency,
		&createdAt,
		&lastExecutedAt,
		&s.ExecutionCount,
	)
	if err != nil {
		return nil, err
	}

	s.Description = description.String
	s.Icon = icon.String
	s.Active = active != 0
	s.HighUrgency = highUrgency != 0

	if err := json.Unmarshal([]byte(triggersJSON), &s.Triggers); err != nil {
		return nil, fmt.Errorf("unmarshalling triggers: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &s.Actions); err != nil {
		return nil, fmt.Errorf("unmarshalling actions: %w", err)
	}

	if s.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastExecutedAt.Valid {
		t, err := time.Parse(time.RFC3339, lastExecutedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_executed_at: %w", err)
		}
		s.LastExecutedAt = &t
	}
	return &s, nil
}

func marshalDefinition(s *Scene) (triggers, actions string, err error) {
	triggersRaw, err := json.Marshal(emptyIfNilTriggers(s.Triggers))
	if err != nil {
		return "", "", fmt.Errorf("marshalling triggers: %w", err)
	}
	actionsRaw, err := json.Marshal(s.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshalling actions: %w", err)
	}
	return string(triggersRaw), string(actionsRaw), nil
}

func emptyIfNilTriggers(t []Trigger) []Trigger {
	if t == nil {
		return []Trigger{}
	}
	return t
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSceneNotFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
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
