// Package thresholds persists per-level confidence thresholds and their
// change history in SQLite, and resolves the effective thresholds for each
// classification request.
package thresholds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/services"
)

const component = "threshold-store"

// Store manages threshold persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Change is one audited threshold update.
type Change struct {
	ID        int64
	Level     hierarchy.Level
	OldValue  *float64
	NewValue  float64
	UpdatedBy string
	Reason    string
	ChangedAt time.Time
}

// Update describes a threshold write. Levels absent from Values are left
// unchanged.
type Update struct {
	Values    map[hierarchy.Level]float64
	UpdatedBy string
	Reason    string
}

// Open initializes or connects to the threshold database at path and
// applies migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("threshold store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create threshold store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the thresholds that have been set explicitly. Levels never
// written are absent.
func (s *Store) Get(ctx context.Context) (map[hierarchy.Level]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT level, value FROM thresholds")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "get", "query thresholds", err)
	}
	defer rows.Close()

	out := make(map[hierarchy.Level]float64, len(hierarchy.Order))
	for rows.Next() {
		var level string
		var value float64
		if err := rows.Scan(&level, &value); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, component, "get", "scan threshold", err)
		}
		parsed, err := hierarchy.Parse(level)
		if err != nil {
			continue
		}
		out[parsed] = value
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "get", "iterate thresholds", err)
	}
	return out, nil
}

// Set writes the supplied thresholds atomically and records one history row
// per level whose value actually changed. Returns the recorded changes.
func (s *Store) Set(ctx context.Context, update Update) ([]Change, error) {
	update.UpdatedBy = strings.TrimSpace(update.UpdatedBy)
	update.Reason = strings.TrimSpace(update.Reason)
	if update.UpdatedBy == "" {
		return nil, services.Wrap(services.ErrValidation, component, "set", "updated_by is required", nil)
	}
	if len(update.Values) == 0 {
		return nil, services.Wrap(services.ErrValidation, component, "set", "no threshold values supplied", nil)
	}
	for level, value := range update.Values {
		if !level.Valid() {
			return nil, services.Wrap(services.ErrValidation, component, "set", fmt.Sprintf("unknown level %q", level), nil)
		}
		if err := escalation.ValidateThreshold(level, value); err != nil {
			return nil, services.Wrap(services.ErrValidation, component, "set", "threshold out of range", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin threshold tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	var changes []Change

	for _, level := range hierarchy.Order {
		value, ok := update.Values[level]
		if !ok {
			continue
		}
		var old sql.NullFloat64
		err := tx.QueryRowContext(ctx, "SELECT value FROM thresholds WHERE level = ?", string(level)).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("read threshold %s: %w", level, err)
		}
		if old.Valid && math.Abs(old.Float64-value) < 1e-12 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO thresholds (level, value, updated_by, updated_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(level) DO UPDATE SET value = excluded.value, updated_by = excluded.updated_by, updated_at = excluded.updated_at`,
			string(level), value, update.UpdatedBy, timestamp,
		); err != nil {
			return nil, fmt.Errorf("write threshold %s: %w", level, err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO threshold_history (level, old_value, new_value, updated_by, reason, changed_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			string(level), old, value, update.UpdatedBy, nullableString(update.Reason), timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("record threshold history %s: %w", level, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		change := Change{
			ID:        id,
			Level:     level,
			NewValue:  value,
			UpdatedBy: update.UpdatedBy,
			Reason:    update.Reason,
			ChangedAt: now,
		}
		if old.Valid {
			prev := old.Float64
			change.OldValue = &prev
		}
		changes = append(changes, change)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit thresholds: %w", err)
	}
	return changes, nil
}

// History returns audited changes, newest first. limit <= 0 returns every
// row.
func (s *Store) History(ctx context.Context, limit int) ([]Change, error) {
	query := `SELECT id, level, old_value, new_value, updated_by, reason, changed_at
              FROM threshold_history ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threshold history: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			change    Change
			level     string
			old       sql.NullFloat64
			reason    sql.NullString
			changedAt string
		)
		if err := rows.Scan(&change.ID, &level, &old, &change.NewValue, &change.UpdatedBy, &reason, &changedAt); err != nil {
			return nil, fmt.Errorf("scan threshold history: %w", err)
		}
		change.Level = hierarchy.Level(level)
		if old.Valid {
			prev := old.Float64
			change.OldValue = &prev
		}
		change.Reason = reason.String
		if parsed, err := time.Parse(time.RFC3339Nano, changedAt); err == nil {
			change.ChangedAt = parsed
		}
		out = append(out, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threshold history: %w", err)
	}
	return out, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
