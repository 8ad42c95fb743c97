package trip

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a trip does not exist or is not visible
// to the requesting user.
var ErrNotFound = errors.New("trip not found")

// Store handles trip persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a trip store with SQLite backend.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		plan_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trips_user_id ON trips(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}

// Create persists a new trip.
func (s *Store) Create(t *Trip) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()

	planJSON, err := json.Marshal(t.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO trips (id, user_id, title, plan_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Title, string(planJSON),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))

	return err
}

// Get retrieves a trip owned by userID. A trip belonging to another
// user is indistinguishable from a missing one.
func (s *Store) Get(tripID, userID string) (*Trip, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, title, plan_json, created_at, updated_at
		FROM trips WHERE id = ? AND user_id = ?
	`, tripID, userID)

	return scanTrip(row)
}

// ListByUser returns all trips owned by userID, newest first.
func (s *Store) ListByUser(userID string) ([]*Trip, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, plan_json, created_at, updated_at
		FROM trips WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// Snapshot returns a freshly loaded copy of the plan for tripID. Every
// tool invocation starts from its own snapshot so a mutation made by an
// earlier tool in the same turn is always visible to the next.
func (s *Store) Snapshot(tripID, userID string) (*Plan, error) {
	t, err := s.Get(tripID, userID)
	if err != nil {
		return nil, err
	}
	return &t.Plan, nil
}

// SavePlan writes an updated plan back for tripID, enforcing ownership.
func (s *Store) SavePlan(tripID, userID string, plan *Plan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE trips SET plan_json = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, string(planJSON), time.Now().Format(time.RFC3339Nano), tripID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Mutate loads a fresh plan snapshot, applies fn, and saves the result.
// A non-nil error from fn aborts the write.
func (s *Store) Mutate(tripID, userID string, fn func(*Plan) error) (*Plan, error) {
	plan, err := s.Snapshot(tripID, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(plan); err != nil {
		return nil, err
	}
	if err := s.SavePlan(tripID, userID, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTrip(row scannable) (*Trip, error) {
	var t Trip
	var planJSON, createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.UserID, &t.Title, &planJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(planJSON), &t.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}
