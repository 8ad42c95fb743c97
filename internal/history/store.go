// Package history persists conversations and their messages. A turn is
// committed atomically: the user message and the assistant reply land
// in one transaction, so a crash mid-turn never leaves a dangling user
// message without its answer.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jvelez79/travelr-sub002/internal/places"
)

// ErrNotFound is returned when a conversation does not exist or is not
// visible to the requesting user.
var ErrNotFound = errors.New("conversation not found")

// ErrTripMismatch is returned when a conversation is resumed against a
// different trip than the one it was created for.
var ErrTripMismatch = errors.New("conversation belongs to a different trip")

// ToolAuditEntry records one tool invocation made while producing an
// assistant message, including invocations rejected by validation
// before their body ran.
type ToolAuditEntry struct {
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input,omitempty"`
	Result     string         `json:"result,omitempty"`
	Rejected   bool           `json:"rejected,omitempty"`
	Failed     bool           `json:"failed,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

// Message is one stored turn entry.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"` // "user" or "assistant"
	Content        string `json:"content"`
	// Places carries the place directory snapshot captured with an
	// assistant message, so a reloaded conversation can still resolve
	// inline references. Nil for user messages.
	Places    map[string]places.Place `json:"places,omitempty"`
	ToolAudit []ToolAuditEntry        `json:"toolAudit,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
}

// Conversation groups the messages of one user/trip chat thread.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TripID    string    `json:"tripId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store handles conversation persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a history store with SQLite backend.
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
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		trip_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		places_json TEXT,
		tool_audit_json TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// EnsureConversation returns the conversation with conversationID if it
// exists, belongs to userID, and was created for tripID, or creates a
// new one when conversationID is empty.
func (s *Store) EnsureConversation(conversationID, userID, tripID string) (*Conversation, error) {
	if conversationID != "" {
		conv, err := s.Get(conversationID, userID)
		if err != nil {
			return nil, err
		}
		if conv.TripID != tripID {
			return nil, ErrTripMismatch
		}
		return conv, nil
	}

	now := time.Now()
	c := &Conversation{
		ID:        newID(),
		UserID:    userID,
		TripID:    tripID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, trip_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.TripID,
		c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get retrieves a conversation owned by userID.
func (s *Store) Get(conversationID, userID string) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, trip_id, created_at, updated_at
		FROM conversations WHERE id = ? AND user_id = ?
	`, conversationID, userID)

	var c Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &c.TripID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

// ListByUser returns the conversations owned by userID, most recently
// updated first.
func (s *Store) ListByUser(userID string) ([]*Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, trip_id, created_at, updated_at
		FROM conversations WHERE user_id = ? ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.TripID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// CommitTurn writes the user message and the assistant reply for one
// turn in a single transaction, and bumps the conversation's
// updated_at. Either both messages persist or neither does.
func (s *Store) CommitTurn(conversationID, userContent, assistantContent string, audit []ToolAuditEntry, placesSnapshot map[string]places.Place) (userID, assistantID string, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback()

	now := time.Now()
	userID = newID()
	_, err = tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, places_json, tool_audit_json, created_at)
		VALUES (?, ?, 'user', ?, NULL, NULL, ?)
	`, userID, conversationID, userContent, now.Format(time.RFC3339Nano))
	if err != nil {
		return "", "", fmt.Errorf("insert user message: %w", err)
	}

	var placesJSON any
	if len(placesSnapshot) > 0 {
		data, merr := json.Marshal(placesSnapshot)
		if merr != nil {
			return "", "", fmt.Errorf("marshal places: %w", merr)
		}
		placesJSON = string(data)
	}

	var auditJSON any
	if len(audit) > 0 {
		data, merr := json.Marshal(audit)
		if merr != nil {
			return "", "", fmt.Errorf("marshal tool audit: %w", merr)
		}
		auditJSON = string(data)
	}

	assistantID = newID()
	_, err = tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, places_json, tool_audit_json, created_at)
		VALUES (?, ?, 'assistant', ?, ?, ?, ?)
	`, assistantID, conversationID, assistantContent, placesJSON, auditJSON, now.Format(time.RFC3339Nano))
	if err != nil {
		return "", "", fmt.Errorf("insert assistant message: %w", err)
	}

	_, err = tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), conversationID)
	if err != nil {
		return "", "", fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", "", err
	}
	return userID, assistantID, nil
}

// Messages returns up to limit most recent messages of a conversation
// in chronological order. limit <= 0 means no limit.
func (s *Store) Messages(conversationID string, limit int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, role, content, places_json, tool_audit_json, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", conversationID, limit)
	} else {
		rows, err = s.db.Query(query, conversationID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var placesJSON, auditJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &placesJSON, &auditJSON, &createdAt); err != nil {
			return nil, err
		}
		if placesJSON.Valid && placesJSON.String != "" {
			if err := json.Unmarshal([]byte(placesJSON.String), &m.Places); err != nil {
				return nil, fmt.Errorf("unmarshal places: %w", err)
			}
		}
		if auditJSON.Valid && auditJSON.String != "" {
			if err := json.Unmarshal([]byte(auditJSON.String), &m.ToolAudit); err != nil {
				return nil, fmt.Errorf("unmarshal tool audit: %w", err)
			}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest-first; flip to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
