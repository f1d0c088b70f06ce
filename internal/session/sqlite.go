package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edanesia/eda/internal/models"
)

// SQLiteStore is a durable session store. Turn order is preserved by a
// per-session sequence number assigned inside the append transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a session database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_active TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetOrCreate registers the session if absent and returns a snapshot of it.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id) VALUES (?)`, id); err != nil {
		return nil, err
	}
	turns, err := s.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, turns: turns}, nil
}

// Append adds turns to the end of id's history.
func (s *SQLiteStore) Append(ctx context.Context, id string, turns ...models.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id) VALUES (?)`, id); err != nil {
		return err
	}
	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq)+1, 0) FROM session_turns WHERE session_id = ?`, id).Scan(&next); err != nil {
		return err
	}
	for i, turn := range turns {
		at := turn.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_turns (session_id, seq, role, text, at) VALUES (?, ?, ?, ?, ?)`,
			id, next+i, string(turn.Role), turn.Text, at); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active = ? WHERE id = ?`, time.Now(), id); err != nil {
		return err
	}
	return tx.Commit()
}

// History returns id's turns ordered by sequence.
func (s *SQLiteStore) History(ctx context.Context, id string) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, at FROM session_turns WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var turns []models.Turn
	for rows.Next() {
		var turn models.Turn
		var role string
		if err := rows.Scan(&role, &turn.Text, &turn.At); err != nil {
			return nil, err
		}
		turn.Role = models.Role(role)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
