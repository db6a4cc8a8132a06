package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/kingrea/scenekit/internal/persist"
)

// Store implements persist.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func encodeData(state persist.SessionState) (string, error) {
	raw, err := json.Marshal(state.Data.Normalized())
	if err != nil {
		return "", fmt.Errorf("sqlitestore: encode data: %w", err)
	}
	return string(raw), nil
}

// Insert implements persist.Store.
func (s *Store) Insert(ctx context.Context, state persist.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := encodeData(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scene_sessions (user_id, scene, page, message_id, data, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		state.UserID, state.SceneType, state.Page, state.MessageID, data, now(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return persist.ErrExists
		}
		return fmt.Errorf("sqlitestore: insert %d: %w", state.UserID, err)
	}
	return nil
}

// Load implements persist.Store.
func (s *Store) Load(ctx context.Context, userID int64) (persist.SessionState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, scene, page, message_id, data FROM scene_sessions WHERE user_id = ?`, userID)
	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.SessionState{}, persist.ErrNotFound
	}
	if err != nil {
		return persist.SessionState{}, fmt.Errorf("sqlitestore: load %d: %w", userID, err)
	}
	return state, nil
}

// Update implements persist.Store. Missing states are created.
func (s *Store) Update(ctx context.Context, state persist.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := encodeData(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO scene_sessions (user_id, scene, page, message_id, data, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    scene = excluded.scene,
    page = excluded.page,
    message_id = excluded.message_id,
    data = excluded.data,
    updated_at = excluded.updated_at`,
		state.UserID, state.SceneType, state.Page, state.MessageID, data, now(),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update %d: %w", state.UserID, err)
	}
	return nil
}

// Delete implements persist.Store.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scene_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %d: %w", userID, err)
	}
	if n == 0 {
		return persist.ErrNotFound
	}
	return nil
}

// List implements persist.Store.
func (s *Store) List(ctx context.Context) ([]persist.SessionState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, scene, page, message_id, data FROM scene_sessions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()
	var out []persist.SessionState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: list scan: %w", err)
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (persist.SessionState, error) {
	var (
		state persist.SessionState
		data  string
	)
	if err := row.Scan(&state.UserID, &state.SceneType, &state.Page, &state.MessageID, &data); err != nil {
		return persist.SessionState{}, err
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &state.Data); err != nil {
			return persist.SessionState{}, err
		}
	}
	state.Data = state.Data.Normalized()
	return state, nil
}
