package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RoomStore persists sessions as json blobs keyed by room code, one row per
// room. finished_at is duplicated into its own column so the reaper can
// expire finished drafts without unmarshalling anything.
type RoomStore struct {
	db   *sql.DB
	cfg  *Config
	done chan struct{}
}

const roomSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	code        TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	finished_at TIMESTAMP
);`

func openRoomStore(cfg *Config) (*RoomStore, error) {
	db, err := sql.Open("sqlite3", cfg.store+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open room store: %w", err)
	}

	// A single writer keeps sqlite happy and the store is not the
	// bottleneck at this scale.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(roomSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create room schema: %w", err)
	}

	rs := &RoomStore{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	if cfg.retention > 0 {
		go rs.reaperLoop()
	}

	return rs, nil
}

func (rs *RoomStore) Close() error {
	select {
	case <-rs.done:
	default:
		close(rs.done)
	}
	return rs.db.Close()
}

// Get loads the session stored under code, or errRoomNotFound.
func (rs *RoomStore) Get(code string) (*Session, error) {
	var data string

	err := rs.db.QueryRow("SELECT data FROM rooms WHERE code = ?", normalizeCode(code)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %q: %w", code, err)
	}

	session := &Session{}
	if err := json.Unmarshal([]byte(data), session); err != nil {
		return nil, fmt.Errorf("failed to decode room %q: %w", code, err)
	}

	return session, nil
}

// Save upserts the session under its code.
func (rs *RoomStore) Save(session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode room %q: %w", session.Code, err)
	}

	_, err = rs.db.Exec(
		`INSERT INTO rooms (code, data, finished_at) VALUES (?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET data = excluded.data, finished_at = excluded.finished_at`,
		session.Code, string(data), session.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save room %q: %w", session.Code, err)
	}

	return nil
}

// Delete removes the session stored under code, reporting whether it was
// present. Deleting an absent code is not an error.
func (rs *RoomStore) Delete(code string) (bool, error) {
	result, err := rs.db.Exec("DELETE FROM rooms WHERE code = ?", normalizeCode(code))
	if err != nil {
		return false, fmt.Errorf("failed to delete room %q: %w", code, err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// reapExpired deletes every finished room older than the retention window.
func (rs *RoomStore) reapExpired() (int64, error) {
	cutoff := time.Now().UTC().Add(-rs.cfg.retention)

	result, err := rs.db.Exec(
		"DELETE FROM rooms WHERE finished_at IS NOT NULL AND finished_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (rs *RoomStore) reaperLoop() {
	ticker := time.NewTicker(rs.cfg.retention / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count, err := rs.reapExpired()
			if err != nil {
				logf(rs.cfg, "STORE: Reaper error: %v", err)
				continue
			}
			if count > 0 {
				logf(rs.cfg, "STORE: Reaped %d expired room(s)", count)
			}
		case <-rs.done:
			return
		}
	}
}
