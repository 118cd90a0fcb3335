package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metaground/retrieval-engine/internal/errs"
)

// Store persists pipeline State keyed by session_id via a pluggable
// backend.
type Store interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Save(ctx context.Context, sessionID string, s State) error
}

// FileStore is the default Store: one JSON file per session, guarded by
// a create-exclusive lock file so concurrent pipeline runs against the
// same session never interleave writes. go.mod carries no gofrs/flock
// (golang.org/x/sys is only an indirect dependency), so the lock is a portable
// lock-file-via-O_EXCL pattern instead of a syscall-level advisory
// lock — adequate for the single-process, single-host deployment this
// runtime targets.
type FileStore struct {
	dir         string
	lockTimeout time.Duration
}

// NewFileStore builds a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KindConfig, "new_file_store", err)
	}
	return &FileStore{dir: dir, lockTimeout: 10 * time.Second}, nil
}

func (f *FileStore) paths(sessionID string) (statePath, lockPath string) {
	return filepath.Join(f.dir, sessionID+".json"), filepath.Join(f.dir, sessionID+".lock")
}

func (f *FileStore) acquireLock(ctx context.Context, lockPath string) (func(), error) {
	deadline := time.Now().Add(f.lockTimeout)
	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			file.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, errs.New(errs.KindUpstreamIO, "acquire_lock", err)
		}
		if time.Now().After(deadline) {
			return nil, errs.New(errs.KindUpstreamIO, "acquire_lock", fmt.Errorf("timed out waiting for lock %q", lockPath))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Load reads the session's State, returning a zero-value State if no
// file exists yet (a fresh session).
func (f *FileStore) Load(ctx context.Context, sessionID string) (State, error) {
	statePath, lockPath := f.paths(sessionID)
	release, err := f.acquireLock(ctx, lockPath)
	if err != nil {
		return State{}, err
	}
	defer release()

	data, err := os.ReadFile(statePath)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, errs.New(errs.KindUpstreamIO, "load_state", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, errs.New(errs.KindData, "load_state_unmarshal", err)
	}
	return s, nil
}

// Save writes the session's State, replacing the file atomically via a
// temp-file-then-rename so a crash mid-write never leaves a truncated
// state file behind.
func (f *FileStore) Save(ctx context.Context, sessionID string, s State) error {
	statePath, lockPath := f.paths(sessionID)
	release, err := f.acquireLock(ctx, lockPath)
	if err != nil {
		return err
	}
	defer release()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errs.New(errs.KindData, "save_state_marshal", err)
	}
	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.New(errs.KindUpstreamIO, "save_state_write", err)
	}
	if err := os.Rename(tmp, statePath); err != nil {
		return errs.New(errs.KindUpstreamIO, "save_state_rename", err)
	}
	return nil
}

// SQLiteStore is the multi-session-deployment alternative, keyed by
// session_id in a single table rather than one file per session —
// useful when many pipeline workers share a host without a shared
// filesystem for FileStore's lock files.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite-backed pipeline Store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS pipeline_state (
		session_id TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(ddl); err != nil {
		return nil, errs.New(errs.KindIntegrity, "new_sqlite_store", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM pipeline_state WHERE session_id = ?`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return State{}, nil
	}
	if err != nil {
		return State{}, errs.New(errs.KindUpstreamIO, "load_state", err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, errs.New(errs.KindData, "load_state_unmarshal", err)
	}
	return st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sessionID string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errs.New(errs.KindData, "save_state_marshal", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO pipeline_state (session_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		sessionID, string(data))
	if err != nil {
		return errs.New(errs.KindUpstreamIO, "save_state", err)
	}
	return nil
}
