package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
)

// Journal is a sqlite write-through copy of the execution store. The server
// restores from it on startup and the CLI reads it for inspection.
type Journal struct {
	db *sql.DB
	// mu serializes writers in this process; lock guards against other processes.
	mu   sync.Mutex
	lock *flock.Flock
}

func OpenJournal(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_executions_state_updated ON executions(state, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath)}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Save(exec Execution) error {
	if strings.TrimSpace(exec.ID) == "" {
		return fmt.Errorf("save execution: missing execution id")
	}
	unlock, err := j.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	created := exec.CreatedAt.UTC().Unix()
	updated := exec.UpdatedAt.UTC().Unix()
	if exec.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}
	if exec.UpdatedAt.IsZero() {
		updated = created
	}

	_, err = j.db.Exec(`
		INSERT INTO executions (execution_id, plan_id, state, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			state=excluded.state,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, exec.ID, exec.PlanID, string(exec.State), created, updated, payload)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (j *Journal) Delete(executionID string) error {
	unlock, err := j.acquire()
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := j.db.Exec("DELETE FROM executions WHERE execution_id = ?", executionID); err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	return nil
}

func (j *Journal) Get(executionID string) (Execution, error) {
	var payload []byte
	err := j.db.QueryRow("SELECT payload FROM executions WHERE execution_id = ?", executionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Execution{}, notFound(executionID)
		}
		return Execution{}, clierr.Wrap(clierr.CodeInternal, "read execution", err)
	}
	var exec Execution
	if err := json.Unmarshal(payload, &exec); err != nil {
		return Execution{}, clierr.Wrap(clierr.CodeInternal, "decode execution payload", err)
	}
	return exec, nil
}

// List returns the most recently updated executions, optionally filtered by state.
func (j *Journal) List(state string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	state = strings.ToUpper(strings.TrimSpace(state))
	var (
		rows *sql.Rows
		err  error
	)
	if state == "" {
		rows, err = j.db.Query("SELECT payload FROM executions ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = j.db.Query("SELECT payload FROM executions WHERE state = ? ORDER BY updated_at DESC LIMIT ?", state, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return scanExecutions(rows)
}

// LoadAll returns every journaled execution.
func (j *Journal) LoadAll() ([]Execution, error) {
	rows, err := j.db.Query("SELECT payload FROM executions ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("load executions: %w", err)
	}
	return scanExecutions(rows)
}

func scanExecutions(rows *sql.Rows) ([]Execution, error) {
	defer rows.Close()
	out := make([]Execution, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		var exec Execution
		if err := json.Unmarshal(payload, &exec); err != nil {
			return nil, fmt.Errorf("decode execution row: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return out, nil
}

func (j *Journal) acquire() (func(), error) {
	j.mu.Lock()
	locked, err := j.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		j.mu.Unlock()
		return nil, fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		j.mu.Unlock()
		return nil, fmt.Errorf("lock journal: timeout acquiring lock")
	}
	return func() {
		_ = j.lock.Unlock()
		j.mu.Unlock()
	}, nil
}
