// Package cache keeps computed route plans until a client turns them into an
// execution or their quotes expire.
package cache

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
	"github.com/ggonzalez94/crossroute/internal/route"
)

const (
	ReasonPlanNotFound = "PLAN_NOT_FOUND"
	ReasonPlanExpired  = "PLAN_EXPIRED"

	lockTimeout = 5 * time.Second
)

type PlanBook struct {
	db   *sql.DB
	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

func OpenPlanBook(path, lockPath string) (*PlanBook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create plan book directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plan book: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_plans_expires ON plans(expires_at);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init plan book schema: %w", err)
		}
	}

	book := &PlanBook{db: db, lock: flock.New(lockPath), now: time.Now}
	_ = book.Prune()
	return book, nil
}

func (b *PlanBook) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Put stores plan until ttl elapses. A non-positive ttl keeps the plan until
// its own expiresAt.
func (b *PlanBook) Put(plan route.Plan, ttl time.Duration) error {
	if strings.TrimSpace(plan.ID) == "" {
		return clierr.New(clierr.CodeUsage, "plan id is required")
	}
	payload, err := json.Marshal(plan)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode plan", err)
	}

	now := b.now().UTC()
	expires := now.Add(ttl)
	if ttl <= 0 {
		expires = now.Add(time.Minute)
		if t, err := time.Parse(time.RFC3339, plan.ExpiresAt); err == nil && t.After(now) {
			expires = t
		}
	}

	unlock, err := b.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	_, err = b.db.Exec(`
		INSERT INTO plans (plan_id, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET
			payload=excluded.payload,
			created_at=excluded.created_at,
			expires_at=excluded.expires_at
	`, plan.ID, payload, now.Unix(), expires.Unix())
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "write plan", err)
	}
	return nil
}

// Get returns a stored plan. Plans past their expiry are reported as expired
// until the next prune removes them.
func (b *PlanBook) Get(planID string) (route.Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return route.Plan{}, clierr.New(clierr.CodeUsage, "plan id is required")
	}
	var (
		payload   []byte
		expiresAt int64
	)
	err := b.db.QueryRow("SELECT payload, expires_at FROM plans WHERE plan_id = ?", planID).Scan(&payload, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return route.Plan{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("plan not found: %s", planID)).WithReason(ReasonPlanNotFound)
		}
		return route.Plan{}, clierr.Wrap(clierr.CodeInternal, "read plan", err)
	}
	if b.now().UTC().Unix() > expiresAt {
		return route.Plan{}, clierr.New(clierr.CodeExpired, fmt.Sprintf("plan %s has expired, request a new route plan", planID)).WithReason(ReasonPlanExpired)
	}
	var plan route.Plan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return route.Plan{}, clierr.Wrap(clierr.CodeInternal, "decode plan", err)
	}
	return plan, nil
}

// Prune deletes plans whose expiry has passed.
func (b *PlanBook) Prune() error {
	if b == nil || b.db == nil {
		return nil
	}
	if _, err := b.db.Exec("DELETE FROM plans WHERE expires_at < ?", b.now().UTC().Unix()); err != nil {
		return fmt.Errorf("prune plans: %w", err)
	}
	return nil
}

func (b *PlanBook) acquire() (func(), error) {
	b.mu.Lock()
	locked, err := b.lock.TryLockContext(context.Background(), lockTimeout)
	if err != nil {
		b.mu.Unlock()
		return nil, clierr.Wrap(clierr.CodeInternal, "lock plan book", err)
	}
	if !locked {
		b.mu.Unlock()
		return nil, clierr.New(clierr.CodeInternal, "lock plan book: timeout acquiring lock")
	}
	return func() {
		_ = b.lock.Unlock()
		b.mu.Unlock()
	}, nil
}
