package execution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/logging"
	"github.com/ggonzalez94/crossroute/internal/metrics"
)

const (
	DefaultInactivityTTL = 30 * time.Minute
	DefaultRetention     = 24 * time.Hour

	ReasonExecutionNotFound = "EXECUTION_NOT_FOUND"
)

type StoreOptions struct {
	// InactivityTTL is how long a non-final execution may go without a
	// successful transition before it is marked EXPIRED.
	InactivityTTL time.Duration
	// Retention is how long final executions are kept before purge.
	Retention time.Duration
	Journal   *Journal
	Logger    logrus.FieldLogger
}

// Store owns every live execution. Operations on one id are serialized by
// that entry's mutex; the map lock only guards lookup, insert and delete.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	byPlan  map[string]string

	ttl       time.Duration
	retention time.Duration
	journal   *Journal
	log       logrus.FieldLogger
	now       func() time.Time
}

type entry struct {
	mu      sync.Mutex
	exec    Execution
	removed bool
}

type SweepResult struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
}

func NewStore(opts StoreOptions) *Store {
	if opts.InactivityTTL <= 0 {
		opts.InactivityTTL = DefaultInactivityTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Store{
		entries:   map[string]*entry{},
		byPlan:    map[string]string{},
		ttl:       opts.InactivityTTL,
		retention: opts.Retention,
		journal:   opts.Journal,
		log:       opts.Logger,
		now:       time.Now,
	}
}

// Restore loads journaled executions into memory. It is meant to run once at
// startup before the store serves requests.
func (s *Store) Restore() (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	execs, err := s.journal.LoadAll()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exec := range execs {
		s.entries[exec.ID] = &entry{exec: exec}
		if exec.PlanID != "" {
			s.byPlan[exec.PlanID] = exec.ID
		}
	}
	return len(execs), nil
}

// Create inserts a new execution. A plan can back at most one execution.
func (s *Store) Create(exec Execution) error {
	s.mu.Lock()
	if _, ok := s.entries[exec.ID]; ok {
		s.mu.Unlock()
		return clierr.New(clierr.CodeStateConflict, fmt.Sprintf("execution %s already exists", exec.ID))
	}
	if owner, ok := s.byPlan[exec.PlanID]; ok {
		s.mu.Unlock()
		return clierr.New(clierr.CodeStateConflict, fmt.Sprintf("plan %s was already consumed by execution %s", exec.PlanID, owner))
	}
	s.entries[exec.ID] = &entry{exec: exec.clone()}
	s.byPlan[exec.PlanID] = exec.ID
	s.mu.Unlock()

	s.persist(exec)
	return nil
}

// Get returns a snapshot without side effects.
func (s *Store) Get(executionID string) (Execution, error) {
	e := s.lookup(executionID)
	if e == nil {
		return Execution{}, notFound(executionID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Execution{}, notFound(executionID)
	}
	return e.exec.clone(), nil
}

// Update runs fn on a copy of the execution while holding its lock. The copy
// replaces the stored value only when fn reports a change, even if fn also
// returns an error. The returned snapshot is whatever is stored afterwards.
func (s *Store) Update(executionID string, fn func(exec *Execution) (bool, error)) (Execution, error) {
	e := s.lookup(executionID)
	if e == nil {
		return Execution{}, notFound(executionID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Execution{}, notFound(executionID)
	}

	if e.exec.State == StateExpired {
		return e.exec.clone(), expired(executionID)
	}
	if s.expireIfIdle(&e.exec, s.now().UTC()) {
		s.persist(e.exec)
		return e.exec.clone(), expired(executionID)
	}

	next := e.exec.clone()
	changed, err := fn(&next)
	if !changed {
		return e.exec.clone(), err
	}
	next.fold()
	if next.State != e.exec.State && next.State.Final() {
		metrics.RecordExecutionFinished(string(next.State))
	}
	e.exec = next
	s.persist(next)
	return next.clone(), err
}

// List returns snapshots ordered by most recent update.
func (s *Store) List() []Execution {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Execution, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.exec.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Sweep expires idle executions and purges final ones past retention. It
// locks one entry at a time.
func (s *Store) Sweep() SweepResult {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var res SweepResult
	now := s.now().UTC()
	for _, id := range ids {
		e := s.lookup(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if s.expireIfIdle(&e.exec, now) {
			res.Expired++
			s.persist(e.exec)
		}
		if s.purgeable(e.exec, now) {
			e.removed = true
			s.mu.Lock()
			delete(s.entries, id)
			if s.byPlan[e.exec.PlanID] == id {
				delete(s.byPlan, e.exec.PlanID)
			}
			s.mu.Unlock()
			if s.journal != nil {
				if err := s.journal.Delete(id); err != nil {
					s.log.WithField(logging.FieldExecutionID, id).WithError(err).Warn("journal delete failed")
				}
			}
			res.Purged++
		}
		e.mu.Unlock()
	}
	metrics.RecordSweep(res.Expired, res.Purged)
	return res
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) lookup(executionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[executionID]
}

func (s *Store) expireIfIdle(exec *Execution, now time.Time) bool {
	if exec.State.Final() || now.Sub(exec.UpdatedAt) <= s.ttl {
		return false
	}
	exec.ExpiredAt = &now
	exec.fold()
	metrics.RecordExecutionFinished(string(exec.State))
	s.log.WithFields(logrus.Fields{
		logging.FieldExecutionID: exec.ID,
		"idle":                   now.Sub(exec.UpdatedAt).Round(time.Second).String(),
	}).Info("execution expired")
	return true
}

func (s *Store) purgeable(exec Execution, now time.Time) bool {
	switch {
	case exec.ExpiredAt != nil:
		return now.Sub(*exec.ExpiredAt) > s.retention
	case exec.State.Final():
		return now.Sub(exec.UpdatedAt) > s.retention
	}
	return false
}

func (s *Store) persist(exec Execution) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Save(exec); err != nil {
		s.log.WithField(logging.FieldExecutionID, exec.ID).WithError(err).Warn("journal write failed")
	}
}

func notFound(executionID string) error {
	return clierr.New(clierr.CodeNotFound, fmt.Sprintf("execution not found: %s", executionID)).WithReason(ReasonExecutionNotFound)
}

func expired(executionID string) error {
	return clierr.New(clierr.CodeExpired, fmt.Sprintf("execution %s expired after inactivity", executionID))
}
