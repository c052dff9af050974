package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

var (
	// ErrAlreadyClaimed is returned when a second worker tries to own a job.
	ErrAlreadyClaimed = errors.New("job already claimed by a worker")
	// ErrTerminal is returned when a terminal job is mutated.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned for an edge the state machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrDuplicateID is returned when inserting an id that already exists.
	ErrDuplicateID = errors.New("duplicate job id")
)

// TerminalHook observes every job that reaches a terminal state.
type TerminalHook func(Job)

type record struct {
	mu              sync.Mutex
	job             Job
	claimed         bool
	cancelRequested bool
}

// Store is an arena of job records keyed by id. The map lock is held only
// for lookups and membership changes; each record carries its own lock so
// reads of one job never wait on another job's transition.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
	hook    TerminalHook
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithTerminalHook registers a callback run after each terminal transition,
// outside any store lock.
func WithTerminalHook(hook TerminalHook) StoreOption {
	return func(s *Store) { s.hook = hook }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	store := &Store{
		records: make(map[string]*record),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Insert adds a new job.
func (s *Store) Insert(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, job.ID)
	}

	s.records[job.ID] = &record{job: job.Clone()}

	return nil
}

func (s *Store) lookup(id string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return nil, core.Errorf(core.KindNotFound, "lookup", "job %q", id)
	}

	return rec, nil
}

// Get returns a snapshot of the job.
func (s *Store) Get(id string) (Job, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.job.Clone(), nil
}

// List returns snapshots of every job ordered by creation time.
func (s *Store) List() []Job {
	s.mu.RLock()
	records := make([]*record, 0, len(s.records))

	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	jobs := make([]Job, 0, len(records))

	for _, rec := range records {
		rec.mu.Lock()
		jobs = append(jobs, rec.job.Clone())
		rec.mu.Unlock()
	}

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}

		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})

	return jobs
}

// Delete removes a job.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return core.Errorf(core.KindNotFound, "delete", "job %q", id)
	}

	delete(s.records, id)

	return nil
}

// Claim marks the job as owned by the calling worker. It fails when the job
// is already owned or was cancelled before it could start.
func (s *Store) Claim(id string) (Job, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.State.IsTerminal() {
		return Job{}, fmt.Errorf("%w: %s is %s", ErrTerminal, id, rec.job.State)
	}

	if rec.claimed {
		return Job{}, fmt.Errorf("%w: %s", ErrAlreadyClaimed, id)
	}

	rec.claimed = true

	return rec.job.Clone(), nil
}

// Transition moves the job to state to, appending entry first when non-nil.
func (s *Store) Transition(id string, to State, entry *StageEntry) error {
	return s.mutate(id, func(job *Job) error {
		if !CanTransition(job.State, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, to)
		}

		if entry != nil {
			job.StageLog = append(job.StageLog, *entry)
		}

		job.State = to

		return nil
	})
}

// Complete records the final stage entry and the artifact result.
func (s *Store) Complete(id string, entry StageEntry, result Result) error {
	return s.mutate(id, func(job *Job) error {
		if !CanTransition(job.State, StateCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, StateCompleted)
		}

		job.StageLog = append(job.StageLog, entry)
		job.State = StateCompleted
		job.Result = &result

		return nil
	})
}

// Fail records the failed stage entry and the classified failure.
func (s *Store) Fail(id string, entry *StageEntry, failure Failure) error {
	return s.mutate(id, func(job *Job) error {
		if entry != nil {
			job.StageLog = append(job.StageLog, *entry)
		}

		job.State = StateFailed
		job.Error = &failure

		return nil
	})
}

// MarkCancelled moves a running job to Cancelled at a stage boundary.
func (s *Store) MarkCancelled(id string) error {
	return s.mutate(id, func(job *Job) error {
		job.State = StateCancelled

		return nil
	})
}

// RequestCancel cancels a Queued job immediately and flags any other
// non-terminal job for cooperative cancellation. It returns the state the
// job is in afterwards; terminal jobs are left untouched.
func (s *Store) RequestCancel(id string) (State, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return "", err
	}

	rec.mu.Lock()

	state := rec.job.State
	switch {
	case state.IsTerminal():
		rec.mu.Unlock()

		return state, nil
	case state == StateQueued:
		rec.job.State = StateCancelled
		rec.job.UpdatedAt = s.stamp(rec.job.UpdatedAt)
		snapshot := rec.job.Clone()
		rec.mu.Unlock()
		s.notify(snapshot)

		return StateCancelled, nil
	default:
		rec.cancelRequested = true
		rec.mu.Unlock()

		return state, nil
	}
}

// CancelRequested reports whether cooperative cancellation was requested.
func (s *Store) CancelRequested(id string) bool {
	rec, err := s.lookup(id)
	if err != nil {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.cancelRequested
}

// Active counts jobs owned by a worker and not yet terminal.
func (s *Store) Active() int {
	s.mu.RLock()
	records := make([]*record, 0, len(s.records))

	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	active := 0

	for _, rec := range records {
		rec.mu.Lock()
		if rec.claimed && !rec.job.State.IsTerminal() {
			active++
		}
		rec.mu.Unlock()
	}

	return active
}

// Evict removes terminal jobs last updated before cutoff and returns their ids.
func (s *Store) Evict(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string

	for id, rec := range s.records {
		rec.mu.Lock()
		expired := rec.job.State.IsTerminal() && rec.job.UpdatedAt.Before(cutoff)
		rec.mu.Unlock()

		if expired {
			delete(s.records, id)
			evicted = append(evicted, id)
		}
	}

	sort.Strings(evicted)

	return evicted
}

// mutate applies change under the record lock. Terminal jobs are refused;
// the terminal hook runs after the lock is released.
func (s *Store) mutate(id string, change func(*Job) error) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()

	if rec.job.State.IsTerminal() {
		state := rec.job.State
		rec.mu.Unlock()

		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, state)
	}

	err = change(&rec.job)
	if err != nil {
		rec.mu.Unlock()

		return err
	}

	rec.job.UpdatedAt = s.stamp(rec.job.UpdatedAt)

	var snapshot *Job

	if rec.job.State.IsTerminal() {
		clone := rec.job.Clone()
		snapshot = &clone
	}
	rec.mu.Unlock()

	if snapshot != nil {
		s.notify(*snapshot)
	}

	return nil
}

// stamp returns the current time, never earlier than previous.
func (s *Store) stamp(previous time.Time) time.Time {
	now := s.now()
	if now.Before(previous) {
		return previous
	}

	return now
}

func (s *Store) notify(snapshot Job) {
	if s.hook != nil {
		s.hook(snapshot)
	}
}
