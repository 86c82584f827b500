// Package progress keeps short-lived progress sessions for long running
// sync operations so a client can poll them.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultRetention = 30 * time.Minute
	DefaultCapacity  = 1024
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	Status      Status     `json:"status"`
	CurrentItem string     `json:"current_item,omitempty"`
	Message     string     `json:"message,omitempty"`
	Processed   int        `json:"processed"`
	Total       int        `json:"total"`
	Errors      int        `json:"errors"`
	Speed       float64    `json:"items_per_second"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Patch changes a session. Empty strings and a zero Total leave the current
// value; Processed and Errors are added to the counters.
type Patch struct {
	Category    string
	CurrentItem string
	Message     string
	Total       int
	Processed   int
	Errors      int
}

// Store holds sessions until they expire. A nil *Store accepts every call
// and records nothing.
type Store struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Snapshot]
	now      func() time.Time
}

func NewStore(retention time.Duration, capacity int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		sessions: expirable.NewLRU[string, *Snapshot](capacity, nil, retention),
		now:      time.Now,
	}
}

// Create starts a session and returns its id.
func (s *Store) Create(category string) string {
	id := uuid.New().String()
	if s == nil {
		return id
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Add(id, &Snapshot{
		ID:        id,
		Category:  category,
		Status:    StatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	})
	return id
}

// Update applies p. Unknown or expired ids are ignored.
func (s *Store) Update(id string, p Patch) {
	s.modify(id, func(snap *Snapshot, now time.Time) {
		if p.Category != "" {
			snap.Category = p.Category
		}
		if p.CurrentItem != "" {
			snap.CurrentItem = p.CurrentItem
		}
		if p.Message != "" {
			snap.Message = p.Message
		}
		if p.Total > 0 {
			snap.Total = p.Total
		}
		snap.Processed += p.Processed
		snap.Errors += p.Errors
	})
}

func (s *Store) Complete(id string) {
	s.modify(id, func(snap *Snapshot, now time.Time) {
		snap.Status = StatusCompleted
		snap.CurrentItem = ""
		snap.FinishedAt = &now
	})
}

func (s *Store) Fail(id string, err error) {
	s.modify(id, func(snap *Snapshot, now time.Time) {
		snap.Status = StatusFailed
		if err != nil {
			snap.Error = err.Error()
		}
		snap.FinishedAt = &now
	})
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (Snapshot, bool) {
	if s == nil || id == "" {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.sessions.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

func (s *Store) modify(id string, fn func(*Snapshot, time.Time)) {
	if s == nil || id == "" {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.sessions.Peek(id)
	if !ok || snap.FinishedAt != nil {
		return
	}
	fn(snap, now)
	snap.UpdatedAt = now
	if elapsed := now.Sub(snap.StartedAt).Seconds(); elapsed > 0 {
		snap.Speed = float64(snap.Processed) / elapsed
	}
}
