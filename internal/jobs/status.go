// Package jobs runs analyses one at a time and keeps the outcome of the most
// recent job for status queries.
//
// The execution slot is held in process memory. Running several server
// replicas behind a load balancer gives each replica its own slot, so the
// single-flight guarantee only holds for a single instance.
package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/windops/pkg/models"
)

// ErrNoResult is returned by LastResult before any job has completed.
var ErrNoResult = errors.New("no cached result available")

// StatusStore owns the process-wide JobState and the last result envelope.
// Readers never wait for a running analysis: the lock only covers field
// updates.
type StatusStore struct {
	mu        sync.RWMutex
	state     models.JobState
	last      *models.ResultEnvelope
	lastError string
}

// NewStatusStore returns an idle store.
func NewStatusStore() *StatusStore {
	return &StatusStore{state: models.JobState{Status: models.JobStatusIdle}}
}

// State returns a copy of the current JobState.
func (s *StatusStore) State() models.JobState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status summarises the store for the status endpoint.
func (s *StatusStore) Status() models.AnalysisStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := models.AnalysisStatus{
		Busy:      s.state.Running(),
		State:     s.state.Status,
		RequestID: s.state.RequestID,
		HasResult: s.last != nil,
	}
	if s.state.JobID != uuid.Nil {
		id := s.state.JobID
		st.JobID = &id
	}
	if s.state.Running() {
		kind := s.state.Kind
		started := s.state.StartedAt
		st.CurrentAnalysis = &kind
		st.StartedAt = &started
	}
	if s.lastError != "" {
		msg := s.lastError
		st.LastError = &msg
	}
	return st
}

// LastResult returns the most recent envelope regardless of its kind.
func (s *StatusStore) LastResult() (models.ResultEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return models.ResultEnvelope{}, ErrNoResult
	}
	return *s.last, nil
}

// Restore seeds the store from durable history at startup. It refuses to
// overwrite a running job.
func (s *StatusStore) Restore(state models.JobState, last *models.ResultEnvelope, lastError string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Running() || state.Running() {
		return false
	}
	s.state = state
	if last != nil {
		env := *last
		s.last = &env
	}
	s.lastError = lastError
	return true
}

// start moves the store to running unless a job is already running.
func (s *StatusStore) start(state models.JobState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Running() {
		return false
	}
	s.state = state
	s.lastError = ""
	return true
}

// complete records env as the outcome of jobID and frees the slot.
func (s *StatusStore) complete(jobID uuid.UUID, env models.ResultEnvelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Running() || s.state.JobID != jobID {
		return false
	}
	s.state.Status = models.JobStatusCompleted
	s.state.FinishedAt = env.Timestamp
	s.last = &env
	return true
}

// fail records msg as the outcome of jobID and frees the slot. The previous
// result envelope is kept.
func (s *StatusStore) fail(jobID uuid.UUID, msg string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Running() || s.state.JobID != jobID {
		return false
	}
	s.state.Status = models.JobStatusFailed
	s.state.FinishedAt = at
	s.state.Error = msg
	s.lastError = msg
	return true
}
