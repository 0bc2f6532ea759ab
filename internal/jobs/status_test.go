package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/windops/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningState(kind models.AnalysisKind) models.JobState {
	return models.JobState{
		Status:    models.JobStatusRunning,
		Kind:      kind,
		JobID:     uuid.New(),
		RequestID: "req-1",
		StartedAt: time.Now().UTC(),
	}
}

func TestStatusStore_InitialStatus(t *testing.T) {
	s := NewStatusStore()
	st := s.Status()

	assert.False(t, st.Busy)
	assert.Equal(t, models.JobStatusIdle, st.State)
	assert.Nil(t, st.CurrentAnalysis)
	assert.Nil(t, st.JobID)
	assert.False(t, st.HasResult)
	assert.Nil(t, st.LastError)

	_, err := s.LastResult()
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestStatusStore_StartRejectsWhileRunning(t *testing.T) {
	s := NewStatusStore()
	first := runningState(models.KindAEP)
	require.True(t, s.start(first))
	assert.False(t, s.start(runningState(models.KindWake)))
	assert.Equal(t, first, s.State())

	st := s.Status()
	assert.True(t, st.Busy)
	require.NotNil(t, st.CurrentAnalysis)
	assert.Equal(t, models.KindAEP, *st.CurrentAnalysis)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, "req-1", st.RequestID)
}

func TestStatusStore_CompleteIgnoresStaleJobID(t *testing.T) {
	s := NewStatusStore()
	state := runningState(models.KindYaw)
	require.True(t, s.start(state))

	env := models.ResultEnvelope{JobID: uuid.New(), Kind: models.KindYaw, Data: json.RawMessage(`{}`), Timestamp: time.Now()}
	assert.False(t, s.complete(uuid.New(), env))
	assert.True(t, s.State().Running())

	env.JobID = state.JobID
	assert.True(t, s.complete(state.JobID, env))
	assert.False(t, s.complete(state.JobID, env), "a finished job cannot be completed twice")

	last, err := s.LastResult()
	require.NoError(t, err)
	assert.Equal(t, state.JobID, last.JobID)
}

func TestStatusStore_StartClearsLastError(t *testing.T) {
	s := NewStatusStore()
	state := runningState(models.KindGap)
	require.True(t, s.start(state))
	require.True(t, s.fail(state.JobID, "Gap Analysis failed: boom", time.Now()))
	require.NotNil(t, s.Status().LastError)

	require.True(t, s.start(runningState(models.KindGap)))
	assert.Nil(t, s.Status().LastError)
}

func TestStatusStore_RestoreRefusesRunning(t *testing.T) {
	s := NewStatusStore()
	require.True(t, s.start(runningState(models.KindAEP)))
	assert.False(t, s.Restore(models.JobState{Status: models.JobStatusFailed}, nil, "x"))

	idle := NewStatusStore()
	assert.False(t, idle.Restore(runningState(models.KindAEP), nil, ""))

	env := &models.ResultEnvelope{JobID: uuid.New(), Kind: models.KindWake}
	assert.True(t, idle.Restore(models.JobState{Status: models.JobStatusCompleted, Kind: models.KindWake, JobID: env.JobID}, env, ""))
	assert.True(t, idle.Status().HasResult)
}
