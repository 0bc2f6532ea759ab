package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/windops/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error

	// FailRunningJobs marks every job still recorded as running as failed
	// and returns their IDs. Used once at startup.
	FailRunningJobs(ctx context.Context, message string) ([]uuid.UUID, error)
	LatestJob(ctx context.Context) (*models.Job, error)
	LatestCompletedJob(ctx context.Context) (*models.Job, error)
}

type JobFilter struct {
	Kind   models.AnalysisKind
	Status string
	Page   int
	Limit  int
}

// JobUpdate is the resolved form of a set of JobUpdateOptions.
type JobUpdate struct {
	ErrorMessage *string
	Result       json.RawMessage
	Source       *models.DataSource
	FinishedAt   *time.Time
}

type JobUpdateOption func(*JobUpdate)

// ResolveJobUpdate applies opts to an empty JobUpdate.
func ResolveJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

// WithResult stores the payload and the data source it was computed from.
func WithResult(data json.RawMessage, source models.DataSource) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Result = data
		p.Source = &source
	}
}

// WithFinishedAt overrides the completion timestamp, which otherwise
// defaults to the time of the update.
func WithFinishedAt(t time.Time) JobUpdateOption {
	return func(p *JobUpdate) {
		p.FinishedAt = &t
	}
}
