package resultcache

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/windops/pkg/models"
)

// Staleness says whether a cached result still matches the server data.
type Staleness string

const (
	// Current results were computed against the data loaded now.
	Current Staleness = "current"
	// StaleDataset results were computed against a different dataset.
	StaleDataset Staleness = "stale"
	// StaleUnavailable results came from uploaded data the server no longer
	// holds.
	StaleUnavailable Staleness = "unavailable"
	// Unverified means the server could not be asked.
	Unverified Staleness = "unverified"
)

// Reconcile compares the provenance of a cached result with the source the
// server reports now.
func Reconcile(meta Meta, current models.DataSource) Staleness {
	switch {
	case meta.Source == current:
		return Current
	case meta.Source == models.SourceCustom && current == models.SourceDemo:
		return StaleUnavailable
	default:
		return StaleDataset
	}
}

// Message is the user facing explanation, empty for Current.
func (s Staleness) Message() string {
	switch s {
	case StaleDataset:
		return "This result was computed against a different dataset. Re-run the analysis to refresh it."
	case StaleUnavailable:
		return "This result was computed from uploaded data that is no longer available. Re-upload the data and re-run the analysis."
	case Unverified:
		return "Could not reach the server to check whether this result is still current."
	default:
		return ""
	}
}

// SourceProvider reports the dataset source currently loaded on the server.
type SourceProvider interface {
	CurrentSource(ctx context.Context) (models.DataSource, error)
}

// Lookup returns the cached entry for kind with its staleness. Entries are
// never removed on mismatch. If sources fails the entry is returned as
// Unverified together with the error.
func (s *Store) Lookup(ctx context.Context, kind models.AnalysisKind, sources SourceProvider) (Entry, Staleness, bool, error) {
	e, ok, err := s.Get(ctx, kind)
	if err != nil || !ok {
		return Entry{}, "", ok, err
	}
	current, err := sources.CurrentSource(ctx)
	if err != nil {
		return e, Unverified, true, fmt.Errorf("checking data source: %w", err)
	}
	return e, Reconcile(e.Meta, current), true, nil
}
