// Package engine selects the analysis engine implementation.
package engine

import (
	"fmt"

	"github.com/kiranshivaraju/windops/internal/config"
	"github.com/kiranshivaraju/windops/internal/engine/mock"
	"github.com/kiranshivaraju/windops/internal/engine/remote"
	"github.com/kiranshivaraju/windops/pkg/models"
)

// NewEngine constructs the analysis engine named by cfg.Provider.
// Called once at server startup.
func NewEngine(cfg config.EngineConfig) (models.AnalysisEngine, error) {
	switch cfg.Provider {
	case "remote":
		return remote.New(cfg.BaseURL, cfg.Timeout), nil
	case "mock":
		return mock.NewEngine(cfg.MockDelay), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q: must be one of remote, mock", cfg.Provider)
	}
}
