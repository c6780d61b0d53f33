// Package store is the job ledger: runs, their phases, and the story
// representatives remembered across windows.
package store

import (
	"context"
	"time"

	"github.com/sells-group/digest-engine/internal/model"
)

// Store defines the ledger persistence interface.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, job model.JobKind, windowID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (string, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Representatives
	SaveRepresentatives(ctx context.Context, reps []model.Representative) error
	ListRepresentatives(ctx context.Context, windowIDs []string) ([]model.Representative, error)
	PruneRepresentatives(ctx context.Context, before time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
