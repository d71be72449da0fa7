// Package pipeline orchestrates a tenant's catalog-sync run: bulk
// extraction, transform/load, and the per-category quality-check fan-out,
// with a reconciler that resolves pending runs by watching the object store.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nudgelabs/nudgesync/internal/database"
	"github.com/nudgelabs/nudgesync/internal/scriptrunner"
)

// SyncStateStore is the sync-state surface the orchestrator mutates. The
// orchestrator (and the reconciler, for pending statuses) are the only
// writers of run state.
type SyncStateStore interface {
	TryAcquireRunLock(ctx context.Context, clientName string, categories []string, startedAt time.Time) error
	MarkRunFailed(ctx context.Context, clientName, lastError string) (*database.SyncState, error)
	MarkRunCompleted(ctx context.Context, clientName string, completedAt time.Time) (*database.SyncState, error)
}

// StatusStore is the pipeline status log surface.
type StatusStore interface {
	RecordPipelineStatus(ctx context.Context, clientName, runID, csvID, status, message string, details map[string]interface{}) error
	LatestPipelineStatusForRun(ctx context.Context, clientName, runID string) (*database.PipelineStatusRecord, error)
	MarkPipelineSucceeded(ctx context.Context, clientName, runID, message string) (bool, error)
	ListClientsWithPendingStatus(ctx context.Context) ([]database.PipelineStatusRecord, error)
}

// ScriptRunner executes one external script invocation.
type ScriptRunner interface {
	Run(ctx context.Context, spec scriptrunner.Spec) (*scriptrunner.Result, error)
}

// ObjectStore is the blob-store surface the pipeline consumes: existence
// checks for quality-check inputs and the newer-than poll that drives
// reconciliation.
type ObjectStore interface {
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
	HasObjectsNewerThan(ctx context.Context, bucket, prefix string, since time.Time) (bool, error)
}

// ValidationError rejects a malformed request before any external call; no
// state is mutated.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NormalizeCategory maps a display category name to its object-store form
// (spaces become underscores).
func NormalizeCategory(category string) string {
	return strings.ReplaceAll(strings.TrimSpace(category), " ", "_")
}
