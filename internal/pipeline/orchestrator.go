package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nudgelabs/nudgesync/internal/config"
	"github.com/nudgelabs/nudgesync/internal/database"
	"github.com/nudgelabs/nudgesync/internal/scriptrunner"
)

// CategoryResult is the outcome of one quality-check invocation within the
// fan-out. A failed category never fails the run.
type CategoryResult struct {
	Category string `json:"category"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Orchestrator sequences a tenant's pipeline run. State transitions are
// persisted through the sync-state and status stores; scripts run through
// the script runner. All dependencies are injected at construction and the
// orchestrator holds no per-run state beyond the in-flight WaitGroup.
type Orchestrator struct {
	syncStates SyncStateStore
	statuses   StatusStore
	runner     ScriptRunner
	objects    ObjectStore
	scripts    *config.ScriptConfigFile
	buckets    config.ObjectStoreConfig

	inflight sync.WaitGroup
}

// NewOrchestrator creates an orchestrator with the given dependencies.
func NewOrchestrator(
	syncStates SyncStateStore,
	statuses StatusStore,
	runner ScriptRunner,
	objects ObjectStore,
	scripts *config.ScriptConfigFile,
	buckets config.ObjectStoreConfig,
) *Orchestrator {
	return &Orchestrator{
		syncStates: syncStates,
		statuses:   statuses,
		runner:     runner,
		objects:    objects,
		scripts:    scripts,
		buckets:    buckets,
	}
}

// StartRun validates the request, claims the per-client run slot, records a
// pending status, and launches the pipeline in a detached background task.
// The caller gets the run ID immediately; progress is observable through
// the stores. Returns database.ErrRunInProgress when the client already has
// a run in flight.
func (o *Orchestrator) StartRun(ctx context.Context, clientName string, categories []string) (string, error) {
	if clientName == "" {
		return "", validationErrorf("client name is required")
	}
	if len(categories) == 0 {
		return "", validationErrorf("at least one category is required")
	}
	for _, category := range categories {
		if NormalizeCategory(category) == "" {
			return "", validationErrorf("categories must not be empty strings")
		}
	}

	runID := uuid.New().String()

	if err := o.syncStates.TryAcquireRunLock(ctx, clientName, categories, time.Now().UTC()); err != nil {
		return "", err
	}

	err := o.statuses.RecordPipelineStatus(ctx, clientName, runID, "", database.PipelineStatusPending, "pipeline run accepted", nil)
	if err != nil {
		// The run never started; release the lock so the tenant is not
		// stuck, and surface the store failure to the caller.
		if _, failErr := o.syncStates.MarkRunFailed(ctx, clientName, fmt.Sprintf("failed to record pipeline status: %v", err)); failErr != nil {
			log.Printf("Error releasing run lock for %s after status write failure: %v", clientName, failErr)
		}
		return "", fmt.Errorf("failed to record pipeline status: %w", err)
	}

	log.Printf("Run %s accepted for client %s (%d categories)", runID, clientName, len(categories))

	// Execute in the background with a fresh context: the HTTP response
	// returns before orchestration begins, so the run must not inherit the
	// request lifecycle.
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		o.execute(context.Background(), clientName, runID, categories)
	}()

	return runID, nil
}

// Wait blocks until all in-flight runs have finished. Used for graceful
// shutdown and by tests.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// execute runs the extract → transform → quality-check sequence. It owns
// writing its own terminal state: every failure path persists before
// returning, so a polling client never observes a run stuck in progress.
func (o *Orchestrator) execute(ctx context.Context, clientName, runID string, categories []string) {
	log.Printf("Run %s: starting extract for client %s", runID, clientName)

	extractArgs := append([]string{clientName}, categories...)
	if _, err := o.runStep(ctx, o.scripts.Extract, extractArgs, nil); err != nil {
		log.Printf("Run %s: extract failed: %v", runID, err)
		o.failRun(ctx, clientName, runID, "extract", err)
		return
	}
	log.Printf("Run %s: extract completed", runID)

	log.Printf("Run %s: starting transform", runID)
	if _, err := o.runStep(ctx, o.scripts.Transform, []string{clientName}, nil); err != nil {
		log.Printf("Run %s: transform failed: %v", runID, err)

		// Best-effort cleanup. Its own failure is logged but never masks
		// the transform failure being reported.
		if _, cleanupErr := o.runStep(ctx, o.scripts.Cleanup, nil, nil); cleanupErr != nil {
			log.Printf("Run %s: cleanup script also failed: %v", runID, cleanupErr)
		} else {
			log.Printf("Run %s: cleanup completed after transform failure", runID)
		}

		o.failRun(ctx, clientName, runID, "transform", err)
		return
	}
	log.Printf("Run %s: transform completed", runID)

	results := o.runQualityChecks(ctx, clientName, runID, categories)

	successCount := 0
	for _, result := range results {
		if result.Success {
			successCount++
		}
	}
	failureCount := len(results) - successCount
	log.Printf("Run %s: quality checks done: %d succeeded, %d failed", runID, successCount, failureCount)

	now := time.Now().UTC()
	if _, err := o.syncStates.MarkRunCompleted(ctx, clientName, now); err != nil {
		log.Printf("Run %s: error saving sync completion for %s: %v", runID, clientName, err)
	}

	details := map[string]interface{}{
		"totalCategories": len(results),
		"successCount":    successCount,
		"failureCount":    failureCount,
		"results":         results,
	}
	err := o.statuses.RecordPipelineStatus(ctx, clientName, runID, "", database.PipelineStatusSuccess, "pipeline run completed", details)
	if err != nil {
		log.Printf("Run %s: error recording success status: %v", runID, err)
	}

	log.Printf("Run %s: completed for client %s", runID, clientName)
}

// runStep invokes one configured script with per-run arguments appended to
// the configured ones.
func (o *Orchestrator) runStep(ctx context.Context, step config.StepScript, args []string, env map[string]string) (*scriptrunner.Result, error) {
	return o.runner.Run(ctx, scriptrunner.Spec{
		Command: step.Command,
		Args:    append(append([]string{}, step.Args...), args...),
		Dir:     step.Dir,
		Env:     env,
		Timeout: step.Timeout(),
	})
}

// runQualityChecks fans out the quality-check script over the selected
// categories, strictly sequentially and in array order. Sequential by
// design: the shared scripting environment cannot absorb concurrent
// ten-hour batch jobs. A category failure is recorded and the loop moves
// on.
func (o *Orchestrator) runQualityChecks(ctx context.Context, clientName, runID string, categories []string) []CategoryResult {
	results := make([]CategoryResult, 0, len(categories))

	for _, category := range categories {
		normalized := NormalizeCategory(category)
		inputKey := fmt.Sprintf("%s/%s.jsonl", clientName, normalized)
		inputURI := fmt.Sprintf("s3://%s/%s", o.buckets.QualityInputBucket, inputKey)
		outputURI := fmt.Sprintf("s3://%s/%s/%s.jsonl", o.buckets.QualityOutputBucket, clientName, normalized)

		log.Printf("Run %s: quality check for category %q", runID, category)

		exists, err := o.objects.HeadObject(ctx, o.buckets.QualityInputBucket, inputKey)
		if err != nil {
			log.Printf("Run %s: error verifying input for category %q: %v", runID, category, err)
			results = append(results, CategoryResult{Category: category, Error: err.Error()})
			continue
		}
		if !exists {
			msg := fmt.Sprintf("input object does not exist: %s", inputURI)
			log.Printf("Run %s: %s", runID, msg)
			results = append(results, CategoryResult{Category: category, Error: msg})
			continue
		}

		// The quality script shells out to the AWS CLI itself, so it gets
		// the store credentials in its environment.
		env := map[string]string{
			"AWS_ACCESS_KEY_ID":     o.buckets.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY": o.buckets.SecretAccessKey,
			"AWS_DEFAULT_REGION":    o.buckets.Region,
			"AWS_REGION":            o.buckets.Region,
		}

		result, err := o.runStep(ctx, o.scripts.Quality, []string{inputURI, outputURI, normalized}, env)
		if err != nil {
			log.Printf("Run %s: quality check failed for category %q: %v", runID, category, err)
			entry := CategoryResult{Category: category, Error: err.Error()}
			if result != nil {
				entry.Stdout = result.Stdout
				entry.Stderr = result.Stderr
			}
			results = append(results, entry)
			continue
		}

		log.Printf("Run %s: quality check succeeded for category %q", runID, category)
		results = append(results, CategoryResult{
			Category: category,
			Success:  true,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		})
	}

	return results
}

// failRun persists a terminal run failure to both stores. Failure detail
// (exit code, signal, captured output) goes into the status record for
// operator diagnosis.
func (o *Orchestrator) failRun(ctx context.Context, clientName, runID, step string, cause error) {
	message := fmt.Sprintf("%s step failed: %v", step, cause)

	if _, err := o.syncStates.MarkRunFailed(ctx, clientName, message); err != nil {
		log.Printf("Run %s: error updating sync state after %s failure: %v", runID, step, err)
	}

	details := map[string]interface{}{"step": step}
	var execErr *scriptrunner.ExecError
	if errors.As(cause, &execErr) {
		details["exitCode"] = execErr.Result.ExitCode
		details["timedOut"] = execErr.Result.TimedOut
		if execErr.Result.Signal != "" {
			details["signal"] = execErr.Result.Signal
		}
		details["stdout"] = execErr.Result.Stdout
		details["stderr"] = execErr.Result.Stderr
	}

	err := o.statuses.RecordPipelineStatus(ctx, clientName, runID, "", database.PipelineStatusFailed, message, details)
	if err != nil {
		log.Printf("Run %s: error recording failure status: %v", runID, err)
	}
}
