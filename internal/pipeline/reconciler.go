package pipeline

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/nudgelabs/nudgesync/internal/config"
	"github.com/nudgelabs/nudgesync/internal/database"
)

// sweepConcurrency bounds how many tenants a sweep reconciles at once.
const sweepConcurrency = 4

// Reconciler resolves runs whose completion signal is "a file appeared"
// rather than an explicit callback: a pending status record flips to
// success once the object store shows output newer than the record. It is
// the only component besides the orchestrator allowed to touch the status
// log, and it only ever moves pending forward.
type Reconciler struct {
	statuses StatusStore
	objects  ObjectStore
	buckets  config.ObjectStoreConfig
}

// NewReconciler creates a reconciler with the given dependencies.
func NewReconciler(statuses StatusStore, objects ObjectStore, buckets config.ObjectStoreConfig) *Reconciler {
	return &Reconciler{
		statuses: statuses,
		objects:  objects,
		buckets:  buckets,
	}
}

// processedPrefix is the per-tenant prefix under which the transform step
// writes its output.
func processedPrefix(clientName string) string {
	return fmt.Sprintf("processeddata/%s/", clientName)
}

// ReconcileRun checks a single run's status record and, if it is still
// pending, polls the processed-output prefix with the record's creation
// time as the threshold. Only objects modified at or after that time count;
// stale pre-existing output never produces a false success. Returns the
// record in its post-reconciliation state, or nil when the run has no
// record yet.
func (r *Reconciler) ReconcileRun(ctx context.Context, clientName, runID string) (*database.PipelineStatusRecord, error) {
	record, err := r.statuses.LatestPipelineStatusForRun(ctx, clientName, runID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if database.NormalizeStatus(record.Status) != database.PipelineStatusPending {
		return record, nil
	}

	found, err := r.objects.HasObjectsNewerThan(ctx, r.buckets.ProcessedBucket, processedPrefix(clientName), record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to poll object store for %s: %w", clientName, err)
	}
	if !found {
		return record, nil
	}

	message := "pipeline completed: processed output detected in object store"
	flipped, err := r.statuses.MarkPipelineSucceeded(ctx, clientName, record.RunID, message)
	if err != nil {
		return nil, err
	}
	if flipped {
		log.Printf("Reconciled run %s for client %s: pending -> success", record.RunID, clientName)
	}

	return r.statuses.LatestPipelineStatusForRun(ctx, clientName, runID)
}

// Sweep reconciles every pending status record across tenants. Runs are
// independent, so the sweep fans out with a small concurrency bound.
func (r *Reconciler) Sweep(ctx context.Context) error {
	pending, err := r.statuses.ListClientsWithPendingStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending runs: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	log.Printf("Reconciliation sweep: %d pending run(s)", len(pending))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(sweepConcurrency)

	for _, record := range pending {
		record := record
		group.Go(func() error {
			if _, err := r.ReconcileRun(groupCtx, record.ClientName, record.RunID); err != nil {
				// One tenant's store trouble should not abort the sweep.
				log.Printf("Sweep: error reconciling run %s for %s: %v", record.RunID, record.ClientName, err)
			}
			return nil
		})
	}

	return group.Wait()
}
