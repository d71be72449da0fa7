package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrRunInProgress is returned by TryAcquireRunLock when the client already
// has a pipeline run in flight.
var ErrRunInProgress = errors.New("a pipeline run is already in progress for this client")

// SyncStatePatch is a partial update to a client's sync state. Only non-nil
// fields are written; everything else is left untouched so a step-2 save
// never clobbers step-3 data.
type SyncStatePatch struct {
	CurrentStep        *int
	Status             *string
	CSVFile            *CSVFileInfo
	FieldMappings      map[string]interface{}
	PipelineStatus     *string
	SelectedCategories []string
	IsRunningScripts   *bool
	ScriptsStartedAt   *time.Time
	Metadata           map[string]interface{}
}

// GetSyncState retrieves the sync state for a client. Returns nil when the
// client has no sync state yet.
func (c *Client) GetSyncState(ctx context.Context, clientName string) (*SyncState, error) {
	var state SyncState
	err := c.syncStates().FindOne(ctx, bson.M{"clientName": clientName}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &state, nil
}

// SaveSyncState upserts a partial update to a client's sync state.
func (c *Client) SaveSyncState(ctx context.Context, clientName string, patch SyncStatePatch) (*SyncState, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if patch.CurrentStep != nil {
		set["currentStep"] = *patch.CurrentStep
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.CSVFile != nil {
		set["csvFile"] = patch.CSVFile
	}
	if patch.FieldMappings != nil {
		set["fieldMappings"] = patch.FieldMappings
	}
	if patch.PipelineStatus != nil {
		set["pipelineStatus"] = *patch.PipelineStatus
	}
	if patch.SelectedCategories != nil {
		set["selectedCategories"] = patch.SelectedCategories
	}
	if patch.IsRunningScripts != nil {
		set["isRunningScripts"] = *patch.IsRunningScripts
	}
	if patch.ScriptsStartedAt != nil {
		set["scriptsStartedAt"] = *patch.ScriptsStartedAt
	}
	if patch.Metadata != nil {
		set["metadata"] = patch.Metadata
	}

	return c.upsertSyncState(ctx, clientName, bson.M{"$set": set})
}

// ResetSyncState returns a client to step 1 with pending status and clears
// the step 2/3 payloads. The history of prior successful runs (lastSyncDate,
// lastSyncCompletedAt) is preserved. Idempotent: resetting a client with no
// prior state yields the same default document.
func (c *Client) ResetSyncState(ctx context.Context, clientName string) (*SyncState, error) {
	update := bson.M{
		"$set": bson.M{
			"currentStep":        1,
			"status":             SyncStatusPending,
			"csvFile":            nil,
			"fieldMappings":      bson.M{},
			"pipelineStatus":     nil,
			"selectedCategories": []string{},
			"isRunningScripts":   false,
			"metadata":           bson.M{},
			"updatedAt":          time.Now().UTC(),
		},
	}
	return c.upsertSyncState(ctx, clientName, update)
}

// TryAcquireRunLock atomically claims the per-client run slot. The guard is
// a single conditional upsert: the filter only matches a document whose
// isRunningScripts is not already true, and when the document is locked the
// attempted upsert collides with the unique clientName index instead of
// inserting a duplicate. Two racing callers can therefore never both win.
func (c *Client) TryAcquireRunLock(ctx context.Context, clientName string, categories []string, startedAt time.Time) error {
	filter := bson.M{
		"clientName":       clientName,
		"isRunningScripts": bson.M{"$ne": true},
	}
	update := bson.M{
		"$set": bson.M{
			"currentStep":        3,
			"status":             SyncStatusInProgress,
			"selectedCategories": categories,
			"isRunningScripts":   true,
			"scriptsStartedAt":   startedAt,
			"updatedAt":          time.Now().UTC(),
		},
		"$setOnInsert": bson.M{
			"createdAt": time.Now().UTC(),
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	err := c.syncStates().FindOneAndUpdate(ctx, filter, update, opts).Err()
	if mongo.IsDuplicateKeyError(err) {
		return ErrRunInProgress
	}
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return nil
}

// MarkRunFailed records a terminal pipeline failure: the wizard drops back
// to step 1, the run lock is released, and the failure reason is retained
// for operator diagnosis.
func (c *Client) MarkRunFailed(ctx context.Context, clientName, lastError string) (*SyncState, error) {
	update := bson.M{
		"$set": bson.M{
			"status":             SyncStatusFailed,
			"currentStep":        1,
			"isRunningScripts":   false,
			"pipelineStatus":     nil,
			"selectedCategories": []string{},
			"lastError":          lastError,
			"updatedAt":          time.Now().UTC(),
		},
	}
	return c.upsertSyncState(ctx, clientName, update)
}

// MarkRunCompleted records a successful run: wizard back to step 1,
// intermediate state cleared, completion timestamps saved, lastError
// cleared.
func (c *Client) MarkRunCompleted(ctx context.Context, clientName string, completedAt time.Time) (*SyncState, error) {
	update := bson.M{
		"$set": bson.M{
			"status":              SyncStatusCompleted,
			"currentStep":         1,
			"lastSyncDate":        completedAt,
			"lastSyncCompletedAt": completedAt,
			"pipelineStatus":      nil,
			"selectedCategories":  []string{},
			"isRunningScripts":    false,
			"updatedAt":           time.Now().UTC(),
		},
		"$unset": bson.M{
			"lastError": "",
		},
	}
	return c.upsertSyncState(ctx, clientName, update)
}

func (c *Client) upsertSyncState(ctx context.Context, clientName string, update bson.M) (*SyncState, error) {
	if _, ok := update["$setOnInsert"]; !ok {
		update["$setOnInsert"] = bson.M{
			"createdAt": time.Now().UTC(),
		}
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var state SyncState
	err := c.syncStates().FindOneAndUpdate(ctx, bson.M{"clientName": clientName}, update, opts).Decode(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert sync state: %w", err)
	}
	return &state, nil
}
