package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/nudgelabs/nudgesync/internal/config"
	"github.com/nudgelabs/nudgesync/internal/database"
	"github.com/nudgelabs/nudgesync/internal/scriptrunner"
)

// fakeSyncStateStore tracks the per-client run lock in memory.
type fakeSyncStateStore struct {
	mu         sync.Mutex
	locked     map[string]bool
	failedWith map[string]string
	completed  map[string]time.Time
	acquireErr error
}

func newFakeSyncStateStore() *fakeSyncStateStore {
	return &fakeSyncStateStore{
		locked:     make(map[string]bool),
		failedWith: make(map[string]string),
		completed:  make(map[string]time.Time),
	}
}

func (f *fakeSyncStateStore) TryAcquireRunLock(ctx context.Context, clientName string, categories []string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	if f.locked[clientName] {
		return database.ErrRunInProgress
	}
	f.locked[clientName] = true
	return nil
}

func (f *fakeSyncStateStore) MarkRunFailed(ctx context.Context, clientName, lastError string) (*database.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[clientName] = false
	f.failedWith[clientName] = lastError
	return &database.SyncState{ClientName: clientName, Status: database.SyncStatusFailed}, nil
}

func (f *fakeSyncStateStore) MarkRunCompleted(ctx context.Context, clientName string, completedAt time.Time) (*database.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked[clientName] = false
	f.completed[clientName] = completedAt
	return &database.SyncState{ClientName: clientName, Status: database.SyncStatusCompleted}, nil
}

func (f *fakeSyncStateStore) isLocked(clientName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked[clientName]
}

func (f *fakeSyncStateStore) lastError(clientName string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failedWith[clientName]
}

// fakeStatusStore keeps one record per client+run, mirroring the upsert
// semantics of the real status log.
type fakeStatusStore struct {
	mu        sync.Mutex
	records   []database.PipelineStatusRecord
	recordErr error
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{}
}

func (f *fakeStatusStore) RecordPipelineStatus(ctx context.Context, clientName, runID, csvID, status, message string, details map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	now := time.Now().UTC()
	for i := range f.records {
		if f.records[i].ClientName == clientName && f.records[i].RunID == runID {
			f.records[i].Status = status
			f.records[i].Message = message
			f.records[i].Details = details
			f.records[i].UpdatedAt = now
			return nil
		}
	}
	f.records = append(f.records, database.PipelineStatusRecord{
		ClientName: clientName,
		RunID:      runID,
		CSVID:      csvID,
		Status:     status,
		Message:    message,
		Details:    details,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return nil
}

func (f *fakeStatusStore) LatestPipelineStatusForRun(ctx context.Context, clientName, runID string) (*database.PipelineStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ClientName == clientName && f.records[i].RunID == runID {
			record := f.records[i]
			return &record, nil
		}
	}
	return nil, nil
}

func (f *fakeStatusStore) MarkPipelineSucceeded(ctx context.Context, clientName, runID, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ClientName == clientName && f.records[i].RunID == runID {
			if database.NormalizeStatus(f.records[i].Status) != database.PipelineStatusPending {
				return false, nil
			}
			f.records[i].Status = database.PipelineStatusSuccess
			f.records[i].Message = message
			f.records[i].UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStatusStore) ListClientsWithPendingStatus(ctx context.Context) ([]database.PipelineStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []database.PipelineStatusRecord
	for _, record := range f.records {
		if database.NormalizeStatus(record.Status) == database.PipelineStatusPending {
			pending = append(pending, record)
		}
	}
	return pending, nil
}

func (f *fakeStatusStore) statusOf(clientName, runID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record.ClientName == clientName && record.RunID == runID {
			return record.Status
		}
	}
	return ""
}

func (f *fakeStatusStore) recordOf(clientName, runID string) *database.PipelineStatusRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ClientName == clientName && f.records[i].RunID == runID {
			record := f.records[i]
			return &record
		}
	}
	return nil
}

func (f *fakeStatusStore) seed(record database.PipelineStatusRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
}

// fakeRunner records every invocation and answers from the outcome
// function.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []scriptrunner.Spec
	outcome func(spec scriptrunner.Spec) (*scriptrunner.Result, error)
}

func newFakeRunner(outcome func(spec scriptrunner.Spec) (*scriptrunner.Result, error)) *fakeRunner {
	if outcome == nil {
		outcome = func(spec scriptrunner.Spec) (*scriptrunner.Result, error) {
			return &scriptrunner.Result{Stdout: "ok"}, nil
		}
	}
	return &fakeRunner{outcome: outcome}
}

func (f *fakeRunner) Run(ctx context.Context, spec scriptrunner.Spec) (*scriptrunner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()
	return f.outcome(spec)
}

func (f *fakeRunner) callsFor(command string) []scriptrunner.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []scriptrunner.Spec
	for _, call := range f.calls {
		if call.Command == command {
			matched = append(matched, call)
		}
	}
	return matched
}

// fakeObjectStore answers existence checks from a key set and newer-than
// polls from a fixed answer.
type fakeObjectStore struct {
	mu        sync.Mutex
	existing  map[string]bool
	newer     bool
	newerErr  error
	headErr   error
	polls     int
	headCalls []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{existing: make(map[string]bool)}
}

func (f *fakeObjectStore) HeadObject(ctx context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls = append(f.headCalls, bucket+"/"+key)
	if f.headErr != nil {
		return false, f.headErr
	}
	return f.existing[bucket+"/"+key], nil
}

func (f *fakeObjectStore) HasObjectsNewerThan(ctx context.Context, bucket, prefix string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.newerErr != nil {
		return false, f.newerErr
	}
	return f.newer, nil
}

func (f *fakeObjectStore) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func testScripts() *config.ScriptConfigFile {
	return &config.ScriptConfigFile{
		Extract:   config.StepScript{Command: "extract", Dir: "/scripts", TimeoutSeconds: 30},
		Transform: config.StepScript{Command: "transform", Dir: "/scripts", TimeoutSeconds: 30},
		Cleanup:   config.StepScript{Command: "cleanup", Dir: "/scripts", TimeoutSeconds: 10},
		Quality:   config.StepScript{Command: "quality", Dir: "/scripts", TimeoutSeconds: 60},
	}
}

func testBuckets() config.ObjectStoreConfig {
	return config.ObjectStoreConfig{
		Region:              "ap-south-1",
		AccessKeyID:         "AKIATEST",
		SecretAccessKey:     "secret",
		UploadBucket:        "uploads",
		QualityInputBucket:  "extracted",
		QualityOutputBucket: "quality",
		ProcessedBucket:     "processed",
	}
}
