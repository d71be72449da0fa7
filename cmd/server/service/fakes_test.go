package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nudgelabs/nudgesync/internal/database"
	"github.com/nudgelabs/nudgesync/internal/objectstore"
)

// fakeStore is an in-memory stand-in for the database client, implementing
// both the service-side and pipeline-side store interfaces the way the real
// client does.
type fakeStore struct {
	mu        sync.Mutex
	states    map[string]*database.SyncState
	statuses  []database.PipelineStatusRecord
	uploads   []*database.CSVUploadRecord
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*database.SyncState)}
}

func (f *fakeStore) stateOf(clientName string) *database.SyncState {
	if state, ok := f.states[clientName]; ok {
		return state
	}
	now := time.Now().UTC()
	state := &database.SyncState{
		ClientName:  clientName,
		CurrentStep: 1,
		Status:      database.SyncStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.states[clientName] = state
	return state
}

func (f *fakeStore) GetSyncState(ctx context.Context, clientName string) (*database.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[clientName]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (f *fakeStore) SaveSyncState(ctx context.Context, clientName string, patch database.SyncStatePatch) (*database.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.stateOf(clientName)
	if patch.CurrentStep != nil {
		state.CurrentStep = *patch.CurrentStep
	}
	if patch.Status != nil {
		state.Status = *patch.Status
	}
	if patch.CSVFile != nil {
		state.CSVFile = patch.CSVFile
	}
	if patch.FieldMappings != nil {
		state.FieldMappings = patch.FieldMappings
	}
	if patch.PipelineStatus != nil {
		state.PipelineStatus = patch.PipelineStatus
	}
	if patch.SelectedCategories != nil {
		state.SelectedCategories = patch.SelectedCategories
	}
	if patch.IsRunningScripts != nil {
		state.IsRunningScripts = *patch.IsRunningScripts
	}
	if patch.Metadata != nil {
		state.Metadata = patch.Metadata
	}
	state.UpdatedAt = time.Now().UTC()
	copied := *state
	return &copied, nil
}

func (f *fakeStore) ResetSyncState(ctx context.Context, clientName string) (*database.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.stateOf(clientName)
	state.CurrentStep = 1
	state.Status = database.SyncStatusPending
	state.CSVFile = nil
	state.FieldMappings = nil
	state.PipelineStatus = nil
	state.SelectedCategories = nil
	state.IsRunningScripts = false
	state.Metadata = nil
	state.UpdatedAt = time.Now().UTC()
	copied := *state
	return &copied, nil
}

func (f *fakeStore) MarkRunCompleted(ctx context.Context, clientName string, completedAt time.Time) (*database.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.stateOf(clientName)
	state.Status = database.SyncStatusCompleted
	state.CurrentStep = 1
	state.IsRunningScripts = false
	state.LastSyncDate = &completedAt
	state.LastSyncCompletedAt = &completedAt
	state.LastError = nil
	copied := *state
	return &copied, nil
}

func (f *fakeStore) TryAcquireRunLock(ctx context.Context, clientName string, categories []string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.stateOf(clientName)
	if state.IsRunningScripts {
		return database.ErrRunInProgress
	}
	state.IsRunningScripts = true
	state.Status = database.SyncStatusInProgress
	state.CurrentStep = 3
	state.SelectedCategories = categories
	state.ScriptsStartedAt = &startedAt
	return nil
}

func (f *fakeStore) MarkRunFailed(ctx context.Context, clientName, lastError string) (*database.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.stateOf(clientName)
	state.Status = database.SyncStatusFailed
	state.IsRunningScripts = false
	state.LastError = &lastError
	copied := *state
	return &copied, nil
}

func (f *fakeStore) RecordPipelineStatus(ctx context.Context, clientName, runID, csvID, status, message string, details map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for i := range f.statuses {
		if f.statuses[i].ClientName == clientName && f.statuses[i].RunID == runID {
			f.statuses[i].Status = status
			f.statuses[i].Message = message
			f.statuses[i].Details = details
			f.statuses[i].UpdatedAt = now
			return nil
		}
	}
	f.statuses = append(f.statuses, database.PipelineStatusRecord{
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

func (f *fakeStore) LatestPipelineStatus(ctx context.Context, clientName string) (*database.PipelineStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *database.PipelineStatusRecord
	for i := range f.statuses {
		if f.statuses[i].ClientName != clientName {
			continue
		}
		if latest == nil || f.statuses[i].UpdatedAt.After(latest.UpdatedAt) {
			latest = &f.statuses[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeStore) LatestPipelineStatusForRun(ctx context.Context, clientName, runID string) (*database.PipelineStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.statuses {
		if f.statuses[i].ClientName == clientName && f.statuses[i].RunID == runID {
			copied := f.statuses[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) LatestPipelineStatusForCSV(ctx context.Context, clientName, csvID string) (*database.PipelineStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.statuses {
		if f.statuses[i].ClientName == clientName && f.statuses[i].CSVID == csvID {
			copied := f.statuses[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MarkPipelineSucceeded(ctx context.Context, clientName, runID, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.statuses {
		if f.statuses[i].ClientName == clientName && f.statuses[i].RunID == runID {
			if database.NormalizeStatus(f.statuses[i].Status) != database.PipelineStatusPending {
				return false, nil
			}
			f.statuses[i].Status = database.PipelineStatusSuccess
			f.statuses[i].Message = message
			f.statuses[i].UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListClientsWithPendingStatus(ctx context.Context) ([]database.PipelineStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []database.PipelineStatusRecord
	for _, record := range f.statuses {
		if database.NormalizeStatus(record.Status) == database.PipelineStatusPending {
			pending = append(pending, record)
		}
	}
	return pending, nil
}

func (f *fakeStore) InsertCSVUploadRecord(ctx context.Context, record *database.CSVUploadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.uploads {
		if existing.S3Key == record.S3Key {
			return database.ErrDuplicateUpload
		}
	}
	f.uploads = append(f.uploads, record)
	return nil
}

func (f *fakeStore) ListCSVUploads(ctx context.Context, clientName string) ([]*database.CSVUploadRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []*database.CSVUploadRecord
	for i := len(f.uploads) - 1; i >= 0; i-- {
		if f.uploads[i].ClientName == clientName {
			records = append(records, f.uploads[i])
		}
	}
	return records, nil
}

func (f *fakeStore) seedStatus(record database.PipelineStatusRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, record)
}

// fakeObjects is an in-memory blob store covering both the handler and
// pipeline object-store surfaces.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	times   map[string]time.Time
	newer   bool
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		objects: make(map[string][]byte),
		times:   make(map[string]time.Time),
	}
}

func (f *fakeObjects) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[bucket+"/"+key] = body
	f.times[bucket+"/"+key] = time.Now().UTC()
	return nil
}

func (f *fakeObjects) GetObject(ctx context.Context, bucket, key string) ([]byte, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("get s3://%s/%s: %w", bucket, key, objectstore.ErrObjectNotFound)
	}
	return body, f.times[bucket+"/"+key], nil
}

func (f *fakeObjects) HeadObject(ctx context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func (f *fakeObjects) HasObjectsNewerThan(ctx context.Context, bucket, prefix string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newer, nil
}

func (f *fakeObjects) PublicURL(bucket, key string) string {
	return fmt.Sprintf("https://%s.s3.ap-south-1.amazonaws.com/%s", bucket, key)
}
