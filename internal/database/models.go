package database

import "time"

// SyncState tracks a tenant's position in the sync wizard and the state of
// its current pipeline run. Exactly one document exists per client.
type SyncState struct {
	ClientName  string `bson:"clientName" json:"clientName"`
	CurrentStep int    `bson:"currentStep" json:"currentStep"`
	Status      string `bson:"status" json:"status"`

	// Step 1 data
	CSVFile *CSVFileInfo `bson:"csvFile,omitempty" json:"csvFile,omitempty"`

	// Step 2 data
	FieldMappings map[string]interface{} `bson:"fieldMappings,omitempty" json:"fieldMappings,omitempty"`

	// Step 3 data
	PipelineStatus     *string  `bson:"pipelineStatus,omitempty" json:"pipelineStatus,omitempty"`
	SelectedCategories []string `bson:"selectedCategories,omitempty" json:"selectedCategories,omitempty"`

	// Script execution state
	IsRunningScripts bool       `bson:"isRunningScripts" json:"isRunningScripts"`
	ScriptsStartedAt *time.Time `bson:"scriptsStartedAt,omitempty" json:"scriptsStartedAt,omitempty"`

	// Last successful sync completion
	LastSyncDate        *time.Time `bson:"lastSyncDate,omitempty" json:"lastSyncDate,omitempty"`
	LastSyncCompletedAt *time.Time `bson:"lastSyncCompletedAt,omitempty" json:"lastSyncCompletedAt,omitempty"`

	// LastError holds the most recent run failure; cleared on success.
	LastError *string `bson:"lastError,omitempty" json:"lastError,omitempty"`

	// Metadata is a free-form bag whose shape varies by client.
	Metadata map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// CSVFileInfo describes the CSV uploaded in step 1.
type CSVFileInfo struct {
	FileName   string `bson:"fileName" json:"fileName"`
	FileSize   int64  `bson:"fileSize" json:"fileSize"`
	S3URL      string `bson:"s3Url" json:"s3Url"`
	S3Key      string `bson:"s3Key" json:"s3Key"`
	UploadDate string `bson:"uploadDate" json:"uploadDate"`
}

// PipelineStatusRecord is one entry in the append-oriented pipeline status
// log. Status is a free-form string written by several pipeline components;
// comparisons are case-insensitive.
type PipelineStatusRecord struct {
	ClientName string                 `bson:"clientName" json:"clientName"`
	RunID      string                 `bson:"runId" json:"runId"`
	CSVID      string                 `bson:"csvId,omitempty" json:"csvId,omitempty"`
	Status     string                 `bson:"status" json:"status"`
	Message    string                 `bson:"message,omitempty" json:"message,omitempty"`
	Details    map[string]interface{} `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt  time.Time              `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time              `bson:"updatedAt" json:"updatedAt"`
}

// CSVUploadRecord records a raw CSV landed in the upload bucket.
type CSVUploadRecord struct {
	ClientName       string                 `bson:"client_name" json:"client_name"`
	UploadDate       string                 `bson:"upload_date" json:"upload_date"` // YYYY-MM-DD
	VersionLabel     string                 `bson:"version_label" json:"version_label"`
	OriginalFileName string                 `bson:"original_file_name" json:"original_file_name"`
	StoredFileName   string                 `bson:"stored_file_name" json:"stored_file_name"`
	FileSize         int64                  `bson:"file_size" json:"file_size"`
	S3Key            string                 `bson:"s3_key" json:"s3_key"`
	S3URL            string                 `bson:"s3_url" json:"s3_url"`
	Metadata         map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt        time.Time              `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time              `bson:"updatedAt" json:"updatedAt"`
}

// SyncState status constants
const (
	SyncStatusPending    = "pending"
	SyncStatusInProgress = "in_progress"
	SyncStatusCompleted  = "completed"
	SyncStatusFailed     = "failed"
)

// Pipeline status terminal values. The log itself stores free-form strings;
// these are the normalized values the platform writes and compares against.
const (
	PipelineStatusPending = "pending"
	PipelineStatusSuccess = "success"
	PipelineStatusFailed  = "failed"
	PipelineStatusError   = "error"
)
