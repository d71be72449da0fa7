package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nudgelabs/nudgesync/internal/database"
	"github.com/nudgelabs/nudgesync/internal/objectstore"
	"github.com/nudgelabs/nudgesync/internal/pipeline"
)

// maxCSVSize is the upload size cap (10 MB).
const maxCSVSize = 10 * 1024 * 1024

// apiResponse is the JSON envelope every endpoint returns.
type apiResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// statusResponse extends the envelope with the derived status booleans the
// dashboard polls on.
type statusResponse struct {
	apiResponse
	PipelineStatus string `json:"pipelineStatus"`
	IsSuccess      bool   `json:"isSuccess"`
	IsFailed       bool   `json:"isFailed"`
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, apiResponse{Status: false, Message: message, Data: nil})
}

// handleRunScripts accepts a pipeline run and returns immediately; the run
// itself executes in the background and is observed via the status
// endpoints.
// POST /api/v1/admin/run-scripts  Body: { clientName, categories[] }
func (s *Service) handleRunScripts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientName string   `json:"clientName"`
		Categories []string `json:"categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	runID, err := s.orchestrator.StartRun(r.Context(), req.ClientName, req.Categories)
	if err != nil {
		var validationErr *pipeline.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeError(w, http.StatusBadRequest, validationErr.Msg)
		case errors.Is(err, database.ErrRunInProgress):
			writeError(w, http.StatusConflict, "A pipeline run is already in progress for this client")
		default:
			log.Printf("Error starting run for %s: %v", req.ClientName, err)
			writeError(w, http.StatusInternalServerError, "Failed to start pipeline run")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, apiResponse{
		Status:  true,
		Message: "Pipeline run accepted",
		Data: map[string]interface{}{
			"runId":      runID,
			"clientName": req.ClientName,
			"categories": req.Categories,
		},
	})
}

// handleGetPipelineStatus returns the latest status for a client, run, or
// CSV upload. A run that has no record yet reports an explicit "pending"
// so the dashboard can keep polling; 404 is reserved for the no-identifier
// case with no history at all. Pending records are reconciled against the
// object store before answering.
// GET /api/v1/admin/pipeline-status?clientName=&runId=|csvId=
func (s *Service) handleGetPipelineStatus(w http.ResponseWriter, r *http.Request) {
	clientName := r.URL.Query().Get("clientName")
	runID := r.URL.Query().Get("runId")
	csvID := r.URL.Query().Get("csvId")

	if clientName == "" {
		writeError(w, http.StatusBadRequest, "clientName is required")
		return
	}

	var (
		record *database.PipelineStatusRecord
		err    error
	)
	switch {
	case runID != "":
		record, err = s.reconciler.ReconcileRun(r.Context(), clientName, runID)
	case csvID != "":
		record, err = s.statuses.LatestPipelineStatusForCSV(r.Context(), clientName, csvID)
		if err == nil && record != nil && database.NormalizeStatus(record.Status) == database.PipelineStatusPending {
			record, err = s.reconciler.ReconcileRun(r.Context(), clientName, record.RunID)
		}
	default:
		record, err = s.statuses.LatestPipelineStatus(r.Context(), clientName)
	}
	if err != nil {
		log.Printf("Failed to fetch pipeline status for %s: %v", clientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch pipeline status")
		return
	}

	if record == nil {
		if runID == "" && csvID == "" {
			writeError(w, http.StatusNotFound, fmt.Sprintf("No pipeline status found for client %q", clientName))
			return
		}

		// The run/upload is known to the caller but the pipeline has not
		// written a record yet: that is pending, not missing.
		writeJSON(w, http.StatusOK, statusResponse{
			apiResponse: apiResponse{
				Status:  true,
				Message: "Pipeline status pending - processing has not started yet",
				Data: map[string]interface{}{
					"clientName": clientName,
					"runId":      runID,
					"csvId":      csvID,
					"status":     database.PipelineStatusPending,
				},
			},
			PipelineStatus: database.PipelineStatusPending,
		})
		return
	}

	normalized := database.NormalizeStatus(record.Status)
	writeJSON(w, http.StatusOK, statusResponse{
		apiResponse: apiResponse{
			Status:  true,
			Message: "Pipeline status fetched successfully",
			Data:    record,
		},
		PipelineStatus: normalized,
		IsSuccess:      database.IsSuccessStatus(normalized),
		IsFailed:       database.IsFailedStatus(normalized),
	})
}

// handleGetSyncState returns a client's current sync state.
// GET /api/v1/admin/sync-state?clientName=
func (s *Service) handleGetSyncState(w http.ResponseWriter, r *http.Request) {
	clientName := r.URL.Query().Get("clientName")
	if clientName == "" {
		writeError(w, http.StatusBadRequest, "Client name is required")
		return
	}

	state, err := s.syncStates.GetSyncState(r.Context(), clientName)
	if err != nil {
		log.Printf("Error getting sync state for %s: %v", clientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to get sync state")
		return
	}

	if state == nil {
		writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "No sync state found", Data: nil})
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Sync state retrieved successfully", Data: state})
}

// handleSaveSyncState upserts a partial sync-state update from the wizard.
// Only keys present in the body are written.
// POST /api/v1/admin/sync-state
func (s *Service) handleSaveSyncState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientName         string                 `json:"clientName"`
		CurrentStep        *int                   `json:"currentStep"`
		Status             *string                `json:"status"`
		CSVFile            *database.CSVFileInfo  `json:"csvFile"`
		FieldMappings      map[string]interface{} `json:"fieldMappings"`
		PipelineStatus     *string                `json:"pipelineStatus"`
		SelectedCategories []string               `json:"selectedCategories"`
		Metadata           map[string]interface{} `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ClientName == "" {
		writeError(w, http.StatusBadRequest, "Client name is required")
		return
	}
	if req.CurrentStep != nil && (*req.CurrentStep < 1 || *req.CurrentStep > 3) {
		writeError(w, http.StatusBadRequest, "Current step must be between 1 and 3")
		return
	}

	state, err := s.syncStates.SaveSyncState(r.Context(), req.ClientName, database.SyncStatePatch{
		CurrentStep:        req.CurrentStep,
		Status:             req.Status,
		CSVFile:            req.CSVFile,
		FieldMappings:      req.FieldMappings,
		PipelineStatus:     req.PipelineStatus,
		SelectedCategories: req.SelectedCategories,
		Metadata:           req.Metadata,
	})
	if err != nil {
		log.Printf("Error saving sync state for %s: %v", req.ClientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to save sync state")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Sync state saved successfully", Data: state})
}

// handleCompleteSync records a successful sync completion.
// POST /api/v1/admin/sync-state/complete
func (s *Service) handleCompleteSync(w http.ResponseWriter, r *http.Request) {
	clientName, ok := decodeClientName(w, r)
	if !ok {
		return
	}

	state, err := s.syncStates.MarkRunCompleted(r.Context(), clientName, time.Now().UTC())
	if err != nil {
		log.Printf("Error completing sync for %s: %v", clientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to record sync completion")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Sync completion recorded successfully", Data: state})
}

// handleResetSyncState resets the wizard for a new sync. Prior completion
// timestamps survive the reset.
// POST /api/v1/admin/sync-state/reset
func (s *Service) handleResetSyncState(w http.ResponseWriter, r *http.Request) {
	clientName, ok := decodeClientName(w, r)
	if !ok {
		return
	}

	state, err := s.syncStates.ResetSyncState(r.Context(), clientName)
	if err != nil {
		log.Printf("Error resetting sync state for %s: %v", clientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to reset sync state")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Sync state reset successfully", Data: state})
}

// handleUploadCSV lands a raw CSV in the upload bucket and records it.
// POST /api/v1/admin/upload-csv  multipart: clientName, file
func (s *Service) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxCSVSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	clientName := r.FormValue("clientName")
	if clientName == "" {
		writeError(w, http.StatusBadRequest, "Client name is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded. Please upload a CSV file.")
		return
	}
	defer file.Close()

	if header.Size > maxCSVSize {
		writeError(w, http.StatusBadRequest, "File size exceeds 10MB limit.")
		return
	}
	if !isCSVUpload(header.Filename, header.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, "Invalid file type. Only CSV files are allowed.")
		return
	}

	body, err := io.ReadAll(io.LimitReader(file, maxCSVSize+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read uploaded file")
		return
	}
	if int64(len(body)) > maxCSVSize {
		writeError(w, http.StatusBadRequest, "File size exceeds 10MB limit.")
		return
	}

	uploadDate := time.Now().UTC().Format("2006-01-02")
	versionLabel := fmt.Sprintf("v%06d", rand.Intn(900000)+100000)
	storedFileName := fmt.Sprintf("product_%s.csv", versionLabel)
	s3Key := fmt.Sprintf("raw/client_name=%s/upload_date=%s/%s", clientName, uploadDate, storedFileName)

	err = s.objects.PutObject(r.Context(), s.buckets.UploadBucket, s3Key, body, "text/csv", map[string]string{
		"originalname": header.Filename,
		"uploadedat":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("Error uploading CSV to S3 for %s: %v", clientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to upload CSV file to S3")
		return
	}

	s3URL := s.objects.PublicURL(s.buckets.UploadBucket, s3Key)

	err = s.uploads.InsertCSVUploadRecord(r.Context(), &database.CSVUploadRecord{
		ClientName:       clientName,
		UploadDate:       uploadDate,
		VersionLabel:     versionLabel,
		OriginalFileName: header.Filename,
		StoredFileName:   storedFileName,
		FileSize:         int64(len(body)),
		S3Key:            s3Key,
		S3URL:            s3URL,
		Metadata: map[string]interface{}{
			"mimetype": header.Header.Get("Content-Type"),
		},
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicateUpload) {
			writeError(w, http.StatusBadRequest, "This file has already been uploaded to S3. Please try again.")
			return
		}
		log.Printf("Error recording CSV upload for %s: %v", clientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to record CSV upload")
		return
	}

	// Move the wizard to step 1 with the uploaded file attached.
	step := 1
	_, err = s.syncStates.SaveSyncState(r.Context(), clientName, database.SyncStatePatch{
		CurrentStep: &step,
		CSVFile: &database.CSVFileInfo{
			FileName:   storedFileName,
			FileSize:   int64(len(body)),
			S3URL:      s3URL,
			S3Key:      s3Key,
			UploadDate: uploadDate,
		},
	})
	if err != nil {
		log.Printf("Error attaching CSV to sync state for %s: %v", clientName, err)
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status:  true,
		Message: "CSV file uploaded successfully",
		Data: map[string]interface{}{
			"fileName":         storedFileName,
			"originalFileName": header.Filename,
			"fileSize":         len(body),
			"s3Key":            s3Key,
			"s3Url":            s3URL,
			"version":          versionLabel,
			"uploadDate":       uploadDate,
		},
	})
}

// handleListCSVUploads returns a client's upload history, newest first.
// GET /api/v1/admin/csv-uploads?clientName=
func (s *Service) handleListCSVUploads(w http.ResponseWriter, r *http.Request) {
	clientName := r.URL.Query().Get("clientName")
	if clientName == "" {
		writeError(w, http.StatusBadRequest, "Client name is required")
		return
	}

	records, err := s.uploads.ListCSVUploads(r.Context(), clientName)
	if err != nil {
		log.Printf("Error listing CSV uploads for %s: %v", clientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to list CSV uploads")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status:  true,
		Message: "CSV uploads retrieved successfully",
		Data: map[string]interface{}{
			"clientName": clientName,
			"uploads":    records,
			"count":      len(records),
		},
	})
}

// handleGetSyncErrors reads the pipeline's error log for a client from the
// processed bucket.
// GET /api/v1/admin/sync-errors?clientName=
func (s *Service) handleGetSyncErrors(w http.ResponseWriter, r *http.Request) {
	clientName := strings.TrimSpace(r.URL.Query().Get("clientName"))
	if clientName == "" {
		writeError(w, http.StatusBadRequest, "clientName is required in query parameters.")
		return
	}

	key := fmt.Sprintf("processeddata/%s/logs/error.json", clientName)
	payload, lastModified, err := s.objects.GetObject(r.Context(), s.buckets.ProcessedBucket, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "No error log found in S3")
			return
		}
		log.Printf("Failed to fetch sync error log for %s: %v", clientName, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch sync error log from S3")
		return
	}

	var parsed interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &parsed); err != nil {
			log.Printf("Error log for %s is not valid JSON: %v", clientName, err)
			writeError(w, http.StatusInternalServerError, "Error log is not valid JSON")
			return
		}
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status:  true,
		Message: "Fetched catalog processing log successfully",
		Data: map[string]interface{}{
			"log": parsed,
			"source": map[string]interface{}{
				"bucket":       s.buckets.ProcessedBucket,
				"key":          key,
				"url":          s.objects.PublicURL(s.buckets.ProcessedBucket, key),
				"lastModified": lastModified,
			},
		},
	})
}

// decodeClientName reads the {clientName} body shared by the small POST
// endpoints, writing the error response itself on failure.
func decodeClientName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		ClientName string `json:"clientName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	if req.ClientName == "" {
		writeError(w, http.StatusBadRequest, "Client name is required")
		return "", false
	}
	return req.ClientName, true
}

// isCSVUpload accepts .csv files and the MIME types browsers use for them.
func isCSVUpload(filename, contentType string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return true
	}
	switch contentType {
	case "text/csv", "application/vnd.ms-excel", "text/plain":
		return true
	}
	return false
}
