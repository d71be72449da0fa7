package service

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nudgelabs/nudgesync/internal/config"
	"github.com/nudgelabs/nudgesync/internal/database"
	"github.com/nudgelabs/nudgesync/internal/pipeline"
)

// SyncStateStore is the sync-state surface the HTTP handlers use.
type SyncStateStore interface {
	GetSyncState(ctx context.Context, clientName string) (*database.SyncState, error)
	SaveSyncState(ctx context.Context, clientName string, patch database.SyncStatePatch) (*database.SyncState, error)
	ResetSyncState(ctx context.Context, clientName string) (*database.SyncState, error)
	MarkRunCompleted(ctx context.Context, clientName string, completedAt time.Time) (*database.SyncState, error)
}

// StatusStore is the status-log read surface the HTTP handlers use.
type StatusStore interface {
	LatestPipelineStatus(ctx context.Context, clientName string) (*database.PipelineStatusRecord, error)
	LatestPipelineStatusForCSV(ctx context.Context, clientName, csvID string) (*database.PipelineStatusRecord, error)
}

// UploadStore records CSV uploads and serves their history.
type UploadStore interface {
	InsertCSVUploadRecord(ctx context.Context, record *database.CSVUploadRecord) error
	ListCSVUploads(ctx context.Context, clientName string) ([]*database.CSVUploadRecord, error)
}

// ObjectStore is the blob-store surface the HTTP handlers use.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, body []byte, contentType string, metadata map[string]string) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, time.Time, error)
	PublicURL(bucket, key string) string
}

// Service wires the HTTP surface to the pipeline and the stores. All
// dependencies are constructed once at process init and injected here.
type Service struct {
	syncStates   SyncStateStore
	statuses     StatusStore
	uploads      UploadStore
	objects      ObjectStore
	orchestrator *pipeline.Orchestrator
	reconciler   *pipeline.Reconciler
	buckets      config.ObjectStoreConfig
}

// NewService creates a Service with the given dependencies.
func NewService(
	syncStates SyncStateStore,
	statuses StatusStore,
	uploads UploadStore,
	objects ObjectStore,
	orchestrator *pipeline.Orchestrator,
	reconciler *pipeline.Reconciler,
	buckets config.ObjectStoreConfig,
) *Service {
	return &Service{
		syncStates:   syncStates,
		statuses:     statuses,
		uploads:      uploads,
		objects:      objects,
		orchestrator: orchestrator,
		reconciler:   reconciler,
		buckets:      buckets,
	}
}

// Router builds the HTTP routing table.
func (s *Service) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           3600,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Post("/run-scripts", s.handleRunScripts)
		r.Get("/pipeline-status", s.handleGetPipelineStatus)
		r.Get("/sync-state", s.handleGetSyncState)
		r.Post("/sync-state", s.handleSaveSyncState)
		r.Post("/sync-state/complete", s.handleCompleteSync)
		r.Post("/sync-state/reset", s.handleResetSyncState)
		r.Post("/upload-csv", s.handleUploadCSV)
		r.Get("/csv-uploads", s.handleListCSVUploads)
		r.Get("/sync-errors", s.handleGetSyncErrors)
	})

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
