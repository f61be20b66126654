// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
)

// Storage defines the interface for catalog and sync-history persistence
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Catalog operations
	UpsertEntry(ctx context.Context, entry *models.CatalogEntry) error
	GetEntry(ctx context.Context, domain string) (*models.CatalogEntry, error)
	ListEntries(ctx context.Context, filter models.CatalogFilter) ([]*models.CatalogEntry, error)
	CountEntries(ctx context.Context, filter models.CatalogFilter) (int64, error)
	ListActiveEntries(ctx context.Context) ([]*models.CatalogEntry, error)
	SetEntryStatus(ctx context.Context, domain string, status models.SyncStatus) error
	CountEntriesByStatus(ctx context.Context) (map[models.SyncStatus]int64, error)

	// Sync run operations
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	FinishSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error)
	GetLatestSyncRun(ctx context.Context, status *models.RunStatus) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, filter models.SyncRunFilter) ([]*models.SyncRun, error)

	// Sync change operations
	SaveSyncChange(ctx context.Context, change *models.SyncChange) error
	GetSyncChanges(ctx context.Context, syncID string) ([]*models.SyncChange, error)

	// Statistics and monitoring
	GetStorageStats() (*StorageStats, error)
	GetHealth() *StorageHealth
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalEntries       int64                       `json:"total_entries"`
	EntriesByStatus    map[models.SyncStatus]int64 `json:"entries_by_status"`
	TotalRuns          int64                       `json:"total_runs"`
	TotalChanges       int64                       `json:"total_changes"`
	LastCompletedRunAt *time.Time                  `json:"last_completed_run_at,omitempty"`
}

// StorageHealth provides storage health information
type StorageHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// observeDB records one database operation on the shared metric families.
// A nil manager disables recording.
func observeDB(m *metrics.Manager, operation, table string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
