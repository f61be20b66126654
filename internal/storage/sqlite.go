// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers
type scanner interface {
	Scan(dest ...interface{}) error
}

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	metrics    *metrics.Manager
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig, metricsManager *metrics.Manager) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		metrics:    metricsManager,
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

const entryColumns = `domain, name, description, icon, supports_devices, is_cloud,
	       documentation_url, brand_image_url, flow_type, flow_config, handler_class,
	       metadata, version_hash, sync_status, last_synced_at, created_at, updated_at`

// UpsertEntry inserts or updates a catalog entry keyed by domain. The
// created_at column is preserved across updates.
func (s *SQLiteStorage) UpsertEntry(ctx context.Context, entry *models.CatalogEntry) error {
	start := time.Now()
	err := s.upsertEntry(ctx, entry)
	observeDB(s.metrics, "upsert", "catalog_entries", start, err)
	return err
}

func (s *SQLiteStorage) upsertEntry(ctx context.Context, entry *models.CatalogEntry) error {
	flowConfigJSON, err := marshalDoc(entry.FlowConfig)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal flow config", err.Error())
	}
	metadataJSON, err := marshalDoc(entry.Metadata)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal entry metadata", err.Error())
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	query := `
		INSERT INTO catalog_entries
		(domain, name, description, icon, supports_devices, is_cloud, documentation_url,
		 brand_image_url, flow_type, flow_config, handler_class, metadata, version_hash,
		 sync_status, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			icon = excluded.icon,
			supports_devices = excluded.supports_devices,
			is_cloud = excluded.is_cloud,
			documentation_url = excluded.documentation_url,
			brand_image_url = excluded.brand_image_url,
			flow_type = excluded.flow_type,
			flow_config = excluded.flow_config,
			handler_class = excluded.handler_class,
			metadata = excluded.metadata,
			version_hash = excluded.version_hash,
			sync_status = excluded.sync_status,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.Domain, entry.Name, entry.Description, entry.Icon, entry.SupportsDevices,
		entry.IsCloud, entry.DocumentationURL, entry.BrandImageURL, entry.FlowType,
		flowConfigJSON, entry.HandlerClass, metadataJSON, entry.VersionHash,
		string(entry.SyncStatus), entry.LastSyncedAt, entry.CreatedAt, entry.UpdatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert catalog entry", err.Error())
	}

	return nil
}

// GetEntry retrieves a single catalog entry by domain
func (s *SQLiteStorage) GetEntry(ctx context.Context, domain string) (*models.CatalogEntry, error) {
	start := time.Now()
	entry, err := s.getEntry(ctx, domain)
	observeDB(s.metrics, "select", "catalog_entries", start, err)
	return entry, err
}

func (s *SQLiteStorage) getEntry(ctx context.Context, domain string) (*models.CatalogEntry, error) {
	query := "SELECT " + entryColumns + " FROM catalog_entries WHERE domain = ?"

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, domain))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get catalog entry", err.Error())
	}

	return entry, nil
}

// ListEntries retrieves catalog entries based on filter
func (s *SQLiteStorage) ListEntries(ctx context.Context, filter models.CatalogFilter) ([]*models.CatalogEntry, error) {
	start := time.Now()
	entries, err := s.listEntries(ctx, filter)
	observeDB(s.metrics, "select", "catalog_entries", start, err)
	return entries, err
}

func (s *SQLiteStorage) listEntries(ctx context.Context, filter models.CatalogFilter) ([]*models.CatalogEntry, error) {
	query := "SELECT " + entryColumns + " FROM catalog_entries WHERE 1=1"
	args := []interface{}{}

	query, args = applyCatalogFilter(query, args, filter)
	query += " ORDER BY domain ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query catalog entries", err.Error())
	}
	defer rows.Close()

	var entries []*models.CatalogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan catalog entry", err.Error())
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CountEntries returns the count of entries matching filter
func (s *SQLiteStorage) CountEntries(ctx context.Context, filter models.CatalogFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM catalog_entries WHERE 1=1"
	args := []interface{}{}

	query, args = applyCatalogFilter(query, args, filter)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count catalog entries", err.Error())
	}

	return count, nil
}

// ListActiveEntries retrieves all entries that are not deprecated
func (s *SQLiteStorage) ListActiveEntries(ctx context.Context) ([]*models.CatalogEntry, error) {
	return s.ListEntries(ctx, models.CatalogFilter{})
}

// SetEntryStatus updates the sync status of an entry
func (s *SQLiteStorage) SetEntryStatus(ctx context.Context, domain string, status models.SyncStatus) error {
	start := time.Now()
	err := s.setEntryStatus(ctx, domain, status)
	observeDB(s.metrics, "update", "catalog_entries", start, err)
	return err
}

func (s *SQLiteStorage) setEntryStatus(ctx context.Context, domain string, status models.SyncStatus) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE catalog_entries SET sync_status = ?, updated_at = ? WHERE domain = ?",
		string(status), time.Now().UTC(), domain)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update entry status", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Catalog entry not found", domain)
	}

	return nil
}

// CountEntriesByStatus returns entry counts grouped by sync status
func (s *SQLiteStorage) CountEntriesByStatus(ctx context.Context) (map[models.SyncStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT sync_status, COUNT(*) FROM catalog_entries GROUP BY sync_status")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count entries by status", err.Error())
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan status count", err.Error())
		}
		counts[models.SyncStatus(status)] = count
	}

	return counts, rows.Err()
}

const runColumns = `id, sync_type, status, started_at, completed_at, total_count, new_count,
	       updated_count, deleted_count, error_count, error_details, metadata`

// CreateSyncRun persists a new sync run in the running state
func (s *SQLiteStorage) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	start := time.Now()
	err := s.createSyncRun(ctx, run)
	observeDB(s.metrics, "insert", "sync_runs", start, err)
	return err
}

func (s *SQLiteStorage) createSyncRun(ctx context.Context, run *models.SyncRun) error {
	errorsJSON, err := marshalDoc(run.ErrorDetails)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal error details", err.Error())
	}
	metadataJSON, err := marshalDoc(run.Metadata)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal run metadata", err.Error())
	}

	query := `
		INSERT INTO sync_runs
		(id, sync_type, status, started_at, completed_at, total_count, new_count,
		 updated_count, deleted_count, error_count, error_details, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID, string(run.SyncType), string(run.Status), run.StartedAt, run.CompletedAt,
		run.TotalCount, run.NewCount, run.UpdatedCount, run.DeletedCount, run.ErrorCount,
		errorsJSON, metadataJSON)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create sync run", err.Error())
	}

	return nil
}

// FinishSyncRun writes the terminal state of a run. A run that already
// reached a terminal state is never updated again.
func (s *SQLiteStorage) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	start := time.Now()
	err := s.finishSyncRun(ctx, run)
	observeDB(s.metrics, "update", "sync_runs", start, err)
	return err
}

func (s *SQLiteStorage) finishSyncRun(ctx context.Context, run *models.SyncRun) error {
	errorsJSON, err := marshalDoc(run.ErrorDetails)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal error details", err.Error())
	}
	metadataJSON, err := marshalDoc(run.Metadata)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal run metadata", err.Error())
	}

	query := `
		UPDATE sync_runs SET
			status = ?, completed_at = ?, total_count = ?, new_count = ?,
			updated_count = ?, deleted_count = ?, error_count = ?,
			error_details = ?, metadata = ?
		WHERE id = ? AND status = 'running'
	`

	result, err := s.db.ExecContext(ctx, query,
		string(run.Status), run.CompletedAt, run.TotalCount, run.NewCount,
		run.UpdatedCount, run.DeletedCount, run.ErrorCount, errorsJSON, metadataJSON,
		run.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to finish sync run", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeConflict, "Sync run is not running", run.ID)
	}

	return nil
}

// GetSyncRun retrieves a sync run by id
func (s *SQLiteStorage) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	query := "SELECT " + runColumns + " FROM sync_runs WHERE id = ?"

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get sync run", err.Error())
	}

	return run, nil
}

// GetLatestSyncRun retrieves the most recently started run, optionally
// filtered by status
func (s *SQLiteStorage) GetLatestSyncRun(ctx context.Context, status *models.RunStatus) (*models.SyncRun, error) {
	query := "SELECT " + runColumns + " FROM sync_runs"
	args := []interface{}{}

	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY started_at DESC LIMIT 1"

	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest sync run", err.Error())
	}

	return run, nil
}

// ListSyncRuns retrieves sync runs ordered by start time descending
func (s *SQLiteStorage) ListSyncRuns(ctx context.Context, filter models.SyncRunFilter) ([]*models.SyncRun, error) {
	query := "SELECT " + runColumns + " FROM sync_runs WHERE 1=1"
	args := []interface{}{}

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query sync runs", err.Error())
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan sync run", err.Error())
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SaveSyncChange appends one audited mutation to a run
func (s *SQLiteStorage) SaveSyncChange(ctx context.Context, change *models.SyncChange) error {
	start := time.Now()
	err := s.saveSyncChange(ctx, change)
	observeDB(s.metrics, "insert", "sync_changes", start, err)
	return err
}

func (s *SQLiteStorage) saveSyncChange(ctx context.Context, change *models.SyncChange) error {
	fieldsJSON, err := marshalDoc(change.ChangedFields)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal changed fields", err.Error())
	}

	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sync_changes
		(sync_id, domain, change_type, previous_version_hash, new_version_hash,
		 changed_fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		change.SyncID, change.Domain, string(change.ChangeType),
		change.PreviousVersionHash, change.NewVersionHash, fieldsJSON, change.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save sync change", err.Error())
	}

	if id, err := result.LastInsertId(); err == nil {
		change.ID = id
	}

	return nil
}

// GetSyncChanges retrieves all changes belonging to a run in creation order
func (s *SQLiteStorage) GetSyncChanges(ctx context.Context, syncID string) ([]*models.SyncChange, error) {
	start := time.Now()
	changes, err := s.getSyncChanges(ctx, syncID)
	observeDB(s.metrics, "select", "sync_changes", start, err)
	return changes, err
}

func (s *SQLiteStorage) getSyncChanges(ctx context.Context, syncID string) ([]*models.SyncChange, error) {
	query := `
		SELECT id, sync_id, domain, change_type, previous_version_hash,
		       new_version_hash, changed_fields, created_at
		FROM sync_changes WHERE sync_id = ? ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, syncID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query sync changes", err.Error())
	}
	defer rows.Close()

	var changes []*models.SyncChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan sync change", err.Error())
		}
		changes = append(changes, change)
	}

	return changes, rows.Err()
}

// GetStorageStats provides storage statistics
func (s *SQLiteStorage) GetStorageStats() (*StorageStats, error) {
	ctx := context.Background()

	stats := &StorageStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM catalog_entries").Scan(&stats.TotalEntries); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count entries", err.Error())
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sync_runs").Scan(&stats.TotalRuns); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count runs", err.Error())
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sync_changes").Scan(&stats.TotalChanges); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count changes", err.Error())
	}

	byStatus, err := s.CountEntriesByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats.EntriesByStatus = byStatus

	var lastCompleted sql.NullTime
	err = s.db.QueryRow(
		"SELECT completed_at FROM sync_runs WHERE status = 'completed' ORDER BY completed_at DESC LIMIT 1").
		Scan(&lastCompleted)
	if err != nil && err != sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get last completed run", err.Error())
	}
	if lastCompleted.Valid {
		stats.LastCompletedRunAt = &lastCompleted.Time
	}

	return stats, nil
}

// GetHealth reports storage health
func (s *SQLiteStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "SQLite",
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"connection_string": s.config.ConnectionString},
		LastPing:    time.Now(),
	}
}

// applyCatalogFilter appends WHERE clauses for a catalog filter. Deprecated
// entries are excluded unless explicitly included or selected by status.
func applyCatalogFilter(query string, args []interface{}, filter models.CatalogFilter) (string, []interface{}) {
	if filter.Status != nil {
		query += " AND sync_status = ?"
		args = append(args, string(*filter.Status))
	} else if !filter.IncludeDeprecated {
		query += " AND sync_status != ?"
		args = append(args, string(models.SyncStatusDeprecated))
	}

	if filter.Query != nil && *filter.Query != "" {
		query += " AND (domain LIKE ? OR name LIKE ?)"
		q := "%" + *filter.Query + "%"
		args = append(args, q, q)
	}

	return query, args
}

// scanEntry scans one catalog entry row
func scanEntry(row scanner) (*models.CatalogEntry, error) {
	var entry models.CatalogEntry
	var description, icon, documentationURL, brandImageURL sql.NullString
	var handlerClass, versionHash, flowConfigJSON, metadataJSON sql.NullString
	var status string
	var lastSyncedAt sql.NullTime

	err := row.Scan(&entry.Domain, &entry.Name, &description, &icon, &entry.SupportsDevices,
		&entry.IsCloud, &documentationURL, &brandImageURL, &entry.FlowType, &flowConfigJSON,
		&handlerClass, &metadataJSON, &versionHash, &status, &lastSyncedAt,
		&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry.Description = nullableString(description)
	entry.Icon = nullableString(icon)
	entry.DocumentationURL = nullableString(documentationURL)
	entry.BrandImageURL = nullableString(brandImageURL)
	entry.HandlerClass = nullableString(handlerClass)
	entry.VersionHash = nullableString(versionHash)
	entry.SyncStatus = models.SyncStatus(status)
	if lastSyncedAt.Valid {
		entry.LastSyncedAt = &lastSyncedAt.Time
	}

	if flowConfigJSON.Valid && flowConfigJSON.String != "" {
		if err := json.Unmarshal([]byte(flowConfigJSON.String), &entry.FlowConfig); err != nil {
			return nil, err
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
			return nil, err
		}
	}

	return &entry, nil
}

// scanRun scans one sync run row
func scanRun(row scanner) (*models.SyncRun, error) {
	var run models.SyncRun
	var syncType, status string
	var completedAt sql.NullTime
	var errorsJSON, metadataJSON sql.NullString

	err := row.Scan(&run.ID, &syncType, &status, &run.StartedAt, &completedAt,
		&run.TotalCount, &run.NewCount, &run.UpdatedCount, &run.DeletedCount,
		&run.ErrorCount, &errorsJSON, &metadataJSON)
	if err != nil {
		return nil, err
	}

	run.SyncType = models.SyncType(syncType)
	run.Status = models.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &run.ErrorDetails); err != nil {
			return nil, err
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &run.Metadata); err != nil {
			return nil, err
		}
	}

	return &run, nil
}

// scanChange scans one sync change row
func scanChange(row scanner) (*models.SyncChange, error) {
	var change models.SyncChange
	var changeType string
	var previousHash, newHash, fieldsJSON sql.NullString

	err := row.Scan(&change.ID, &change.SyncID, &change.Domain, &changeType,
		&previousHash, &newHash, &fieldsJSON, &change.CreatedAt)
	if err != nil {
		return nil, err
	}

	change.ChangeType = models.ChangeType(changeType)
	change.PreviousVersionHash = nullableString(previousHash)
	change.NewVersionHash = nullableString(newHash)

	if fieldsJSON.Valid && fieldsJSON.String != "" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &change.ChangedFields); err != nil {
			return nil, err
		}
	}

	return &change, nil
}

// marshalDoc serializes an opaque document column, mapping empty values to
// SQL NULL
func marshalDoc(doc interface{}) (interface{}, error) {
	switch v := doc.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, nil
		}
	case []string:
		if len(v) == 0 {
			return nil, nil
		}
	case []models.SyncError:
		if len(v) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(value sql.NullString) *string {
	if value.Valid {
		return &value.String
	}
	return nil
}
