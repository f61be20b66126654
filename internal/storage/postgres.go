// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	metrics    *metrics.Manager
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig, metricsManager *metrics.Manager) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		metrics:    metricsManager,
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (s *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to connect to PostgreSQL", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgreSQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgreSQLStorage) Migrate() error {
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

// UpsertEntry inserts or updates a catalog entry keyed by domain. The
// created_at column is preserved across updates.
func (s *PostgreSQLStorage) UpsertEntry(ctx context.Context, entry *models.CatalogEntry) error {
	start := time.Now()
	err := s.upsertEntry(ctx, entry)
	observeDB(s.metrics, "upsert", "catalog_entries", start, err)
	return err
}

func (s *PostgreSQLStorage) upsertEntry(ctx context.Context, entry *models.CatalogEntry) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (domain) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			icon = EXCLUDED.icon,
			supports_devices = EXCLUDED.supports_devices,
			is_cloud = EXCLUDED.is_cloud,
			documentation_url = EXCLUDED.documentation_url,
			brand_image_url = EXCLUDED.brand_image_url,
			flow_type = EXCLUDED.flow_type,
			flow_config = EXCLUDED.flow_config,
			handler_class = EXCLUDED.handler_class,
			metadata = EXCLUDED.metadata,
			version_hash = EXCLUDED.version_hash,
			sync_status = EXCLUDED.sync_status,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = EXCLUDED.updated_at
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
func (s *PostgreSQLStorage) GetEntry(ctx context.Context, domain string) (*models.CatalogEntry, error) {
	start := time.Now()
	entry, err := s.getEntry(ctx, domain)
	observeDB(s.metrics, "select", "catalog_entries", start, err)
	return entry, err
}

func (s *PostgreSQLStorage) getEntry(ctx context.Context, domain string) (*models.CatalogEntry, error) {
	query := "SELECT " + entryColumns + " FROM catalog_entries WHERE domain = $1"

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
func (s *PostgreSQLStorage) ListEntries(ctx context.Context, filter models.CatalogFilter) ([]*models.CatalogEntry, error) {
	start := time.Now()
	entries, err := s.listEntries(ctx, filter)
	observeDB(s.metrics, "select", "catalog_entries", start, err)
	return entries, err
}

func (s *PostgreSQLStorage) listEntries(ctx context.Context, filter models.CatalogFilter) ([]*models.CatalogEntry, error) {
	query := "SELECT " + entryColumns + " FROM catalog_entries WHERE 1=1"
	args := []interface{}{}

	query, args = applyCatalogFilterPg(query, args, filter)
	query += " ORDER BY domain ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
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
func (s *PostgreSQLStorage) CountEntries(ctx context.Context, filter models.CatalogFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM catalog_entries WHERE 1=1"
	args := []interface{}{}

	query, args = applyCatalogFilterPg(query, args, filter)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count catalog entries", err.Error())
	}

	return count, nil
}

// ListActiveEntries retrieves all entries that are not deprecated
func (s *PostgreSQLStorage) ListActiveEntries(ctx context.Context) ([]*models.CatalogEntry, error) {
	return s.ListEntries(ctx, models.CatalogFilter{})
}

// SetEntryStatus updates the sync status of an entry
func (s *PostgreSQLStorage) SetEntryStatus(ctx context.Context, domain string, status models.SyncStatus) error {
	start := time.Now()
	err := s.setEntryStatus(ctx, domain, status)
	observeDB(s.metrics, "update", "catalog_entries", start, err)
	return err
}

func (s *PostgreSQLStorage) setEntryStatus(ctx context.Context, domain string, status models.SyncStatus) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE catalog_entries SET sync_status = $1, updated_at = $2 WHERE domain = $3",
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
func (s *PostgreSQLStorage) CountEntriesByStatus(ctx context.Context) (map[models.SyncStatus]int64, error) {
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

// CreateSyncRun persists a new sync run in the running state
func (s *PostgreSQLStorage) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	start := time.Now()
	err := s.createSyncRun(ctx, run)
	observeDB(s.metrics, "insert", "sync_runs", start, err)
	return err
}

func (s *PostgreSQLStorage) createSyncRun(ctx context.Context, run *models.SyncRun) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
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
func (s *PostgreSQLStorage) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	start := time.Now()
	err := s.finishSyncRun(ctx, run)
	observeDB(s.metrics, "update", "sync_runs", start, err)
	return err
}

func (s *PostgreSQLStorage) finishSyncRun(ctx context.Context, run *models.SyncRun) error {
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
			status = $1, completed_at = $2, total_count = $3, new_count = $4,
			updated_count = $5, deleted_count = $6, error_count = $7,
			error_details = $8, metadata = $9
		WHERE id = $10 AND status = 'running'
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
func (s *PostgreSQLStorage) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	query := "SELECT " + runColumns + " FROM sync_runs WHERE id = $1"

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
func (s *PostgreSQLStorage) GetLatestSyncRun(ctx context.Context, status *models.RunStatus) (*models.SyncRun, error) {
	query := "SELECT " + runColumns + " FROM sync_runs"
	args := []interface{}{}

	if status != nil {
		query += " WHERE status = $1"
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
func (s *PostgreSQLStorage) ListSyncRuns(ctx context.Context, filter models.SyncRunFilter) ([]*models.SyncRun, error) {
	query := "SELECT " + runColumns + " FROM sync_runs WHERE 1=1"
	args := []interface{}{}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(*filter.Status))
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
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
func (s *PostgreSQLStorage) SaveSyncChange(ctx context.Context, change *models.SyncChange) error {
	start := time.Now()
	err := s.saveSyncChange(ctx, change)
	observeDB(s.metrics, "insert", "sync_changes", start, err)
	return err
}

func (s *PostgreSQLStorage) saveSyncChange(ctx context.Context, change *models.SyncChange) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		change.SyncID, change.Domain, string(change.ChangeType),
		change.PreviousVersionHash, change.NewVersionHash, fieldsJSON, change.CreatedAt).
		Scan(&change.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save sync change", err.Error())
	}

	return nil
}

// GetSyncChanges retrieves all changes belonging to a run in creation order
func (s *PostgreSQLStorage) GetSyncChanges(ctx context.Context, syncID string) ([]*models.SyncChange, error) {
	start := time.Now()
	changes, err := s.getSyncChanges(ctx, syncID)
	observeDB(s.metrics, "select", "sync_changes", start, err)
	return changes, err
}

func (s *PostgreSQLStorage) getSyncChanges(ctx context.Context, syncID string) ([]*models.SyncChange, error) {
	query := `
		SELECT id, sync_id, domain, change_type, previous_version_hash,
		       new_version_hash, changed_fields, created_at
		FROM sync_changes WHERE sync_id = $1 ORDER BY created_at ASC, id ASC
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
func (s *PostgreSQLStorage) GetStorageStats() (*StorageStats, error) {
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
func (s *PostgreSQLStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: "PostgreSQL",
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"max_connections": fmt.Sprintf("%d", s.config.MaxConnections)},
		LastPing:    time.Now(),
	}
}

// applyCatalogFilterPg appends WHERE clauses using positional placeholders
func applyCatalogFilterPg(query string, args []interface{}, filter models.CatalogFilter) (string, []interface{}) {
	if filter.Status != nil {
		query += fmt.Sprintf(" AND sync_status = $%d", len(args)+1)
		args = append(args, string(*filter.Status))
	} else if !filter.IncludeDeprecated {
		query += fmt.Sprintf(" AND sync_status != $%d", len(args)+1)
		args = append(args, string(models.SyncStatusDeprecated))
	}

	if filter.Query != nil && *filter.Query != "" {
		q := "%" + *filter.Query + "%"
		query += fmt.Sprintf(" AND (domain ILIKE $%d OR name ILIKE $%d)", len(args)+1, len(args)+2)
		args = append(args, q, q)
	}

	return query, args
}
