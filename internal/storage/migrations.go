package storage

import (
	"time"
)

// Migration represents a database migration
type Migration struct {
	ID          int       `db:"id"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create catalog_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS catalog_entries (
					domain TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					description TEXT,
					icon TEXT,
					supports_devices BOOLEAN NOT NULL DEFAULT TRUE,
					is_cloud BOOLEAN NOT NULL DEFAULT FALSE,
					documentation_url TEXT,
					brand_image_url TEXT,
					flow_type TEXT NOT NULL DEFAULT 'manual',
					flow_config TEXT, -- JSON
					handler_class TEXT,
					metadata TEXT, -- JSON
					version_hash TEXT,
					sync_status TEXT NOT NULL DEFAULT 'pending',
					last_synced_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_catalog_entries_status ON catalog_entries(sync_status);
				CREATE INDEX IF NOT EXISTS idx_catalog_entries_name ON catalog_entries(name);
			`,
		},
		{
			Version:     "002",
			Description: "Create sync_runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_runs (
					id TEXT PRIMARY KEY,
					sync_type TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					started_at DATETIME NOT NULL,
					completed_at DATETIME,
					total_count INTEGER DEFAULT 0,
					new_count INTEGER DEFAULT 0,
					updated_count INTEGER DEFAULT 0,
					deleted_count INTEGER DEFAULT 0,
					error_count INTEGER DEFAULT 0,
					error_details TEXT, -- JSON
					metadata TEXT -- JSON
				);

				CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
				CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
			`,
		},
		{
			Version:     "003",
			Description: "Create sync_changes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_changes (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					sync_id TEXT NOT NULL,
					domain TEXT NOT NULL,
					change_type TEXT NOT NULL,
					previous_version_hash TEXT,
					new_version_hash TEXT,
					changed_fields TEXT, -- JSON
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (sync_id) REFERENCES sync_runs (id)
				);

				CREATE INDEX IF NOT EXISTS idx_sync_changes_sync_id ON sync_changes(sync_id);
				CREATE INDEX IF NOT EXISTS idx_sync_changes_domain ON sync_changes(domain);
			`,
		},
		{
			Version:     "004",
			Description: "Create migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS migrations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					version TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL,
					applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create catalog_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS catalog_entries (
					domain TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					description TEXT,
					icon TEXT,
					supports_devices BOOLEAN NOT NULL DEFAULT TRUE,
					is_cloud BOOLEAN NOT NULL DEFAULT FALSE,
					documentation_url TEXT,
					brand_image_url TEXT,
					flow_type TEXT NOT NULL DEFAULT 'manual',
					flow_config JSONB,
					handler_class TEXT,
					metadata JSONB,
					version_hash TEXT,
					sync_status TEXT NOT NULL DEFAULT 'pending',
					last_synced_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_catalog_entries_status ON catalog_entries(sync_status);
				CREATE INDEX IF NOT EXISTS idx_catalog_entries_name ON catalog_entries(name);
			`,
		},
		{
			Version:     "002",
			Description: "Create sync_runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_runs (
					id TEXT PRIMARY KEY,
					sync_type TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					started_at TIMESTAMP WITH TIME ZONE NOT NULL,
					completed_at TIMESTAMP WITH TIME ZONE,
					total_count INTEGER DEFAULT 0,
					new_count INTEGER DEFAULT 0,
					updated_count INTEGER DEFAULT 0,
					deleted_count INTEGER DEFAULT 0,
					error_count INTEGER DEFAULT 0,
					error_details JSONB,
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
				CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
			`,
		},
		{
			Version:     "003",
			Description: "Create sync_changes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_changes (
					id BIGSERIAL PRIMARY KEY,
					sync_id TEXT NOT NULL,
					domain TEXT NOT NULL,
					change_type TEXT NOT NULL,
					previous_version_hash TEXT,
					new_version_hash TEXT,
					changed_fields JSONB,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					CONSTRAINT fk_sync_changes_run FOREIGN KEY (sync_id) REFERENCES sync_runs (id)
				);

				CREATE INDEX IF NOT EXISTS idx_sync_changes_sync_id ON sync_changes(sync_id);
				CREATE INDEX IF NOT EXISTS idx_sync_changes_domain ON sync_changes(domain);
			`,
		},
		{
			Version:     "004",
			Description: "Create migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS migrations (
					id SERIAL PRIMARY KEY,
					version TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL,
					applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
			`,
		},
	}
}
