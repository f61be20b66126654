package models

import (
	"time"
)

// SyncStatus describes the catalog lifecycle state of an entry
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusError      SyncStatus = "error"
	SyncStatusDeprecated SyncStatus = "deprecated"
)

// CatalogEntry represents the locally persisted canonical record for one
// upstream integration domain. The domain token is the primary key.
type CatalogEntry struct {
	Domain           string                 `json:"domain" db:"domain"`
	Name             string                 `json:"name" db:"name"`
	Description      *string                `json:"description,omitempty" db:"description"`
	Icon             *string                `json:"icon,omitempty" db:"icon"`
	SupportsDevices  bool                   `json:"supports_devices" db:"supports_devices"`
	IsCloud          bool                   `json:"is_cloud" db:"is_cloud"`
	DocumentationURL *string                `json:"documentation_url,omitempty" db:"documentation_url"`
	BrandImageURL    *string                `json:"brand_image_url,omitempty" db:"brand_image_url"`
	FlowType         string                 `json:"flow_type" db:"flow_type"`
	FlowConfig       map[string]interface{} `json:"flow_config,omitempty" db:"flow_config"`
	HandlerClass     *string                `json:"handler_class,omitempty" db:"handler_class"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	VersionHash      *string                `json:"version_hash,omitempty" db:"version_hash"`
	SyncStatus       SyncStatus             `json:"sync_status" db:"sync_status"`
	LastSyncedAt     *time.Time             `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" db:"updated_at"`
}

// CatalogFilter for querying catalog entries
type CatalogFilter struct {
	Query             *string     `json:"query,omitempty"`
	Status            *SyncStatus `json:"status,omitempty"`
	IncludeDeprecated bool        `json:"include_deprecated,omitempty"`
	Limit             int         `json:"limit,omitempty"`
	Offset            int         `json:"offset,omitempty"`
}
