package models

import (
	"time"
)

// SyncType describes what kind of reconciliation a run performs
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
	SyncTypeManual      SyncType = "manual"
)

// RunStatus describes the lifecycle state of a sync run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusCancelled is reserved in the schema; the engine never
	// produces it today.
	RunStatusCancelled RunStatus = "cancelled"
)

// ChangeType describes one audited catalog mutation
type ChangeType string

const (
	ChangeTypeNew        ChangeType = "new"
	ChangeTypeUpdated    ChangeType = "updated"
	ChangeTypeDeleted    ChangeType = "deleted"
	ChangeTypeDeprecated ChangeType = "deprecated"
)

// SyncError records a single per-domain failure inside a run
type SyncError struct {
	Domain  string `json:"domain"`
	Message string `json:"message"`
}

// SyncRun represents one reconciliation attempt. A run is created in the
// running state and transitions exactly once to completed or failed; it is
// never updated after reaching a terminal state.
type SyncRun struct {
	ID              string                 `json:"id" db:"id"`
	SyncType        SyncType               `json:"sync_type" db:"sync_type"`
	Status          RunStatus              `json:"status" db:"status"`
	StartedAt       time.Time              `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	TotalCount      int                    `json:"total_count" db:"total_count"`
	NewCount        int                    `json:"new_count" db:"new_count"`
	UpdatedCount    int                    `json:"updated_count" db:"updated_count"`
	DeletedCount    int                    `json:"deleted_count" db:"deleted_count"`
	ErrorCount      int                    `json:"error_count" db:"error_count"`
	ErrorDetails    []SyncError            `json:"error_details,omitempty" db:"error_details"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}

// IsTerminal reports whether the run has reached a terminal status
func (r *SyncRun) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed || r.Status == RunStatusCancelled
}

// SyncChange represents one audited entry mutation within a run.
// Immutable once written; retrieval is keyed by the owning run id.
type SyncChange struct {
	ID                  int64      `json:"id" db:"id"`
	SyncID              string     `json:"sync_id" db:"sync_id"`
	Domain              string     `json:"domain" db:"domain"`
	ChangeType          ChangeType `json:"change_type" db:"change_type"`
	PreviousVersionHash *string    `json:"previous_version_hash,omitempty" db:"previous_version_hash"`
	NewVersionHash      *string    `json:"new_version_hash,omitempty" db:"new_version_hash"`
	ChangedFields       []string   `json:"changed_fields,omitempty" db:"changed_fields"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

// SyncRunFilter for querying sync run history
type SyncRunFilter struct {
	Status *RunStatus `json:"status,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}
