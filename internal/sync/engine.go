// File: internal/sync/engine.go
package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/homehub-io/catalog-sync/internal/catalog"
	"github.com/homehub-io/catalog-sync/internal/config"
	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/internal/models"
	"github.com/homehub-io/catalog-sync/internal/source"
	"github.com/homehub-io/catalog-sync/internal/storage"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// Notifier delivers the summary of a finished run to an external sink
type Notifier interface {
	NotifySyncCompleted(ctx context.Context, run *models.SyncRun)
}

// StatusSummary describes the engine's current and most recent activity
type StatusSummary struct {
	InProgress       bool            `json:"in_progress"`
	CurrentRun       *models.SyncRun `json:"current_run,omitempty"`
	LastCompletedRun *models.SyncRun `json:"last_completed_run,omitempty"`
}

// RunDetail is one run together with its audit trail
type RunDetail struct {
	Run     *models.SyncRun      `json:"run"`
	Changes []*models.SyncChange `json:"changes"`
}

// Engine orchestrates catalog reconciliation runs. At most one run executes
// at a time within a process; the guard is in-memory and provides no
// coordination across instances.
type Engine struct {
	fetcher  source.Fetcher
	mapper   *catalog.Mapper
	store    storage.Storage
	notifier Notifier
	metrics  *metrics.Manager
	logger   *logrus.Logger
	config   *config.SyncConfig

	running      int32
	mu           sync.Mutex
	currentRunID string
	wg           sync.WaitGroup
}

// NewEngine creates a reconciliation engine
func NewEngine(cfg *config.SyncConfig, fetcher source.Fetcher, store storage.Storage, metricsManager *metrics.Manager) *Engine {
	return &Engine{
		fetcher: fetcher,
		mapper:  catalog.NewMapper(cfg.FallbackIcon, cfg.FallbackDescription),
		store:   store,
		metrics: metricsManager,
		logger:  utils.GetLogger(),
		config:  cfg,
	}
}

// SetNotifier attaches an optional completion notifier
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Running reports whether a run is currently executing
func (e *Engine) Running() bool {
	return atomic.LoadInt32(&e.running) == 1
}

// Wait blocks until all in-flight runs have finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SourceStats exposes the upstream client's request counters
func (e *Engine) SourceStats() source.ClientStats {
	return e.fetcher.Stats()
}

// TriggerSync starts a new reconciliation run. The run record is created
// synchronously and the remaining work executes in the background; callers
// poll status via the persisted record. A second trigger while a run is
// active returns a conflict unless force is set, in which case a run is
// started regardless of the guard.
func (e *Engine) TriggerSync(ctx context.Context, syncType models.SyncType, force bool) (*models.SyncRun, error) {
	acquired := atomic.CompareAndSwapInt32(&e.running, 0, 1)
	if !acquired && !force {
		return nil, utils.NewAppError(utils.ErrCodeConflict, "Sync already in progress", "")
	}

	run := &models.SyncRun{
		ID:        uuid.New().String(),
		SyncType:  syncType,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"forced": force,
		},
	}

	if err := e.store.CreateSyncRun(ctx, run); err != nil {
		if acquired {
			atomic.StoreInt32(&e.running, 0)
		}
		return nil, err
	}

	if acquired {
		e.mu.Lock()
		e.currentRunID = run.ID
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.GetPrometheusMetrics().SetSyncInProgress(true)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"sync_id":   run.ID,
		"sync_type": syncType,
		"forced":    force,
	}).Info("Sync run started")

	e.wg.Add(1)
	go e.execute(run, acquired)

	return run, nil
}

// execute drives one run to its terminal state. The guard is always cleared
// on exit when this run owns it.
func (e *Engine) execute(run *models.SyncRun, acquired bool) {
	// Runs outlive the triggering request
	ctx := context.Background()
	start := time.Now()

	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.finishRun(ctx, run, models.RunStatusFailed, fmt.Sprintf("panic during sync: %v", r))
		}
		if acquired {
			e.mu.Lock()
			e.currentRunID = ""
			e.mu.Unlock()
			atomic.StoreInt32(&e.running, 0)
			if e.metrics != nil {
				e.metrics.GetPrometheusMetrics().SetSyncInProgress(false)
			}
		}
		if e.metrics != nil {
			e.metrics.GetPrometheusMetrics().RecordSyncRun(string(run.SyncType), string(run.Status), time.Since(start))
		}
	}()

	if err := e.reconcile(ctx, run); err != nil {
		e.finishRun(ctx, run, models.RunStatusFailed, err.Error())
		return
	}

	e.finishRun(ctx, run, models.RunStatusCompleted, "")
}

// finishRun performs the single terminal transition of a run
func (e *Engine) finishRun(ctx context.Context, run *models.SyncRun, status models.RunStatus, systemError string) {
	if run.IsTerminal() {
		return
	}

	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	if systemError != "" {
		run.ErrorDetails = append(run.ErrorDetails, models.SyncError{Message: systemError})
		run.ErrorCount++
	}

	if err := e.store.FinishSyncRun(ctx, run); err != nil {
		e.logger.WithError(err).WithField("sync_id", run.ID).Error("Failed to persist run completion")
	}

	e.logger.WithFields(logrus.Fields{
		"sync_id":  run.ID,
		"status":   status,
		"total":    run.TotalCount,
		"new":      run.NewCount,
		"updated":  run.UpdatedCount,
		"deleted":  run.DeletedCount,
		"errors":   run.ErrorCount,
		"duration": now.Sub(run.StartedAt).String(),
	}).Info("Sync run finished")

	if e.metrics != nil && status == models.RunStatusCompleted {
		e.metrics.GetPrometheusMetrics().RecordSyncCompleted(now)
		e.updateCatalogGauges(ctx)
	}

	if e.notifier != nil {
		e.notifier.NotifySyncCompleted(ctx, run)
	}
}

// reconcile fetches the upstream snapshot and applies the diff. Per-domain
// failures are recorded on the run and never abort it; only errors in the
// enumeration or the catalog load are run-level failures.
func (e *Engine) reconcile(ctx context.Context, run *models.SyncRun) error {
	brands, err := e.fetcher.FetchBrandDomains(ctx)
	if err != nil {
		// Brand images are cosmetic, continue without them
		e.logger.WithError(err).Warn("Failed to fetch brand domains, continuing without brand images")
		brands = map[string]struct{}{}
	}

	domains, err := e.fetcher.ListDomains(ctx)
	if err != nil {
		return fmt.Errorf("failed to list upstream domains: %w", err)
	}

	run.TotalCount = len(domains)
	if e.metrics != nil {
		e.metrics.GetPrometheusMetrics().UpdateDomainsDiscovered(len(domains))
	}

	fetched := e.fetchEntries(ctx, run, domains, brands)

	switch run.SyncType {
	case models.SyncTypeFull:
		return e.reconcileFull(ctx, run, domains, fetched)
	default:
		return e.reconcileIncremental(ctx, run, domains, fetched)
	}
}

// fetchEntries builds the upstream snapshot. A domain whose fetch or mapping
// fails is recorded on the run and left out of the snapshot; not-found
// manifests synthesize a minimal fallback entry instead.
func (e *Engine) fetchEntries(ctx context.Context, run *models.SyncRun, domains []string, brands map[string]struct{}) map[string]*models.CatalogEntry {
	fetched := make(map[string]*models.CatalogEntry, len(domains))

	for _, domain := range domains {
		manifest, err := e.fetcher.FetchManifest(ctx, domain)
		if err != nil {
			e.recordError(run, domain, err)
			continue
		}

		entry := e.mapper.Map(manifest, domain)
		if _, ok := brands[domain]; ok {
			url := e.fetcher.BrandImageURL(domain)
			entry.BrandImageURL = &url
		}

		hash, err := catalog.Hash(&entry)
		if err != nil {
			e.recordError(run, domain, err)
			continue
		}

		now := time.Now().UTC()
		entry.VersionHash = &hash
		entry.SyncStatus = models.SyncStatusSynced
		entry.LastSyncedAt = &now

		fetched[domain] = &entry
	}

	return fetched
}

// reconcileIncremental diffs the whole upstream snapshot against all active
// stored entries in one pass.
func (e *Engine) reconcileIncremental(ctx context.Context, run *models.SyncRun, domains []string, fetched map[string]*models.CatalogEntry) error {
	stored, err := e.store.ListActiveEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active catalog entries: %w", err)
	}

	storedByDomain := make(map[string]*models.CatalogEntry, len(stored))
	for _, entry := range stored {
		storedByDomain[entry.Domain] = entry
	}

	for _, domain := range domains {
		entry, ok := fetched[domain]
		if !ok {
			// Fetch errored, already recorded
			continue
		}

		old, exists := storedByDomain[domain]
		if !exists {
			e.applyNew(ctx, run, entry)
			continue
		}
		e.applyExisting(ctx, run, old, entry)
	}

	e.deprecateMissing(ctx, run, stored, domains)

	return nil
}

// reconcileFull looks each upstream entry up individually, then sweeps the
// active set for domains no longer present upstream.
func (e *Engine) reconcileFull(ctx context.Context, run *models.SyncRun, domains []string, fetched map[string]*models.CatalogEntry) error {
	for _, domain := range domains {
		entry, ok := fetched[domain]
		if !ok {
			continue
		}

		old, err := e.store.GetEntry(ctx, domain)
		if err != nil {
			e.recordError(run, domain, err)
			continue
		}

		// A deprecated entry reappearing upstream is new again
		if old == nil || old.SyncStatus == models.SyncStatusDeprecated {
			e.applyNew(ctx, run, entry)
			continue
		}
		e.applyExisting(ctx, run, old, entry)
	}

	stored, err := e.store.ListActiveEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active catalog entries: %w", err)
	}
	e.deprecateMissing(ctx, run, stored, domains)

	return nil
}

// applyNew inserts a first-seen entry and audits it
func (e *Engine) applyNew(ctx context.Context, run *models.SyncRun, entry *models.CatalogEntry) {
	if err := e.store.UpsertEntry(ctx, entry); err != nil {
		e.recordError(run, entry.Domain, err)
		return
	}

	if err := e.saveChange(ctx, run, &models.SyncChange{
		SyncID:         run.ID,
		Domain:         entry.Domain,
		ChangeType:     models.ChangeTypeNew,
		NewVersionHash: entry.VersionHash,
	}); err != nil {
		e.recordError(run, entry.Domain, err)
		return
	}

	run.NewCount++
}

// applyExisting refreshes an entry that is already active: a hash change is
// an audited update, an identical hash only refreshes lastSyncedAt.
func (e *Engine) applyExisting(ctx context.Context, run *models.SyncRun, old, entry *models.CatalogEntry) {
	oldHash := ""
	if old.VersionHash != nil {
		oldHash = *old.VersionHash
	}

	changedFields := catalog.DiffFields(oldHash, *entry.VersionHash, old, entry)

	if err := e.store.UpsertEntry(ctx, entry); err != nil {
		e.recordError(run, entry.Domain, err)
		return
	}

	if len(changedFields) == 0 {
		return
	}

	previous := oldHash
	if err := e.saveChange(ctx, run, &models.SyncChange{
		SyncID:              run.ID,
		Domain:              entry.Domain,
		ChangeType:          models.ChangeTypeUpdated,
		PreviousVersionHash: &previous,
		NewVersionHash:      entry.VersionHash,
		ChangedFields:       changedFields,
	}); err != nil {
		e.recordError(run, entry.Domain, err)
		return
	}

	run.UpdatedCount++
}

// deprecateMissing marks active stored entries as deprecated when their
// domain was absent from the enumerated upstream set. Domains whose fetch
// errored are still in that set, so a transient failure never deprecates an
// entry.
func (e *Engine) deprecateMissing(ctx context.Context, run *models.SyncRun, stored []*models.CatalogEntry, domains []string) {
	enumerated := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		enumerated[domain] = struct{}{}
	}

	for _, old := range stored {
		if _, ok := enumerated[old.Domain]; ok {
			continue
		}

		if err := e.store.SetEntryStatus(ctx, old.Domain, models.SyncStatusDeprecated); err != nil {
			e.recordError(run, old.Domain, err)
			continue
		}

		if err := e.saveChange(ctx, run, &models.SyncChange{
			SyncID:              run.ID,
			Domain:              old.Domain,
			ChangeType:          models.ChangeTypeDeprecated,
			PreviousVersionHash: old.VersionHash,
		}); err != nil {
			e.recordError(run, old.Domain, err)
			continue
		}

		run.DeletedCount++
	}
}

// saveChange persists one audit record and updates change metrics
func (e *Engine) saveChange(ctx context.Context, run *models.SyncRun, change *models.SyncChange) error {
	if err := e.store.SaveSyncChange(ctx, change); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.GetPrometheusMetrics().RecordSyncChange(string(change.ChangeType))
	}
	return nil
}

// recordError appends a per-domain failure to the run. Swallowed failures
// must remain visible through the run's error details.
func (e *Engine) recordError(run *models.SyncRun, domain string, err error) {
	run.ErrorDetails = append(run.ErrorDetails, models.SyncError{
		Domain:  domain,
		Message: err.Error(),
	})
	run.ErrorCount++

	e.logger.WithError(err).WithFields(logrus.Fields{
		"sync_id": run.ID,
		"domain":  domain,
	}).Warn("Domain failed during sync")

	if e.metrics != nil {
		e.metrics.GetPrometheusMetrics().RecordSyncError(string(run.SyncType))
	}
}

// GetSyncStatus returns the detail of one run when an id is given, including
// its audit trail.
func (e *Engine) GetSyncStatus(ctx context.Context, id string) (*RunDetail, error) {
	run, err := e.store.GetSyncRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Sync run not found", id)
	}

	changes, err := e.store.GetSyncChanges(ctx, id)
	if err != nil {
		return nil, err
	}

	return &RunDetail{Run: run, Changes: changes}, nil
}

// GetStatusSummary returns the in-progress flag, the currently running run
// if any, and the last completed run.
func (e *Engine) GetStatusSummary(ctx context.Context) (*StatusSummary, error) {
	summary := &StatusSummary{InProgress: e.Running()}

	e.mu.Lock()
	currentID := e.currentRunID
	e.mu.Unlock()

	if currentID != "" {
		run, err := e.store.GetSyncRun(ctx, currentID)
		if err != nil {
			return nil, err
		}
		summary.CurrentRun = run
	}

	completed := models.RunStatusCompleted
	last, err := e.store.GetLatestSyncRun(ctx, &completed)
	if err != nil {
		return nil, err
	}
	summary.LastCompletedRun = last

	return summary, nil
}

// ImportCustomEntry injects an entry through the same upsert and versioning
// path as a sync, without touching the crawler or the audit trail.
func (e *Engine) ImportCustomEntry(ctx context.Context, entry *models.CatalogEntry) error {
	if entry == nil || entry.Domain == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Catalog entry requires a domain", "")
	}

	if entry.Name == "" {
		mapped := e.mapper.Map(nil, entry.Domain)
		entry.Name = mapped.Name
	}
	if entry.FlowType == "" {
		entry.FlowType = "manual"
	}

	hash, err := catalog.Hash(entry)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeSync, "Failed to hash catalog entry", err.Error())
	}

	now := time.Now().UTC()
	entry.VersionHash = &hash
	entry.SyncStatus = models.SyncStatusSynced
	entry.LastSyncedAt = &now

	if err := e.store.UpsertEntry(ctx, entry); err != nil {
		return err
	}

	e.logger.WithField("domain", entry.Domain).Info("Custom catalog entry imported")
	return nil
}

// updateCatalogGauges refreshes per-status entry gauges after a run
func (e *Engine) updateCatalogGauges(ctx context.Context) {
	counts, err := e.store.CountEntriesByStatus(ctx)
	if err != nil {
		e.logger.WithError(err).Debug("Failed to update catalog gauges")
		return
	}
	for status, count := range counts {
		e.metrics.GetPrometheusMetrics().UpdateCatalogEntries(string(status), count)
	}
}
