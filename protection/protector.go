// Package protection assembles the subsystem behind one facade. A Protector
// owns the guard, the backup manager, the deduplication engine, and the
// exporter, and adds the safety gates around risky operations: an emergency
// backup must succeed before any deduplication pass or restore is allowed to
// touch stored data, and only one such pass runs at a time.
package protection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"prodvault/backup"
	"prodvault/dedup"
	"prodvault/events"
	"prodvault/export"
	"prodvault/guard"
	"prodvault/ingest"
	"prodvault/storage"
	"prodvault/types"
)

const (
	// MaintenanceLockKey serializes deduplication and restore passes across
	// instances.
	MaintenanceLockKey = "prodvault:locks:maintenance"

	// DefaultLockTTL bounds how long a crashed pass keeps the lock.
	DefaultLockTTL = 5 * time.Minute

	reasonPreDedup   = "pre-dedup"
	reasonPreRestore = "pre-restore"
)

// ErrAlreadyRunning reports that another maintenance pass holds the job lock.
var ErrAlreadyRunning = errors.New("protection: maintenance pass already running")

// Config wires a Protector. KV and Blobs are required.
type Config struct {
	KV    storage.KVStore
	Blobs storage.BlobStore

	// Filter is the optional bloom fast path handed to the guard.
	Filter *guard.FingerprintFilter

	// Locker serializes deduplication and restore across instances. Nil falls
	// back to a process-local lock, which is enough for single-instance
	// deployments.
	Locker  *redislock.Client
	LockTTL time.Duration

	DedupThreshold      float64
	DedupPriceTolerance float64

	BatchWorkers       int
	BatchRatePerSecond float64

	// Backend names surface in Status so operators can see what a running
	// instance is actually wired to.
	KVBackendName   string
	BlobBackendName string

	Emitter events.Emitter
	Logger  *logrus.Logger
}

// Protector is the single entry point for every catalog operation.
type Protector struct {
	kv    storage.KVStore
	blobs storage.BlobStore

	guard     *guard.Guard
	processor *ingest.Processor
	backups   *backup.Manager
	exporter  *export.Exporter

	dedupBase dedup.Config

	locker  *redislock.Client
	lockTTL time.Duration
	runMu   sync.Mutex

	kvName   string
	blobName string
	emit     events.Emitter
	log      *logrus.Logger
}

// New wires all components together.
func New(cfg Config) (*Protector, error) {
	if cfg.KV == nil {
		return nil, errors.New("protection: kv store is required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("protection: blob store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(io.Discard)
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewLogEmitter(cfg.Logger)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.KVBackendName == "" {
		cfg.KVBackendName = "memory"
	}
	if cfg.BlobBackendName == "" {
		cfg.BlobBackendName = "memory"
	}

	backups, err := backup.NewManager(backup.Config{
		KV:      cfg.KV,
		Blobs:   cfg.Blobs,
		Emitter: cfg.Emitter,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	g, err := guard.New(guard.Config{
		KV:              cfg.KV,
		Filter:          cfg.Filter,
		OnVersionBackup: backups.VersionBackupHook,
		Emitter:         cfg.Emitter,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	processor, err := ingest.NewProcessor(ingest.ProcessorConfig{
		Guard:         g,
		Workers:       cfg.BatchWorkers,
		RatePerSecond: cfg.BatchRatePerSecond,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	exporter, err := export.NewExporter(export.Config{KV: cfg.KV, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	return &Protector{
		kv:        cfg.KV,
		blobs:     cfg.Blobs,
		guard:     g,
		processor: processor,
		backups:   backups,
		exporter:  exporter,
		dedupBase: dedup.Config{
			KV:             cfg.KV,
			Threshold:      cfg.DedupThreshold,
			PriceTolerance: cfg.DedupPriceTolerance,
			Emitter:        cfg.Emitter,
			Logger:         cfg.Logger,
		},
		locker:   cfg.Locker,
		lockTTL:  cfg.LockTTL,
		kvName:   cfg.KVBackendName,
		blobName: cfg.BlobBackendName,
		emit:     cfg.Emitter,
		log:      cfg.Logger,
	}, nil
}

// Processor exposes the ingestion pipeline so stream consumers feed the same
// guarded catalog, version backups included.
func (p *Protector) Processor() *ingest.Processor {
	return p.processor
}

// Upsert validates and stores one scraped record.
func (p *Protector) Upsert(ctx context.Context, rec types.ProductRecord) (types.UpsertResult, error) {
	return p.processor.ProcessRecord(ctx, rec)
}

// UpsertBatch runs a whole scrape batch through the guard.
func (p *Protector) UpsertBatch(ctx context.Context, records []types.ProductRecord) (types.BatchReport, error) {
	return p.processor.ProcessBatch(ctx, records)
}

// Get returns one stored product by storage ID.
func (p *Protector) Get(ctx context.Context, storageID string) (types.StoredProduct, error) {
	var prod types.StoredProduct
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var lerr error
		prod, lerr = storage.LoadProduct(ctx, p.kv, storageID)
		return lerr
	})
	return prod, err
}

// List returns the catalog ordered by storage ID. Superseded records are
// excluded unless asked for.
func (p *Protector) List(ctx context.Context, includeSuperseded bool) ([]types.StoredProduct, error) {
	products, err := p.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	kept := products[:0]
	for _, prod := range products {
		if includeSuperseded || prod.Live() {
			kept = append(kept, prod)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].StorageID < kept[j].StorageID })
	return kept, nil
}

// DetectDuplicates runs a detection pass without merging. A zero threshold
// uses the configured default.
func (p *Protector) DetectDuplicates(ctx context.Context, threshold float64) ([]types.DuplicateGroup, error) {
	engine, err := p.dedupEngine(threshold)
	if err != nil {
		return nil, err
	}
	return engine.DetectGroups(ctx)
}

// RunDeduplication merges near-duplicate groups under the job lock. The pass
// is gated on an emergency backup: if the snapshot cannot be written, no
// merge happens and ErrBackupFailure is returned.
func (p *Protector) RunDeduplication(ctx context.Context, threshold float64) (types.MergeReport, error) {
	release, err := p.acquireMaintenanceLock(ctx)
	if err != nil {
		return types.MergeReport{}, err
	}
	defer release()

	ref, err := p.backups.CreateEmergency(ctx, reasonPreDedup)
	if err != nil {
		p.log.WithError(err).Error("aborting deduplication, emergency backup failed")
		return types.MergeReport{}, err
	}

	engine, err := p.dedupEngine(threshold)
	if err != nil {
		return types.MergeReport{}, err
	}
	report, _, err := engine.Deduplicate(ctx)
	if err != nil {
		return report, err
	}
	report.Backup = &ref

	p.log.WithFields(logrus.Fields{
		"groups":     report.Groups,
		"merged":     report.Merged,
		"superseded": report.Superseded,
		"backup":     ref.Key,
	}).Info("deduplication pass finished")
	return report, nil
}

// Restore replays a snapshot under the job lock, so a restore never
// interleaves with a merge pass. Like deduplication, it is gated on an
// emergency backup of the current state, so a bad restore can itself be
// rolled back.
func (p *Protector) Restore(ctx context.Context, backupKey string, force bool) (types.RestoreReport, error) {
	release, err := p.acquireMaintenanceLock(ctx)
	if err != nil {
		return types.RestoreReport{}, err
	}
	defer release()

	if _, err := p.backups.CreateEmergency(ctx, reasonPreRestore); err != nil {
		p.log.WithError(err).Error("aborting restore, emergency backup failed")
		return types.RestoreReport{}, err
	}
	return p.backups.Restore(ctx, backupKey, force)
}

// CreateDailyBackup snapshots the catalog under today's date key.
func (p *Protector) CreateDailyBackup(ctx context.Context) (types.BackupRef, error) {
	return p.backups.CreateDaily(ctx)
}

// CreateEmergencyBackup snapshots the catalog under a reason-tagged key.
func (p *Protector) CreateEmergencyBackup(ctx context.Context, reason string) (types.BackupRef, error) {
	return p.backups.CreateEmergency(ctx, reason)
}

// BackupInfo summarizes stored backups.
func (p *Protector) BackupInfo(ctx context.Context) (types.BackupInfo, error) {
	return p.backups.Info(ctx)
}

// CleanupBackups deletes daily and version backups older than the retention
// window. Emergency backups are never cleaned up.
func (p *Protector) CleanupBackups(ctx context.Context, retentionDays int) (int, error) {
	return p.backups.CleanupOld(ctx, retentionDays)
}

// ExportCSV writes the catalog as CSV.
func (p *Protector) ExportCSV(ctx context.Context, w io.Writer, includeSuperseded bool) (int, error) {
	return p.exporter.WriteCSV(ctx, w, export.Options{IncludeSuperseded: includeSuperseded})
}

// ExportJSON writes the catalog as a JSON document.
func (p *Protector) ExportJSON(ctx context.Context, w io.Writer, includeSuperseded bool) (int, error) {
	return p.exporter.WriteJSON(ctx, w, export.Options{IncludeSuperseded: includeSuperseded})
}

// ExportXLSX writes the catalog as an Excel workbook.
func (p *Protector) ExportXLSX(ctx context.Context, w io.Writer, includeSuperseded bool) (int, error) {
	return p.exporter.WriteXLSX(ctx, w, export.Options{IncludeSuperseded: includeSuperseded})
}

// Status reports the operational state. It runs a detection pass to count
// pending duplicate groups, so it reads the whole catalog.
func (p *Protector) Status(ctx context.Context) (types.ProtectionStatus, error) {
	products, err := p.loadAll(ctx)
	if err != nil {
		return types.ProtectionStatus{}, err
	}
	superseded := 0
	for _, prod := range products {
		if !prod.Live() {
			superseded++
		}
	}

	status := types.ProtectionStatus{
		TotalProducts:      len(products),
		SupersededProducts: superseded,
		KVBackend:          p.kvName,
		BlobBackend:        p.blobName,
	}

	info, err := p.backups.Info(ctx)
	if err != nil {
		return types.ProtectionStatus{}, err
	}
	status.TotalBackups = info.TotalBackups
	if info.Latest != nil {
		at := info.Latest.CreatedAt
		status.LastBackupAt = &at
		status.LastBackupKey = info.Latest.Key
	}

	groups, err := p.DetectDuplicates(ctx, 0)
	if err != nil {
		return types.ProtectionStatus{}, err
	}
	status.PendingDuplicateGroups = len(groups)
	return status, nil
}

// Statistics aggregates the live catalog.
func (p *Protector) Statistics(ctx context.Context) (types.CatalogStatistics, error) {
	products, err := p.loadAll(ctx)
	if err != nil {
		return types.CatalogStatistics{}, err
	}
	live := products[:0]
	for _, prod := range products {
		if prod.Live() {
			live = append(live, prod)
		}
	}
	return types.ComputeStatistics(live), nil
}

func (p *Protector) loadAll(ctx context.Context) ([]types.StoredProduct, error) {
	var products []types.StoredProduct
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var lerr error
		products, lerr = storage.LoadProducts(ctx, p.kv)
		return lerr
	})
	return products, err
}

func (p *Protector) dedupEngine(threshold float64) (*dedup.Engine, error) {
	cfg := p.dedupBase
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	return dedup.NewEngine(cfg)
}

// acquireMaintenanceLock takes the job lock, distributed when a locker is
// configured, process-local otherwise. The returned func releases it.
func (p *Protector) acquireMaintenanceLock(ctx context.Context) (func(), error) {
	if p.locker != nil {
		lock, err := p.locker.Obtain(ctx, MaintenanceLockKey, p.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrAlreadyRunning
		}
		if err != nil {
			return nil, fmt.Errorf("%w: obtain maintenance lock: %v", types.ErrStorage, err)
		}
		return func() { _ = lock.Release(context.Background()) }, nil
	}

	if !p.runMu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	return p.runMu.Unlock, nil
}
