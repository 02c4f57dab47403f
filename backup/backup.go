// Package backup writes and replays catalog snapshots: date-keyed daily
// backups, emergency backups that gate risky operations, and per-record
// version backups captured before every merge.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"prodvault/events"
	"prodvault/identity"
	"prodvault/storage"
	"prodvault/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Blob key layout.
const (
	DailyPrefix     = "backups/daily/"
	EmergencyPrefix = "backups/emergency/"
	VersionPrefix   = "backups/versions/"

	dailyDateLayout = "2006-01-02"
	emergencyLayout = "20060102T150405"
)

// DefaultRetentionDays bounds how long daily and version backups are kept.
// Emergency backups are exempt from cleanup.
const DefaultRetentionDays = 30

// Config configures a Manager. KV and Blobs are required.
type Config struct {
	KV      storage.KVStore
	Blobs   storage.BlobStore
	Emitter events.Emitter
	Logger  *logrus.Logger
}

// Manager owns the backup lifecycle over the blob store.
type Manager struct {
	kv    storage.KVStore
	blobs storage.BlobStore
	emit  events.Emitter
	log   *logrus.Logger
	now   func() time.Time
}

// NewManager builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.KV == nil {
		return nil, errors.New("backup: kv store is required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("backup: blob store is required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Nop{}
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	return &Manager{
		kv:    cfg.KV,
		blobs: cfg.Blobs,
		emit:  cfg.Emitter,
		log:   cfg.Logger,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// DailyKey returns the blob key of the daily backup for a calendar date.
func DailyKey(t time.Time) string {
	return DailyPrefix + "products_backup_" + t.UTC().Format(dailyDateLayout) + ".json"
}

// CreateDaily snapshots the full catalog under today's date key. Idempotent
// per UTC calendar date: when today's snapshot already exists it is kept and
// its ref returned, so repeated invocations never overwrite a successful
// snapshot with a later, possibly smaller one.
func (m *Manager) CreateDaily(ctx context.Context) (types.BackupRef, error) {
	key := DailyKey(m.now())

	var exists bool
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var rerr error
		exists, rerr = m.blobs.Exists(ctx, key)
		return rerr
	})
	if err != nil {
		return types.BackupRef{}, fmt.Errorf("%w: check %s: %v", types.ErrBackupFailure, key, err)
	}
	if exists {
		ref, err := m.refFor(ctx, types.BackupKindDaily, key)
		if err != nil {
			return types.BackupRef{}, err
		}
		m.log.WithField("backup_key", key).Info("daily backup already exists for today")
		return ref, nil
	}

	snap, data, err := m.buildSnapshot(ctx, types.BackupKindDaily, "")
	if err != nil {
		return types.BackupRef{}, err
	}
	if err := m.writeBlob(ctx, key, data); err != nil {
		return types.BackupRef{}, err
	}

	ref := types.BackupRef{
		Kind:          types.BackupKindDaily,
		Key:           key,
		CreatedAt:     snap.Timestamp,
		TotalProducts: snap.TotalProducts,
		SizeBytes:     int64(len(data)),
	}
	m.emitCreated(ref)
	return ref, nil
}

// CreateEmergency snapshots the catalog immediately, under a unique key.
// Callers performing a risky operation must abort it when this fails.
func (m *Manager) CreateEmergency(ctx context.Context, reason string) (types.BackupRef, error) {
	snap, data, err := m.buildSnapshot(ctx, types.BackupKindEmergency, reason)
	if err != nil {
		return types.BackupRef{}, err
	}

	key := fmt.Sprintf("%s%s_%s_%s.json",
		EmergencyPrefix,
		sanitizeReason(reason),
		uuid.NewString()[:8],
		snap.Timestamp.Format(emergencyLayout),
	)
	if err := m.writeBlob(ctx, key, data); err != nil {
		return types.BackupRef{}, err
	}

	ref := types.BackupRef{
		Kind:          types.BackupKindEmergency,
		Key:           key,
		CreatedAt:     snap.Timestamp,
		TotalProducts: snap.TotalProducts,
		SizeBytes:     int64(len(data)),
	}
	m.emitCreated(ref)
	return ref, nil
}

// SaveVersion records the pre-merge state of one record together with the
// incoming state and a field-level change classification.
func (m *Manager) SaveVersion(ctx context.Context, previous, incoming types.StoredProduct) (types.BackupRef, error) {
	now := m.now()
	payload := types.VersionBackup{
		StorageID: previous.StorageID,
		SavedAt:   now,
		Previous:  previous,
		Incoming:  incoming,
		Changes:   diffStates(previous, incoming),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return types.BackupRef{}, fmt.Errorf("%w: encode version backup: %v", types.ErrBackupFailure, err)
	}

	key := VersionPrefix + previous.StorageID + "/" + strconv.FormatInt(now.UnixNano(), 10) + ".json"
	if err := m.writeBlob(ctx, key, data); err != nil {
		return types.BackupRef{}, err
	}

	return types.BackupRef{
		Kind:      types.BackupKindVersion,
		Key:       key,
		CreatedAt: now,
		SizeBytes: int64(len(data)),
	}, nil
}

// VersionBackupHook adapts SaveVersion to the guard's hook signature.
func (m *Manager) VersionBackupHook(ctx context.Context, previous, incoming types.StoredProduct) error {
	_, err := m.SaveVersion(ctx, previous, incoming)
	return err
}

// Restore replays a snapshot into the KV store. Records already stored with
// an updated_at newer than or equal to the backup entry's are skipped unless
// force is set. Corrupt entries are skipped and reported individually; only
// a payload with no decodable entry at all fails the restore. Nothing is
// ever deleted.
func (m *Manager) Restore(ctx context.Context, key string, force bool) (types.RestoreReport, error) {
	report := types.RestoreReport{BackupKey: key}

	var data []byte
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var rerr error
		data, rerr = m.blobs.Get(ctx, key)
		return rerr
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return report, err
		}
		return report, fmt.Errorf("%w: read backup %s: %v", types.ErrStorage, key, err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return report, fmt.Errorf("%w: %s: %v", types.ErrRestoreCorruption, key, err)
	}

	for i, raw := range snap.Products {
		var p types.StoredProduct
		if err := json.Unmarshal(raw, &p); err != nil || p.StorageID == "" {
			report.Corrupt++
			report.Errors = append(report.Errors, fmt.Sprintf("entry %d: undecodable", i))
			continue
		}
		m.restoreEntry(ctx, p, force, &report, i)
	}

	if len(snap.Products) > 0 && report.Restored+report.SkippedNewer+report.Failed == 0 {
		return report, fmt.Errorf("%w: %s: no decodable entries", types.ErrRestoreCorruption, key)
	}

	m.emit.Emit(events.New(events.BackupRestored, map[string]any{
		"backup_key":    key,
		"restored":      report.Restored,
		"skipped_newer": report.SkippedNewer,
		"corrupt":       report.Corrupt,
	}))
	m.log.WithFields(logrus.Fields{
		"backup_key":    key,
		"restored":      report.Restored,
		"skipped_newer": report.SkippedNewer,
		"corrupt":       report.Corrupt,
		"failed":        report.Failed,
	}).Info("backup restored")
	return report, nil
}

func (m *Manager) restoreEntry(ctx context.Context, p types.StoredProduct, force bool, report *types.RestoreReport, idx int) {
	existing, err := storage.LoadProduct(ctx, m.kv, p.StorageID)
	switch {
	case err == nil:
		if !force && !existing.UpdatedAt.Before(p.UpdatedAt) {
			report.SkippedNewer++
			return
		}
	case errors.Is(err, types.ErrNotFound):
		// Absent record: restore re-creates it.
	default:
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("entry %d (%s): %v", idx, p.StorageID, err))
		return
	}

	err = storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		return storage.SaveProduct(ctx, m.kv, p)
	})
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("entry %d (%s): %v", idx, p.StorageID, err))
		return
	}

	// Re-point the collision index so future upserts of this identity land
	// on the restored record.
	if hash, herr := identity.CollisionHash(p.Record()); herr == nil {
		_ = m.kv.Put(ctx, identity.IndexKey(hash), []byte(p.StorageID))
	}
	report.Restored++
}

// Info lists everything currently held in the backup store.
func (m *Manager) Info(ctx context.Context) (types.BackupInfo, error) {
	info := types.BackupInfo{}

	dailyKeys, err := m.blobs.List(ctx, DailyPrefix)
	if err != nil {
		return info, err
	}
	for _, key := range dailyKeys {
		info.Daily = append(info.Daily, types.BackupRef{
			Kind:      types.BackupKindDaily,
			Key:       key,
			CreatedAt: dailyKeyTime(key),
		})
	}

	emergencyKeys, err := m.blobs.List(ctx, EmergencyPrefix)
	if err != nil {
		return info, err
	}
	for _, key := range emergencyKeys {
		info.Emergency = append(info.Emergency, types.BackupRef{
			Kind:      types.BackupKindEmergency,
			Key:       key,
			CreatedAt: emergencyKeyTime(key),
		})
	}

	versionKeys, err := m.blobs.List(ctx, VersionPrefix)
	if err != nil {
		return info, err
	}
	info.VersionBackups = len(versionKeys)
	info.TotalBackups = len(dailyKeys) + len(emergencyKeys) + len(versionKeys)

	for i := range info.Daily {
		ref := info.Daily[i]
		if info.Latest == nil || ref.CreatedAt.After(info.Latest.CreatedAt) {
			info.Latest = &info.Daily[i]
		}
	}
	for i := range info.Emergency {
		ref := info.Emergency[i]
		if info.Latest == nil || ref.CreatedAt.After(info.Latest.CreatedAt) {
			info.Latest = &info.Emergency[i]
		}
	}
	return info, nil
}

// CleanupOld deletes daily and version backups older than the retention
// window and returns how many blobs were removed. Emergency backups are
// never cleaned up automatically.
func (m *Manager) CleanupOld(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := m.now().AddDate(0, 0, -retentionDays)
	deleted := 0

	dailyKeys, err := m.blobs.List(ctx, DailyPrefix)
	if err != nil {
		return 0, err
	}
	for _, key := range dailyKeys {
		if ts := dailyKeyTime(key); !ts.IsZero() && ts.Before(cutoff) {
			if err := m.blobs.Delete(ctx, key); err != nil {
				return deleted, err
			}
			deleted++
		}
	}

	versionKeys, err := m.blobs.List(ctx, VersionPrefix)
	if err != nil {
		return deleted, err
	}
	for _, key := range versionKeys {
		if ts := versionKeyTime(key); !ts.IsZero() && ts.Before(cutoff) {
			if err := m.blobs.Delete(ctx, key); err != nil {
				return deleted, err
			}
			deleted++
		}
	}

	m.log.WithFields(logrus.Fields{
		"deleted":        deleted,
		"retention_days": retentionDays,
	}).Info("old backups cleaned up")
	return deleted, nil
}

func (m *Manager) buildSnapshot(ctx context.Context, kind, reason string) (types.Snapshot, []byte, error) {
	products, err := storage.LoadProducts(ctx, m.kv)
	if err != nil {
		return types.Snapshot{}, nil, fmt.Errorf("%w: read catalog: %v", types.ErrBackupFailure, err)
	}

	entries := make([]json.RawMessage, 0, len(products))
	for i := range products {
		raw, err := json.Marshal(&products[i])
		if err != nil {
			return types.Snapshot{}, nil, fmt.Errorf("%w: encode %s: %v", types.ErrBackupFailure, products[i].StorageID, err)
		}
		entries = append(entries, raw)
	}

	stats := types.ComputeStatistics(products)
	snap := types.Snapshot{
		Timestamp:     m.now(),
		BackupType:    kind,
		Reason:        reason,
		TotalProducts: len(products),
		Products:      entries,
		Statistics:    &stats,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return types.Snapshot{}, nil, fmt.Errorf("%w: encode snapshot: %v", types.ErrBackupFailure, err)
	}
	return snap, data, nil
}

func (m *Manager) writeBlob(ctx context.Context, key string, data []byte) error {
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		return m.blobs.Put(ctx, key, data)
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", types.ErrBackupFailure, key, err)
	}
	return nil
}

// refFor rebuilds a ref for an existing snapshot by decoding its header.
func (m *Manager) refFor(ctx context.Context, kind, key string) (types.BackupRef, error) {
	data, err := m.blobs.Get(ctx, key)
	if err != nil {
		return types.BackupRef{}, fmt.Errorf("%w: read %s: %v", types.ErrBackupFailure, key, err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.BackupRef{}, fmt.Errorf("%w: decode %s: %v", types.ErrBackupFailure, key, err)
	}
	return types.BackupRef{
		Kind:          kind,
		Key:           key,
		CreatedAt:     snap.Timestamp,
		TotalProducts: snap.TotalProducts,
		SizeBytes:     int64(len(data)),
	}, nil
}

func (m *Manager) emitCreated(ref types.BackupRef) {
	m.emit.Emit(events.New(events.BackupCreated, map[string]any{
		"backup_key":     ref.Key,
		"kind":           ref.Kind,
		"total_products": ref.TotalProducts,
	}))
	m.log.WithFields(logrus.Fields{
		"backup_key":     ref.Key,
		"kind":           ref.Kind,
		"total_products": ref.TotalProducts,
	}).Info("backup created")
}

func sanitizeReason(reason string) string {
	reason = strings.TrimSpace(strings.ToLower(reason))
	if reason == "" {
		return "manual"
	}
	var b strings.Builder
	for _, r := range reason {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func dailyKeyTime(key string) time.Time {
	base := strings.TrimSuffix(path.Base(key), ".json")
	raw := strings.TrimPrefix(base, "products_backup_")
	ts, err := time.Parse(dailyDateLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func emergencyKeyTime(key string) time.Time {
	base := strings.TrimSuffix(path.Base(key), ".json")
	parts := strings.Split(base, "_")
	if len(parts) == 0 {
		return time.Time{}
	}
	ts, err := time.Parse(emergencyLayout, parts[len(parts)-1])
	if err != nil {
		return time.Time{}
	}
	return ts
}

func versionKeyTime(key string) time.Time {
	base := strings.TrimSuffix(path.Base(key), ".json")
	nanos, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
