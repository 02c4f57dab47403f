// Package guard implements the collision-safe upsert: one live stored
// product per collision identity, enforced with conditional writes and a
// bounded retry budget instead of locks.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"prodvault/events"
	"prodvault/identity"
	"prodvault/storage"
	"prodvault/types"

	"github.com/sirupsen/logrus"
)

// Defaults for the optimistic-concurrency retry loop.
const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 50 * time.Millisecond
	DefaultBackoffCap  = 2 * time.Second
)

// VersionBackupFunc receives the previous and incoming state of a record
// immediately before a merge is written. Returning an error aborts the
// merge; the stored record is left untouched.
type VersionBackupFunc func(ctx context.Context, previous, incoming types.StoredProduct) error

// Config configures a Guard. KV is required; everything else is optional.
type Config struct {
	KV storage.KVStore
	// Filter is the optional bloom fast path for mostly-new batches.
	Filter *FingerprintFilter
	// OnVersionBackup runs before every merge write.
	OnVersionBackup VersionBackupFunc
	Emitter         events.Emitter
	Logger          *logrus.Logger

	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Guard performs fingerprint-indexed upserts against the KV store.
type Guard struct {
	kv       storage.KVStore
	filter   *FingerprintFilter
	backupFn VersionBackupFunc
	emit     events.Emitter
	log      *logrus.Logger

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	now func() time.Time
}

// New builds a Guard, applying defaults for unset tunables.
func New(cfg Config) (*Guard, error) {
	if cfg.KV == nil {
		return nil, errors.New("guard: kv store is required")
	}
	applyConfigDefaults(&cfg)
	return &Guard{
		kv:          cfg.KV,
		filter:      cfg.Filter,
		backupFn:    cfg.OnVersionBackup,
		emit:        cfg.Emitter,
		log:         cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Nop{}
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
}

// errRaceLost signals that another writer won this attempt; the caller
// backs off and retries.
var errRaceLost = errors.New("lost write race")

// Upsert stores the record under its collision identity. A record whose
// identity is unseen is inserted; a known identity is merged
// non-destructively into the existing stored product. Two concurrent
// upserts of the same identity never both insert.
func (g *Guard) Upsert(ctx context.Context, rec types.ProductRecord) (types.UpsertResult, error) {
	fp, err := identity.Fingerprint(rec)
	if err != nil {
		return types.UpsertResult{}, err
	}
	collHash, err := identity.CollisionHash(rec)
	if err != nil {
		return types.UpsertResult{}, err
	}
	indexKey := identity.IndexKey(collHash)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		result, err := g.attemptUpsert(ctx, rec, fp, collHash, indexKey)
		if err == nil {
			result.Attempts = attempt
			g.emitOutcome(result, collHash)
			return result, nil
		}
		if !errors.Is(err, errRaceLost) {
			return types.UpsertResult{}, err
		}

		g.log.WithFields(logrus.Fields{
			"collision_hash": collHash[:12],
			"attempt":        attempt,
		}).Debug("upsert lost write race, retrying")

		if attempt < g.maxAttempts {
			if serr := storage.SleepBackoff(ctx, attempt-1, g.backoffBase, g.backoffCap); serr != nil {
				return types.UpsertResult{}, fmt.Errorf("%w: canceled while retrying: %v", types.ErrCollisionConflict, serr)
			}
		}
	}
	return types.UpsertResult{}, fmt.Errorf("%w: collision hash %s after %d attempts",
		types.ErrCollisionConflict, collHash[:12], g.maxAttempts)
}

// attemptUpsert runs one optimistic round: read the index, then either
// claim it (insert) or merge into the record it points at (update).
func (g *Guard) attemptUpsert(ctx context.Context, rec types.ProductRecord, fp, collHash, indexKey string) (types.UpsertResult, error) {
	indexed, found, err := g.readIndex(ctx, indexKey, collHash)
	if err != nil {
		return types.UpsertResult{}, err
	}

	if !found {
		return g.insert(ctx, rec, fp, collHash, indexKey)
	}
	return g.update(ctx, rec, fp, indexed)
}

// readIndex resolves the collision index entry. The bloom filter can prove
// absence and skip the exact read; any filter error falls back to the read.
func (g *Guard) readIndex(ctx context.Context, indexKey, collHash string) (string, bool, error) {
	if g.filter != nil {
		seen, err := g.filter.Exists(ctx, collHash)
		if err == nil && !seen {
			return "", false, nil
		}
		if err != nil {
			g.log.WithField("error", err.Error()).Debug("bloom check failed, using exact lookup")
		}
	}

	var data []byte
	var ok bool
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var rerr error
		data, ok, rerr = g.kv.Get(ctx, indexKey)
		return rerr
	})
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return string(data), true, nil
}

func (g *Guard) insert(ctx context.Context, rec types.ProductRecord, fp, collHash, indexKey string) (types.UpsertResult, error) {
	storageID := identity.StorageIDFrom(rec.Source, fp)

	var claimed bool
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var rerr error
		claimed, rerr = g.kv.PutIfAbsent(ctx, indexKey, []byte(storageID))
		return rerr
	})
	if err != nil {
		return types.UpsertResult{}, err
	}
	if !claimed {
		// Another writer owns the identity now; retry as an update.
		return types.UpsertResult{}, errRaceLost
	}

	stored := newStoredProduct(rec, fp, storageID, g.now())
	if err := g.writeRecord(ctx, stored); err != nil {
		return types.UpsertResult{}, err
	}

	if g.filter != nil {
		if ferr := g.filter.Add(ctx, collHash); ferr != nil {
			g.log.WithField("error", ferr.Error()).Debug("bloom add failed")
		}
	}

	return types.UpsertResult{
		StorageID:   storageID,
		Outcome:     types.OutcomeNew,
		UpdateCount: 0,
	}, nil
}

func (g *Guard) update(ctx context.Context, rec types.ProductRecord, fp, storageID string) (types.UpsertResult, error) {
	recordKey := identity.RecordKey(storageID)

	var oldBytes []byte
	var found bool
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var rerr error
		oldBytes, found, rerr = g.kv.Get(ctx, recordKey)
		return rerr
	})
	if err != nil {
		return types.UpsertResult{}, err
	}

	if !found {
		// The index claimed this identity but the record write never
		// landed. Finish the interrupted insert under the indexed ID.
		stored := newStoredProduct(rec, fp, storageID, g.now())
		if err := g.writeRecord(ctx, stored); err != nil {
			return types.UpsertResult{}, err
		}
		return types.UpsertResult{StorageID: storageID, Outcome: types.OutcomeNew, UpdateCount: 0}, nil
	}

	var prev types.StoredProduct
	if err := json.Unmarshal(oldBytes, &prev); err != nil {
		return types.UpsertResult{}, fmt.Errorf("%w: decode %s: %v", types.ErrStorage, recordKey, err)
	}

	next := mergeRecord(prev, rec, fp, g.now())

	if g.backupFn != nil {
		if berr := g.backupFn(ctx, prev, next); berr != nil {
			return types.UpsertResult{}, berr
		}
	}

	newBytes, err := json.Marshal(next)
	if err != nil {
		return types.UpsertResult{}, fmt.Errorf("%w: encode %s: %v", types.ErrStorage, recordKey, err)
	}

	var swapped bool
	err = storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var rerr error
		swapped, rerr = g.kv.CompareAndSwap(ctx, recordKey, oldBytes, newBytes)
		return rerr
	})
	if err != nil {
		return types.UpsertResult{}, err
	}
	if !swapped {
		return types.UpsertResult{}, errRaceLost
	}

	return types.UpsertResult{
		StorageID:   storageID,
		Outcome:     types.OutcomeUpdate,
		UpdateCount: next.UpdateCount,
	}, nil
}

func (g *Guard) writeRecord(ctx context.Context, p types.StoredProduct) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", types.ErrStorage, p.StorageID, err)
	}
	return storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		return g.kv.Put(ctx, identity.RecordKey(p.StorageID), data)
	})
}

func (g *Guard) emitOutcome(res types.UpsertResult, collHash string) {
	evType := events.ProductNew
	if res.Outcome == types.OutcomeUpdate {
		evType = events.ProductUpdated
	}
	g.emit.Emit(events.New(evType, map[string]any{
		"storage_id":     res.StorageID,
		"collision_hash": collHash[:12],
		"update_count":   res.UpdateCount,
		"attempts":       res.Attempts,
	}))
	g.log.WithFields(logrus.Fields{
		"storage_id":   res.StorageID,
		"outcome":      string(res.Outcome),
		"update_count": res.UpdateCount,
	}).Info("product upserted")
}

func newStoredProduct(rec types.ProductRecord, fp, storageID string, now time.Time) types.StoredProduct {
	return types.StoredProduct{
		StorageID:       storageID,
		Fingerprint:     fp,
		FingerprintHash: identity.FingerprintHash(fp),
		Name:            strings.TrimSpace(rec.Name),
		Price:           rec.Price,
		Store:           strings.TrimSpace(rec.Store),
		URL:             strings.TrimSpace(rec.URL),
		ImageURL:        strings.TrimSpace(rec.ImageURL),
		Category:        strings.TrimSpace(rec.Category),
		Description:     strings.TrimSpace(rec.Description),
		Source:          identity.SanitizeSource(rec.Source),
		CreatedAt:       now,
		UpdatedAt:       now,
		UpdateCount:     0,
	}
}

// mergeRecord folds an incoming record into the previous stored state.
// Only non-empty incoming fields overwrite; a replaced URL or image spills
// into the alternates so previously stored values survive the merge.
func mergeRecord(prev types.StoredProduct, rec types.ProductRecord, fp string, now time.Time) types.StoredProduct {
	next := prev

	if name := strings.TrimSpace(rec.Name); name != "" {
		next.Name = name
	}
	if rec.Price > 0 {
		next.Price = rec.Price
	}
	if store := strings.TrimSpace(rec.Store); store != "" {
		next.Store = store
	}
	if u := strings.TrimSpace(rec.URL); u != "" && u != prev.URL {
		if prev.URL != "" {
			next.AlternateURLs = appendUnique(next.AlternateURLs, prev.URL)
		}
		next.URL = u
	}
	if img := strings.TrimSpace(rec.ImageURL); img != "" && img != prev.ImageURL {
		if prev.ImageURL != "" {
			next.AlternateImages = appendUnique(next.AlternateImages, prev.ImageURL)
		}
		next.ImageURL = img
	}
	if cat := strings.TrimSpace(rec.Category); cat != "" {
		next.Category = cat
	}
	if desc := strings.TrimSpace(rec.Description); desc != "" {
		next.Description = desc
	}

	next.Fingerprint = fp
	next.FingerprintHash = identity.FingerprintHash(fp)
	next.UpdatedAt = now
	next.UpdateCount = prev.UpdateCount + 1
	return next
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
