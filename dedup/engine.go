// Package dedup detects near-duplicate products that slipped past the exact
// collision index (listing variants, renamed titles, cross-store copies) and
// merges each group into a single canonical record. Retired records are kept
// with a superseded marker, never deleted, so a merge is always auditable and
// reversible from backups.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"prodvault/events"
	"prodvault/identity"
	"prodvault/storage"
	"prodvault/types"
)

const (
	// DefaultThreshold is the similarity score at or above which two live
	// records are considered the same product.
	DefaultThreshold = 0.85

	// DefaultPriceTolerance is the maximum relative price gap between two
	// records that may still be grouped. Beyond it the pair is rejected
	// before any name comparison runs.
	DefaultPriceTolerance = 0.25

	weightName     = 0.70
	weightPrice    = 0.15
	weightCategory = 0.15

	nameWeightTokens      = 0.60
	nameWeightLevenshtein = 0.40
)

// Config carries the dependencies and tunables of the engine. Zero values
// fall back to defaults.
type Config struct {
	KV             storage.KVStore
	Threshold      float64
	PriceTolerance float64
	Emitter        events.Emitter
	Logger         *logrus.Logger
}

// Engine scores live records pairwise and applies group merges.
type Engine struct {
	kv             storage.KVStore
	threshold      float64
	priceTolerance float64
	emit           events.Emitter
	log            *logrus.Logger
	now            func() time.Time
}

// NewEngine validates the configuration and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.KV == nil {
		return nil, fmt.Errorf("%w: dedup engine requires a KV store", types.ErrValidation)
	}
	applyConfigDefaults(&cfg)
	return &Engine{
		kv:             cfg.KV,
		threshold:      cfg.Threshold,
		priceTolerance: cfg.PriceTolerance,
		emit:           cfg.Emitter,
		log:            cfg.Logger,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.PriceTolerance == 0 {
		cfg.PriceTolerance = DefaultPriceTolerance
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(io.Discard)
	}
}

// DetectGroups loads the live catalog and clusters it greedily: records are
// ordered oldest-first, each unclaimed record opens a group, and every later
// record scoring at or above the threshold against the group's opener joins
// it. The opener is the canonical member, so the canonical is always the
// earliest-created record of its group. Groups of one are dropped.
//
// Detection only reads; nothing is written until MergeGroups.
func (e *Engine) DetectGroups(ctx context.Context) ([]types.DuplicateGroup, error) {
	var products []types.StoredProduct
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var lerr error
		products, lerr = storage.LoadProducts(ctx, e.kv)
		return lerr
	})
	if err != nil {
		return nil, err
	}

	live := products[:0]
	for _, p := range products {
		if p.Live() {
			live = append(live, p)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if !live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].CreatedAt.Before(live[j].CreatedAt)
		}
		return live[i].StorageID < live[j].StorageID
	})

	var groups []types.DuplicateGroup
	claimed := make([]bool, len(live))
	for i := range live {
		if claimed[i] {
			continue
		}
		memberIDs := []string{live[i].StorageID}
		scoreSum := 0.0
		for j := i + 1; j < len(live); j++ {
			if claimed[j] {
				continue
			}
			score := e.similarity(&live[i], &live[j])
			if score >= e.threshold {
				claimed[j] = true
				memberIDs = append(memberIDs, live[j].StorageID)
				scoreSum += score
			}
		}
		if len(memberIDs) < 2 {
			continue
		}
		groups = append(groups, types.DuplicateGroup{
			CanonicalID: memberIDs[0],
			MemberIDs:   memberIDs,
			Score:       scoreSum / float64(len(memberIDs)-1),
		})
	}

	e.log.WithFields(logrus.Fields{
		"live_products": len(live),
		"groups":        len(groups),
		"threshold":     e.threshold,
	}).Info("duplicate detection finished")
	return groups, nil
}

// MergeGroups applies detected groups. Each group is re-read before merging,
// so members that vanished or were already superseded by an earlier pass are
// skipped; a group with fewer than two live members left is a no-op. Running
// the same groups twice therefore merges nothing the second time.
func (e *Engine) MergeGroups(ctx context.Context, groups []types.DuplicateGroup) (types.MergeReport, error) {
	report := types.MergeReport{Groups: len(groups)}
	for _, g := range groups {
		retired, canonicalID, err := e.mergeGroup(ctx, g)
		if err != nil {
			return report, err
		}
		if retired == 0 {
			continue
		}
		report.Merged++
		report.Superseded += retired

		e.emit.Emit(events.New(events.DedupMerged, map[string]any{
			"canonical_id": canonicalID,
			"retired":      retired,
			"score":        g.Score,
		}))
		e.log.WithFields(logrus.Fields{
			"canonical_id": canonicalID,
			"retired":      retired,
		}).Info("duplicate group merged")
	}
	return report, nil
}

// Deduplicate runs detection and merging in one pass.
func (e *Engine) Deduplicate(ctx context.Context) (types.MergeReport, []types.DuplicateGroup, error) {
	groups, err := e.DetectGroups(ctx)
	if err != nil {
		return types.MergeReport{}, nil, err
	}
	report, err := e.MergeGroups(ctx, groups)
	return report, groups, err
}

// mergeGroup merges one group and returns how many members were retired.
func (e *Engine) mergeGroup(ctx context.Context, g types.DuplicateGroup) (int, string, error) {
	members := make([]types.StoredProduct, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		var p types.StoredProduct
		err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
			var lerr error
			p, lerr = storage.LoadProduct(ctx, e.kv, id)
			return lerr
		})
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, "", err
		}
		if p.Live() {
			members = append(members, p)
		}
	}
	if len(members) < 2 {
		return 0, "", nil
	}

	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].StorageID < members[j].StorageID
	})
	canonical := members[0]

	merged, err := e.mergeMembers(canonical, members)
	if err != nil {
		return 0, "", err
	}
	if err := e.save(ctx, merged); err != nil {
		return 0, "", err
	}

	retired := 0
	for _, m := range members[1:] {
		m.SupersededBy = canonical.StorageID
		m.UpdatedAt = e.now()
		if err := e.save(ctx, m); err != nil {
			return retired, canonical.StorageID, err
		}
		if err := e.repointIndex(ctx, m.Record(), canonical.StorageID); err != nil {
			return retired, canonical.StorageID, err
		}
		retired++
	}
	return retired, canonical.StorageID, nil
}

// mergeMembers folds a group into the canonical record. Identity and
// created_at stay the canonical's; for every content field the most recently
// updated non-empty value wins; update counts are summed; replaced URLs and
// images are kept as alternates.
func (e *Engine) mergeMembers(canonical types.StoredProduct, members []types.StoredProduct) (types.StoredProduct, error) {
	byUpdate := append([]types.StoredProduct(nil), members...)
	sort.Slice(byUpdate, func(i, j int) bool {
		return byUpdate[i].UpdatedAt.Before(byUpdate[j].UpdatedAt)
	})

	merged := canonical
	merged.UpdateCount = 0

	var urls, images []string
	for _, m := range byUpdate {
		if m.Name != "" {
			merged.Name = m.Name
		}
		if m.Price > 0 {
			merged.Price = m.Price
		}
		if m.Store != "" {
			merged.Store = m.Store
		}
		if m.Category != "" {
			merged.Category = m.Category
		}
		if m.Description != "" {
			merged.Description = m.Description
		}
		if m.Source != "" {
			merged.Source = m.Source
		}
		if m.URL != "" {
			merged.URL = m.URL
			urls = appendUnique(urls, m.URL)
		}
		if m.ImageURL != "" {
			merged.ImageURL = m.ImageURL
			images = appendUnique(images, m.ImageURL)
		}
		urls = appendUnique(urls, m.AlternateURLs...)
		images = appendUnique(images, m.AlternateImages...)

		merged.UpdateCount += m.UpdateCount
		if m.StorageID != canonical.StorageID {
			merged.MergedFrom = appendUnique(merged.MergedFrom, m.StorageID)
			merged.MergedFrom = appendUnique(merged.MergedFrom, m.MergedFrom...)
		}
	}

	merged.AlternateURLs = nil
	for _, u := range urls {
		if u != merged.URL {
			merged.AlternateURLs = append(merged.AlternateURLs, u)
		}
	}
	merged.AlternateImages = nil
	for _, img := range images {
		if img != merged.ImageURL {
			merged.AlternateImages = append(merged.AlternateImages, img)
		}
	}

	fp, err := identity.Fingerprint(merged.Record())
	if err != nil {
		return types.StoredProduct{}, err
	}
	merged.Fingerprint = fp
	merged.FingerprintHash = identity.FingerprintHash(fp)
	merged.UpdatedAt = e.now()
	return merged, nil
}

// repointIndex redirects a retired member's collision index entry to the
// canonical record, so future scrapes of the retired spelling merge into the
// canonical instead of resurrecting the retiree.
func (e *Engine) repointIndex(ctx context.Context, rec types.ProductRecord, canonicalID string) error {
	hash, err := identity.CollisionHash(rec)
	if err != nil {
		return err
	}
	return storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		return e.kv.Put(ctx, identity.IndexKey(hash), []byte(canonicalID))
	})
}

func (e *Engine) save(ctx context.Context, p types.StoredProduct) error {
	return storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		return storage.SaveProduct(ctx, e.kv, p)
	})
}

// similarity scores two live records in [0,1]. The price gate runs first:
// when both records carry a price and the relative gap exceeds the tolerance,
// the pair scores zero without any name work. Otherwise the score combines
// name similarity (token overlap plus edit distance), price closeness, and
// category affinity. A missing price or category contributes a neutral 0.5
// rather than a penalty.
func (e *Engine) similarity(a, b *types.StoredProduct) float64 {
	price := priceCloseness(a.Price, b.Price, e.priceTolerance)
	if price < 0 {
		return 0
	}

	na, nb := normalizeName(a.Name), normalizeName(b.Name)
	if na == "" || nb == "" {
		return 0
	}
	name := nameWeightTokens*jaccard(tokenSet(na), tokenSet(nb)) +
		nameWeightLevenshtein*levenshteinRatio(na, nb)

	return weightName*name + weightPrice*price + weightCategory*categoryAffinity(a.Category, b.Category)
}

// priceCloseness maps the relative price gap into [0,1], returns -1 when the
// gap exceeds the tolerance, and 0.5 when either price is unknown.
func priceCloseness(a, b, tolerance float64) float64 {
	if a <= 0 || b <= 0 {
		return 0.5
	}
	gap := math.Abs(a-b) / math.Max(a, b)
	if gap > tolerance {
		return -1
	}
	return 1 - gap/tolerance
}

func categoryAffinity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.5
	}
	if normalizeName(a) == normalizeName(b) {
		return 1
	}
	return 0
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		seen := false
		for _, have := range dst {
			if have == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}
