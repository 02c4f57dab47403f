package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"prodvault/identity"
	"prodvault/storage"
	"prodvault/types"
)

func testGuard(t *testing.T, cfg Config) (*Guard, *storage.MemoryKV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	cfg.KV = kv
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return g, kv
}

func foneRecord(price float64) types.ProductRecord {
	return types.ProductRecord{
		Name:   "Fone De Ouvido On-ear",
		Price:  price,
		Store:  "B2Drop",
		URL:    "https://b2drop.test/fone-on-ear",
		Source: "b2drop",
	}
}

func TestUpsertInsertThenRepeatThenPriceChange(t *testing.T) {
	ctx := context.Background()
	g, kv := testGuard(t, Config{})

	first, err := g.Upsert(ctx, foneRecord(73.0))
	if err != nil {
		t.Fatalf("first upsert error: %v", err)
	}
	if first.Outcome != types.OutcomeNew || first.UpdateCount != 0 {
		t.Fatalf("first upsert = %+v; want new with count 0", first)
	}
	if !strings.HasPrefix(first.StorageID, "b2drop_") {
		t.Fatalf("StorageID %q should carry the source prefix", first.StorageID)
	}

	created, err := storage.LoadProduct(ctx, kv, first.StorageID)
	if err != nil {
		t.Fatalf("LoadProduct error: %v", err)
	}

	second, err := g.Upsert(ctx, foneRecord(73.0))
	if err != nil {
		t.Fatalf("second upsert error: %v", err)
	}
	if second.Outcome != types.OutcomeUpdate || second.UpdateCount != 1 {
		t.Fatalf("second upsert = %+v; want update with count 1", second)
	}
	if second.StorageID != first.StorageID {
		t.Fatalf("repeat upsert moved StorageID: %q -> %q", first.StorageID, second.StorageID)
	}

	third, err := g.Upsert(ctx, foneRecord(70.0))
	if err != nil {
		t.Fatalf("third upsert error: %v", err)
	}
	if third.Outcome != types.OutcomeUpdate || third.UpdateCount != 2 {
		t.Fatalf("price-change upsert = %+v; want update with count 2", third)
	}
	if third.StorageID != first.StorageID {
		t.Fatalf("price change forked a new record: %q -> %q", first.StorageID, third.StorageID)
	}

	final, err := storage.LoadProduct(ctx, kv, first.StorageID)
	if err != nil {
		t.Fatalf("LoadProduct error: %v", err)
	}
	if final.Price != 70.0 {
		t.Fatalf("price = %v; want 70.0", final.Price)
	}
	if !final.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at changed: %v -> %v", created.CreatedAt, final.CreatedAt)
	}
	if final.UpdateCount != 2 {
		t.Fatalf("update_count = %d; want 2", final.UpdateCount)
	}

	products, err := storage.LoadProducts(ctx, kv)
	if err != nil {
		t.Fatalf("LoadProducts error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("stored products = %d; want exactly 1", len(products))
	}
}

func TestUpsertNameCaseAndWhitespaceCollapse(t *testing.T) {
	ctx := context.Background()
	g, kv := testGuard(t, Config{})

	a := types.ProductRecord{Name: "Fone A", Price: 10, Store: "Loja", Source: "s1"}
	b := types.ProductRecord{Name: "  fone   a ", Price: 10, Store: " loja ", Source: "s1"}

	if _, err := g.Upsert(ctx, a); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	res, err := g.Upsert(ctx, b)
	if err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	if res.Outcome != types.OutcomeUpdate {
		t.Fatalf("variant spelling created a second record: %+v", res)
	}

	products, _ := storage.LoadProducts(ctx, kv)
	if len(products) != 1 {
		t.Fatalf("stored products = %d; want 1", len(products))
	}
}

func TestUpsertMergeNonDestructive(t *testing.T) {
	ctx := context.Background()
	g, kv := testGuard(t, Config{})

	full := foneRecord(73.0)
	full.Description = "Headphone on-ear com microfone"
	full.ImageURL = "https://b2drop.test/img/fone-1.jpg"
	full.Category = "Audio"

	res, err := g.Upsert(ctx, full)
	if err != nil {
		t.Fatalf("upsert error: %v", err)
	}

	sparse := foneRecord(73.0)
	sparse.ImageURL = "https://b2drop.test/img/fone-2.jpg"

	if _, err := g.Upsert(ctx, sparse); err != nil {
		t.Fatalf("sparse upsert error: %v", err)
	}

	stored, err := storage.LoadProduct(ctx, kv, res.StorageID)
	if err != nil {
		t.Fatalf("LoadProduct error: %v", err)
	}
	if stored.Description != "Headphone on-ear com microfone" {
		t.Fatalf("empty incoming description erased stored value: %q", stored.Description)
	}
	if stored.Category != "Audio" {
		t.Fatalf("empty incoming category erased stored value: %q", stored.Category)
	}
	if stored.ImageURL != "https://b2drop.test/img/fone-2.jpg" {
		t.Fatalf("image url = %q; want replacement", stored.ImageURL)
	}
	if len(stored.AlternateImages) != 1 || stored.AlternateImages[0] != "https://b2drop.test/img/fone-1.jpg" {
		t.Fatalf("replaced image should spill to alternates, got %v", stored.AlternateImages)
	}
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	g, _ := testGuard(t, Config{})

	cases := []types.ProductRecord{
		{Name: "", Price: 1, Store: "Loja"},
		{Name: "Produto", Price: 1, Store: "   "},
	}
	for _, rec := range cases {
		if _, err := g.Upsert(ctx, rec); !errors.Is(err, types.ErrValidation) {
			t.Fatalf("Upsert(%+v) error = %v; want ErrValidation", rec, err)
		}
	}
}

func TestUpsertConcurrentSingleInsert(t *testing.T) {
	ctx := context.Background()
	g, kv := testGuard(t, Config{MaxAttempts: 10})

	const workers = 6
	var wg sync.WaitGroup
	outcomes := make(chan types.UpsertOutcome, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := foneRecord(73.0)
			rec.Description = fmt.Sprintf("variant %d", n)
			res, err := g.Upsert(ctx, rec)
			if err != nil {
				t.Errorf("concurrent upsert error: %v", err)
				return
			}
			outcomes <- res.Outcome
		}(i)
	}
	wg.Wait()
	close(outcomes)

	var newCount, updateCount int
	for o := range outcomes {
		switch o {
		case types.OutcomeNew:
			newCount++
		case types.OutcomeUpdate:
			updateCount++
		}
	}
	if newCount != 1 {
		t.Fatalf("inserted outcomes = %d; want exactly 1 (updates: %d)", newCount, updateCount)
	}

	products, err := storage.LoadProducts(ctx, kv)
	if err != nil {
		t.Fatalf("LoadProducts error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("stored products = %d; want 1", len(products))
	}
	if products[0].UpdateCount != updateCount {
		t.Fatalf("update_count = %d; want %d serialized merges", products[0].UpdateCount, updateCount)
	}
}

func TestUpsertVersionBackupHook(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var calls []types.VersionBackup
	hook := func(ctx context.Context, previous, incoming types.StoredProduct) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, types.VersionBackup{Previous: previous, Incoming: incoming})
		return nil
	}

	g, _ := testGuard(t, Config{OnVersionBackup: hook})

	if _, err := g.Upsert(ctx, foneRecord(73.0)); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("version backup ran on insert; want update-only")
	}

	if _, err := g.Upsert(ctx, foneRecord(70.0)); err != nil {
		t.Fatalf("update error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("version backup calls = %d; want 1", len(calls))
	}
	if calls[0].Previous.Price != 73.0 || calls[0].Incoming.Price != 70.0 {
		t.Fatalf("backup captured wrong states: prev %v incoming %v",
			calls[0].Previous.Price, calls[0].Incoming.Price)
	}
}

func TestUpsertAbortsWhenVersionBackupFails(t *testing.T) {
	ctx := context.Background()
	hookErr := fmt.Errorf("%w: blob store down", types.ErrBackupFailure)
	hook := func(ctx context.Context, previous, incoming types.StoredProduct) error {
		return hookErr
	}

	g, kv := testGuard(t, Config{OnVersionBackup: hook})

	res, err := g.Upsert(ctx, foneRecord(73.0))
	if err != nil {
		t.Fatalf("insert error: %v", err)
	}

	if _, err := g.Upsert(ctx, foneRecord(70.0)); !errors.Is(err, types.ErrBackupFailure) {
		t.Fatalf("update error = %v; want ErrBackupFailure", err)
	}

	stored, err := storage.LoadProduct(ctx, kv, res.StorageID)
	if err != nil {
		t.Fatalf("LoadProduct error: %v", err)
	}
	if stored.Price != 73.0 || stored.UpdateCount != 0 {
		t.Fatalf("aborted merge mutated the record: %+v", stored)
	}
}

func TestUpsertRepairsDanglingIndex(t *testing.T) {
	ctx := context.Background()
	g, kv := testGuard(t, Config{})

	rec := foneRecord(73.0)
	collHash, err := identity.CollisionHash(rec)
	if err != nil {
		t.Fatalf("CollisionHash error: %v", err)
	}
	// Simulate an insert that claimed the index but never wrote the record.
	orphanID := "b2drop_deadbeefdeadbeef_000001"
	if err := kv.Put(ctx, identity.IndexKey(collHash), []byte(orphanID)); err != nil {
		t.Fatalf("seed index error: %v", err)
	}

	res, err := g.Upsert(ctx, rec)
	if err != nil {
		t.Fatalf("upsert error: %v", err)
	}
	if res.Outcome != types.OutcomeNew || res.StorageID != orphanID {
		t.Fatalf("repair result = %+v; want new under %q", res, orphanID)
	}
	if _, err := storage.LoadProduct(ctx, kv, orphanID); err != nil {
		t.Fatalf("record missing after repair: %v", err)
	}
}

type brokenKV struct {
	*storage.MemoryKV
	mu    sync.Mutex
	fails int
}

func (b *brokenKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fails > 0 {
		b.fails--
		return nil, false, fmt.Errorf("%w: injected fault", types.ErrStorage)
	}
	return b.MemoryKV.Get(ctx, key)
}

func TestUpsertRetriesTransientStorageFaults(t *testing.T) {
	ctx := context.Background()
	kv := &brokenKV{MemoryKV: storage.NewMemoryKV(), fails: 2}

	g, err := New(Config{KV: kv, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	res, upErr := g.Upsert(ctx, foneRecord(73.0))
	if upErr != nil {
		t.Fatalf("upsert should survive two transient faults, got %v", upErr)
	}
	if res.Outcome != types.OutcomeNew {
		t.Fatalf("outcome = %v; want new", res.Outcome)
	}
}

func TestUpsertSurfacesStorageErrorAfterBudget(t *testing.T) {
	ctx := context.Background()
	kv := &brokenKV{MemoryKV: storage.NewMemoryKV(), fails: 1000}

	g, err := New(Config{KV: kv, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := g.Upsert(ctx, foneRecord(73.0)); !errors.Is(err, types.ErrStorage) {
		t.Fatalf("error = %v; want ErrStorage", err)
	}
}
