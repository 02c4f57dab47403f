package protection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"prodvault/storage"
	"prodvault/types"
)

// brokenBlob refuses every write so backup creation fails.
type brokenBlob struct {
	*storage.MemoryBlob
}

func (b *brokenBlob) Put(ctx context.Context, key string, data []byte) error {
	return fmt.Errorf("%w: blob put %q: bucket unavailable", types.ErrStorage, key)
}

func testProtector(t *testing.T, cfg Config) *Protector {
	t.Helper()
	if cfg.KV == nil {
		cfg.KV = storage.NewMemoryKV()
	}
	if cfg.Blobs == nil {
		cfg.Blobs = storage.NewMemoryBlob()
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func record(name string, price float64, store string) types.ProductRecord {
	return types.ProductRecord{Name: name, Price: price, Store: store, Source: "b2drop", Category: "Eletrônicos"}
}

func TestNewRequiresStores(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without stores should fail")
	}
	if _, err := New(Config{KV: storage.NewMemoryKV()}); err == nil {
		t.Fatal("New without a blob store should fail")
	}
}

func TestUpsertGetList(t *testing.T) {
	p := testProtector(t, Config{})
	ctx := context.Background()

	res, err := p.Upsert(ctx, record("Fone De Ouvido On-ear", 73, "b2drop"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res.Outcome != types.OutcomeNew {
		t.Fatalf("first upsert outcome = %v", res.Outcome)
	}

	res2, err := p.Upsert(ctx, record("Fone De Ouvido On-ear", 70, "b2drop"))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res2.Outcome != types.OutcomeUpdate || res2.StorageID != res.StorageID {
		t.Fatalf("second upsert = %+v, want update of %s", res2, res.StorageID)
	}

	got, err := p.Get(ctx, res.StorageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Price != 70 || got.UpdateCount != 1 {
		t.Fatalf("stored product = %+v", got)
	}

	if _, err := p.Get(ctx, "missing_id"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}

	list, err := p.List(ctx, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list length = %d, want 1", len(list))
	}

	// A version backup was taken for the merge write.
	info, err := p.BackupInfo(ctx)
	if err != nil {
		t.Fatalf("BackupInfo: %v", err)
	}
	if info.VersionBackups != 1 {
		t.Fatalf("version backups = %d, want 1", info.VersionBackups)
	}
}

func TestRunDeduplicationMergesAndBacksUp(t *testing.T) {
	p := testProtector(t, Config{})
	ctx := context.Background()

	if _, err := p.Upsert(ctx, record("Smartwatch Fit Pro", 400, "loja-a")); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if _, err := p.Upsert(ctx, record("Smartwatch Fit Pro", 410, "loja-b")); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	report, err := p.RunDeduplication(ctx, 0)
	if err != nil {
		t.Fatalf("RunDeduplication: %v", err)
	}
	if report.Groups != 1 || report.Merged != 1 || report.Superseded != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Backup == nil || report.Backup.Kind != types.BackupKindEmergency {
		t.Fatalf("report backup = %+v, want emergency ref", report.Backup)
	}
	if !strings.Contains(report.Backup.Key, "pre-dedup") {
		t.Fatalf("backup key = %q, want pre-dedup tag", report.Backup.Key)
	}

	live, err := p.List(ctx, false)
	if err != nil {
		t.Fatalf("List live: %v", err)
	}
	all, err := p.List(ctx, true)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(live) != 1 || len(all) != 2 {
		t.Fatalf("live/all = %d/%d, want 1/2", len(live), len(all))
	}

	// The pre-dedup snapshot can roll the merge back.
	restore, err := p.Restore(ctx, report.Backup.Key, true)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restore.Restored != 2 {
		t.Fatalf("restored = %d, want 2", restore.Restored)
	}
	live, err = p.List(ctx, false)
	if err != nil {
		t.Fatalf("List after restore: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("live after restore = %d, want 2", len(live))
	}
}

func TestRunDeduplicationAbortsWhenBackupFails(t *testing.T) {
	kv := storage.NewMemoryKV()
	p := testProtector(t, Config{KV: kv, Blobs: &brokenBlob{storage.NewMemoryBlob()}})
	ctx := context.Background()

	if _, err := p.Upsert(ctx, record("Smartwatch Fit Pro", 400, "loja-a")); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if _, err := p.Upsert(ctx, record("Smartwatch Fit Pro", 410, "loja-b")); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	_, err := p.RunDeduplication(ctx, 0)
	if !errors.Is(err, types.ErrBackupFailure) {
		t.Fatalf("err = %v, want ErrBackupFailure", err)
	}

	// Nothing was merged.
	live, lerr := p.List(ctx, false)
	if lerr != nil {
		t.Fatalf("List: %v", lerr)
	}
	if len(live) != 2 {
		t.Fatalf("live = %d, want 2 untouched records", len(live))
	}
	for _, prod := range live {
		if prod.SupersededBy != "" {
			t.Fatalf("record %q was merged despite backup failure", prod.StorageID)
		}
	}
}

func TestRestoreGatedOnEmergencyBackup(t *testing.T) {
	p := testProtector(t, Config{Blobs: &brokenBlob{storage.NewMemoryBlob()}})

	_, err := p.Restore(context.Background(), "backups/daily/products_backup_2025-07-14.json", false)
	if !errors.Is(err, types.ErrBackupFailure) {
		t.Fatalf("err = %v, want ErrBackupFailure", err)
	}
}

func TestMaintenanceLockExcludes(t *testing.T) {
	p := testProtector(t, Config{})

	p.runMu.Lock()
	_, derr := p.RunDeduplication(context.Background(), 0)
	_, rerr := p.Restore(context.Background(), "backups/daily/products_backup_2025-07-14.json", false)
	p.runMu.Unlock()

	if !errors.Is(derr, ErrAlreadyRunning) {
		t.Fatalf("dedup err = %v, want ErrAlreadyRunning", derr)
	}
	if !errors.Is(rerr, ErrAlreadyRunning) {
		t.Fatalf("restore err = %v, want ErrAlreadyRunning", rerr)
	}
}

func TestStatusAndStatistics(t *testing.T) {
	p := testProtector(t, Config{KVBackendName: "redis", BlobBackendName: "s3"})
	ctx := context.Background()

	if _, err := p.Upsert(ctx, record("Smartwatch Fit Pro", 400, "loja-a")); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if _, err := p.Upsert(ctx, record("Smartwatch Fit Pro", 410, "loja-b")); err != nil {
		t.Fatalf("seed b: %v", err)
	}
	if _, err := p.Upsert(ctx, record("Cadeira Gamer Reclinável", 900, "loja-a")); err != nil {
		t.Fatalf("seed c: %v", err)
	}

	status, err := p.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.TotalProducts != 3 || status.SupersededProducts != 0 {
		t.Fatalf("status = %+v", status)
	}
	if status.PendingDuplicateGroups != 1 {
		t.Fatalf("pending groups = %d, want 1", status.PendingDuplicateGroups)
	}
	if status.KVBackend != "redis" || status.BlobBackend != "s3" {
		t.Fatalf("backend names = %q/%q", status.KVBackend, status.BlobBackend)
	}

	if _, err := p.RunDeduplication(ctx, 0); err != nil {
		t.Fatalf("RunDeduplication: %v", err)
	}

	status, err = p.Status(ctx)
	if err != nil {
		t.Fatalf("Status after dedup: %v", err)
	}
	if status.TotalProducts != 3 || status.SupersededProducts != 1 {
		t.Fatalf("status after dedup = %+v", status)
	}
	if status.PendingDuplicateGroups != 0 {
		t.Fatalf("pending groups after dedup = %d, want 0", status.PendingDuplicateGroups)
	}
	if status.TotalBackups == 0 || status.LastBackupKey == "" || status.LastBackupAt == nil {
		t.Fatalf("backup fields missing: %+v", status)
	}

	stats, err := p.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalProducts != 2 {
		t.Fatalf("stats total = %d, want 2 live", stats.TotalProducts)
	}
	if stats.PriceMin != 400 && stats.PriceMin != 410 {
		t.Fatalf("price min = %v", stats.PriceMin)
	}
	if stats.PriceMax != 900 {
		t.Fatalf("price max = %v", stats.PriceMax)
	}
	if stats.ByCategory["Eletrônicos"] != 2 {
		t.Fatalf("by category = %v", stats.ByCategory)
	}
}
