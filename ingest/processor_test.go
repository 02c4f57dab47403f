package ingest

import (
	"context"
	"errors"
	"testing"

	"prodvault/guard"
	"prodvault/storage"
	"prodvault/types"
)

func testProcessor(t *testing.T, cfg ProcessorConfig) (*Processor, *storage.MemoryKV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	g, err := guard.New(guard.Config{KV: kv})
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	cfg.Guard = g
	p, err := NewProcessor(cfg)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p, kv
}

func scraped(name string, price float64, store string) types.ProductRecord {
	return types.ProductRecord{Name: name, Price: price, Store: store, Source: "b2drop"}
}

func TestNewProcessorRequiresGuard(t *testing.T) {
	if _, err := NewProcessor(ProcessorConfig{}); err == nil {
		t.Fatal("NewProcessor without a guard should fail")
	}
}

func TestProcessRecordValidation(t *testing.T) {
	p, _ := testProcessor(t, ProcessorConfig{})
	ctx := context.Background()

	cases := []struct {
		name string
		rec  types.ProductRecord
	}{
		{"missing name", scraped("", 10, "loja-a")},
		{"missing store", scraped("Caneca Térmica", 10, "")},
		{"negative price", scraped("Caneca Térmica", -1, "loja-a")},
		{"malformed url", func() types.ProductRecord {
			r := scraped("Caneca Térmica", 10, "loja-a")
			r.URL = "not-a-url"
			return r
		}()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := p.ProcessRecord(ctx, c.rec)
			if !errors.Is(err, types.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}

	res, err := p.ProcessRecord(ctx, scraped("Caneca Térmica", 10, "loja-a"))
	if err != nil {
		t.Fatalf("valid record: %v", err)
	}
	if res.Outcome != types.OutcomeNew || res.StorageID == "" {
		t.Fatalf("result = %+v, want a fresh insert", res)
	}
}

func TestProcessBatchCounts(t *testing.T) {
	p, kv := testProcessor(t, ProcessorConfig{Workers: 4})

	records := []types.ProductRecord{
		scraped("Fone De Ouvido On-ear", 73, "b2drop"),
		scraped("Mouse Vertical Sem Fio", 120, "b2drop"),
		scraped("Fone De Ouvido On-ear", 70, "b2drop"), // same identity, new price
		scraped("", 10, "b2drop"),
		scraped("Teclado Compacto", -5, "b2drop"),
	}

	report, err := p.ProcessBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if report.Total != 5 {
		t.Fatalf("total = %d, want 5", report.Total)
	}
	if report.Inserted != 2 || report.Updated != 1 {
		t.Fatalf("inserted/updated = %d/%d, want 2/1", report.Inserted, report.Updated)
	}
	if report.Invalid != 2 || report.Failed != 0 {
		t.Fatalf("invalid/failed = %d/%d, want 2/0", report.Invalid, report.Failed)
	}
	if len(report.BatchID) != 8 {
		t.Fatalf("batch id = %q, want 8 chars", report.BatchID)
	}

	gotIdx := map[int]bool{}
	for _, be := range report.Errors {
		gotIdx[be.Index] = true
	}
	if len(report.Errors) != 2 || !gotIdx[3] || !gotIdx[4] {
		t.Fatalf("errors = %+v, want entries for records 3 and 4", report.Errors)
	}

	if rate := report.SuccessRate(); rate < 0.59 || rate > 0.61 {
		t.Fatalf("success rate = %v, want 0.6", rate)
	}

	products, err := storage.LoadProducts(context.Background(), kv)
	if err != nil {
		t.Fatalf("LoadProducts: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("stored %d products, want 2", len(products))
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	p, _ := testProcessor(t, ProcessorConfig{})
	report, err := p.ProcessBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if report.Total != 0 || report.SuccessRate() != 0 {
		t.Fatalf("empty batch report = %+v", report)
	}
}

func TestProcessBatchWithRateLimit(t *testing.T) {
	p, _ := testProcessor(t, ProcessorConfig{Workers: 2, RatePerSecond: 1000, Burst: 2})

	records := []types.ProductRecord{
		scraped("Produto A", 10, "loja-a"),
		scraped("Produto B", 20, "loja-a"),
		scraped("Produto C", 30, "loja-a"),
		scraped("Produto D", 40, "loja-a"),
	}
	report, err := p.ProcessBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if report.Inserted != 4 {
		t.Fatalf("inserted = %d, want 4", report.Inserted)
	}
}

func TestProcessBatchHonorsCancellation(t *testing.T) {
	p, _ := testProcessor(t, ProcessorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.ProcessBatch(ctx, []types.ProductRecord{
		scraped("Produto A", 10, "loja-a"),
		scraped("Produto B", 20, "loja-a"),
	})
	if err == nil {
		t.Fatal("canceled batch should return an error")
	}
	if report.Inserted+report.Updated != 0 {
		t.Fatalf("canceled batch stored records: %+v", report)
	}
}
