package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"prodvault/identity"
	"prodvault/storage"
	"prodvault/types"
)

func testExporter(t *testing.T) (*Exporter, *storage.MemoryKV) {
	t.Helper()
	kv := storage.NewMemoryKV()
	e, err := NewExporter(Config{KV: kv})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	return e, kv
}

func seedExport(t *testing.T, kv *storage.MemoryKV, p types.StoredProduct) types.StoredProduct {
	t.Helper()
	if p.Source == "" {
		p.Source = "test"
	}
	fp, err := identity.Fingerprint(p.Record())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	p.Fingerprint = fp
	p.FingerprintHash = identity.FingerprintHash(fp)
	if err := storage.SaveProduct(context.Background(), kv, p); err != nil {
		t.Fatalf("seed %q: %v", p.StorageID, err)
	}
	return p
}

func seedCatalog(t *testing.T, kv *storage.MemoryKV) (live1, live2, retired types.StoredProduct) {
	base := time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)
	live1 = seedExport(t, kv, types.StoredProduct{
		StorageID: "test_aaa_000001", Name: "Fone De Ouvido On-ear", Price: 73,
		Store: "b2drop", Category: "Audio", CreatedAt: base, UpdatedAt: base, UpdateCount: 1,
	})
	live2 = seedExport(t, kv, types.StoredProduct{
		StorageID: "test_bbb_000002", Name: "Mouse Vertical Sem Fio", Price: 120.5,
		Store: "b2drop", CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour),
	})
	retired = seedExport(t, kv, types.StoredProduct{
		StorageID: "test_ccc_000003", Name: "Fone De Ouvido On Ear", Price: 75,
		Store: "loja-b", Category: "Audio", CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base.Add(2 * time.Hour),
		SupersededBy: live1.StorageID,
	})
	return live1, live2, retired
}

func TestWriteCSV(t *testing.T) {
	e, kv := testExporter(t)
	live1, _, _ := seedCatalog(t, kv)
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := e.WriteCSV(ctx, &buf, Options{})
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if n != 2 {
		t.Fatalf("wrote %d products, want 2 live", n)
	}

	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header plus 2", len(rows))
	}
	for i, h := range csvHeader {
		if rows[0][i] != h {
			t.Fatalf("header[%d] = %q, want %q", i, rows[0][i], h)
		}
	}
	if rows[1][0] != live1.StorageID || rows[1][2] != "73.00" {
		t.Fatalf("first row = %v", rows[1])
	}
	for _, row := range rows[1:] {
		if row[12] != "" {
			t.Fatalf("live export contains superseded row: %v", row)
		}
	}

	// Same catalog, same bytes.
	var again bytes.Buffer
	if _, err := e.WriteCSV(ctx, &again, Options{}); err != nil {
		t.Fatalf("second WriteCSV: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), again.Bytes()) {
		t.Fatal("csv export is not deterministic")
	}
}

func TestWriteCSVIncludeSuperseded(t *testing.T) {
	e, kv := testExporter(t)
	live1, _, retired := seedCatalog(t, kv)

	var buf bytes.Buffer
	n, err := e.WriteCSV(context.Background(), &buf, Options{IncludeSuperseded: true})
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if n != 3 {
		t.Fatalf("wrote %d products, want 3", n)
	}

	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	last := rows[len(rows)-1]
	if last[0] != retired.StorageID || last[12] != live1.StorageID {
		t.Fatalf("superseded row = %v", last)
	}
}

func TestWriteJSON(t *testing.T) {
	e, kv := testExporter(t)
	live1, live2, _ := seedCatalog(t, kv)

	var buf bytes.Buffer
	n, err := e.WriteJSON(context.Background(), &buf, Options{})
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if n != 2 {
		t.Fatalf("wrote %d products, want 2", n)
	}

	var doc struct {
		TotalProducts int                   `json:"total_products"`
		Products      []types.StoredProduct `json:"products"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if doc.TotalProducts != 2 || len(doc.Products) != 2 {
		t.Fatalf("document = %+v", doc)
	}
	if doc.Products[0].StorageID != live1.StorageID || doc.Products[1].StorageID != live2.StorageID {
		t.Fatalf("products out of order: %s, %s", doc.Products[0].StorageID, doc.Products[1].StorageID)
	}
}

func TestWriteXLSX(t *testing.T) {
	e, kv := testExporter(t)
	live1, _, _ := seedCatalog(t, kv)

	var buf bytes.Buffer
	n, err := e.WriteXLSX(context.Background(), &buf, Options{})
	if err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	if n != 2 {
		t.Fatalf("wrote %d products, want 2", n)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(productsSheet)
	if err != nil {
		t.Fatalf("read products sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("products sheet has %d rows, want 3", len(rows))
	}
	if rows[0][0] != "storage_id" || rows[1][0] != live1.StorageID {
		t.Fatalf("unexpected products rows: %v", rows[:2])
	}
	if rows[1][2] != "73" {
		t.Fatalf("price cell = %q, want 73", rows[1][2])
	}

	cats, err := f.GetRows(categoriesSheet)
	if err != nil {
		t.Fatalf("read categories sheet: %v", err)
	}
	if len(cats) != 3 {
		t.Fatalf("categories sheet has %d rows, want 3", len(cats))
	}
	if cats[0][3] != "min_price" || cats[0][4] != "max_price" {
		t.Fatalf("categories header = %v", cats[0])
	}
	if cats[1][0] != "Audio" || cats[1][1] != "1" {
		t.Fatalf("category row = %v", cats[1])
	}
	if cats[1][3] != "73" || cats[1][4] != "73" {
		t.Fatalf("audio price spread = %v", cats[1])
	}
	if cats[2][0] != types.UncategorizedLabel || cats[2][1] != "1" {
		t.Fatalf("uncategorized row = %v", cats[2])
	}
}
