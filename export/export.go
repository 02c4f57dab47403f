// Package export renders the stored catalog into the formats downstream
// consumers ask for: CSV for spreadsheets and diffing, JSON for other
// services, and XLSX workbooks for the people who live in Excel.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"prodvault/storage"
	"prodvault/types"
)

// Config carries the exporter's dependencies.
type Config struct {
	KV     storage.KVStore
	Logger *logrus.Logger
}

// Options selects what an export includes. The zero value exports only live
// records.
type Options struct {
	IncludeSuperseded bool
}

// Exporter renders catalog snapshots.
type Exporter struct {
	kv  storage.KVStore
	log *logrus.Logger
}

// NewExporter validates the configuration and builds an exporter.
func NewExporter(cfg Config) (*Exporter, error) {
	if cfg.KV == nil {
		return nil, fmt.Errorf("%w: exporter requires a KV store", types.ErrValidation)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(io.Discard)
	}
	return &Exporter{kv: cfg.KV, log: cfg.Logger}, nil
}

var csvHeader = []string{
	"storage_id", "name", "price", "store", "category", "url", "image_url",
	"description", "source", "created_at", "updated_at", "update_count", "superseded_by",
}

// WriteCSV writes the catalog as CSV and returns how many products it wrote.
// Rows are ordered by storage ID so repeated exports of the same catalog are
// byte-identical.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, opts Options) (int, error) {
	products, err := e.snapshot(ctx, opts)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range products {
		row := []string{
			p.StorageID,
			p.Name,
			decimal.NewFromFloat(p.Price).StringFixed(2),
			p.Store,
			p.Category,
			p.URL,
			p.ImageURL,
			p.Description,
			p.Source,
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.UpdatedAt.UTC().Format(time.RFC3339),
			fmt.Sprint(p.UpdateCount),
			p.SupersededBy,
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("write csv row %q: %w", p.StorageID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}

	e.log.WithField("products", len(products)).Info("csv export written")
	return len(products), nil
}

// jsonExport is the JSON document shape.
type jsonExport struct {
	ExportedAt    time.Time             `json:"exported_at"`
	TotalProducts int                   `json:"total_products"`
	Products      []types.StoredProduct `json:"products"`
}

// WriteJSON writes the catalog as a single JSON document.
func (e *Exporter) WriteJSON(ctx context.Context, w io.Writer, opts Options) (int, error) {
	products, err := e.snapshot(ctx, opts)
	if err != nil {
		return 0, err
	}

	doc := jsonExport{
		ExportedAt:    time.Now().UTC(),
		TotalProducts: len(products),
		Products:      products,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("encode json export: %w", err)
	}

	e.log.WithField("products", len(products)).Info("json export written")
	return len(products), nil
}

const (
	productsSheet   = "Products"
	categoriesSheet = "Categories"
)

// WriteXLSX writes an Excel workbook with a Products sheet and a Categories
// summary sheet.
func (e *Exporter) WriteXLSX(ctx context.Context, w io.Writer, opts Options) (int, error) {
	products, err := e.snapshot(ctx, opts)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", productsSheet); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("header style: %w", err)
	}

	col := 'A'
	for _, h := range csvHeader {
		f.SetCellValue(productsSheet, string(col)+"1", h)
		col++
	}
	if err := f.SetCellStyle(productsSheet, "A1", "M1", headerStyle); err != nil {
		return 0, fmt.Errorf("style header: %w", err)
	}
	if err := f.SetPanes(productsSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return 0, fmt.Errorf("freeze header: %w", err)
	}
	for i, p := range products {
		row := i + 2
		values := []any{
			p.StorageID, p.Name, p.Price, p.Store, p.Category, p.URL, p.ImageURL,
			p.Description, p.Source,
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.UpdatedAt.UTC().Format(time.RFC3339),
			p.UpdateCount, p.SupersededBy,
		}
		col = 'A'
		for _, v := range values {
			f.SetCellValue(productsSheet, string(col)+fmt.Sprint(row), v)
			col++
		}
	}

	if err := e.writeCategoriesSheet(f, headerStyle, products); err != nil {
		return 0, err
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}

	e.log.WithField("products", len(products)).Info("xlsx export written")
	return len(products), nil
}

// writeCategoriesSheet summarizes product count and price spread per
// category, sorted by category name.
func (e *Exporter) writeCategoriesSheet(f *excelize.File, headerStyle int, products []types.StoredProduct) error {
	if _, err := f.NewSheet(categoriesSheet); err != nil {
		return fmt.Errorf("add categories sheet: %w", err)
	}

	type catAgg struct {
		count    int
		sum      float64
		with     int
		min, max float64
	}
	byCat := make(map[string]*catAgg)
	for _, p := range products {
		cat := p.Category
		if cat == "" {
			cat = types.UncategorizedLabel
		}
		agg, ok := byCat[cat]
		if !ok {
			agg = &catAgg{}
			byCat[cat] = agg
		}
		agg.count++
		if p.Price > 0 {
			agg.sum += p.Price
			agg.with++
			if agg.with == 1 || p.Price < agg.min {
				agg.min = p.Price
			}
			if p.Price > agg.max {
				agg.max = p.Price
			}
		}
	}

	names := make([]string, 0, len(byCat))
	for name := range byCat {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, h := range []string{"category", "products", "avg_price", "min_price", "max_price"} {
		f.SetCellValue(categoriesSheet, string(rune('A'+i))+"1", h)
	}
	if err := f.SetCellStyle(categoriesSheet, "A1", "E1", headerStyle); err != nil {
		return fmt.Errorf("style categories header: %w", err)
	}
	for i, name := range names {
		row := fmt.Sprint(i + 2)
		agg := byCat[name]
		avg := 0.0
		if agg.with > 0 {
			avg = agg.sum / float64(agg.with)
		}
		f.SetCellValue(categoriesSheet, "A"+row, name)
		f.SetCellValue(categoriesSheet, "B"+row, agg.count)
		f.SetCellValue(categoriesSheet, "C"+row, avg)
		f.SetCellValue(categoriesSheet, "D"+row, agg.min)
		f.SetCellValue(categoriesSheet, "E"+row, agg.max)
	}
	return nil
}

// snapshot loads and orders the catalog for export.
func (e *Exporter) snapshot(ctx context.Context, opts Options) ([]types.StoredProduct, error) {
	var products []types.StoredProduct
	err := storage.Retry(ctx, storage.DefaultRetryAttempts, storage.DefaultRetryBase, func() error {
		var lerr error
		products, lerr = storage.LoadProducts(ctx, e.kv)
		return lerr
	})
	if err != nil {
		return nil, err
	}

	kept := products[:0]
	for _, p := range products {
		if opts.IncludeSuperseded || p.Live() {
			kept = append(kept, p)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].StorageID < kept[j].StorageID })
	return kept, nil
}
