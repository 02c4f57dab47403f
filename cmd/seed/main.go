// Command seed fills a running vault with sample scraped products, including
// near-duplicate listings, so backup and deduplication can be demonstrated
// against a non-empty catalog.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"prodvault/types"
)

var sampleProducts = []types.ProductRecord{
	{Name: "Fone Bluetooth TWS", Price: 73.90, Category: "Audio"},
	{Name: "Mouse Gamer RGB 7200dpi", Price: 120.50, Category: "Periféricos"},
	{Name: "Teclado Mecânico ABNT2", Price: 249.00, Category: "Periféricos"},
	{Name: "Smartwatch Fit Pro", Price: 399.90, Category: "Wearables"},
	{Name: "Cafeteira Elétrica 1.2L", Price: 189.90, Category: "Eletrodomésticos"},
	{Name: "Caixa de Som Portátil 20W", Price: 159.00, Category: "Audio"},
	{Name: "Webcam Full HD 1080p", Price: 99.90, Category: "Periféricos"},
	{Name: "Carregador Turbo USB-C 45W", Price: 59.90, Category: "Acessórios"},
}

// Name prefixes scrapers commonly attach to the same listing. These survive
// fingerprint matching as distinct records and are exactly what the
// deduplication pass is there to collapse.
var nameVariants = []string{"", "Novo ", "Original ", "Promoção "}

var stores = []string{"loja-a", "loja-b", "loja-c"}

func main() {
	_ = godotenv.Load()

	vaultURL := flag.String("url", getEnvOrDefault("VAULT_URL", "http://localhost:8080"), "Vault API URL")
	count := flag.Int("count", 24, "Number of records to send")
	flag.Parse()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	records := make([]types.ProductRecord, 0, *count)
	for i := 0; i < *count; i++ {
		base := sampleProducts[i%len(sampleProducts)]
		rec := base
		rec.Name = nameVariants[rng.Intn(len(nameVariants))] + base.Name
		rec.Store = stores[rng.Intn(len(stores))]
		rec.Source = "seed"
		// Small price drift between stores, within dedup tolerance.
		rec.Price = round2(base.Price * (0.95 + rng.Float64()*0.1))
		records = append(records, rec)
	}

	log.Printf("Sending %d records to %s", len(records), *vaultURL)
	report, err := sendBatch(*vaultURL, records)
	if err != nil {
		log.Fatalf("Batch upsert failed: %v", err)
	}

	log.Println("=== Seed Summary ===")
	log.Printf("Batch ID:  %s", report.BatchID)
	log.Printf("Total:     %d", report.Total)
	log.Printf("Inserted:  %d", report.Inserted)
	log.Printf("Updated:   %d", report.Updated)
	log.Printf("Invalid:   %d", report.Invalid)
	log.Printf("Failed:    %d", report.Failed)
	log.Println("====================")
	log.Println("Run a dedup pass (or press 'd' in the console) to collapse the variants.")
}

func sendBatch(vaultURL string, records []types.ProductRecord) (types.BatchReport, error) {
	payload, err := json.Marshal(map[string]any{"products": records})
	if err != nil {
		return types.BatchReport{}, err
	}

	resp, err := http.Post(vaultURL+"/api/products/batch", "application/json", bytes.NewReader(payload))
	if err != nil {
		return types.BatchReport{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return types.BatchReport{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var report types.BatchReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return types.BatchReport{}, err
	}
	return report, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
