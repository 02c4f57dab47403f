package types

import "time"

// UpsertOutcome distinguishes a first-time insert from a merge into an
// existing record.
type UpsertOutcome string

const (
	OutcomeNew    UpsertOutcome = "new"
	OutcomeUpdate UpsertOutcome = "update"
)

// UpsertResult reports what a single upsert did.
type UpsertResult struct {
	StorageID   string        `json:"storage_id"`
	Outcome     UpsertOutcome `json:"outcome"`
	UpdateCount int           `json:"update_count"`
	Attempts    int           `json:"attempts"`
}

// BatchError records one failed record of a batch, by input position.
type BatchError struct {
	Index     int    `json:"index"`
	StorageID string `json:"storage_id,omitempty"`
	Error     string `json:"error"`
}

// BatchReport summarizes a batch ingestion run.
type BatchReport struct {
	BatchID    string       `json:"batch_id"`
	Total      int          `json:"total"`
	Inserted   int          `json:"inserted"`
	Updated    int          `json:"updated"`
	Invalid    int          `json:"invalid"`
	Failed     int          `json:"failed"`
	Errors     []BatchError `json:"errors,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// SuccessRate returns the fraction of records that were stored, in [0,1].
func (r *BatchReport) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Inserted+r.Updated) / float64(r.Total)
}

// DuplicateGroup is a set of live records judged to be the same product.
// The canonical member absorbs the rest on merge.
type DuplicateGroup struct {
	CanonicalID string   `json:"canonical_id"`
	MemberIDs   []string `json:"member_ids"`
	Score       float64  `json:"score"`
}

// MergeReport summarizes a deduplication pass.
type MergeReport struct {
	Groups     int        `json:"groups"`
	Merged     int        `json:"merged"`
	Superseded int        `json:"superseded"`
	Backup     *BackupRef `json:"backup,omitempty"`
}

// ProtectionStatus is the operational health summary of the subsystem.
type ProtectionStatus struct {
	TotalProducts          int        `json:"total_products"`
	SupersededProducts     int        `json:"superseded_products"`
	TotalBackups           int        `json:"total_backups"`
	LastBackupAt           *time.Time `json:"last_backup_at,omitempty"`
	LastBackupKey          string     `json:"last_backup_key,omitempty"`
	PendingDuplicateGroups int        `json:"pending_duplicate_groups"`
	KVBackend              string     `json:"kv_backend"`
	BlobBackend            string     `json:"blob_backend"`
}

// CatalogStatistics aggregates the live catalog for reporting and for
// embedding into snapshots.
type CatalogStatistics struct {
	TotalProducts int            `json:"total_products"`
	ByCategory    map[string]int `json:"by_category,omitempty"`
	PriceMin      float64        `json:"price_min"`
	PriceMax      float64        `json:"price_max"`
	PriceAvg      float64        `json:"price_avg"`
	LastUpdated   *time.Time     `json:"last_updated,omitempty"`
}
