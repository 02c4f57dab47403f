package types

import (
	"encoding/json"
	"time"
)

// Backup kinds.
const (
	BackupKindDaily     = "daily"
	BackupKindEmergency = "emergency"
	BackupKindVersion   = "version"
)

// Field change kinds recorded in version backups.
const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
	ChangeUpdated = "updated"
)

// Snapshot is the payload of a daily or emergency backup: the full catalog
// at a point in time. Products are kept as raw JSON entries so a single
// corrupt entry can be skipped on restore without losing the rest.
type Snapshot struct {
	Timestamp     time.Time          `json:"timestamp"`
	BackupType    string             `json:"backup_type"`
	Reason        string             `json:"reason,omitempty"`
	TotalProducts int                `json:"total_products"`
	Products      []json.RawMessage  `json:"products"`
	Statistics    *CatalogStatistics `json:"statistics,omitempty"`
}

// FieldChange describes one field difference between the previous and
// incoming state of a record, captured before a merge overwrites it.
type FieldChange struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
	Old   any    `json:"old,omitempty"`
	New   any    `json:"new,omitempty"`
}

// VersionBackup preserves the pre-merge state of a single record together
// with the incoming state and a classification of what changed.
type VersionBackup struct {
	StorageID string        `json:"storage_id"`
	SavedAt   time.Time     `json:"saved_at"`
	Previous  StoredProduct `json:"previous"`
	Incoming  StoredProduct `json:"incoming"`
	Changes   []FieldChange `json:"changes,omitempty"`
}

// BackupRef identifies a written backup without carrying its payload.
type BackupRef struct {
	Kind          string    `json:"kind"`
	Key           string    `json:"key"`
	CreatedAt     time.Time `json:"created_at"`
	TotalProducts int       `json:"total_products,omitempty"`
	SizeBytes     int64     `json:"size_bytes,omitempty"`
}

// BackupInfo summarizes everything currently held in the backup store.
type BackupInfo struct {
	TotalBackups   int         `json:"total_backups"`
	Daily          []BackupRef `json:"daily,omitempty"`
	Emergency      []BackupRef `json:"emergency,omitempty"`
	VersionBackups int         `json:"version_backups"`
	Latest         *BackupRef  `json:"latest,omitempty"`
}

// RestoreReport accounts for every entry of a restored snapshot.
type RestoreReport struct {
	BackupKey    string   `json:"backup_key"`
	Restored     int      `json:"restored"`
	SkippedNewer int      `json:"skipped_newer"`
	Corrupt      int      `json:"corrupt"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}
