package tui

import (
	"time"

	"prodvault/types"
)

// Messages for the tea program (polling-based)

// StatusUpdateMsg is sent when we receive a status snapshot from the vault
type StatusUpdateMsg struct {
	Status *types.ProtectionStatus
	Err    error
}

// TickMsg is sent periodically to trigger polling
type TickMsg struct {
	Time time.Time
}

// BackupDoneMsg is sent when a triggered daily backup finishes
type BackupDoneMsg struct {
	Ref types.BackupRef
	Err error
}

// DedupDoneMsg is sent when a triggered deduplication pass finishes
type DedupDoneMsg struct {
	Report types.MergeReport
	Err    error
}
