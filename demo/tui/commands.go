package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// pollStatus creates a command to fetch the vault status
func pollStatus(client *VaultClient) tea.Cmd {
	return func() tea.Msg {
		status, err := client.GetStatus()
		return StatusUpdateMsg{
			Status: status,
			Err:    err,
		}
	}
}

// triggerBackup creates a command to run a daily backup
func triggerBackup(client *VaultClient) tea.Cmd {
	return func() tea.Msg {
		ref, err := client.RunDailyBackup()
		return BackupDoneMsg{Ref: ref, Err: err}
	}
}

// triggerDedup creates a command to run a deduplication pass
func triggerDedup(client *VaultClient) tea.Cmd {
	return func() tea.Msg {
		report, err := client.RunDeduplication()
		return DedupDoneMsg{Report: report, Err: err}
	}
}

// tickCmd creates a command that ticks every 2s for polling. Status reads
// the whole catalog, so the poll is deliberately slower than a UI tick.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}
