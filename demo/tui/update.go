package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model interface
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case TickMsg:
		return m, tea.Batch(pollStatus(m.Client), tickCmd())
	case StatusUpdateMsg:
		return m.handleStatusUpdate(msg)
	case BackupDoneMsg:
		return m.handleBackupDone(msg)
	case DedupDoneMsg:
		return m.handleDedupDone(msg)
	}
	return m, nil
}

// handleKeyPress processes keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "r", "R":
		return m, pollStatus(m.Client)
	case "b", "B":
		if m.State == StateIdle && m.Connected {
			m.State = StateBackingUp
			m = m.AddLog("daily backup requested")
			return m, triggerBackup(m.Client)
		}
	case "d", "D":
		if m.State == StateIdle && m.Connected {
			m.State = StateDeduping
			m = m.AddLog("deduplication pass requested")
			return m, triggerDedup(m.Client)
		}
	}
	return m, nil
}

// handleStatusUpdate refreshes the mirrored vault status
func (m Model) handleStatusUpdate(msg StatusUpdateMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.Connected = false
		m.Err = msg.Err
		return m, nil
	}
	m.Connected = true
	m.Err = nil
	m.Status = msg.Status
	return m, nil
}

// handleBackupDone processes a finished backup
func (m Model) handleBackupDone(msg BackupDoneMsg) (tea.Model, tea.Cmd) {
	m.State = StateIdle
	if msg.Err != nil {
		m.Err = msg.Err
		m = m.AddLog(fmt.Sprintf("backup failed: %v", msg.Err))
		return m, nil
	}
	m.Err = nil
	m = m.AddLog(fmt.Sprintf("backup written: %s (%d products)", msg.Ref.Key, msg.Ref.TotalProducts))
	return m, pollStatus(m.Client)
}

// handleDedupDone processes a finished deduplication pass
func (m Model) handleDedupDone(msg DedupDoneMsg) (tea.Model, tea.Cmd) {
	m.State = StateIdle
	if msg.Err != nil {
		m.Err = msg.Err
		m = m.AddLog(fmt.Sprintf("dedup failed: %v", msg.Err))
		return m, nil
	}
	m.Err = nil
	m = m.AddLog(fmt.Sprintf("dedup merged %d/%d groups, %d records retired",
		msg.Report.Merged, msg.Report.Groups, msg.Report.Superseded))
	return m, pollStatus(m.Client)
}
