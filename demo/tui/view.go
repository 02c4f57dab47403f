package tui

import (
	"fmt"
	"strings"
)

// View implements tea.Model interface
func (m Model) View() string {
	var b strings.Builder

	// Title
	b.WriteString(TitleStyle.Render("ProdVault Console"))
	b.WriteString("\n\n")

	// Current state
	b.WriteString(m.getStateText())
	b.WriteString("\n\n")

	// Vault status
	if m.Status != nil {
		b.WriteString(BoxStyle.Render(m.formatStatus()))
		b.WriteString("\n\n")
	}

	// Logs
	if len(m.Logs) > 0 {
		b.WriteString(InfoStyle.Render("Recent activity:"))
		b.WriteString("\n")
		for _, line := range m.Logs {
			b.WriteString(InfoStyle.Render("   " + line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	// Help text
	if m.State == StateIdle {
		b.WriteString(InfoStyle.Render(TextFooterIdle))
	} else {
		b.WriteString(InfoStyle.Render(TextFooterBusy))
	}

	return b.String()
}

// formatStatus formats the mirrored status for the box
func (m Model) formatStatus() string {
	s := m.Status
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Products:         %d (%d superseded)\n", s.TotalProducts, s.SupersededProducts))
	b.WriteString(fmt.Sprintf("Backups:          %d\n", s.TotalBackups))
	if s.LastBackupAt != nil {
		b.WriteString(fmt.Sprintf("Last backup:      %s\n", s.LastBackupAt.Local().Format("2006-01-02 15:04:05")))
	} else {
		b.WriteString("Last backup:      never\n")
	}
	b.WriteString(fmt.Sprintf("Duplicate groups: %d\n", s.PendingDuplicateGroups))
	b.WriteString(fmt.Sprintf("Backends:         %s / %s", s.KVBackend, s.BlobBackend))

	return b.String()
}
