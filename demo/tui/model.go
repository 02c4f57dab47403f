package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"prodvault/types"
)

// State represents what the console is currently doing
type State string

const (
	StateIdle      State = "idle"
	StateBackingUp State = "backing_up"
	StateDeduping  State = "deduplicating"
)

const maxLogLines = 8

// Model represents the console state (thin client over the vault API)
type Model struct {
	// Vault client
	Client *VaultClient

	// Local UI state (synced from the vault)
	State  State
	Status *types.ProtectionStatus
	Logs   []string
	Err    error

	// Connection status
	Connected bool
}

// NewModel creates a new console model
func NewModel(vaultURL string) Model {
	return Model{
		Client:    NewVaultClient(vaultURL),
		State:     StateIdle,
		Logs:      make([]string, 0, maxLogLines),
		Connected: false,
	}
}

// Init implements tea.Model interface
func (m Model) Init() tea.Cmd {
	// Start polling immediately
	return tea.Batch(
		pollStatus(m.Client),
		tickCmd(),
	)
}

// AddLog appends a timestamped line, keeping the most recent entries
func (m Model) AddLog(msg string) Model {
	line := fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), msg)
	m.Logs = append(m.Logs, line)
	if len(m.Logs) > maxLogLines {
		m.Logs = m.Logs[len(m.Logs)-maxLogLines:]
	}
	return m
}

// getStateText returns the appropriate state message
func (m Model) getStateText() string {
	if !m.Connected {
		return ErrorStyle.Render("not connected to vault") + "\n" +
			InfoStyle.Render("is the API server running?")
	}

	switch m.State {
	case StateBackingUp:
		return StatusStyle.Render("writing daily backup...")
	case StateDeduping:
		return StatusStyle.Render("running deduplication pass...")
	default:
		if m.Err != nil {
			return ErrorStyle.Render(fmt.Sprintf("error: %v", m.Err))
		}
		return HighlightStyle.Render("vault connected")
	}
}
