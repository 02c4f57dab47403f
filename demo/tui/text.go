package tui

// UI Text Constants
const (
	// Footer
	TextFooterIdle = "Press 'b' for daily backup | 'd' for dedup pass | 'r' to refresh | 'q' to quit"
	TextFooterBusy = "Working... | Press 'q' to quit"
)
