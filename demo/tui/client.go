package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"prodvault/types"
)

// VaultClient is a thin HTTP client for the vault API
type VaultClient struct {
	baseURL string
	client  *http.Client
}

// NewVaultClient creates a new vault client
func NewVaultClient(baseURL string) *VaultClient {
	return &VaultClient{
		baseURL: baseURL,
		client: &http.Client{
			// Deduplication passes scan the whole catalog, so this is
			// generous compared to a plain status poll.
			Timeout: 30 * time.Second,
		},
	}
}

// GetStatus fetches the current protection status from the vault
func (c *VaultClient) GetStatus() (*types.ProtectionStatus, error) {
	resp, err := c.client.Get(c.baseURL + "/api/status")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var status types.ProtectionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &status, nil
}

// RunDailyBackup triggers a daily backup
func (c *VaultClient) RunDailyBackup() (types.BackupRef, error) {
	var ref types.BackupRef
	err := c.post("/api/backups/daily", http.StatusCreated, &ref)
	return ref, err
}

// RunDeduplication triggers a merge pass with the vault's default threshold
func (c *VaultClient) RunDeduplication() (types.MergeReport, error) {
	var report types.MergeReport
	err := c.post("/api/deduplication/run", http.StatusOK, &report)
	return report, err
}

func (c *VaultClient) post(path string, wantStatus int, out any) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
