package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"prodvault/protection"
)

// RegisterBackupRoutes registers backup and restore endpoints.
func RegisterBackupRoutes(r *gin.Engine, p *protection.Protector) {
	g := r.Group("/api/backups")
	g.GET("", func(c *gin.Context) { handleBackupInfo(c, p) })
	g.POST("/daily", func(c *gin.Context) { handleDailyBackup(c, p) })
	g.POST("/emergency", func(c *gin.Context) { handleEmergencyBackup(c, p) })
	g.POST("/restore", func(c *gin.Context) { handleRestore(c, p) })
	g.POST("/cleanup", func(c *gin.Context) { handleCleanupBackups(c, p) })
}

// EmergencyBackupRequest represents the request to snapshot the catalog
// under a reason-tagged key.
type EmergencyBackupRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RestoreRequest represents the request to replay a stored snapshot.
type RestoreRequest struct {
	BackupKey string `json:"backup_key" binding:"required"`

	// Force overwrites stored records even when they are newer than the
	// snapshot entry.
	Force bool `json:"force"`
}

// CleanupRequest represents the request to delete backups past retention.
type CleanupRequest struct {
	RetentionDays int `json:"retention_days" binding:"required,gt=0"`
}

// handleBackupInfo summarizes everything held in the backup store.
func handleBackupInfo(c *gin.Context, p *protection.Protector) {
	info, err := p.BackupInfo(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleDailyBackup snapshots the catalog under today's date key. Running it
// twice on the same day returns the existing snapshot.
func handleDailyBackup(c *gin.Context, p *protection.Protector) {
	ref, err := p.CreateDailyBackup(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

// handleEmergencyBackup snapshots the catalog under a reason-tagged key.
func handleEmergencyBackup(c *gin.Context, p *protection.Protector) {
	var req EmergencyBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, err := p.CreateEmergencyBackup(c.Request.Context(), req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}

// handleRestore replays a snapshot into the catalog and accounts for every
// entry in the response.
func handleRestore(c *gin.Context, p *protection.Protector) {
	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := p.Restore(c.Request.Context(), req.BackupKey, req.Force)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleCleanupBackups deletes daily and version backups older than the
// retention window. Emergency backups are kept regardless of age.
func handleCleanupBackups(c *gin.Context, p *protection.Protector) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := p.CleanupBackups(c.Request.Context(), req.RetentionDays)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"removed":        removed,
		"retention_days": req.RetentionDays,
	})
}
