package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"prodvault/protection"
)

// RegisterDeduplicationRoutes registers duplicate detection and merge endpoints.
func RegisterDeduplicationRoutes(r *gin.Engine, p *protection.Protector) {
	g := r.Group("/api/deduplication")
	g.POST("/detect", func(c *gin.Context) { handleDetectDuplicates(c, p) })
	g.POST("/run", func(c *gin.Context) { handleRunDeduplication(c, p) })
}

// DeduplicationRequest optionally overrides the similarity threshold for one
// pass. Zero or a missing body keeps the configured default.
type DeduplicationRequest struct {
	Threshold float64 `json:"threshold" binding:"omitempty,gt=0,lte=1"`
}

// handleDetectDuplicates runs a detection pass without touching stored data.
func handleDetectDuplicates(c *gin.Context, p *protection.Protector) {
	req, ok := bindDeduplicationRequest(c)
	if !ok {
		return
	}

	groups, err := p.DetectDuplicates(c.Request.Context(), req.Threshold)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_groups": len(groups),
		"groups":       groups,
	})
}

// handleRunDeduplication merges near-duplicate groups. The pass takes the job
// lock (409 when another pass is running) and is preceded by an emergency
// backup; a failed backup aborts the whole pass.
func handleRunDeduplication(c *gin.Context, p *protection.Protector) {
	req, ok := bindDeduplicationRequest(c)
	if !ok {
		return
	}

	report, err := p.RunDeduplication(c.Request.Context(), req.Threshold)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// bindDeduplicationRequest reads the optional request body. An empty body is
// fine; malformed JSON is answered with 400 and ok=false.
func bindDeduplicationRequest(c *gin.Context) (DeduplicationRequest, bool) {
	var req DeduplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}
