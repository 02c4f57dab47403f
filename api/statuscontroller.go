package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"prodvault/protection"
)

// RegisterStatusRoutes registers operational reporting endpoints.
func RegisterStatusRoutes(r *gin.Engine, p *protection.Protector) {
	r.GET("/api/status", func(c *gin.Context) { handleStatus(c, p) })
	r.GET("/api/statistics", func(c *gin.Context) { handleStatistics(c, p) })
}

// handleStatus reports catalog totals, backup state, and pending duplicate
// groups. It reads the whole catalog, so it is not a liveness probe; use
// /api/health for that.
func handleStatus(c *gin.Context, p *protection.Protector) {
	status, err := p.Status(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleStatistics aggregates the live catalog by category and price.
func handleStatistics(c *gin.Context, p *protection.Protector) {
	stats, err := p.Statistics(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
