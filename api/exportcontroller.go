package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"prodvault/protection"
)

// RegisterExportRoutes registers catalog export endpoints.
func RegisterExportRoutes(r *gin.Engine, p *protection.Protector) {
	g := r.Group("/api/export")
	g.GET("/csv", func(c *gin.Context) { handleExportCSV(c, p) })
	g.GET("/json", func(c *gin.Context) { handleExportJSON(c, p) })
	g.GET("/xlsx", func(c *gin.Context) { handleExportXLSX(c, p) })
}

// handleExportCSV serves the catalog as a CSV download.
func handleExportCSV(c *gin.Context, p *protection.Protector) {
	// Buffered so an export failure still answers with a JSON error body
	// instead of a truncated file.
	var buf bytes.Buffer
	if _, err := p.ExportCSV(c.Request.Context(), &buf, boolQuery(c, "include_superseded")); err != nil {
		abortWithError(c, err)
		return
	}
	serveDownload(c, "text/csv", "csv", buf.Bytes())
}

// handleExportJSON serves the catalog as a JSON document download.
func handleExportJSON(c *gin.Context, p *protection.Protector) {
	var buf bytes.Buffer
	if _, err := p.ExportJSON(c.Request.Context(), &buf, boolQuery(c, "include_superseded")); err != nil {
		abortWithError(c, err)
		return
	}
	serveDownload(c, "application/json", "json", buf.Bytes())
}

// handleExportXLSX serves the catalog as an Excel workbook download.
func handleExportXLSX(c *gin.Context, p *protection.Protector) {
	var buf bytes.Buffer
	if _, err := p.ExportXLSX(c.Request.Context(), &buf, boolQuery(c, "include_superseded")); err != nil {
		abortWithError(c, err)
		return
	}
	serveDownload(c, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", buf.Bytes())
}

func serveDownload(c *gin.Context, contentType, ext string, data []byte) {
	filename := fmt.Sprintf("products_export_%s.%s", time.Now().UTC().Format("2006-01-02"), ext)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}
