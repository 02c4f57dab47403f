package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"prodvault/protection"
	"prodvault/types"
)

// RegisterProductRoutes registers product ingestion and lookup endpoints.
func RegisterProductRoutes(r *gin.Engine, p *protection.Protector) {
	g := r.Group("/api/products")
	g.POST("", func(c *gin.Context) { handleUpsertProduct(c, p) })
	g.POST("/batch", func(c *gin.Context) { handleUpsertBatch(c, p) })
	g.GET("", func(c *gin.Context) { handleListProducts(c, p) })
	g.GET("/:id", func(c *gin.Context) { handleGetProduct(c, p) })
}

// UpsertBatchRequest carries a whole scrape batch.
type UpsertBatchRequest struct {
	Products []types.ProductRecord `json:"products" binding:"required"`
}

// handleUpsertProduct stores one scraped record and reports what happened to it.
// First-time inserts answer 201, merges into an existing record answer 200.
func handleUpsertProduct(c *gin.Context, p *protection.Protector) {
	var rec types.ProductRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := p.Upsert(c.Request.Context(), rec)
	if err != nil {
		abortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == types.OutcomeNew {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// handleUpsertBatch runs a batch through the guard. Per-record failures are
// reported inside the batch report, not as an HTTP error.
func handleUpsertBatch(c *gin.Context, p *protection.Protector) {
	var req UpsertBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := p.UpsertBatch(c.Request.Context(), req.Products)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleListProducts returns the catalog ordered by storage ID. Records
// retired by a merge are excluded unless include_superseded=true.
func handleListProducts(c *gin.Context, p *protection.Protector) {
	products, err := p.List(c.Request.Context(), boolQuery(c, "include_superseded"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    len(products),
		"products": products,
	})
}

// handleGetProduct fetches one stored product by its storage ID.
func handleGetProduct(c *gin.Context, p *protection.Protector) {
	prod, err := p.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, prod)
}
