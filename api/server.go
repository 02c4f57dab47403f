// Package api exposes the protection facade over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"prodvault/protection"
	"prodvault/types"
)

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(p *protection.Protector) *gin.Engine {
	r := gin.New()
	// Minimal middleware: recovery; logger optional to reduce verbosity
	r.Use(gin.Recovery())

	// Register resource routers
	RegisterHealthRoutes(r)
	RegisterProductRoutes(r, p)
	RegisterStatusRoutes(r, p)
	RegisterBackupRoutes(r, p)
	RegisterDeduplicationRoutes(r, p)
	RegisterExportRoutes(r, p)
	return r
}

// statusFor maps sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrCollisionConflict), errors.Is(err, protection.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, types.ErrRestoreCorruption):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// boolQuery reads a boolean query parameter, treating absence or garbage as false.
func boolQuery(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}
