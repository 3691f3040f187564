package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskyard/overseer/internal/store"
)

// writeErr maps a domain error to a {error:"..."} JSON envelope,
// choosing the status code by error kind rather than string matching.
func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case store.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
