package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaydeck/vtmux/src/apperr"
)

// sendError translates err into the uniform {"error":...} body and status
// code from the apperr taxonomy in spec §7. Errors that are not *apperr.Error
// are treated as InternalError.
func sendError(c *gin.Context, err error) {
	if ae, ok := err.(*apperr.Error); ok {
		c.JSON(ae.HTTPStatus(), gin.H{"error": ae.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
