package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrNotFound writes a 404 with the error message
func ErrNotFound(c *gin.Context, err error) {
	Err(c, http.StatusNotFound, err)
}

// ErrBadRequest writes a 400 with the error message
func ErrBadRequest(c *gin.Context, err error) {
	Err(c, http.StatusBadRequest, err)
}

// ErrConflict writes a 409 with the error message
func ErrConflict(c *gin.Context, err error) {
	Err(c, http.StatusConflict, err)
}

// ErrBadGateway writes a 502 with the error message
func ErrBadGateway(c *gin.Context, err error) {
	Err(c, http.StatusBadGateway, err)
}

// ErrInternalServerError writes a 500 with the error message
func ErrInternalServerError(c *gin.Context, err error) {
	Err(c, http.StatusInternalServerError, err)
}

// Err writes an error response in the {"error": "..."} shape all endpoints use.
func Err(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": err.Error()})
}
