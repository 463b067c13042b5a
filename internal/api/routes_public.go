package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "mchub",
		"version": s.cfg.Version,
	})
}
