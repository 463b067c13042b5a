package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/moeru-ai/airi-sub003/internal/db"
	"github.com/moeru-ai/airi-sub003/internal/hub"
)

const maxHistoryCount = 500

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.hub.Status(c.Request.Context())
	if err != nil {
		statusError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleSessions(c *gin.Context) {
	st, err := s.hub.Status(c.Request.Context())
	if err != nil {
		statusError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": st.Sessions,
		"total":    len(st.Sessions),
	})
}

// handleHistory returns recent audit events, newest first.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is disabled"})
		return
	}

	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(db.DefaultHistoryLimit)))
	if err != nil || count < 1 {
		count = db.DefaultHistoryLimit
	}
	if count > maxHistoryCount {
		count = maxHistoryCount
	}

	entries, err := s.history.Recent(count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []db.SessionEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": entries,
		"count":  len(entries),
	})
}

func statusError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, hub.ErrClosed) {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
