package http

import (
	"net/http"
	"strconv"

	"github.com/dkeye/Callbridge/internal/app/orch"
	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultCallsLimit = 50
	maxCallsLimit     = 500
)

type apiHandlers struct {
	orch  *orch.Orchestrator
	calls core.CallHistory
}

// GET /api/health
func (h *apiHandlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.orch.Registry.ConnectionCount(),
		"users":       h.orch.Registry.UserCount(),
		"sessions":    h.orch.Sessions.Count(),
	})
}

// GET /api/presence
func (h *apiHandlers) presence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.orch.OnlineUsers()})
}

// GET /api/sessions
func (h *apiHandlers) sessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.orch.Sessions.List()})
}

// DELETE /api/sessions/:a/:b
func (h *apiHandlers) forceEnd(c *gin.Context) {
	a, b := domain.UserID(c.Param("a")), domain.UserID(c.Param("b"))
	sid, ok := h.orch.ForceEnd(a, b)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session", "sessionId": sid})
		return
	}
	log.Info().Str("module", "adapters.http").Str("session", string(sid)).Msg("session ended by admin")
	c.JSON(http.StatusOK, gin.H{"sessionId": sid})
}

// GET /api/calls?limit=N
func (h *apiHandlers) callLog(c *gin.Context) {
	if h.calls == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call log disabled"})
		return
	}
	limit := defaultCallsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxCallsLimit)
	}
	recs, err := h.calls.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("read call log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "call log unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}
