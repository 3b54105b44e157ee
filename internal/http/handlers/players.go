package handlers

import (
	"net/http"
	"strconv"
	"time"

	"rps_duel/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// GetLeaderboard returns every participant, highest score first, and the
// live ones.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	view, err := h.Directory.Snapshot(c.Request.Context(), "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get leaderboard"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaderboard": view.Leaderboard,
		"live":        view.Roster,
	})
}

// Me returns the directory as the ticket holder sees it.
func (h *Handler) Me(c *gin.Context) {
	participant, ok := getParticipant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	view, err := h.Directory.Snapshot(c.Request.Context(), participant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read directory"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetPlayer returns one participant row.
func (h *Handler) GetPlayer(c *gin.Context) {
	id := c.Param("id")
	if err := domain.ValidateIdentity(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.Store.Get(c.Request.Context(), domain.PlayerPath(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read player"})
		return
	}
	rec, ok := snap.Value()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}

	c.JSON(http.StatusOK, domain.Participant{
		ID:             id,
		Score:          rec.Int(domain.FieldScore),
		Active:         rec.Bool(domain.FieldActive),
		InviteReceived: rec.String(domain.FieldInviteReceived),
	})
}

// GetPlayerHistory returns recent resolved duels of a participant together
// with win/loss/draw counts over the last 30 days.
func (h *Handler) GetPlayerHistory(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not enabled"})
		return
	}

	id := c.Param("id")
	if err := domain.ValidateIdentity(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx := c.Request.Context()
	duels, err := h.History.ListByPlayer(ctx, id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get history"})
		return
	}
	stats, err := h.History.Stats(ctx, id, time.Now().AddDate(0, 0, -30))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"duels": duels,
		"stats": stats,
	})
}
