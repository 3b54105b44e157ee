package handlers

import (
	"rps_duel/internal/http/middleware"
	"rps_duel/internal/lobby"
	"rps_duel/internal/repository"
	"rps_duel/internal/service"
	"rps_duel/internal/store"
)

type Handler struct {
	Store     store.Store
	Join      *service.JoinService
	Directory *lobby.Directory
	// History is nil when no database is configured.
	History *repository.HistoryRepository
}

func NewHandler(st store.Store, history *repository.HistoryRepository) *Handler {
	return &Handler{
		Store:     st,
		Join:      service.NewJoinService(st, nil),
		Directory: lobby.NewDirectory(st, nil),
		History:   history,
	}
}

// getParticipant returns the participant authenticated by the ticket middleware.
func getParticipant(c interface{ Get(string) (any, bool) }) (string, bool) {
	v, ok := c.Get(middleware.ParticipantKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
