package http

import (
	"rps_duel/internal/config"
	"rps_duel/internal/http/handlers"
	"rps_duel/internal/http/middleware"
	"rps_duel/internal/repository"
	"rps_duel/internal/store"
	"rps_duel/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deps are the components the routes serve from. DB and History are nil
// when no database is configured.
type Deps struct {
	Store   store.Store
	Hub     *ws.Hub
	DB      *pgxpool.Pool
	History *repository.HistoryRepository
	Version string
}

func RegisterRoutes(r *gin.Engine, cfg *config.Config, deps Deps) {
	h := handlers.NewHandler(deps.Store, deps.History)

	var pinger handlers.Pinger
	if p, ok := deps.Store.(handlers.Pinger); ok {
		pinger = p
	}
	healthHandler := handlers.NewHealthHandler(pinger, deps.DB, deps.Version)

	// Health checks (no rate limiting)
	r.GET("/health", healthHandler.Health)
	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)

	v1 := r.Group("/api/v1")
	v1.POST("/join", middleware.RedisRateLimit(cfg.JoinRateLimit, cfg.JoinRateWindow), h.JoinGame)
	v1.GET("/me", middleware.Ticket(), h.Me)
	v1.GET("/leaderboard", h.GetLeaderboard)
	v1.GET("/players/:id", h.GetPlayer)
	v1.GET("/players/:id/history", h.GetPlayerHistory)

	r.GET("/ws",
		middleware.Ticket(),
		middleware.ParticipantRateLimit(cfg.ConnectRateLimit, cfg.ConnectRateWindow),
		h.WS(deps.Hub, cfg.AllowedOrigin),
	)
}
