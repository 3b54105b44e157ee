package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rps_duel/internal/config"
	"rps_duel/internal/db"
	"rps_duel/internal/duel"
	httpServer "rps_duel/internal/http"
	"rps_duel/internal/http/middleware"
	"rps_duel/internal/logger"
	"rps_duel/internal/repository"
	"rps_duel/internal/service"
	"rps_duel/internal/store"
	"rps_duel/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	service.InitJWT(cfg.JWTSecret)

	ctx := context.Background()
	st := openStore(ctx, cfg)
	defer st.Close()

	var (
		pool    *pgxpool.Pool
		history *repository.HistoryRepository
	)
	if cfg.DatabaseURL != "" {
		pool = db.Connect(cfg.DatabaseURL)
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("failed to apply migrations", "error", err)
		}
		history = repository.NewHistoryRepository(pool)
	} else {
		logger.Info("DATABASE_URL not set, match history disabled")
	}

	clock := clockwork.NewRealClock()
	var recorder duel.Recorder
	if history != nil {
		recorder = history
	}
	engine := duel.NewEngine(st, clock, cfg.RoundDuration, recorder, nil)
	hub := ws.NewHub(st, engine, clock, cfg.InviteTTL)

	r := gin.Default()

	// CORS for production (frontend on different domain)
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (cfg.AllowedOrigin == "" || origin == cfg.AllowedOrigin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer.RegisterRoutes(r, cfg, httpServer.Deps{
		Store:   st,
		Hub:     hub,
		DB:      pool,
		History: history,
		Version: version,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// hijacked websocket connections are not covered by Shutdown
	hub.Shutdown(5 * time.Second)

	logger.Info("server exited")
}

// openStore builds the shared store. With redis the rate limiters share
// its client too.
func openStore(ctx context.Context, cfg *config.Config) store.Store {
	if cfg.StoreBackend != config.StoreRedis {
		logger.Info("using in-memory store; participants must share this process")
		return store.NewMemory(nil)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("failed to reach redis", "addr", cfg.RedisAddr, "error", err)
	}

	st, err := store.NewRedis(ctx, client, cfg.StorePrefix, logger.Component("store"))
	if err != nil {
		logger.Fatal("failed to open redis store", "error", err)
	}
	middleware.UseRedis(client)

	logger.Info("redis store connected", "addr", cfg.RedisAddr, "prefix", cfg.StorePrefix)
	return st
}
