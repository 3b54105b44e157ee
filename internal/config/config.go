package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"rps_duel/internal/logger"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	AppPort       string
	JWTSecret     string
	AllowedOrigin string

	// Shared store
	StoreBackend  string
	StorePrefix   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Optional match history, disabled when empty
	DatabaseURL string

	LogLevel string
	LogJSON  bool

	// Game timing
	RoundDuration time.Duration
	InviteTTL     time.Duration

	JoinRateLimit  int
	JoinRateWindow time.Duration

	// Websocket connects per participant
	ConnectRateLimit  int
	ConnectRateWindow time.Duration
}

// Load reads the config from .env and the environment and exits on error.
func Load() *Config {
	_ = godotenv.Load()

	cfg, err := Parse(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

// Parse builds a Config from a lookup function such as os.Getenv.
func Parse(getenv func(string) string) (*Config, error) {
	jwtSecret := getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}

	port := getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	backend := strings.ToLower(strings.TrimSpace(getenv("STORE_BACKEND")))
	if backend == "" {
		backend = StoreMemory
	}
	if backend != StoreMemory && backend != StoreRedis {
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}

	redisAddr := getenv("REDIS_ADDR")
	if backend == StoreRedis && redisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required for the redis store")
	}

	redisDB := 0
	if v := getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB %q", v)
		}
		redisDB = n
	}

	prefix := getenv("STORE_PREFIX")
	if prefix == "" {
		prefix = "rps"
	}

	logLevel := getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		AppPort:        port,
		JWTSecret:      jwtSecret,
		AllowedOrigin:  getenv("ALLOWED_ORIGIN"),
		StoreBackend:   backend,
		StorePrefix:    prefix,
		RedisAddr:      redisAddr,
		RedisPassword:  getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		DatabaseURL:    getenv("DATABASE_URL"),
		LogLevel:       logLevel,
		LogJSON:        getenv("LOG_JSON") == "true",
		RoundDuration:  seconds(getenv("ROUND_SECONDS"), 30),
		InviteTTL:      seconds(getenv("INVITE_TTL_SECONDS"), 30),
		JoinRateLimit:  positive(getenv("JOIN_RATE_LIMIT"), 10),
		JoinRateWindow: seconds(getenv("JOIN_RATE_WINDOW_SECONDS"), 60),

		ConnectRateLimit:  positive(getenv("CONNECT_RATE_LIMIT"), 20),
		ConnectRateWindow: seconds(getenv("CONNECT_RATE_WINDOW_SECONDS"), 60),
	}, nil
}

// positive parses v and falls back to def on empty, bad or non-positive input.
func positive(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func seconds(v string, def int) time.Duration {
	return time.Duration(positive(v, def)) * time.Second
}
