package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rps_duel/internal/domain"
	"rps_duel/internal/logger"
	"rps_duel/internal/store"
)

// Ticket is handed to a participant after joining; Token opens the websocket.
type Ticket struct {
	Participant string `json:"participant"`
	Score       int64  `json:"score"`
	Token       string `json:"token"`
}

// JoinService creates participant rows. Names are self-asserted: joining
// under an existing name takes that row over, score included.
type JoinService struct {
	store store.Store
	log   *slog.Logger
}

func NewJoinService(st store.Store, log *slog.Logger) *JoinService {
	if log == nil {
		log = logger.Component("join")
	}
	return &JoinService{store: st, log: log}
}

// Join validates the name, marks the participant live and makes sure a
// score exists without touching an earlier one.
func (s *JoinService) Join(ctx context.Context, username string) (*Ticket, error) {
	username = strings.TrimSpace(username)
	if err := domain.ValidateIdentity(username); err != nil {
		return nil, err
	}

	path := domain.PlayerPath(username)
	if err := s.store.Update(ctx, path, store.Record{
		domain.FieldUsername: username,
		domain.FieldActive:   true,
	}); err != nil {
		s.log.Warn("join write failed", "participant", username, "error", err)
		return nil, fmt.Errorf("write participant: %w", err)
	}

	score, err := s.store.Increment(ctx, path, domain.FieldScore, 0)
	if err != nil {
		s.log.Warn("score init failed", "participant", username, "error", err)
		return nil, fmt.Errorf("init score: %w", err)
	}

	token, err := GenerateJWT(username)
	if err != nil {
		return nil, fmt.Errorf("sign ticket: %w", err)
	}

	s.log.Info("participant joined", "participant", username, "score", score)
	return &Ticket{Participant: username, Score: score, Token: token}, nil
}
