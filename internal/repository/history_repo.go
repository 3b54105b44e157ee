package repository

import (
	"context"
	"time"

	"rps_duel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRepository keeps resolved duels in duel_history.
type HistoryRepository struct {
	db *pgxpool.Pool
}

func NewHistoryRepository(db *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Record stores one resolved round. A draw is stored with a NULL winner.
func (r *HistoryRepository) Record(ctx context.Context, rec domain.DuelRecord) error {
	var winner *string
	if rec.Winner != "" {
		winner = &rec.Winner
	}

	return r.db.QueryRow(ctx,
		`INSERT INTO duel_history
			(pair_key, player_a, player_b, choice_a, choice_b, winner, reason, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		rec.PairKey,
		rec.PlayerA,
		rec.PlayerB,
		string(rec.ChoiceA),
		string(rec.ChoiceB),
		winner,
		rec.Reason,
		rec.StartedAt,
		rec.EndedAt,
	).Scan(&rec.ID)
}

// ListByPlayer returns the latest duels the participant took part in.
func (r *HistoryRepository) ListByPlayer(ctx context.Context, participant string, limit int) ([]*domain.DuelRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, pair_key, player_a, player_b, choice_a, choice_b,
				COALESCE(winner, ''), reason, started_at, ended_at
		 FROM duel_history
		 WHERE player_a = $1 OR player_b = $1
		 ORDER BY ended_at DESC
		 LIMIT $2`,
		participant, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// PlayerStats sums up a participant's duels since a point in time.
type PlayerStats struct {
	Participant string `json:"participant"`
	Duels       int    `json:"duels"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
}

func (r *HistoryRepository) Stats(ctx context.Context, participant string, since time.Time) (*PlayerStats, error) {
	stats := &PlayerStats{Participant: participant}

	err := r.db.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE winner = $1),
			COUNT(*) FILTER (WHERE winner IS NOT NULL AND winner <> $1),
			COUNT(*) FILTER (WHERE winner IS NULL)
		 FROM duel_history
		 WHERE (player_a = $1 OR player_b = $1) AND ended_at >= $2`,
		participant, since,
	).Scan(&stats.Duels, &stats.Wins, &stats.Losses, &stats.Draws)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func scanRows(rows pgx.Rows) ([]*domain.DuelRecord, error) {
	var result []*domain.DuelRecord

	for rows.Next() {
		var (
			rec              domain.DuelRecord
			choiceA, choiceB string
		)
		if err := rows.Scan(
			&rec.ID, &rec.PairKey, &rec.PlayerA, &rec.PlayerB, &choiceA, &choiceB,
			&rec.Winner, &rec.Reason, &rec.StartedAt, &rec.EndedAt,
		); err != nil {
			return nil, err
		}
		rec.ChoiceA = domain.Choice(choiceA)
		rec.ChoiceB = domain.Choice(choiceB)
		result = append(result, &rec)
	}

	return result, rows.Err()
}
