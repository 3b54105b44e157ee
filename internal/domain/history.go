package domain

import "time"

// DuelRecord is one resolved session as kept in the match history.
type DuelRecord struct {
	ID        int64     `json:"id"`
	PairKey   string    `json:"pair_key"`
	PlayerA   string    `json:"player_a"`
	PlayerB   string    `json:"player_b"`
	ChoiceA   Choice    `json:"choice_a"`
	ChoiceB   Choice    `json:"choice_b"`
	Winner    string    `json:"winner,omitempty"` // empty on draw
	Reason    string    `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
