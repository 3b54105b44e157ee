package ws

import (
	"time"

	"rps_duel/internal/domain"
	"rps_duel/internal/duel"
	"rps_duel/internal/game"
)

// client → server

type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

// PeerPayload names the other participant of invite, cancel_invite,
// accept, decline and play.
type PeerPayload struct {
	Participant string `json:"participant"`
}

type MovePayload struct {
	Move string `json:"move"` // rock | paper | scissors
}

// server → client

type ReadyPayload struct {
	Participant  string `json:"participant"`
	ConnectionID string `json:"connection_id"`
}

type InvitePayload struct {
	Participant string    `json:"participant"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type DuelStatePayload struct {
	Key           string        `json:"key"`
	Opponent      string        `json:"opponent"`
	State         duel.State    `json:"state"`
	Round         string        `json:"round"`
	Choice        domain.Choice `json:"choice,omitempty"`
	OpponentReady bool          `json:"opponent_ready"`
	Deadline      time.Time     `json:"deadline"`
	RemainingMS   int64         `json:"remaining_ms"`
}

type ResultPayload struct {
	Key            string        `json:"key"`
	You            game.Result   `json:"you"`
	Winner         string        `json:"winner,omitempty"`
	Reason         string        `json:"reason"`
	Choice         domain.Choice `json:"choice,omitempty"`
	OpponentChoice domain.Choice `json:"opponent_choice,omitempty"`
}

type DuelClosedPayload struct {
	Key string `json:"key"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func duelState(v duel.View) DuelStatePayload {
	return DuelStatePayload{
		Key:           v.Key,
		Opponent:      v.Opponent,
		State:         v.State,
		Round:         v.Round,
		Choice:        v.Choice,
		OpponentReady: v.OpponentReady,
		Deadline:      v.Deadline,
		RemainingMS:   v.Remaining.Milliseconds(),
	}
}

func resultPayload(r duel.Result) ResultPayload {
	return ResultPayload{
		Key:            r.Key,
		You:            r.You,
		Winner:         r.Outcome.Winner,
		Reason:         r.Outcome.Reason,
		Choice:         r.Choice,
		OpponentChoice: r.OpponentChoice,
	}
}
