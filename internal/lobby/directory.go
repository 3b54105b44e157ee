// Package lobby projects the players collection into a leaderboard and a
// playable roster. It keeps no state beyond the last snapshot it was given.
package lobby

import (
	"context"
	"log/slog"
	"sort"

	"rps_duel/internal/domain"
	"rps_duel/internal/logger"
	"rps_duel/internal/store"
)

// View is one projection of the players collection as seen by Self.
type View struct {
	Self string `json:"self"`
	// Me is Self's own row; zero when Self has not joined yet.
	Me domain.Participant `json:"me"`
	// Leaderboard holds every participant, highest score first.
	Leaderboard []domain.Participant `json:"leaderboard"`
	// Roster holds the live participants other than Self, in leaderboard order.
	Roster []domain.Participant `json:"roster"`
}

// Project builds the view for self from a snapshot of the players
// collection. Ties on score are ordered by identity so every client shows
// the same order.
func Project(self string, snap store.Snapshot) View {
	children := snap.Children()

	board := make([]domain.Participant, 0, len(children))
	for id, rec := range children {
		board = append(board, domain.Participant{
			ID:             id,
			Score:          rec.Int(domain.FieldScore),
			Active:         rec.Bool(domain.FieldActive),
			InviteReceived: rec.String(domain.FieldInviteReceived),
		})
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].Score != board[j].Score {
			return board[i].Score > board[j].Score
		}
		return board[i].ID < board[j].ID
	})

	v := View{Self: self, Leaderboard: board, Roster: []domain.Participant{}}
	for _, p := range board {
		if p.ID == self {
			v.Me = p
			continue
		}
		if p.Active {
			v.Roster = append(v.Roster, p)
		}
	}
	return v
}

type Directory struct {
	store store.Store
	log   *slog.Logger
}

func NewDirectory(st store.Store, log *slog.Logger) *Directory {
	if log == nil {
		log = logger.Component("lobby")
	}
	return &Directory{store: st, log: log}
}

// Watch calls fn with a fresh view now and after every change to the
// players collection, until the returned function is called or ctx ends.
func (d *Directory) Watch(ctx context.Context, self string, fn func(View)) (func(), error) {
	return d.store.Subscribe(ctx, domain.PlayersRoot, func(snap store.Snapshot) {
		fn(Project(self, snap))
	})
}

// Snapshot reads the collection once. An empty self yields the leaderboard
// with every live participant in the roster.
func (d *Directory) Snapshot(ctx context.Context, self string) (View, error) {
	snap, err := d.store.Get(ctx, domain.PlayersRoot)
	if err != nil {
		d.log.Warn("read players failed", "error", err)
		return View{}, err
	}
	return Project(self, snap), nil
}
