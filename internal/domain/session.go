package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Choice is a participant's move; the zero value means no move yet.
type Choice string

const (
	ChoiceNone     Choice = ""
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
)

var ErrInvalidChoice = errors.New("invalid choice")

// Choices lists the valid moves.
var Choices = []Choice{ChoiceRock, ChoicePaper, ChoiceScissors}

func (c Choice) Valid() bool {
	return slices.Contains(Choices, c)
}

func ParseChoice(s string) (Choice, error) {
	c := Choice(s)
	if !c.Valid() {
		return ChoiceNone, fmt.Errorf("%w: %q", ErrInvalidChoice, s)
	}
	return c, nil
}

// Session record fields under games/{key}.
const (
	FieldPlayerA   = "playerA"
	FieldPlayerB   = "playerB"
	FieldChoiceA   = "choiceA"
	FieldChoiceB   = "choiceB"
	FieldEnded     = "ended"
	FieldStartedAt = "startedAt"
	// FieldRound identifies one round; every "play again" writes a new one.
	FieldRound = "round"
	// FieldVerdict holds the choices a round was resolved on. Only the side
	// that claimed the round writes it, in the same update as ended.
	FieldVerdict = "verdict"
)

// Session is the shared record for one round between PlayerA and PlayerB,
// where PlayerA sorts before PlayerB.
type Session struct {
	Key       string
	PlayerA   string
	PlayerB   string
	ChoiceA   Choice
	ChoiceB   Choice
	Ended     bool
	StartedAt time.Time
	Round     string
	// Settled is set when the record carries a verdict; ChoiceA and ChoiceB
	// then come from the verdict rather than the choice fields.
	Settled bool
}

// NewSession returns an empty session for the pair in canonical order.
func NewSession(a, b string) Session {
	pa, pb := OrderedPair(a, b)
	return Session{Key: CanonicalPairKey(a, b), PlayerA: pa, PlayerB: pb}
}

// ChoiceField returns the record field owned by id.
func (s Session) ChoiceField(id string) string {
	if id == s.PlayerA {
		return FieldChoiceA
	}
	return FieldChoiceB
}

func (s Session) ChoiceOf(id string) Choice {
	if id == s.PlayerA {
		return s.ChoiceA
	}
	return s.ChoiceB
}

func (s Session) Opponent(id string) string {
	if id == s.PlayerA {
		return s.PlayerB
	}
	return s.PlayerA
}

func (s Session) BothChosen() bool {
	return s.ChoiceA != ChoiceNone && s.ChoiceB != ChoiceNone
}

// Deadline is the end of the countdown that starts at StartedAt.
func (s Session) Deadline(round time.Duration) time.Time {
	return s.StartedAt.Add(round)
}

// Remaining is max(0, round - elapsed since StartedAt).
func (s Session) Remaining(now time.Time, round time.Duration) time.Duration {
	left := s.Deadline(round).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Verdict encodes the current choices as "choiceA:choiceB", empty for none.
func (s Session) Verdict() string {
	return string(s.ChoiceA) + ":" + string(s.ChoiceB)
}

// Settle replaces the choices with those of verdict v and marks the session
// ended. Moves written after the verdict are ignored this way.
func (s *Session) Settle(v string) error {
	a, b, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("%w: malformed verdict %q", ErrInvalidChoice, v)
	}
	ca, cb := Choice(a), Choice(b)
	if (ca != ChoiceNone && !ca.Valid()) || (cb != ChoiceNone && !cb.Valid()) {
		return fmt.Errorf("%w: malformed verdict %q", ErrInvalidChoice, v)
	}
	s.ChoiceA, s.ChoiceB = ca, cb
	s.Ended, s.Settled = true, true
	return nil
}
