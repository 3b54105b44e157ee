package game

import "rps_duel/internal/domain"

// beats is the fixed three-way cycle.
var beats = map[domain.Choice]domain.Choice{
	domain.ChoiceRock:     domain.ChoiceScissors,
	domain.ChoiceScissors: domain.ChoicePaper,
	domain.ChoicePaper:    domain.ChoiceRock,
}

// Beats reports whether a defeats b. Unset choices never beat anything.
func Beats(a, b domain.Choice) bool {
	target, ok := beats[a]
	return ok && target == b
}

// Decide returns the result of moveA against moveB.
//
// A missing move loses to any move and two missing moves are a draw, so a
// participant who never chose forfeits only when the opponent did choose.
func Decide(moveA, moveB domain.Choice) Result {
	setA, setB := moveA.Valid(), moveB.Valid()

	switch {
	case !setA && !setB:
		return ResultDraw
	case !setB:
		return ResultWin
	case !setA:
		return ResultLose
	case moveA == moveB:
		return ResultDraw
	case Beats(moveA, moveB):
		return ResultWin
	default:
		return ResultLose
	}
}

// Resolve computes the outcome of a session. It depends only on the two
// choice fields, so every observer of the same record gets the same answer.
func Resolve(s domain.Session) Outcome {
	result := Decide(s.ChoiceA, s.ChoiceB)

	reason := ReasonComplete
	if !s.BothChosen() {
		reason = ReasonTimeout
	}

	out := Outcome{Result: result, Reason: reason}
	switch result {
	case ResultWin:
		out.Winner = s.PlayerA
	case ResultLose:
		out.Winner = s.PlayerB
	}
	return out
}
