package game

// Result is a round result from the point of view of one participant.
type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
	ResultDraw Result = "draw"
)

// Invert returns the same result seen from the opponent.
func (r Result) Invert() Result {
	switch r {
	case ResultWin:
		return ResultLose
	case ResultLose:
		return ResultWin
	default:
		return ResultDraw
	}
}

// Reasons a session resolved.
const (
	ReasonComplete = "game_complete"
	ReasonTimeout  = "timeout"
)

// Outcome is the resolution of a session.
type Outcome struct {
	Winner string `json:"winner,omitempty"` // empty on draw
	Result Result `json:"result"`           // from PlayerA's side
	Reason string `json:"reason"`
}

func (o Outcome) Draw() bool {
	return o.Result == ResultDraw
}

// For returns the result as seen by participant id of a session with playerA.
func (o Outcome) For(id, playerA string) Result {
	if id == playerA {
		return o.Result
	}
	return o.Result.Invert()
}
