package domain

// Participant record fields under players/{id}.
const (
	FieldUsername       = "username"
	FieldScore          = "score"
	FieldActive         = "active"
	FieldInviteReceived = "inviteReceived"
)

// Participant is one row of the players collection.
type Participant struct {
	ID             string `json:"id"`
	Score          int64  `json:"score"`
	Active         bool   `json:"active"`
	InviteReceived string `json:"invite_received,omitempty"`
}
