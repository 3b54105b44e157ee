package ws

const (
	// client - server
	MsgVisibility   = "visibility"
	MsgInvite       = "invite"
	MsgCancelInvite = "cancel_invite"
	MsgAccept       = "accept"
	MsgDecline      = "decline"
	MsgPlay         = "play"
	MsgMove         = "move"
	MsgPlayAgain    = "play_again"
	MsgLeave        = "leave"
	MsgPing         = "ping"

	// server - client
	MsgReady          = "ready"
	MsgDirectory      = "directory"
	MsgInviteSent     = "invite_sent"
	MsgInviteReceived = "invite_received"
	MsgInviteCleared  = "invite_cleared"
	MsgInviteAccepted = "invite_accepted"
	MsgInviteDeclined = "invite_declined"
	MsgInviteExpired  = "invite_expired"
	MsgDuelState      = "duel_state"
	MsgResult         = "result"
	MsgDuelClosed     = "duel_closed"
	MsgError          = "error"
	MsgPong           = "pong"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}
