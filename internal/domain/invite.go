package domain

import "time"

// Invite record fields under gameRequests/{target}/{requester}.
const (
	FieldRequestedBy = "requestedBy"
	FieldAccepted    = "accepted"
	FieldCreatedAt   = "createdAt"
)

// Invite is a directed offer from RequestedBy to Target.
type Invite struct {
	Target      string    `json:"target"`
	RequestedBy string    `json:"requested_by"`
	Accepted    bool      `json:"accepted"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExpiredAt reports whether the invite is older than ttl at now. Invites
// without a timestamp never expire by age.
func (i Invite) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if i.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(i.CreatedAt) >= ttl
}
