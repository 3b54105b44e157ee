package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentity is returned for empty identities or ones containing
// store path delimiters.
var ErrInvalidIdentity = errors.New("invalid identity")

// forbiddenChars are the store path delimiters plus PairSeparator, so that
// a pair key splits back into exactly one pair.
const forbiddenChars = ".#$[]/" + PairSeparator

// PairSeparator joins the two identities of a canonical pair key.
const PairSeparator = "-"

// ValidateIdentity rejects identities that cannot be used as a store path segment.
func ValidateIdentity(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: must be a non-empty string", ErrInvalidIdentity)
	}
	if i := strings.IndexAny(id, forbiddenChars); i >= 0 {
		return fmt.Errorf("%w: %q contains forbidden character %q", ErrInvalidIdentity, id, id[i])
	}
	return nil
}

// CanonicalPairKey returns the same key for (a, b) and (b, a).
func CanonicalPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + PairSeparator + b
}

// OrderedPair returns the two identities in canonical order.
func OrderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Store paths used by the duel protocol.
const (
	PlayersRoot  = "players"
	GamesRoot    = "games"
	RequestsRoot = "gameRequests"
	ClaimsRoot   = "resolutions"
)

func PlayerPath(id string) string {
	return PlayersRoot + "/" + id
}

func GamePath(key string) string {
	return GamesRoot + "/" + key
}

// InboxPath is the collection of invites addressed to target.
func InboxPath(target string) string {
	return RequestsRoot + "/" + target
}

func InvitePath(target, requester string) string {
	return InboxPath(target) + "/" + requester
}

// ClaimsPath holds one resolver counter per round of the pair's session.
// It lives outside the session record so that deleting or re-initializing
// the session cannot reset a claim.
func ClaimsPath(key string) string {
	return ClaimsRoot + "/" + key
}
