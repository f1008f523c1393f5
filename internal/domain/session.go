package domain

import (
	"sort"
	"strings"
	"time"
)

// SessionSeparator joins the two sorted participant ids of a call session.
const SessionSeparator = "#"

type SessionID string

// CallSession is one active call between two participants.
type CallSession struct {
	ID           SessionID `json:"sessionId"`
	Participants []UserID  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SessionIDFor returns the canonical id of the pair, independent of who called whom.
func SessionIDFor(a, b UserID) SessionID {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return SessionID(strings.Join(ids, SessionSeparator))
}
