// Package matching reconciles local intents and realtime events into one
// authoritative matching state.
package matching

import (
	"github.com/dkeye/Roulette/internal/domain"
)

type Kind int

const (
	Idle Kind = iota
	Searching
	Matched
	SelfAccepted
	PeerAccepted
	BothAccepted
	Rejected
	Failed
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case Matched:
		return "matched"
	case SelfAccepted:
		return "self_accepted"
	case PeerAccepted:
		return "peer_accepted"
	case BothAccepted:
		return "both_accepted"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// State is the matching lifecycle. Peer and RoomID are set for the matched
// family only, MediaToken for BothAccepted only, Reason for Failed only.
type State struct {
	Kind       Kind          `json:"kind"`
	Peer       *domain.Peer  `json:"peer,omitempty"`
	RoomID     domain.RoomID `json:"room_id,omitempty"`
	MediaToken string        `json:"-"`
	Reason     string        `json:"reason,omitempty"`
}

// Startable reports whether a new search may begin from s.
func (s State) Startable() bool {
	return s.Kind == Idle || s.Kind == Failed
}

// InMatch reports whether a peer and room are bound to the current attempt.
func (s State) InMatch() bool {
	switch s.Kind {
	case Matched, SelfAccepted, PeerAccepted, BothAccepted:
		return true
	}
	return false
}

// Equal compares matched-family states by (peer id, room id); the token
// only counts for BothAccepted.
func (s State) Equal(o State) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case Matched, SelfAccepted, PeerAccepted:
		return s.sameAttempt(o)
	case BothAccepted:
		return s.sameAttempt(o) && s.MediaToken == o.MediaToken
	case Failed:
		return s.Reason == o.Reason
	default:
		return true
	}
}

func (s State) sameAttempt(o State) bool {
	if s.RoomID != o.RoomID {
		return false
	}
	if s.Peer == nil || o.Peer == nil {
		return s.Peer == o.Peer
	}
	return s.Peer.ID == o.Peer.ID
}

func (s State) peerID() domain.UserID {
	if s.Peer == nil {
		return ""
	}
	return s.Peer.ID
}

// Update is one observed state change. Err carries a failure from a
// background search so observers can display it.
type Update struct {
	State State
	Err   error
}

// Handoff is what the call layer receives on mutual acceptance.
type Handoff struct {
	Peer       domain.Peer
	RoomID     domain.RoomID
	MediaToken string
}
