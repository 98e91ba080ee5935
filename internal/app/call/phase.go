// Package call drives one timed call: countdown, continuation vote and
// disconnect detection on top of a CallTransport.
package call

import (
	"time"

	"github.com/dkeye/Roulette/internal/app/timer"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
)

type Phase int

const (
	Connecting Phase = iota
	Active
	RenegotiationPending
	Extended
	Ending
	Ended
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case RenegotiationPending:
		return "renegotiation_pending"
	case Extended:
		return "extended"
	case Ending:
		return "ending"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Live reports whether the call can still be hung up.
func (p Phase) Live() bool {
	return p <= Extended
}

type Reason string

const (
	ReasonUserHangUp            Reason = "userHangUp"
	ReasonPeerLeft              Reason = "peerLeft"
	ReasonRenegotiationDeclined Reason = "renegotiationDeclined"
	ReasonRenegotiationTimeout  Reason = "renegotiationTimeout"
	ReasonConnectionLost        Reason = "connectionLost"
	ReasonError                 Reason = "error"
)

// Summary is the terminal record shown once the call has ended.
type Summary struct {
	Duration time.Duration `json:"duration"`
	Text     string        `json:"duration_text"`
	Reason   Reason        `json:"reason"`
	PeerName string        `json:"peer_name"`
}

func newSummary(d time.Duration, reason Reason, peerName string) Summary {
	return Summary{Duration: d, Text: timer.Format(d), Reason: reason, PeerName: peerName}
}

// Snapshot is the read-only view of a call published to observers.
// StartedAt is set from Active on, ResumedAt once the call is Extended.
type Snapshot struct {
	Phase      Phase            `json:"phase"`
	Peer       domain.Peer      `json:"peer"`
	RoomID     domain.RoomID    `json:"room_id"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	ResumedAt  *time.Time       `json:"resumed_at,omitempty"`
	TimerText  string           `json:"timer"`
	ShowPrompt bool             `json:"show_prompt"`
	Resolving  bool             `json:"resolving"`
	Published  []core.MediaKind `json:"published,omitempty"`
	Degraded   []core.MediaKind `json:"degraded,omitempty"`
	Reason     Reason           `json:"reason,omitempty"`
	Summary    *Summary         `json:"summary,omitempty"`
}
