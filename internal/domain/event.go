package domain

type EventType string

const (
	EventMatched      EventType = "matched"
	EventAccept       EventType = "accept"
	EventReject       EventType = "reject"
	EventContinueCall EventType = "continue_call"
)

// Event is one inbound realtime event as fanned out by the backend.
// The actor is whoever caused it, including the local user (echo).
type Event struct {
	Type        EventType   `json:"type"`
	ActorUserID UserID      `json:"actor_user_id"`
	Peer        *Peer       `json:"peer,omitempty"`
	RoomID      RoomID      `json:"room_id,omitempty"`
	Continue    *bool       `json:"continue,omitempty"`
	Channel     ChannelName `json:"-"`
}

// WantsContinue reads the vote carried by a continue_call event.
// Only affirmative votes are transmitted, so a missing flag means yes.
func (e Event) WantsContinue() bool {
	if e.Continue == nil {
		return true
	}
	return *e.Continue
}

// ContinuationVote is a peer's continue_call vote handed to the call layer.
type ContinuationVote struct {
	ActorUserID   UserID `json:"actor_user_id"`
	RoomID        RoomID `json:"room_id"`
	WantsContinue bool   `json:"wants_continue"`
}
