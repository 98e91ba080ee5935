package domain

type MemberState string

const (
	MemberJoined  MemberState = "joined"
	MemberLeft    MemberState = "left"
	MemberRemoved MemberState = "removed"
)

// Member represents a participant's presence in a media room.
// No transport or lifecycle logic here.
type Member struct {
	Label string      `json:"label"`
	State MemberState `json:"state"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(label string, state MemberState) Member {
	return Member{Label: label, State: state}
}

// Gone reports whether the member is no longer part of the room.
func (m Member) Gone() bool {
	return m.State == MemberLeft || m.State == MemberRemoved
}
