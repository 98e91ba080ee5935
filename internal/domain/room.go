package domain

type (
	RoomID      string
	ChannelName string
)

// UserChannel is the personal channel where the backend announces matches found
// by the other side's search.
func UserChannel(id UserID) ChannelName {
	return ChannelName("user." + string(id))
}

// RoomChannel is the pairing-scoped channel of one matching attempt.
func RoomChannel(id RoomID) ChannelName {
	return ChannelName("room." + string(id))
}
