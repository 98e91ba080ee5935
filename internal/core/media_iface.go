package core

import (
	"context"

	"github.com/dkeye/Roulette/internal/domain"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type TransportEventKind int

const (
	// MemberStateChanged carries the remote member's new presence state.
	MemberStateChanged TransportEventKind = iota
	RemoteStreamAdded
	// AllRemoteStreamsLost is best-effort; callers confirm it with RemoteStreams.
	AllRemoteStreamsLost
	TransportFailed
)

type TransportEvent struct {
	Kind   TransportEventKind
	Member domain.Member
	Err    error
}

// CallTransport wraps the P2P media session of one room.
type CallTransport interface {
	// JoinRoom joins the room and establishes the local stream.
	JoinRoom(ctx context.Context, roomID domain.RoomID, memberLabel, token string) error
	Publish(ctx context.Context, kind MediaKind) error
	Unpublish(kind MediaKind) error
	SetMuted(kind MediaKind, muted bool)
	SetSpeaker(on bool)
	// LeaveRoom releases the room and every track. Safe to call more than once.
	LeaveRoom(ctx context.Context) error
	// RemoteStreams is the number of remote streams currently subscribed.
	RemoteStreams() int
	Events() <-chan TransportEvent
}
