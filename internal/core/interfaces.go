package core

import (
	"context"

	"github.com/dkeye/Roulette/internal/domain"
)

// SearchResult is the backend's answer to a search request.
// Peer is nil while the backend is still looking; the match then arrives as an event.
type SearchResult struct {
	Peer   *domain.Peer  `json:"peer,omitempty"`
	RoomID domain.RoomID `json:"room_id,omitempty"`
}

// BackendAPI is the matching backend as seen by the client core.
// Every call is safe to retry; success flags are advisory.
type BackendAPI interface {
	StartSearch(ctx context.Context, filter domain.Filter) (SearchResult, error)
	CancelSearch(ctx context.Context) (bool, error)
	Accept(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (bool, error)
	Reject(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (bool, error)
	FetchMediaCredential(ctx context.Context) (string, error)
	SendContinuationVote(ctx context.Context, peerID domain.UserID, roomID domain.RoomID, wantsContinue bool) (bool, error)
}
