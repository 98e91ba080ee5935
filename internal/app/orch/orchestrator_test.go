package orch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/Roulette/internal/app/call"
	"github.com/dkeye/Roulette/internal/app/matching"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	mu    sync.Mutex
	votes int
}

func (a *stubAPI) StartSearch(ctx context.Context, filter domain.Filter) (core.SearchResult, error) {
	return core.SearchResult{Peer: &domain.Peer{ID: "42", DisplayName: "Anna"}, RoomID: "r1"}, nil
}
func (a *stubAPI) CancelSearch(ctx context.Context) (bool, error) { return true, nil }
func (a *stubAPI) Accept(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (bool, error) {
	return true, nil
}
func (a *stubAPI) Reject(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (bool, error) {
	return true, nil
}
func (a *stubAPI) FetchMediaCredential(ctx context.Context) (string, error) { return "tok123", nil }
func (a *stubAPI) SendContinuationVote(ctx context.Context, peerID domain.UserID, roomID domain.RoomID, wants bool) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.votes++
	return true, nil
}

type stubBus struct {
	mu        sync.Mutex
	connected bool
	events    chan domain.Event
}

func (b *stubBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}
func (b *stubBus) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}
func (b *stubBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}
func (b *stubBus) Subscribe(ctx context.Context, ch domain.ChannelName) error   { return nil }
func (b *stubBus) Unsubscribe(ctx context.Context, ch domain.ChannelName) error { return nil }
func (b *stubBus) Events() <-chan domain.Event                                  { return b.events }
func (b *stubBus) Dropped() <-chan error                                        { return nil }

type stubTransport struct {
	mu     sync.Mutex
	joined int
	events chan core.TransportEvent
}

func (t *stubTransport) JoinRoom(ctx context.Context, roomID domain.RoomID, label, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joined++
	return nil
}
func (t *stubTransport) Publish(ctx context.Context, kind core.MediaKind) error { return nil }
func (t *stubTransport) Unpublish(kind core.MediaKind) error                    { return nil }
func (t *stubTransport) SetMuted(kind core.MediaKind, muted bool)               {}
func (t *stubTransport) SetSpeaker(on bool)                                     {}
func (t *stubTransport) LeaveRoom(ctx context.Context) error                    { return nil }
func (t *stubTransport) RemoteStreams() int                                     { return 1 }
func (t *stubTransport) Events() <-chan core.TransportEvent                     { return t.events }

type fixture struct {
	o          *Orchestrator
	bus        *stubBus
	transports []*stubTransport
	mu         sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{bus: &stubBus{events: make(chan domain.Event, 8)}}
	api := &stubAPI{}
	clk := clock.NewMock()
	m := matching.New(matching.Config{LocalUserID: "7"}, api, f.bus, clk)
	f.o = &Orchestrator{
		Matching: m,
		API:      api,
		Clock:    clk,
		NewTransport: func() core.CallTransport {
			tr := &stubTransport{events: make(chan core.TransportEvent)}
			f.mu.Lock()
			f.transports = append(f.transports, tr)
			f.mu.Unlock()
			return tr
		},
		CallConfig: call.DefaultConfig(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.o.Run(ctx)
	return f
}

func (f *fixture) toCall(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.o.StartSearch(ctx, domain.DefaultFilter()))
	require.Equal(t, matching.Matched, f.o.View().Matching.Kind)

	f.bus.events <- domain.Event{Type: domain.EventAccept, ActorUserID: "42", RoomID: "r1"}
	require.Eventually(t, func() bool { return f.o.View().Matching.Kind == matching.PeerAccepted }, time.Second, time.Millisecond)

	require.NoError(t, f.o.Accept(ctx))
	require.Eventually(t, func() bool {
		v := f.o.View()
		return v.Call != nil && v.Call.Phase == call.Active
	}, time.Second, time.Millisecond)
}

func TestHandoffRunsCallAndResetsMatching(t *testing.T) {
	f := newFixture(t)
	f.toCall(t)

	views, cancel := f.o.Subscribe()
	defer cancel()

	require.NoError(t, f.o.HangUp())
	require.Eventually(t, func() bool {
		v := f.o.View()
		return v.Call.Phase == call.Ended && v.Matching.Kind == matching.Idle
	}, time.Second, time.Millisecond)

	s, ok := f.o.LastSummary()
	require.True(t, ok)
	assert.Equal(t, call.ReasonUserHangUp, s.Reason)
	assert.Equal(t, "Anna", s.PeerName)
	assert.False(t, f.bus.Connected())
	assert.NotEmpty(t, views)
	assert.ErrorIs(t, f.o.HangUp(), ErrNoCall)
}

func TestSecondHandoffWhileLiveIsDropped(t *testing.T) {
	f := newFixture(t)
	f.toCall(t)

	f.o.onHandoff(matching.Handoff{Peer: domain.Peer{ID: "99"}, RoomID: "r2", MediaToken: "x"})
	assert.Equal(t, domain.RoomID("r1"), f.o.View().Call.RoomID)
	f.mu.Lock()
	assert.Len(t, f.transports, 1)
	f.mu.Unlock()

	require.NoError(t, f.o.HangUp())
}

func TestStaleVoteDropped(t *testing.T) {
	f := newFixture(t)
	f.o.forwardVote(domain.ContinuationVote{ActorUserID: "42", RoomID: "r1", WantsContinue: true})
	assert.Nil(t, f.o.View().Call)
	assert.ErrorIs(t, f.o.AnswerContinuation(true), ErrNoCall)
}
