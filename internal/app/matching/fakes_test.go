package matching

import (
	"context"
	"sync"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
)

type fakeAPI struct {
	mu         sync.Mutex
	searches   int
	cancels    int
	accepts    int
	rejects    int
	votes      []bool
	search     func() (core.SearchResult, error)
	cancel     func() (bool, error)
	accept     func() (bool, error)
	reject     func() (bool, error)
	credential func(ctx context.Context) (string, error)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		search:     func() (core.SearchResult, error) { return core.SearchResult{}, nil },
		cancel:     func() (bool, error) { return true, nil },
		accept:     func() (bool, error) { return true, nil },
		reject:     func() (bool, error) { return true, nil },
		credential: func(context.Context) (string, error) { return "tok123", nil },
	}
}

func (f *fakeAPI) StartSearch(ctx context.Context, filter domain.Filter) (core.SearchResult, error) {
	f.mu.Lock()
	f.searches++
	fn := f.search
	f.mu.Unlock()
	return fn()
}

func (f *fakeAPI) CancelSearch(ctx context.Context) (bool, error) {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	return f.cancel()
}

func (f *fakeAPI) Accept(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (bool, error) {
	f.mu.Lock()
	f.accepts++
	f.mu.Unlock()
	return f.accept()
}

func (f *fakeAPI) Reject(ctx context.Context, peerID domain.UserID, roomID domain.RoomID) (bool, error) {
	f.mu.Lock()
	f.rejects++
	f.mu.Unlock()
	return f.reject()
}

func (f *fakeAPI) FetchMediaCredential(ctx context.Context) (string, error) {
	return f.credential(ctx)
}

func (f *fakeAPI) SendContinuationVote(ctx context.Context, peerID domain.UserID, roomID domain.RoomID, wantsContinue bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, wantsContinue)
	return true, nil
}

func (f *fakeAPI) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

type fakeBus struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	disconnects int
	subscribed  map[domain.ChannelName]bool
	events      chan domain.Event
	dropped     chan error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subscribed: make(map[domain.ChannelName]bool),
		events:     make(chan domain.Event, 16),
		dropped:    make(chan error, 1),
	}
}

func (b *fakeBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBus) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.disconnects++
}

func (b *fakeBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) Subscribe(ctx context.Context, ch domain.ChannelName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed[ch] = true
	return nil
}

func (b *fakeBus) Unsubscribe(ctx context.Context, ch domain.ChannelName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribed, ch)
	return nil
}

func (b *fakeBus) Events() <-chan domain.Event {
	return b.events
}

func (b *fakeBus) Dropped() <-chan error {
	return b.dropped
}

// drop simulates the server closing the socket: subscriptions are kept.
func (b *fakeBus) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *fakeBus) setConnectErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

func (b *fakeBus) has(ch domain.ChannelName) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed[ch]
}

func (b *fakeBus) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribed)
}
