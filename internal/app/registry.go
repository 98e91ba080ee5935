package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

type ChannelKind int

const (
	// ChannelPersonal is the user's own channel; matches found by others arrive here.
	ChannelPersonal ChannelKind = iota
	// ChannelRoom is scoped to one matching attempt.
	ChannelRoom
)

type channelEntry struct {
	Kind ChannelKind
	Room domain.RoomID
}

// Registry tracks which realtime channels the client is subscribed to,
// so teardown can release exactly what was taken.
type Registry struct {
	mu       sync.RWMutex
	channels map[domain.ChannelName]*channelEntry
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[domain.ChannelName]*channelEntry),
	}
}

func (r *Registry) Bind(name domain.ChannelName, kind ChannelKind, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[name] = &channelEntry{Kind: kind, Room: room}
	log.Debug().Str("module", "app.registry").Str("channel", string(name)).Msg("bound channel")
}

func (r *Registry) Unbind(name domain.ChannelName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, name)
	log.Debug().Str("module", "app.registry").Str("channel", string(name)).Msg("unbind channel")
}

func (r *Registry) Has(name domain.ChannelName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[name]
	return ok
}

// RoomOf returns the room a room-scoped channel belongs to.
func (r *Registry) RoomOf(name domain.ChannelName) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.channels[name]
	if !ok || e.Kind != ChannelRoom {
		return "", false
	}
	return e.Room, true
}

// Names returns the bound channels, room channels first, in a stable order.
func (r *Registry) Names() []domain.ChannelName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelName, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := r.channels[out[i]].Kind, r.channels[out[j]].Kind
		if ki != kj {
			return ki == ChannelRoom
		}
		return out[i] < out[j]
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
