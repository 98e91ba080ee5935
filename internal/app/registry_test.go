package app

import (
	"errors"
	"testing"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRegistryNamesRoomFirst(t *testing.T) {
	r := NewRegistry()
	r.Bind(domain.UserChannel("42"), ChannelPersonal, "")
	r.Bind(domain.RoomChannel("r1"), ChannelRoom, "r1")

	assert.Equal(t, []domain.ChannelName{"room.r1", "user.42"}, r.Names())
	room, ok := r.RoomOf("room.r1")
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("r1"), room)

	_, ok = r.RoomOf("user.42")
	assert.False(t, ok)

	r.Unbind("room.r1")
	assert.False(t, r.Has("room.r1"))
	assert.Equal(t, 1, r.Len())
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{}
	boom := errors.New("boom")
	assert.Equal(t, Degrade, p.OnPublishFailure(core.MediaVideo, boom, []core.MediaKind{core.MediaAudio}))
	assert.Equal(t, Abort, p.OnPublishFailure(core.MediaVideo, boom, nil))
}
