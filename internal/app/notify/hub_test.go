package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversInOrder(t *testing.T) {
	h := NewHub[int]("test")
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		h.Publish(i)
	}
	for i := 0; i < 10; i++ {
		require.Equal(t, i, <-ch)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub[string]("test")
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Len())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())

	h.Publish("nobody listens")
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub[int]("test")
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < defaultBuffer+10; i++ {
		h.Publish(i)
	}
	assert.Len(t, ch, defaultBuffer)
	assert.Equal(t, 0, <-ch)
}

func TestHubClose(t *testing.T) {
	h := NewHub[int]("test")
	ch, _ := h.Subscribe()
	h.Close()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
