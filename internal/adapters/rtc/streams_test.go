package rtc

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTrack feeds packets until closed.
type fakeTrack struct {
	pkts chan *rtp.Packet
	once sync.Once
}

func newFakeTrack() *fakeTrack { return &fakeTrack{pkts: make(chan *rtp.Packet, 8)} }

func (f *fakeTrack) read() (*rtp.Packet, error) {
	p, ok := <-f.pkts
	if !ok {
		return nil, io.EOF
	}
	return p, nil
}

func (f *fakeTrack) end() { f.once.Do(func() { close(f.pkts) }) }

func TestStreamAccountingReportsAllLost(t *testing.T) {
	var added, lost atomic.Int32
	s := newStreamSet(nil)
	s.onAdded = func() { added.Add(1) }
	s.onAllLost = func() { lost.Add(1) }

	audio, video := newFakeTrack(), newFakeTrack()
	s.start(context.Background(), "a", core.MediaAudio, audio.read)
	s.start(context.Background(), "v", core.MediaVideo, video.read)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int32(2), added.Load())

	audio.end()
	require.Eventually(t, func() bool { return s.Len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), lost.Load())

	video.end()
	require.Eventually(t, func() bool { return lost.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestSpeakerGatesAudioOnly(t *testing.T) {
	var mu sync.Mutex
	got := map[core.MediaKind]int{}
	s := newStreamSet(func(kind core.MediaKind, _ *rtp.Packet) {
		mu.Lock()
		got[kind]++
		mu.Unlock()
	})
	count := func(k core.MediaKind) int {
		mu.Lock()
		defer mu.Unlock()
		return got[k]
	}

	audio, video := newFakeTrack(), newFakeTrack()
	defer audio.end()
	defer video.end()
	s.start(context.Background(), "a", core.MediaAudio, audio.read)
	s.start(context.Background(), "v", core.MediaVideo, video.read)

	audio.pkts <- &rtp.Packet{}
	require.Eventually(t, func() bool { return count(core.MediaAudio) == 1 }, time.Second, time.Millisecond)

	s.SetSpeaker(false)
	audio.pkts <- &rtp.Packet{}
	video.pkts <- &rtp.Packet{}
	require.Eventually(t, func() bool { return count(core.MediaVideo) == 1 }, time.Second, time.Millisecond)
	// the muted audio packet has been read by now or is about to be; it must not arrive
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, count(core.MediaAudio))
}

func TestReplacedStreamDoesNotDropNewOne(t *testing.T) {
	var lost atomic.Int32
	s := newStreamSet(nil)
	s.onAllLost = func() { lost.Add(1) }

	old, cur := newFakeTrack(), newFakeTrack()
	defer cur.end()
	s.start(context.Background(), "a", core.MediaAudio, old.read)
	s.start(context.Background(), "a", core.MediaAudio, cur.read)
	old.end()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int32(0), lost.Load())
}

func TestStopAllIsSilent(t *testing.T) {
	var lost atomic.Int32
	s := newStreamSet(nil)
	s.onAllLost = func() { lost.Add(1) }
	tr := newFakeTrack()
	s.start(context.Background(), "a", core.MediaAudio, tr.read)

	s.stopAll()
	tr.end()
	s.wg.Wait()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int32(0), lost.Load())
}
