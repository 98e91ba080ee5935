package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives remote RTP for playback.
type Sink func(kind core.MediaKind, pkt *rtp.Packet)

type remoteStream struct {
	id      string
	kind    core.MediaKind
	packets atomic.Uint64
	cancel  context.CancelFunc
}

// streamSet accounts for the remote streams of one room and runs a read
// loop per stream.
type streamSet struct {
	mu      sync.Mutex
	streams map[string]*remoteStream

	sink    Sink
	speaker atomic.Bool

	onAdded   func()
	onAllLost func()

	wg sync.WaitGroup
}

func newStreamSet(sink Sink) *streamSet {
	s := &streamSet{streams: make(map[string]*remoteStream), sink: sink}
	s.speaker.Store(true)
	return s
}

// start registers the stream under id and reads it until read fails or
// ctx ends. A stream with the same id is replaced.
func (s *streamSet) start(ctx context.Context, id string, kind core.MediaKind, read func() (*rtp.Packet, error)) {
	logger := log.With().
		Str("module", "rtc.streams").
		Str("track_id", id).
		Str("kind", string(kind)).
		Logger()

	streamCtx, cancel := context.WithCancel(ctx)
	rs := &remoteStream{id: id, kind: kind, cancel: cancel}

	s.mu.Lock()
	if old, ok := s.streams[id]; ok {
		logger.Info().Msg("replacing existing remote stream")
		old.cancel()
	}
	s.streams[id] = rs
	added := s.onAdded
	s.mu.Unlock()

	if added != nil {
		added()
	}

	s.wg.Add(1)
	go s.loop(streamCtx, rs, read, &logger)
}

func (s *streamSet) loop(ctx context.Context, rs *remoteStream, read func() (*rtp.Packet, error), logger *zerolog.Logger) {
	defer s.wg.Done()
	defer s.remove(rs)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("remote stream ctx done")
			return
		default:
		}
		pkt, err := read()
		if err != nil {
			logger.Info().Err(err).Uint64("packets", rs.packets.Load()).Msg("remote stream ended")
			return
		}
		rs.packets.Add(1)
		s.forward(rs.kind, pkt)
	}
}

func (s *streamSet) forward(kind core.MediaKind, pkt *rtp.Packet) {
	if s.sink == nil {
		return
	}
	if kind == core.MediaAudio && !s.speaker.Load() {
		return
	}
	s.sink(kind, pkt)
}

func (s *streamSet) remove(rs *remoteStream) {
	s.mu.Lock()
	cur, ok := s.streams[rs.id]
	if !ok || cur != rs {
		s.mu.Unlock()
		return
	}
	delete(s.streams, rs.id)
	var lost func()
	if len(s.streams) == 0 {
		lost = s.onAllLost
	}
	s.mu.Unlock()

	if lost != nil {
		lost()
	}
}

func (s *streamSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *streamSet) SetSpeaker(on bool) {
	s.speaker.Store(on)
}

// stopAll cancels every loop without reporting the loss.
func (s *streamSet) stopAll() {
	s.mu.Lock()
	s.onAllLost = nil
	for id, rs := range s.streams {
		rs.cancel()
		delete(s.streams, id)
	}
	s.mu.Unlock()
}
