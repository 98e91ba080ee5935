package rtc

import (
	"errors"
	"sync/atomic"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

var ErrTrackStopped = errors.New("local track stopped")

// LocalTrack is one published outgoing track. Samples come from an
// external capture source through WriteRTP.
type LocalTrack struct {
	Kind  core.MediaKind
	Track *webrtc.TrackLocalStaticRTP

	state   atomic.Int32 // Zero by default (TrackStateOk)
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func codecFor(kind core.MediaKind) (webrtc.RTPCodecCapability, error) {
	switch kind {
	case core.MediaAudio:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, nil
	case core.MediaVideo:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, nil
	default:
		return webrtc.RTPCodecCapability{}, errors.New("unknown media kind " + string(kind))
	}
}

func NewLocalTrack(kind core.MediaKind, streamID string) (*LocalTrack, error) {
	codec, err := codecFor(kind)
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, string(kind), streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{Kind: kind, Track: track}, nil
}

func (lt *LocalTrack) GetState() TrackState {
	return TrackState(lt.state.Load())
}

// SetMuted flips between ok and muted. A stopped track stays stopped.
func (lt *LocalTrack) SetMuted(muted bool) {
	from, to := TrackStateMuted, TrackStateOk
	if muted {
		from, to = TrackStateOk, TrackStateMuted
	}
	lt.state.CompareAndSwap(int32(from), int32(to))
}

func (lt *LocalTrack) Stop() {
	lt.state.Store(int32(TrackStateStopped))
}

// WriteRTP forwards a captured packet unless the track is muted.
func (lt *LocalTrack) WriteRTP(pkt *rtp.Packet) error {
	switch lt.GetState() {
	case TrackStateStopped:
		return ErrTrackStopped
	case TrackStateMuted:
		lt.dropped.Add(1)
		return nil
	}
	if err := lt.Track.WriteRTP(pkt); err != nil {
		return err
	}
	lt.sent.Add(1)
	return nil
}

func (lt *LocalTrack) Stats() (sent, dropped uint64) {
	return lt.sent.Load(), lt.dropped.Load()
}
