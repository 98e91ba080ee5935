// Package rtc is the pion based CallTransport: one PeerConnection and one
// signaling websocket per room.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyJoined = errors.New("rtc: room already joined")
	ErrNotJoined     = errors.New("rtc: not in a room")
)

type Options struct {
	SignalURL      string
	ICEServers     []string
	ConnectTimeout time.Duration
	// Sink plays remote media. Nil discards it.
	Sink Sink
}

type Transport struct {
	opts Options

	mu      sync.Mutex
	conn    *Connection
	sig     *signalConn
	room    domain.RoomID
	label   string
	local   map[core.MediaKind]*LocalTrack
	senders map[core.MediaKind]*webrtc.RTPSender
	left    bool
	cancel  context.CancelFunc

	negotiate sync.Mutex
	answers   chan webrtc.SessionDescription

	streams *streamSet
	events  chan core.TransportEvent
}

var _ core.CallTransport = (*Transport)(nil)

func New(opts Options) *Transport {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	t := &Transport{
		opts:    opts,
		local:   make(map[core.MediaKind]*LocalTrack),
		senders: make(map[core.MediaKind]*webrtc.RTPSender),
		answers: make(chan webrtc.SessionDescription, 1),
		streams: newStreamSet(opts.Sink),
		events:  make(chan core.TransportEvent, 32),
	}
	t.streams.onAdded = func() { t.emit(core.TransportEvent{Kind: core.RemoteStreamAdded}) }
	t.streams.onAllLost = func() { t.emit(core.TransportEvent{Kind: core.AllRemoteStreamsLost}) }
	return t
}

func (t *Transport) JoinRoom(ctx context.Context, roomID domain.RoomID, memberLabel, token string) error {
	t.mu.Lock()
	if t.conn != nil || t.left {
		t.mu.Unlock()
		return ErrAlreadyJoined
	}
	conn, err := NewConnection(WebRTCConfig(t.opts.ICEServers), string(roomID))
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("rtc: new peer connection: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	t.conn, t.room, t.label, t.cancel = conn, roomID, memberLabel, cancel
	t.mu.Unlock()

	conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := core.MediaVideo
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			kind = core.MediaAudio
		}
		t.streams.start(ctx, track.ID(), kind, func() (*rtp.Packet, error) {
			pkt, _, err := track.ReadRTP()
			return pkt, err
		})
	})
	conn.OnFailed(func(err error) { t.fail(err) })

	if err := conn.Start(runCtx); err != nil {
		return t.abortJoin(fmt.Errorf("rtc: start: %w", err))
	}

	sig, err := dialSignal(ctx, t.opts.SignalURL, roomID, memberLabel, token, t.opts.ConnectTimeout)
	if err != nil {
		return t.abortJoin(fmt.Errorf("rtc: signaling: %w", err))
	}
	t.mu.Lock()
	if t.left {
		t.mu.Unlock()
		sig.Close()
		return ErrNotJoined
	}
	t.sig = sig
	t.mu.Unlock()

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if err := sig.sendJSON(candidateMessage(ci)); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("send candidate")
		}
	})
	go sig.writePump()
	go func() {
		err := sig.readPump(t.handleSignal)
		if runCtx.Err() == nil {
			t.fail(fmt.Errorf("signaling closed: %w", err))
		}
	}()

	if err := t.renegotiate(ctx); err != nil {
		return t.abortJoin(fmt.Errorf("rtc: negotiate: %w", err))
	}
	log.Info().Str("module", "rtc").Str("room", string(roomID)).Str("label", memberLabel).Msg("joined room")
	return nil
}

func (t *Transport) abortJoin(err error) error {
	if leaveErr := t.LeaveRoom(context.Background()); leaveErr != nil {
		log.Warn().Err(leaveErr).Str("module", "rtc").Msg("cleanup after failed join")
	}
	return err
}

func (t *Transport) handleSignal(msg signalMessage) {
	switch msg.Type {
	case "answer":
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
		select {
		case t.answers <- answer:
		default:
			log.Warn().Str("module", "rtc").Msg("unexpected answer dropped")
		}
	case "candidate":
		conn := t.connection()
		if conn == nil {
			return
		}
		if err := conn.AddICECandidate(msg.candidateInit()); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("add ice candidate")
		}
	case "member_state":
		if msg.Label == t.memberLabel() {
			return
		}
		t.emit(core.TransportEvent{
			Kind:   core.MemberStateChanged,
			Member: domain.NewMember(msg.Label, msg.State),
		})
	default:
		log.Warn().Str("module", "rtc").Str("type", msg.Type).Msg("unknown signal")
	}
}

// renegotiate runs one offer/answer round. Rounds never overlap.
func (t *Transport) renegotiate(ctx context.Context) error {
	t.negotiate.Lock()
	defer t.negotiate.Unlock()

	conn, sig := t.connection(), t.signal()
	if conn == nil || sig == nil {
		return ErrNotJoined
	}
	select {
	case <-t.answers:
	default:
	}

	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		return err
	}
	if err := sig.sendJSON(signalMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		return err
	}
	select {
	case answer := <-t.answers:
		return conn.ApplyAnswer(answer)
	case <-ctx.Done():
		return ctx.Err()
	case <-sig.done:
		return errors.New("signaling closed")
	}
}

func (t *Transport) Publish(ctx context.Context, kind core.MediaKind) error {
	t.mu.Lock()
	conn := t.conn
	if conn == nil || t.left {
		t.mu.Unlock()
		return ErrNotJoined
	}
	if _, ok := t.local[kind]; ok {
		t.mu.Unlock()
		return nil
	}
	lt, err := NewLocalTrack(kind, t.label)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	sender, err := conn.AddLocalTrack(lt.Track)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("rtc: add %s track: %w", kind, err)
	}
	t.local[kind] = lt
	t.senders[kind] = sender
	t.mu.Unlock()

	if err := t.renegotiate(ctx); err != nil {
		if rmErr := t.Unpublish(kind); rmErr != nil {
			log.Warn().Err(rmErr).Str("module", "rtc").Msg("rollback publish")
		}
		return fmt.Errorf("rtc: publish %s: %w", kind, err)
	}
	log.Info().Str("module", "rtc").Str("kind", string(kind)).Msg("published")
	return nil
}

func (t *Transport) Unpublish(kind core.MediaKind) error {
	t.mu.Lock()
	lt, ok := t.local[kind]
	sender := t.senders[kind]
	conn := t.conn
	delete(t.local, kind)
	delete(t.senders, kind)
	left := t.left
	t.mu.Unlock()
	if !ok {
		return nil
	}
	lt.Stop()
	if left || conn == nil {
		return nil
	}
	if err := conn.RemoveTrack(sender); err != nil {
		return fmt.Errorf("rtc: remove %s track: %w", kind, err)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.ConnectTimeout)
		defer cancel()
		if err := t.renegotiate(ctx); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("kind", string(kind)).Msg("renegotiate after unpublish")
		}
	}()
	return nil
}

func (t *Transport) SetMuted(kind core.MediaKind, muted bool) {
	t.mu.Lock()
	lt, ok := t.local[kind]
	t.mu.Unlock()
	if ok {
		lt.SetMuted(muted)
	}
}

func (t *Transport) SetSpeaker(on bool) {
	t.streams.SetSpeaker(on)
}

// WriteRTP feeds a captured packet into the published track of kind.
func (t *Transport) WriteRTP(kind core.MediaKind, pkt *rtp.Packet) error {
	t.mu.Lock()
	lt, ok := t.local[kind]
	t.mu.Unlock()
	if !ok {
		return ErrTrackStopped
	}
	return lt.WriteRTP(pkt)
}

func (t *Transport) LeaveRoom(ctx context.Context) error {
	t.mu.Lock()
	if t.left {
		t.mu.Unlock()
		return nil
	}
	t.left = true
	conn, sig, cancel := t.conn, t.sig, t.cancel
	for kind, lt := range t.local {
		lt.Stop()
		delete(t.local, kind)
		delete(t.senders, kind)
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.streams.stopAll()
	if sig != nil {
		_ = sig.sendJSON(signalMessage{Type: "leave"})
		timeout := time.Second
		if d, ok := ctx.Deadline(); ok {
			timeout = time.Until(d)
		}
		sig.flush(timeout)
	}
	if conn == nil {
		return nil
	}
	log.Info().Str("module", "rtc").Str("room", string(t.room)).Msg("left room")
	return conn.Close()
}

func (t *Transport) RemoteStreams() int {
	return t.streams.Len()
}

func (t *Transport) Events() <-chan core.TransportEvent {
	return t.events
}

func (t *Transport) fail(err error) {
	t.mu.Lock()
	left := t.left
	t.mu.Unlock()
	if left {
		return
	}
	t.emit(core.TransportEvent{Kind: core.TransportFailed, Err: err})
}

func (t *Transport) emit(ev core.TransportEvent) {
	select {
	case t.events <- ev:
	default:
		log.Warn().Str("module", "rtc").Int("kind", int(ev.Kind)).Msg("transport event dropped")
	}
}

func (t *Transport) connection() *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *Transport) signal() *signalConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sig
}

func (t *Transport) memberLabel() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.label
}
