package orch

import (
	"context"

	"github.com/dkeye/Roulette/internal/app/call"
	"github.com/dkeye/Roulette/internal/app/matching"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/rs/zerolog/log"
)

// onHandoff takes ownership of a mutual acceptance and starts its call.
// A handoff while another call is live is dropped.
func (o *Orchestrator) onHandoff(h matching.Handoff) {
	o.init()
	o.mu.Lock()
	if o.current != nil && o.current.Snapshot().Phase.Live() {
		room := o.current.RoomID()
		o.mu.Unlock()
		log.Warn().Str("module", "orch").Str("room", string(h.RoomID)).Str("live", string(room)).
			Msg("call already live, handoff dropped")
		return
	}
	ctx := o.ctx
	ctrl := call.New(o.CallConfig, h.Peer, h.RoomID, h.MediaToken, o.NewTransport(), o.API, o.Clock, o.Policy)
	ctrl.OnEnded(func(s call.Summary) { o.onCallEnded(h.RoomID, s) })
	o.current = ctrl
	o.mu.Unlock()

	snaps, cancel := ctrl.Subscribe()
	go o.pumpCall(snaps, cancel)
	go func() {
		if err := ctrl.Start(ctx); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("room", string(h.RoomID)).Msg("call setup failed")
		}
	}()
}

// onCallEnded releases the matching channels of the finished call.
func (o *Orchestrator) onCallEnded(room domain.RoomID, s call.Summary) {
	log.Info().Str("module", "orch").Str("room", string(room)).Str("reason", string(s.Reason)).
		Dur("duration", s.Duration).Msg("call finished, resetting matching")
	o.Matching.Reset(context.Background())
}

func (o *Orchestrator) pumpCall(snaps <-chan call.Snapshot, cancel func()) {
	defer cancel()
	for range snaps {
		o.publish()
	}
	o.publish()
}

func (o *Orchestrator) forwardVote(v domain.ContinuationVote) {
	o.mu.Lock()
	c := o.current
	o.mu.Unlock()
	if c == nil || c.RoomID() != v.RoomID {
		log.Warn().Str("module", "orch").Str("room", string(v.RoomID)).Msg("vote without a matching call dropped")
		return
	}
	c.OnPeerVote(v)
}

func (o *Orchestrator) HangUp() error {
	c := o.liveCall()
	if c == nil {
		return ErrNoCall
	}
	return c.HangUp()
}

func (o *Orchestrator) AnswerContinuation(yes bool) error {
	c := o.liveCall()
	if c == nil {
		return ErrNoCall
	}
	return c.AnswerContinuation(yes)
}

func (o *Orchestrator) SetMuted(kind core.MediaKind, muted bool) error {
	c := o.liveCall()
	if c == nil {
		return ErrNoCall
	}
	c.SetMuted(kind, muted)
	return nil
}

func (o *Orchestrator) SetSpeaker(on bool) error {
	c := o.liveCall()
	if c == nil {
		return ErrNoCall
	}
	c.SetSpeaker(on)
	return nil
}

func (o *Orchestrator) SetCamera(ctx context.Context, on bool) error {
	c := o.liveCall()
	if c == nil {
		return ErrNoCall
	}
	return c.SetCamera(ctx, on)
}

// LastSummary returns the terminal summary of the most recent call, if any.
func (o *Orchestrator) LastSummary() (call.Summary, bool) {
	o.mu.Lock()
	c := o.current
	o.mu.Unlock()
	if c == nil {
		return call.Summary{}, false
	}
	s := c.Snapshot()
	if s.Summary == nil {
		return call.Summary{}, false
	}
	return *s.Summary, true
}
