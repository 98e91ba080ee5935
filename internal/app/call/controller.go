package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/Roulette/internal/app"
	"github.com/dkeye/Roulette/internal/app/notify"
	"github.com/dkeye/Roulette/internal/app/timer"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotRenegotiating = errors.New("call: no continuation prompt open")
	ErrCallNotLive      = errors.New("call: not live")
)

type Config struct {
	TotalBudget          time.Duration
	ReservationThreshold time.Duration
	TickInterval         time.Duration
	GraceWindow          time.Duration
	GracePoll            time.Duration
	LivenessTimeout      time.Duration
	LivenessPoll         time.Duration
	CleanupTimeout       time.Duration
	MemberLabel          string
	Media                []core.MediaKind
}

func DefaultConfig() Config {
	return Config{
		TotalBudget:          15 * time.Minute,
		ReservationThreshold: 10 * time.Minute,
		TickInterval:         time.Second,
		GraceWindow:          3 * time.Second,
		GracePoll:            500 * time.Millisecond,
		LivenessTimeout:      10 * time.Second,
		LivenessPoll:         time.Second,
		CleanupTimeout:       5 * time.Second,
		Media:                []core.MediaKind{core.MediaAudio, core.MediaVideo},
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.TotalBudget <= 0 {
		cfg.TotalBudget = def.TotalBudget
	}
	if cfg.ReservationThreshold < 0 {
		cfg.ReservationThreshold = 0
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = def.GraceWindow
	}
	if cfg.GracePoll <= 0 {
		cfg.GracePoll = def.GracePoll
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = def.LivenessTimeout
	}
	if cfg.LivenessPoll <= 0 {
		cfg.LivenessPoll = def.LivenessPoll
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = def.CleanupTimeout
	}
	if len(cfg.Media) == 0 {
		cfg.Media = def.Media
	}
	return cfg
}

// Controller owns the phase and the continuation votes of one call.
// It is handed the peer, room and credential once and is not reused.
type Controller struct {
	cfg       Config
	transport core.CallTransport
	api       core.BackendAPI
	clock     clock.Clock
	policy    app.Policy
	timer     *timer.SessionTimer
	updates   *notify.Hub[Snapshot]

	peer  domain.Peer
	room  domain.RoomID
	token string

	onEnded func(Summary)
	done    chan struct{}
	voteCh  chan struct{}

	mu        sync.Mutex
	phase     Phase
	reason    Reason
	startedAt time.Time
	resumedAt time.Time
	selfVote  *bool
	peerVote  *bool
	prompt    bool
	resolving bool
	published []core.MediaKind
	degraded  []core.MediaKind
	summary   *Summary
	ending    bool
	cancel    context.CancelFunc
}

func New(
	cfg Config,
	peer domain.Peer,
	room domain.RoomID,
	token string,
	transport core.CallTransport,
	api core.BackendAPI,
	clk clock.Clock,
	policy app.Policy,
) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	c := &Controller{
		cfg:       cfg.withDefaults(),
		transport: transport,
		api:       api,
		clock:     clk,
		policy:    policy,
		updates:   notify.NewHub[Snapshot]("call"),
		peer:      peer,
		room:      room,
		token:     token,
		done:      make(chan struct{}),
		voteCh:    make(chan struct{}, 1),
		cancel:    func() {},
	}
	c.timer = timer.New(clk, c.cfg.TickInterval, c.onTimer)
	return c
}

// OnEnded registers fn to run during cleanup, before the phase becomes Ended.
func (c *Controller) OnEnded(fn func(Summary)) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.updates.Subscribe()
}

// Done is closed once the call reaches Ended.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) RoomID() domain.RoomID {
	return c.room
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Start joins the room, publishes local media and starts the countdown.
// It returns once the call is Active or has been ended.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.phase != Connecting || c.ending {
		c.mu.Unlock()
		cancel()
		return ErrCallNotLive
	}
	c.cancel = cancel
	c.publishLocked()
	c.mu.Unlock()

	log.Info().Str("module", "call").Str("room", string(c.room)).Str("peer", string(c.peer.ID)).Msg("joining room")
	if err := c.transport.JoinRoom(ctx, c.room, c.cfg.MemberLabel, c.token); err != nil {
		metrics.MediaFailure("join", app.Abort.String())
		log.Error().Err(err).Str("module", "call").Str("room", string(c.room)).Msg("join failed")
		// no-op when a hangup cancelled the join
		c.end(ReasonError)
		return fmt.Errorf("join room: %w", err)
	}

	var published []core.MediaKind
	failures := make(map[core.MediaKind]error)
	for _, kind := range c.cfg.Media {
		if err := c.transport.Publish(ctx, kind); err != nil {
			failures[kind] = err
			continue
		}
		published = append(published, kind)
	}
	var degraded []core.MediaKind
	for _, kind := range c.cfg.Media {
		err, failed := failures[kind]
		if !failed {
			continue
		}
		action := c.policy.OnPublishFailure(kind, err, published)
		metrics.MediaFailure(string(kind), action.String())
		log.Warn().Err(err).Str("module", "call").Str("kind", string(kind)).Str("action", action.String()).Msg("publish failed")
		if action == app.Abort {
			c.mu.Lock()
			c.published = published
			c.mu.Unlock()
			c.end(ReasonError)
			return fmt.Errorf("publish %s: %w", kind, err)
		}
		degraded = append(degraded, kind)
	}

	c.mu.Lock()
	c.published = published
	c.degraded = degraded
	if c.ending {
		c.mu.Unlock()
		if err := c.transport.LeaveRoom(context.Background()); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("leave after late join")
		}
		return ErrCallNotLive
	}
	c.phase = Active
	c.startedAt = c.clock.Now()
	c.timer.StartCountdown(c.cfg.TotalBudget, c.cfg.ReservationThreshold)
	liveness := c.clock.Ticker(c.cfg.LivenessPoll)
	c.publishLocked()
	c.mu.Unlock()

	metrics.CallStarted()
	log.Info().Str("module", "call").Str("room", string(c.room)).Msg("call active")
	go c.watchTransport(ctx)
	go c.watchLiveness(ctx, liveness)
	return nil
}

// HangUp ends the call at the user's request.
func (c *Controller) HangUp() error {
	c.mu.Lock()
	if !c.phase.Live() {
		c.mu.Unlock()
		return ErrCallNotLive
	}
	c.mu.Unlock()
	c.end(ReasonUserHangUp)
	return nil
}

// AnswerContinuation records the local vote. Only a yes is sent to the
// backend; silence counts as no for the peer.
func (c *Controller) AnswerContinuation(yes bool) error {
	c.mu.Lock()
	if c.phase != RenegotiationPending {
		c.mu.Unlock()
		return ErrNotRenegotiating
	}
	c.selfVote = &yes
	c.prompt = false
	c.publishLocked()
	c.mu.Unlock()

	log.Info().Str("module", "call").Bool("continue", yes).Msg("local continuation vote")
	if yes {
		go c.sendVote()
	}
	c.nudge()
	return nil
}

// OnPeerVote takes a continuation vote relayed by the matching layer.
func (c *Controller) OnPeerVote(v domain.ContinuationVote) {
	if v.ActorUserID != c.peer.ID || (v.RoomID != "" && v.RoomID != c.room) {
		log.Warn().Str("module", "call").Str("actor", string(v.ActorUserID)).Str("room", string(v.RoomID)).
			Msg("vote for another session dropped")
		return
	}
	c.mu.Lock()
	if c.phase != Active && c.phase != RenegotiationPending {
		p := c.phase
		c.mu.Unlock()
		metrics.ProtocolDesync(string(domain.EventContinueCall))
		log.Warn().Str("module", "call").Str("phase", p.String()).Msg("vote outside renegotiation dropped")
		return
	}
	wants := v.WantsContinue
	c.peerVote = &wants
	c.mu.Unlock()

	log.Info().Str("module", "call").Bool("continue", wants).Msg("peer continuation vote")
	c.nudge()
}

func (c *Controller) SetMuted(kind core.MediaKind, muted bool) {
	c.transport.SetMuted(kind, muted)
}

func (c *Controller) SetSpeaker(on bool) {
	c.transport.SetSpeaker(on)
}

// SetCamera publishes or withdraws the local video track.
func (c *Controller) SetCamera(ctx context.Context, on bool) error {
	c.mu.Lock()
	if !c.phase.Live() || c.phase == Connecting {
		c.mu.Unlock()
		return ErrCallNotLive
	}
	has := slices.Contains(c.published, core.MediaVideo)
	c.mu.Unlock()

	switch {
	case on && !has:
		if err := c.transport.Publish(ctx, core.MediaVideo); err != nil {
			return fmt.Errorf("publish video: %w", err)
		}
		c.mu.Lock()
		c.published = append(c.published, core.MediaVideo)
		c.degraded = slices.DeleteFunc(c.degraded, func(k core.MediaKind) bool { return k == core.MediaVideo })
		c.publishLocked()
		c.mu.Unlock()
	case !on && has:
		if err := c.transport.Unpublish(core.MediaVideo); err != nil {
			return fmt.Errorf("unpublish video: %w", err)
		}
		c.mu.Lock()
		c.published = slices.DeleteFunc(c.published, func(k core.MediaKind) bool { return k == core.MediaVideo })
		c.publishLocked()
		c.mu.Unlock()
	}
	return nil
}

func (c *Controller) onTimer(sig timer.Signal) {
	switch sig {
	case timer.SignalTick:
		c.mu.Lock()
		if c.phase.Live() {
			c.publishLocked()
		}
		c.mu.Unlock()
	case timer.SignalReservation:
		c.mu.Lock()
		if c.phase != Active {
			c.mu.Unlock()
			return
		}
		c.phase = RenegotiationPending
		c.prompt = true
		c.publishLocked()
		c.mu.Unlock()
		log.Info().Str("module", "call").Msg("continuation prompt opened")
	case timer.SignalTimedOut:
		c.mu.Lock()
		switch c.phase {
		case Active:
			c.mu.Unlock()
			c.end(ReasonRenegotiationTimeout)
		case RenegotiationPending:
			// grace timers are armed here so they exist before the clock moves on
			deadline := c.clock.Timer(c.cfg.GraceWindow)
			poll := c.clock.Ticker(c.cfg.GracePoll)
			c.resolving = true
			c.publishLocked()
			c.mu.Unlock()
			go c.resolve(deadline, poll)
		default:
			c.mu.Unlock()
		}
	}
}

// resolve waits out the grace window for both votes to be yes, reacting to
// each vote as soon as it lands.
func (c *Controller) resolve(deadline *clock.Timer, poll *clock.Ticker) {
	defer deadline.Stop()
	defer poll.Stop()
	for {
		if c.decide(false) {
			return
		}
		select {
		case <-c.done:
			return
		case <-c.voteCh:
		case <-poll.C:
		case <-deadline.C:
			c.decide(true)
			return
		}
	}
}

// decide applies the vote outcome if one is known; final forces a result.
func (c *Controller) decide(final bool) bool {
	c.mu.Lock()
	if c.phase != RenegotiationPending || c.ending {
		c.mu.Unlock()
		return true
	}
	self, peer := c.selfVote, c.peerVote
	switch {
	case self != nil && !*self, peer != nil && !*peer:
		c.mu.Unlock()
		c.end(ReasonRenegotiationDeclined)
		return true
	case self != nil && peer != nil:
		c.extendLocked()
		c.mu.Unlock()
		return true
	case final:
		c.mu.Unlock()
		c.end(ReasonRenegotiationTimeout)
		return true
	}
	c.mu.Unlock()
	return false
}

func (c *Controller) extendLocked() {
	c.phase = Extended
	c.prompt = false
	c.resolving = false
	c.selfVote = nil
	c.peerVote = nil
	c.resumedAt = c.clock.Now()
	c.timer.StartCountUp()
	c.publishLocked()
	metrics.CallExtended()
	log.Info().Str("module", "call").Str("room", string(c.room)).Msg("call extended")
}

// end moves to Ending once. Local media stops before end returns; leaving the
// room and releasing channels continue in the background.
func (c *Controller) end(reason Reason) {
	c.mu.Lock()
	if c.ending {
		c.mu.Unlock()
		log.Debug().Str("module", "call").Str("reason", string(reason)).Msg("already ending, ignored")
		return
	}
	c.ending = true
	c.phase = Ending
	c.reason = reason
	c.prompt = false
	c.resolving = false
	published := c.published
	c.published = nil
	c.cancel()
	c.publishLocked()
	c.mu.Unlock()

	log.Info().Str("module", "call").Str("room", string(c.room)).Str("reason", string(reason)).Msg("call ending")
	c.timer.Stop()
	for _, kind := range published {
		if err := c.transport.Unpublish(kind); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("kind", string(kind)).Msg("unpublish failed")
		}
	}
	go c.cleanup(reason)
}

func (c *Controller) cleanup(reason Reason) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CleanupTimeout)
	defer cancel()
	if err := c.transport.LeaveRoom(ctx); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("leave room failed")
	}

	c.mu.Lock()
	var d time.Duration
	started := !c.startedAt.IsZero()
	if started {
		d = c.clock.Since(c.startedAt)
	}
	s := newSummary(d, reason, c.peer.DisplayName)
	fn := c.onEnded
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}

	c.mu.Lock()
	c.phase = Ended
	c.summary = &s
	c.publishLocked()
	c.mu.Unlock()

	if started {
		metrics.CallEnded(string(reason))
	}
	log.Info().Str("module", "call").Str("reason", string(reason)).Dur("duration", d).Msg("call ended")
	close(c.done)
	c.updates.Close()
}

func (c *Controller) watchTransport(ctx context.Context) {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case core.MemberStateChanged:
				if ev.Member.Gone() {
					log.Info().Str("module", "call").Str("member", ev.Member.Label).Str("state", string(ev.Member.State)).Msg("peer gone")
					c.end(ReasonPeerLeft)
				}
			case core.RemoteStreamAdded:
				log.Debug().Str("module", "call").Msg("remote stream added")
			case core.AllRemoteStreamsLost:
				// not trusted alone; the liveness watch confirms it
				log.Info().Str("module", "call").Msg("all remote streams lost")
			case core.TransportFailed:
				log.Error().Err(ev.Err).Str("module", "call").Msg("transport failed")
				c.end(ReasonConnectionLost)
			default:
				log.Warn().Str("module", "call").Int("kind", int(ev.Kind)).Msg("unknown transport event")
			}
		}
	}
}

// watchLiveness ends the call once no remote stream has been seen for
// LivenessTimeout without interruption.
func (c *Controller) watchLiveness(ctx context.Context, tk *clock.Ticker) {
	defer tk.Stop()
	var quietSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if c.transport.RemoteStreams() > 0 {
				quietSince = time.Time{}
				continue
			}
			now := c.clock.Now()
			if quietSince.IsZero() {
				quietSince = now
				continue
			}
			if now.Sub(quietSince) >= c.cfg.LivenessTimeout {
				log.Warn().Str("module", "call").Dur("quiet", now.Sub(quietSince)).Msg("no remote media, presumed lost")
				c.end(ReasonConnectionLost)
				return
			}
		}
	}
}

func (c *Controller) sendVote() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CleanupTimeout)
	defer cancel()
	ok, err := c.api.SendContinuationVote(ctx, c.peer.ID, c.room, true)
	if err != nil || !ok {
		log.Warn().Err(err).Str("module", "call").Bool("ok", ok).Msg("continuation vote not delivered")
	}
}

func (c *Controller) nudge() {
	select {
	case c.voteCh <- struct{}{}:
	default:
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:      c.phase,
		Peer:       c.peer,
		RoomID:     c.room,
		ShowPrompt: c.prompt,
		Resolving:  c.resolving,
		Published:  slices.Clone(c.published),
		Degraded:   slices.Clone(c.degraded),
		Reason:     c.reason,
		Summary:    c.summary,
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		s.StartedAt = &t
	}
	if !c.resumedAt.IsZero() {
		t := c.resumedAt
		s.ResumedAt = &t
	}
	if c.phase.Live() {
		s.TimerText = c.timer.Text()
	}
	return s
}

func (c *Controller) publishLocked() {
	c.updates.Publish(c.snapshotLocked())
}
