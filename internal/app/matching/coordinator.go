package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/Roulette/internal/app"
	"github.com/dkeye/Roulette/internal/app/notify"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidTransition = errors.New("matching: invalid transition")
	ErrRequestDeclined   = errors.New("matching: backend declined request")
	ErrEmptyCredential   = errors.New("matching: empty media credential")
)

type Config struct {
	LocalUserID domain.UserID
	// SearchDelay is waited before the search endpoint is called by ScheduleSearch.
	SearchDelay time.Duration
	// RematchDelay is waited before searching again after a rejection.
	RematchDelay time.Duration
	AutoRematch  bool
}

type eventHandler func(ctx context.Context, ev domain.Event)

// Coordinator owns the matching state. Every transition is applied under mu
// and re-validated against the attempt counter after each blocking call.
type Coordinator struct {
	cfg   Config
	api   core.BackendAPI
	bus   core.RealtimeBus
	clock clock.Clock
	subs  *app.Registry

	updates   *notify.Hub[Update]
	votes     *notify.Hub[domain.ContinuationVote]
	handlers  map[domain.EventType]eventHandler
	onHandoff func(Handoff)

	mu           sync.Mutex
	state        State
	attempt      uint64
	filter       domain.Filter
	selfAccepted bool
	peerAccepted bool
	token        string
	handedOff    bool
	autoRestart  bool
	pending      context.CancelFunc
}

func New(cfg Config, api core.BackendAPI, bus core.RealtimeBus, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	c := &Coordinator{
		cfg:     cfg,
		api:     api,
		bus:     bus,
		clock:   clk,
		subs:    app.NewRegistry(),
		updates: notify.NewHub[Update]("matching"),
		votes:   notify.NewHub[domain.ContinuationVote]("matching.votes"),
		filter:  domain.DefaultFilter(),
	}
	c.handlers = map[domain.EventType]eventHandler{
		domain.EventMatched:      c.onMatched,
		domain.EventAccept:       c.onAccept,
		domain.EventReject:       c.onReject,
		domain.EventContinueCall: c.onContinue,
	}
	return c
}

// OnHandoff registers fn to receive the mutual acceptance of each attempt.
// fn is called once per attempt, without any lock held.
func (c *Coordinator) OnHandoff(fn func(Handoff)) {
	c.mu.Lock()
	c.onHandoff = fn
	c.mu.Unlock()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Filter() domain.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Subscribe streams state changes in the order they were applied.
func (c *Coordinator) Subscribe() (<-chan Update, func()) {
	return c.updates.Subscribe()
}

// Votes streams continuation votes cast by the peer.
func (c *Coordinator) Votes() (<-chan domain.ContinuationVote, func()) {
	return c.votes.Subscribe()
}

// Run dispatches bus events and connection drops until ctx ends or the
// bus closes its stream.
func (c *Coordinator) Run(ctx context.Context) {
	events, dropped := c.bus.Events(), c.bus.Dropped()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ctx, ev)
		case cause := <-dropped:
			c.HandleDrop(ctx, cause)
		}
	}
}

// HandleDrop reconnects after the server closed the bus so the attempt in
// progress keeps its channels. A failed reconnect ends the attempt in Failed,
// except during a handed-off call, which the call layer owns.
func (c *Coordinator) HandleDrop(ctx context.Context, cause error) {
	c.mu.Lock()
	k, attempt := c.state.Kind, c.attempt
	c.mu.Unlock()
	if k == Idle || k == Failed {
		log.Debug().Err(cause).Str("module", "matching").Msg("realtime drop while idle")
		return
	}
	log.Warn().Err(cause).Str("module", "matching").Str("state", k.String()).Msg("realtime connection lost, reconnecting")

	err := c.bus.Connect(ctx)
	if err == nil {
		return
	}
	if k == BothAccepted {
		log.Error().Err(err).Str("module", "matching").Msg("reconnect failed during call")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return
	}
	c.cancelPendingLocked()
	c.attempt++
	c.clearAttemptLocked()
	c.failLocked(fmt.Errorf("realtime connection lost: %w", err))
}

// HandleEvent applies one inbound event. Echoes of local actions are
// dropped before any state is looked at.
func (c *Coordinator) HandleEvent(ctx context.Context, ev domain.Event) {
	if ev.ActorUserID == c.cfg.LocalUserID {
		log.Debug().Str("module", "matching").Str("type", string(ev.Type)).Msg("echo ignored")
		return
	}
	h, ok := c.handlers[ev.Type]
	if !ok {
		log.Warn().Str("module", "matching").Str("type", string(ev.Type)).Msg("unknown event ignored")
		return
	}
	h(ctx, ev)
}

// StartSearch enters the pool from Idle or Failed and calls the search endpoint right away.
func (c *Coordinator) StartSearch(ctx context.Context, filter domain.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if !c.state.Startable() {
		k := c.state.Kind
		c.mu.Unlock()
		return fmt.Errorf("%w: start search from %s", ErrInvalidTransition, k)
	}
	attempt := c.beginLocked(filter)
	c.mu.Unlock()

	metrics.SearchStarted("user")
	return c.search(ctx, attempt, false)
}

// ScheduleSearch enters Searching now and calls the search endpoint after
// SearchDelay. Failures are reported through Subscribe.
func (c *Coordinator) ScheduleSearch(filter domain.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Startable() {
		return fmt.Errorf("%w: schedule search from %s", ErrInvalidTransition, c.state.Kind)
	}
	attempt := c.beginLocked(filter)
	c.armLocked(attempt, c.cfg.SearchDelay, false)
	return nil
}

// CancelSearch leaves the pool. The backend's success flag is advisory:
// the local state always ends in Idle.
func (c *Coordinator) CancelSearch(ctx context.Context) error {
	c.mu.Lock()
	switch c.state.Kind {
	case Searching, Matched, Rejected:
	default:
		k := c.state.Kind
		c.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, k)
	}
	c.resetLocked()
	c.mu.Unlock()

	ok, err := c.api.CancelSearch(ctx)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("module", "matching").Msg("cancel request failed")
	case !ok:
		log.Info().Str("module", "matching").Msg("search already resolved on backend")
	}
	c.teardown(ctx, true)
	if err != nil {
		return fmt.Errorf("cancel search: %w", err)
	}
	return nil
}

// Accept marks the local acceptance optimistically, then confirms it with
// the backend and fetches the media credential. Failure rolls back.
func (c *Coordinator) Accept(ctx context.Context) error {
	c.mu.Lock()
	if k := c.state.Kind; k != Matched && k != PeerAccepted {
		c.mu.Unlock()
		return fmt.Errorf("%w: accept from %s", ErrInvalidTransition, k)
	}
	attempt, peerID, room := c.attempt, c.state.peerID(), c.state.RoomID
	c.selfAccepted = true
	c.deriveLocked()
	c.mu.Unlock()

	ok, err := c.api.Accept(ctx, peerID, room)
	if err == nil && !ok {
		err = ErrRequestDeclined
	}
	var token string
	if err == nil {
		token, err = c.api.FetchMediaCredential(ctx)
		if err == nil && token == "" {
			err = ErrEmptyCredential
		}
	}

	c.mu.Lock()
	if c.attempt != attempt || !c.state.InMatch() || c.state.RoomID != room {
		c.mu.Unlock()
		log.Info().Str("module", "matching").Str("room", string(room)).Msg("accept resolved for a stale attempt")
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		return nil
	}
	if err != nil {
		c.selfAccepted = false
		c.deriveLocked()
		c.mu.Unlock()
		metrics.AcceptResolved("rolled_back")
		log.Warn().Err(err).Str("module", "matching").Str("room", string(room)).Msg("accept rolled back")
		return fmt.Errorf("accept: %w", err)
	}
	c.token = token
	h, fn := c.deriveLocked(), c.onHandoff
	c.mu.Unlock()

	metrics.AcceptResolved("ok")
	c.fireHandoff(fn, h)
	return nil
}

// Reject declines the current match. With auto rematch the personal
// channel stays bound and a new search follows after RematchDelay.
func (c *Coordinator) Reject(ctx context.Context) error {
	c.mu.Lock()
	if k := c.state.Kind; k != Matched && k != PeerAccepted {
		c.mu.Unlock()
		return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, k)
	}
	attempt, peerID, room := c.attempt, c.state.peerID(), c.state.RoomID
	c.mu.Unlock()

	ok, err := c.api.Reject(ctx, peerID, room)
	if err == nil && !ok {
		err = ErrRequestDeclined
	}
	if err != nil {
		return fmt.Errorf("reject: %w", err)
	}

	c.mu.Lock()
	if c.attempt != attempt || !c.state.InMatch() || c.state.RoomID != room {
		c.mu.Unlock()
		log.Info().Str("module", "matching").Str("room", string(room)).Msg("reject resolved for a stale attempt")
		return nil
	}
	c.rejectLocked()
	c.mu.Unlock()

	metrics.Rejected("self")
	c.afterReject(ctx, attempt, room)
	return nil
}

// Reset releases every matching channel, disconnects the bus and returns to
// Idle. It also clears Failed.
func (c *Coordinator) Reset(ctx context.Context) {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	c.teardown(ctx, true)
}

// Close stops pending work and closes the observer streams.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.cancelPendingLocked()
	c.mu.Unlock()
	c.updates.Close()
	c.votes.Close()
}

// search runs one attempt. A failure from a background attempt leaves
// Failed behind, a caller-driven one goes back to Idle.
func (c *Coordinator) search(ctx context.Context, attempt uint64, background bool) error {
	c.mu.Lock()
	filter := c.filter
	c.mu.Unlock()

	if err := c.bus.Connect(ctx); err != nil {
		return c.abort(attempt, fmt.Errorf("connect realtime: %w", err), background)
	}
	if err := c.subscribe(ctx, domain.UserChannel(c.cfg.LocalUserID), app.ChannelPersonal, ""); err != nil {
		return c.abort(attempt, fmt.Errorf("subscribe personal channel: %w", err), background)
	}
	res, err := c.api.StartSearch(ctx, filter)
	if err != nil {
		return c.abort(attempt, fmt.Errorf("start search: %w", err), background)
	}
	if c.stale(attempt) {
		c.dropStale(ctx, res.RoomID)
		return nil
	}
	if res.RoomID == "" {
		log.Debug().Str("module", "matching").Msg("queued, waiting for match event")
		return nil
	}

	roomCh := domain.RoomChannel(res.RoomID)
	if err := c.subscribe(ctx, roomCh, app.ChannelRoom, res.RoomID); err != nil {
		err = c.abort(attempt, fmt.Errorf("subscribe room channel: %w", err), background)
		if _, cerr := c.api.CancelSearch(ctx); cerr != nil {
			log.Warn().Err(cerr).Str("module", "matching").Msg("cancel after failed subscribe")
		}
		return err
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		c.dropStale(ctx, res.RoomID)
		return nil
	}
	switch {
	case c.state.Kind == Searching && res.Peer != nil:
		c.setLocked(State{Kind: Matched, Peer: res.Peer, RoomID: res.RoomID})
		c.mu.Unlock()
		metrics.MatchFound("response")
		return nil
	case c.state.InMatch() && c.state.RoomID == res.RoomID:
		c.mu.Unlock()
		log.Debug().Str("module", "matching").Str("room", string(res.RoomID)).Msg("search response converged with event")
		return nil
	case c.state.InMatch():
		current := c.state.RoomID
		c.mu.Unlock()
		log.Warn().Str("module", "matching").Str("room", string(res.RoomID)).Str("current", string(current)).
			Msg("search response for another room ignored")
		c.releaseRoom(ctx, res.RoomID)
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
}

func (c *Coordinator) onMatched(ctx context.Context, ev domain.Event) {
	if ev.Peer == nil || ev.RoomID == "" {
		c.desync(ev, "matched event without peer or room")
		return
	}
	c.mu.Lock()
	switch {
	case c.state.Kind == Searching || c.state.Kind == Rejected:
		if c.state.Kind == Rejected {
			// found by someone else's search before our rematch ran
			c.cancelPendingLocked()
			c.attempt++
			c.clearAttemptLocked()
		}
		attempt := c.attempt
		c.setLocked(State{Kind: Matched, Peer: ev.Peer, RoomID: ev.RoomID})
		c.mu.Unlock()
		metrics.MatchFound("event")

		if err := c.subscribe(ctx, domain.RoomChannel(ev.RoomID), app.ChannelRoom, ev.RoomID); err != nil {
			log.Warn().Err(err).Str("module", "matching").Str("room", string(ev.RoomID)).Msg("subscribe room channel")
			return
		}
		if c.stale(attempt) {
			c.dropStale(ctx, ev.RoomID)
		}
	case c.state.InMatch() && c.state.RoomID == ev.RoomID:
		c.mu.Unlock()
		log.Debug().Str("module", "matching").Str("room", string(ev.RoomID)).Msg("duplicate matched ignored")
	default:
		c.mu.Unlock()
		c.desync(ev, "matched event does not fit current attempt")
	}
}

func (c *Coordinator) onAccept(_ context.Context, ev domain.Event) {
	c.mu.Lock()
	if !c.fitsLocked(ev) {
		c.mu.Unlock()
		c.desync(ev, "accept event does not fit current attempt")
		return
	}
	if c.peerAccepted {
		c.mu.Unlock()
		log.Debug().Str("module", "matching").Str("room", string(ev.RoomID)).Msg("duplicate accept ignored")
		return
	}
	c.peerAccepted = true
	if c.selfAccepted && c.token == "" {
		log.Warn().Str("module", "matching").Str("room", string(c.state.RoomID)).
			Msg("peer accepted before credential arrived, waiting")
	}
	h, fn := c.deriveLocked(), c.onHandoff
	c.mu.Unlock()
	c.fireHandoff(fn, h)
}

func (c *Coordinator) onReject(ctx context.Context, ev domain.Event) {
	c.mu.Lock()
	if !c.fitsLocked(ev) || c.state.Kind == BothAccepted {
		c.mu.Unlock()
		c.desync(ev, "reject event does not fit current attempt")
		return
	}
	attempt, room := c.attempt, c.state.RoomID
	c.rejectLocked()
	c.mu.Unlock()

	metrics.Rejected("peer")
	c.afterReject(ctx, attempt, room)
}

func (c *Coordinator) onContinue(_ context.Context, ev domain.Event) {
	room := ev.RoomID
	if room == "" {
		c.mu.Lock()
		room = c.state.RoomID
		c.mu.Unlock()
	}
	c.votes.Publish(domain.ContinuationVote{
		ActorUserID:   ev.ActorUserID,
		RoomID:        room,
		WantsContinue: ev.WantsContinue(),
	})
}

// fitsLocked reports whether ev belongs to the matched attempt in progress.
func (c *Coordinator) fitsLocked(ev domain.Event) bool {
	if !c.state.InMatch() {
		return false
	}
	if ev.RoomID != "" && ev.RoomID != c.state.RoomID {
		return false
	}
	return ev.ActorUserID == c.state.peerID()
}

// deriveLocked recomputes the matched-family kind from the acceptance flags
// and returns the handoff when BothAccepted is reached the first time.
func (c *Coordinator) deriveLocked() *Handoff {
	if !c.state.InMatch() {
		return nil
	}
	next := State{Peer: c.state.Peer, RoomID: c.state.RoomID}
	switch {
	case c.selfAccepted && c.peerAccepted && c.token != "":
		next.Kind = BothAccepted
		next.MediaToken = c.token
	case c.selfAccepted && c.peerAccepted:
		// credential still in flight
		next.Kind = c.state.Kind
		if next.Kind != PeerAccepted {
			next.Kind = SelfAccepted
		}
	case c.selfAccepted:
		next.Kind = SelfAccepted
	case c.peerAccepted:
		next.Kind = PeerAccepted
	default:
		next.Kind = Matched
	}
	c.setLocked(next)

	if next.Kind != BothAccepted || c.handedOff {
		return nil
	}
	c.handedOff = true
	return &Handoff{Peer: *next.Peer, RoomID: next.RoomID, MediaToken: next.MediaToken}
}

func (c *Coordinator) setLocked(next State) {
	if next.Equal(c.state) {
		return
	}
	prev := c.state.Kind
	c.state = next
	log.Info().Str("module", "matching").Str("from", prev.String()).Str("to", next.Kind.String()).
		Str("room", string(next.RoomID)).Msg("state changed")
	c.updates.Publish(Update{State: next})
}

func (c *Coordinator) clearAttemptLocked() {
	c.selfAccepted = false
	c.peerAccepted = false
	c.token = ""
	c.handedOff = false
	c.autoRestart = false
}

func (c *Coordinator) beginLocked(filter domain.Filter) uint64 {
	c.cancelPendingLocked()
	c.attempt++
	c.filter = filter
	c.clearAttemptLocked()
	c.setLocked(State{Kind: Searching})
	return c.attempt
}

func (c *Coordinator) resetLocked() {
	c.cancelPendingLocked()
	c.attempt++
	c.clearAttemptLocked()
	c.setLocked(State{Kind: Idle})
}

func (c *Coordinator) rejectLocked() {
	c.clearAttemptLocked()
	c.autoRestart = true
	c.setLocked(State{Kind: Rejected})
}

func (c *Coordinator) cancelPendingLocked() {
	if c.pending != nil {
		c.pending()
		c.pending = nil
	}
}

// armLocked starts the delayed search task for attempt. The timer is
// created under the lock so a mock clock observes it before Add.
func (c *Coordinator) armLocked(attempt uint64, delay time.Duration, rematch bool) {
	c.cancelPendingLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.pending = cancel
	t := c.clock.Timer(delay)

	go func() {
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		c.mu.Lock()
		if c.attempt != attempt {
			c.mu.Unlock()
			return
		}
		want := Searching
		if rematch {
			want = Rejected
		}
		if c.state.Kind != want {
			c.mu.Unlock()
			return
		}
		trigger := "scheduled"
		if rematch {
			trigger = "rematch"
			c.attempt++
			c.clearAttemptLocked()
			c.setLocked(State{Kind: Searching})
			attempt = c.attempt
		}
		c.mu.Unlock()

		metrics.SearchStarted(trigger)
		if err := c.search(ctx, attempt, true); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("module", "matching").Str("trigger", trigger).Msg("background search failed")
		}
	}()
}

// afterReject releases the pairing channel and either schedules the next
// search or drops back to Idle and disconnects.
func (c *Coordinator) afterReject(ctx context.Context, attempt uint64, room domain.RoomID) {
	c.releaseRoom(ctx, room)

	c.mu.Lock()
	if c.attempt != attempt || c.state.Kind != Rejected {
		c.mu.Unlock()
		return
	}
	if c.autoRestart && c.cfg.AutoRematch {
		c.armLocked(attempt, c.cfg.RematchDelay, true)
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.mu.Unlock()
	c.teardown(ctx, true)
}

// abort ends a failed search if it is still the current attempt and
// returns err.
func (c *Coordinator) abort(attempt uint64, err error, background bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return err
	}
	c.attempt++
	c.clearAttemptLocked()
	if background {
		c.failLocked(err)
	} else {
		c.setLocked(State{Kind: Idle})
	}
	return err
}

// failLocked enters Failed and hands err to observers with the change.
func (c *Coordinator) failLocked(err error) {
	next := State{Kind: Failed, Reason: err.Error()}
	prev := c.state.Kind
	c.state = next
	log.Warn().Err(err).Str("module", "matching").Str("from", prev.String()).Msg("state changed to failed")
	c.updates.Publish(Update{State: next, Err: err})
}

func (c *Coordinator) stale(attempt uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt != attempt
}

// dropStale undoes subscriptions a superseded attempt made after teardown.
func (c *Coordinator) dropStale(ctx context.Context, room domain.RoomID) {
	c.mu.Lock()
	idle := c.state.Startable()
	c.mu.Unlock()
	if idle {
		c.teardown(ctx, true)
		return
	}
	if room != "" {
		c.releaseRoom(ctx, room)
	}
}

func (c *Coordinator) subscribe(ctx context.Context, name domain.ChannelName, kind app.ChannelKind, room domain.RoomID) error {
	if c.subs.Has(name) {
		return nil
	}
	if err := c.bus.Subscribe(ctx, name); err != nil {
		return err
	}
	c.subs.Bind(name, kind, room)
	return nil
}

func (c *Coordinator) unsubscribe(ctx context.Context, name domain.ChannelName) {
	if !c.subs.Has(name) {
		return
	}
	if err := c.bus.Unsubscribe(ctx, name); err != nil {
		log.Warn().Err(err).Str("module", "matching").Str("channel", string(name)).Msg("unsubscribe failed")
	}
	c.subs.Unbind(name)
}

// releaseRoom unsubscribes the room channel unless the live attempt uses it.
func (c *Coordinator) releaseRoom(ctx context.Context, room domain.RoomID) {
	c.mu.Lock()
	inUse := c.state.InMatch() && c.state.RoomID == room
	c.mu.Unlock()
	if inUse {
		return
	}
	c.unsubscribe(ctx, domain.RoomChannel(room))
}

func (c *Coordinator) teardown(ctx context.Context, disconnect bool) {
	for _, name := range c.subs.Names() {
		c.unsubscribe(ctx, name)
	}
	if disconnect {
		c.bus.Disconnect()
	}
}

func (c *Coordinator) fireHandoff(fn func(Handoff), h *Handoff) {
	if h == nil {
		return
	}
	metrics.HandedOff()
	log.Info().Str("module", "matching").Str("room", string(h.RoomID)).Str("peer", string(h.Peer.ID)).
		Msg("mutual acceptance handed off")
	if fn != nil {
		fn(*h)
	}
}

func (c *Coordinator) desync(ev domain.Event, msg string) {
	metrics.ProtocolDesync(string(ev.Type))
	c.mu.Lock()
	k := c.state.Kind
	c.mu.Unlock()
	log.Warn().Str("module", "matching").Str("type", string(ev.Type)).Str("room", string(ev.RoomID)).
		Str("actor", string(ev.ActorUserID)).Str("state", k.String()).Msg(msg)
}
