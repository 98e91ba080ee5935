package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/Roulette/internal/app"
	"github.com/dkeye/Roulette/internal/app/call"
	"github.com/dkeye/Roulette/internal/app/matching"
	"github.com/dkeye/Roulette/internal/app/notify"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/rs/zerolog/log"
)

var ErrNoCall = errors.New("orch: no call")

// View is what the presentation layer renders: the matching state plus the
// current or last call.
type View struct {
	Matching matching.State `json:"matching"`
	Call     *call.Snapshot `json:"call,omitempty"`
}

// Orchestrator wires the matching coordinator to at most one call session.
type Orchestrator struct {
	Matching     *matching.Coordinator
	API          core.BackendAPI
	NewTransport func() core.CallTransport
	Policy       app.Policy
	Clock        clock.Clock
	CallConfig   call.Config

	once  sync.Once
	views *notify.Hub[View]

	mu      sync.Mutex
	ctx     context.Context
	current *call.Controller
}

func (o *Orchestrator) init() {
	o.once.Do(func() {
		o.views = notify.NewHub[View]("orch")
		o.ctx = context.Background()
	})
}

// Run forwards matching updates and peer votes until ctx ends. A live call
// is hung up on the way out.
func (o *Orchestrator) Run(ctx context.Context) {
	o.init()
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()

	o.Matching.OnHandoff(o.onHandoff)
	updates, cancelUpdates := o.Matching.Subscribe()
	defer cancelUpdates()
	votes, cancelVotes := o.Matching.Votes()
	defer cancelVotes()
	go o.Matching.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			if c := o.liveCall(); c != nil {
				_ = c.HangUp()
			}
			o.views.Close()
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Err != nil {
				log.Warn().Err(u.Err).Str("module", "orch").Str("state", u.State.Kind.String()).Msg("matching error")
			}
			o.publish()
		case v, ok := <-votes:
			if !ok {
				return
			}
			o.forwardVote(v)
		}
	}
}

// Subscribe streams views in the order state changed.
func (o *Orchestrator) Subscribe() (<-chan View, func()) {
	o.init()
	return o.views.Subscribe()
}

func (o *Orchestrator) View() View {
	v := View{Matching: o.Matching.State()}
	o.mu.Lock()
	c := o.current
	o.mu.Unlock()
	if c != nil {
		s := c.Snapshot()
		v.Call = &s
	}
	return v
}

func (o *Orchestrator) publish() {
	o.init()
	o.views.Publish(o.View())
}

func (o *Orchestrator) liveCall() *call.Controller {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || !o.current.Snapshot().Phase.Live() {
		return nil
	}
	return o.current
}
