// Package timer implements the restartable call clock.
package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

type Signal int

const (
	// SignalTick fires on every tick, after any other signal of the same tick.
	SignalTick Signal = iota
	// SignalReservation fires once per countdown when remaining drops below the threshold.
	SignalReservation
	// SignalTimedOut fires once per countdown when remaining reaches zero.
	SignalTimedOut
)

func (s Signal) String() string {
	switch s {
	case SignalTick:
		return "tick"
	case SignalReservation:
		return "reservation"
	case SignalTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

type Mode int

const (
	ModeStopped Mode = iota
	ModeCountdown
	ModeCountUp
)

func (m Mode) String() string {
	switch m {
	case ModeCountdown:
		return "countdown"
	case ModeCountUp:
		return "count_up"
	default:
		return "stopped"
	}
}

// SessionTimer is a countdown / count-up clock with at most one tick source.
// Signals are delivered from the tick goroutine, never while the timer lock is held.
type SessionTimer struct {
	clock    clock.Clock
	interval time.Duration
	onSignal func(Signal)

	mu     sync.Mutex
	gen    uint64
	ticker *clock.Ticker
	stop   chan struct{}

	mode             Mode
	remaining        time.Duration
	elapsed          time.Duration
	reservation      time.Duration
	reservationFired bool
	timedOutFired    bool
	text             string
}

func New(clk clock.Clock, interval time.Duration, onSignal func(Signal)) *SessionTimer {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &SessionTimer{
		clock:    clk,
		interval: interval,
		onSignal: onSignal,
	}
}

// StartCountdown cancels any running clock and counts total down to zero.
func (t *SessionTimer) StartCountdown(total, reservation time.Duration) {
	t.mu.Lock()
	t.stopLocked()
	t.mode = ModeCountdown
	t.remaining = total
	t.reservation = reservation
	t.text = Format(total)
	gen, stop, tk := t.armLocked()
	t.mu.Unlock()

	log.Debug().Str("module", "timer").Dur("total", total).Dur("reservation", reservation).Msg("countdown started")
	go t.run(gen, stop, tk)
}

// StartCountUp cancels any running clock and counts up from zero until stopped.
func (t *SessionTimer) StartCountUp() {
	t.mu.Lock()
	t.stopLocked()
	t.mode = ModeCountUp
	t.text = Format(0)
	gen, stop, tk := t.armLocked()
	t.mu.Unlock()

	log.Debug().Str("module", "timer").Msg("count-up started")
	go t.run(gen, stop, tk)
}

// Stop is idempotent; it cancels the tick source and clears text and flags.
func (t *SessionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *SessionTimer) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

func (t *SessionTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *SessionTimer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

func (t *SessionTimer) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}

func (t *SessionTimer) armLocked() (uint64, chan struct{}, *clock.Ticker) {
	t.gen++
	t.stop = make(chan struct{})
	t.ticker = t.clock.Ticker(t.interval)
	return t.gen, t.stop, t.ticker
}

func (t *SessionTimer) stopLocked() {
	t.cancelTicksLocked()
	t.mode = ModeStopped
	t.remaining = 0
	t.elapsed = 0
	t.reservation = 0
	t.reservationFired = false
	t.timedOutFired = false
	t.text = ""
}

// cancelTicksLocked invalidates the current tick source without touching the readings.
func (t *SessionTimer) cancelTicksLocked() {
	t.gen++
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *SessionTimer) run(gen uint64, stop <-chan struct{}, tk *clock.Ticker) {
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
			signals, done := t.tick(gen)
			for _, s := range signals {
				t.emit(s)
			}
			if done {
				return
			}
		}
	}
}

func (t *SessionTimer) tick(gen uint64) ([]Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		// superseded by a restart or stop
		return nil, true
	}

	t.elapsed += t.interval
	switch t.mode {
	case ModeCountdown:
		t.remaining -= t.interval
		if t.remaining < 0 {
			t.remaining = 0
		}
		t.text = Format(t.remaining)
		var out []Signal
		if !t.reservationFired && t.remaining < t.reservation {
			t.reservationFired = true
			out = append(out, SignalReservation)
		}
		if !t.timedOutFired && t.remaining <= 0 {
			t.timedOutFired = true
			t.cancelTicksLocked()
			return append(out, SignalTimedOut, SignalTick), true
		}
		return append(out, SignalTick), false
	case ModeCountUp:
		t.text = Format(t.elapsed)
		return []Signal{SignalTick}, false
	default:
		return nil, true
	}
}

func (t *SessionTimer) emit(s Signal) {
	if s != SignalTick {
		log.Debug().Str("module", "timer").Str("signal", s.String()).Msg("timer signal")
	}
	if t.onSignal != nil {
		t.onSignal(s)
	}
}

// Format renders d as MM:SS, or H:MM:SS once it reaches an hour.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
