// Package realtime is the websocket client of the backend's pub/sub fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/dkeye/Roulette/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	URL            string
	Token          string
	DeviceID       string
	ConnectTimeout time.Duration
	PingPeriod     time.Duration
	ReadLimit      int64
}

type command struct {
	Op      string             `json:"op"`
	Channel domain.ChannelName `json:"channel"`
}

type envelope struct {
	Channel domain.ChannelName `json:"channel"`
	Event   domain.Event       `json:"event"`
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// Bus keeps at most one websocket open. Events stays open across
// reconnects and is closed by Close. Subscriptions outlive a server-side
// drop and are replayed by the next Connect.
type Bus struct {
	opts    Options
	dialer  *websocket.Dialer
	events  chan domain.Event
	dropped chan error

	mu       sync.Mutex
	conn     *wsConn
	cancel   context.CancelFunc
	pumps    sync.WaitGroup
	channels map[domain.ChannelName]struct{}
	closed   bool
}

var _ core.RealtimeBus = (*Bus)(nil)

func New(opts Options) *Bus {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	return &Bus{
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout},
		events:   make(chan domain.Event, 64),
		dropped:  make(chan error, 1),
		channels: make(map[domain.ChannelName]struct{}),
	}
}

// Connect dials the bus. An open connection is reused. Channels still
// held from a dropped connection are subscribed again on the new one.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.opts.URL == "" {
		return &ConnectError{Kind: NotInitialized}
	}
	if b.conn != nil {
		return nil
	}

	header := http.Header{}
	if b.opts.Token != "" {
		header.Set("Authorization", "Bearer "+b.opts.Token)
	}
	if b.opts.DeviceID != "" {
		header.Set("X-Device-ID", b.opts.DeviceID)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancelDial()
	conn, _, err := b.dialer.DialContext(dialCtx, b.opts.URL, header)
	if err != nil {
		kind := ConnectionFailed
		switch {
		case ctx.Err() != nil:
			kind = ConnectionCancelled
		case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
			kind = ConnectionTimeout
		}
		metrics.RealtimeConnect(kind.String())
		log.Warn().Err(err).Str("module", "realtime").Str("kind", kind.String()).Msg("connect failed")
		return &ConnectError{Kind: kind, Err: err}
	}
	conn.SetReadLimit(b.opts.ReadLimit)

	c := &wsConn{conn: conn, send: make(chan []byte, 32)}
	pumpCtx, cancel := context.WithCancel(context.Background())
	b.conn = c
	b.cancel = cancel
	b.pumps.Add(2)
	go b.writePump(pumpCtx, c)
	go b.readPump(pumpCtx, c)

	metrics.RealtimeConnect("ok")
	log.Info().Str("module", "realtime").Str("url", b.opts.URL).Msg("connected")
	b.resubscribeLocked(c)
	return nil
}

func (b *Bus) resubscribeLocked(c *wsConn) {
	for ch := range b.channels {
		data, err := json.Marshal(command{Op: "subscribe", Channel: ch})
		if err == nil {
			err = c.TrySend(data)
		}
		if err != nil {
			log.Error().Err(err).Str("module", "realtime").Str("channel", string(ch)).Msg("resubscribe failed")
			continue
		}
		log.Debug().Str("module", "realtime").Str("channel", string(ch)).Msg("resubscribed")
	}
}

// Disconnect closes the connection and forgets its subscriptions.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	c, cancel := b.conn, b.cancel
	b.conn, b.cancel = nil, nil
	clear(b.channels)
	b.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	c.Close()
	b.pumps.Wait()
	log.Info().Str("module", "realtime").Msg("disconnected")
}

// Close disconnects and closes Events for good.
func (b *Bus) Close() {
	b.Disconnect()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bus) Events() <-chan domain.Event {
	return b.events
}

// Dropped reports each connection the server closed. Only the latest
// unread drop is kept.
func (b *Bus) Dropped() <-chan error {
	return b.dropped
}

// Subscribe marks ch before sending so an early event is not dropped.
func (b *Bus) Subscribe(ctx context.Context, ch domain.ChannelName) error {
	b.mu.Lock()
	_, had := b.channels[ch]
	b.channels[ch] = struct{}{}
	b.mu.Unlock()
	if err := b.command(ctx, "subscribe", ch); err != nil {
		if !had {
			b.mu.Lock()
			delete(b.channels, ch)
			b.mu.Unlock()
		}
		return err
	}
	return nil
}

func (b *Bus) Unsubscribe(ctx context.Context, ch domain.ChannelName) error {
	b.mu.Lock()
	delete(b.channels, ch)
	b.mu.Unlock()
	return b.command(ctx, "unsubscribe", ch)
}

func (b *Bus) command(ctx context.Context, op string, ch domain.ChannelName) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	c := b.conn
	b.mu.Unlock()
	if c == nil {
		return &ConnectError{Kind: NotInitialized}
	}
	data, err := json.Marshal(command{Op: op, Channel: ch})
	if err != nil {
		return err
	}
	return c.TrySend(data)
}

func (b *Bus) subscribed(ch domain.ChannelName) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.channels[ch]
	return ok
}
