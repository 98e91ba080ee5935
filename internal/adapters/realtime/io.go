package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Roulette/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (b *Bus) writePump(ctx context.Context, c *wsConn) {
	defer b.pumps.Done()
	ping := time.NewTicker(b.opts.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Error().Err(err).Str("module", "realtime").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "realtime").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "realtime").Msg("writePump write error")
				return
			}
		}
	}
}

func (b *Bus) readPump(ctx context.Context, c *wsConn) {
	var cause error
	defer func() {
		b.pumps.Done()
		c.Close()
		b.dropConn(c, cause)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("module", "realtime").Msg("readPump read error")
			}
			cause = err
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "realtime").Msg("bad json")
			continue
		}
		if !b.subscribed(env.Channel) {
			log.Debug().Str("module", "realtime").Str("channel", string(env.Channel)).Msg("event on unsubscribed channel dropped")
			continue
		}
		ev := env.Event
		ev.Channel = env.Channel
		select {
		case b.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// dropConn forgets c if the server closed it, so the next Connect redials.
// The channel set is kept for that redial.
func (b *Bus) dropConn(c *wsConn, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != c {
		return
	}
	b.conn = nil
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	metrics.RealtimeConnect(ConnectionLost.String())
	log.Warn().Err(cause).Str("module", "realtime").Int("channels", len(b.channels)).Msg("connection lost")

	err := &ConnectError{Kind: ConnectionLost, Err: cause}
	select {
	case <-b.dropped:
	default:
	}
	if !b.closed {
		b.dropped <- err
	}
}
