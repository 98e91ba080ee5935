package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("signal: backpressure")

// signalMessage is every frame exchanged with the room's signaling endpoint.
type signalMessage struct {
	Type          string             `json:"type"`
	SDP           string             `json:"sdp,omitempty"`
	Candidate     string             `json:"candidate,omitempty"`
	SDPMid        *string            `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16            `json:"sdpMLineIndex,omitempty"`
	Label         string             `json:"label,omitempty"`
	State         domain.MemberState `json:"state,omitempty"`
}

func candidateMessage(ci webrtc.ICECandidateInit) signalMessage {
	return signalMessage{
		Type:          "candidate",
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

func (m signalMessage) candidateInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
	}
}

type signalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func signalURL(base string, room domain.RoomID, label string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("room", string(room))
	q.Set("label", label)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dialSignal(ctx context.Context, base string, room domain.RoomID, label, token string, timeout time.Duration) (*signalConn, error) {
	target, err := signalURL(base, room, label)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(dialCtx, target, header)
	if err != nil {
		return nil, err
	}
	return &signalConn{conn: conn, send: make(chan []byte, 32), done: make(chan struct{})}, nil
}

func (c *signalConn) TrySend(b []byte) error {
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

func (c *signalConn) sendJSON(v signalMessage) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *signalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// flush closes after the write pump has drained what is queued, or after timeout.
func (c *signalConn) flush(timeout time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(timeout):
	}
	_ = c.conn.Close()
}

func (c *signalConn) writePump() {
	defer close(c.done)
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "rtc.signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "rtc.signal").Msg("writePump write error")
			return
		}
	}
}

// readPump hands every frame to handle and returns the read error.
func (c *signalConn) readPump(handle func(signalMessage)) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "rtc.signal").Msg("bad json")
			continue
		}
		handle(msg)
	}
}
