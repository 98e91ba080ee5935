package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roomServer answers offers with a real pion peer and lets the test push
// presence frames.
type roomServer struct {
	srv    *httptest.Server
	query  chan string
	auth   chan string
	offers chan string
	frames chan signalMessage
	push   chan signalMessage
}

func newRoomServer(t *testing.T) *roomServer {
	t.Helper()
	rs := &roomServer{
		query:  make(chan string, 1),
		auth:   make(chan string, 1),
		offers: make(chan string, 8),
		frames: make(chan signalMessage, 256),
		push:   make(chan signalMessage, 8),
	}
	up := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.query <- r.URL.RawQuery
		rs.auth <- r.Header.Get("Authorization")
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return
		}
		defer pc.Close()

		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				select {
				case m := <-rs.push:
					b, _ := json.Marshal(m)
					_ = conn.WriteMessage(websocket.TextMessage, b)
				case <-done:
					return
				}
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m signalMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			select {
			case rs.frames <- m:
			default:
			}
			switch m.Type {
			case "offer":
				rs.offers <- m.SDP
				if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}); err != nil {
					return
				}
				answer, err := pc.CreateAnswer(nil)
				if err != nil {
					return
				}
				gather := webrtc.GatheringCompletePromise(pc)
				if err := pc.SetLocalDescription(answer); err != nil {
					return
				}
				<-gather
				rs.push <- signalMessage{Type: "answer", SDP: pc.LocalDescription().SDP}
			case "candidate":
				_ = pc.AddICECandidate(m.candidateInit())
			}
		}
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *roomServer) url() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http") + "/rtc"
}

func TestJoinPublishLeave(t *testing.T) {
	rs := newRoomServer(t)
	tr := New(Options{SignalURL: rs.url(), ConnectTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, tr.JoinRoom(ctx, "r1", "7", "tok123"))
	assert.Contains(t, <-rs.query, "room=r1")
	assert.Equal(t, "Bearer tok123", <-rs.auth)
	first := <-rs.offers
	assert.Contains(t, first, "m=audio")
	assert.Contains(t, first, "m=video")

	require.ErrorIs(t, tr.JoinRoom(ctx, "r1", "7", "tok123"), ErrAlreadyJoined)

	require.NoError(t, tr.Publish(ctx, core.MediaAudio))
	second := <-rs.offers
	assert.Contains(t, second, "opus")
	require.NoError(t, tr.Publish(ctx, core.MediaAudio))

	tr.SetMuted(core.MediaAudio, true)
	tr.mu.Lock()
	state := tr.local[core.MediaAudio].GetState()
	tr.mu.Unlock()
	assert.Equal(t, TrackStateMuted, state)

	assert.Equal(t, 0, tr.RemoteStreams())
	require.NoError(t, tr.LeaveRoom(ctx))
	require.NoError(t, tr.LeaveRoom(ctx))
	assert.ErrorIs(t, tr.Publish(ctx, core.MediaVideo), ErrNotJoined)

	require.Eventually(t, func() bool {
		for {
			select {
			case m := <-rs.frames:
				if m.Type == "leave" {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPeerPresenceIsReported(t *testing.T) {
	rs := newRoomServer(t)
	tr := New(Options{SignalURL: rs.url(), ConnectTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, tr.JoinRoom(ctx, "r1", "7", "tok"))
	defer tr.LeaveRoom(context.Background())

	rs.push <- signalMessage{Type: "member_state", Label: "7", State: domain.MemberLeft}
	rs.push <- signalMessage{Type: "member_state", Label: "42", State: domain.MemberLeft}

	select {
	case ev := <-tr.Events():
		require.Equal(t, core.MemberStateChanged, ev.Kind)
		assert.Equal(t, "42", ev.Member.Label)
		assert.True(t, ev.Member.Gone())
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event")
	}
}

func TestJoinFailsWithoutSignaling(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	tr := New(Options{SignalURL: "ws" + strings.TrimPrefix(srv.URL, "http"), ConnectTimeout: time.Second})

	err := tr.JoinRoom(context.Background(), "r1", "7", "tok")
	require.Error(t, err)
	assert.NoError(t, tr.LeaveRoom(context.Background()))
}

func TestSignalURL(t *testing.T) {
	u, err := signalURL("ws://host:9002/rtc?v=1", "room 1", "7")
	require.NoError(t, err)
	assert.Equal(t, "ws://host:9002/rtc?label=7&room=room+1&v=1", u)
}
