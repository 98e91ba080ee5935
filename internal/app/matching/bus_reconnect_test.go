package matching

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/Roulette/internal/adapters/realtime"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsBackend is a pub/sub server that records the commands seen on each
// accepted connection.
type wsBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	commands [][]string
}

func newWSBackend(t *testing.T) *wsBackend {
	t.Helper()
	b := &wsBackend{}
	up := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		idx := len(b.conns)
		b.conns = append(b.conns, conn)
		b.commands = append(b.commands, nil)
		b.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd struct {
				Op      string `json:"op"`
				Channel string `json:"channel"`
			}
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			b.mu.Lock()
			b.commands[idx] = append(b.commands[idx], cmd.Op+" "+cmd.Channel)
			b.mu.Unlock()
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *wsBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *wsBackend) conn(i int) *websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.conns) {
		return nil
	}
	return b.conns[i]
}

func (b *wsBackend) sent(i int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.commands) {
		return nil
	}
	return append([]string(nil), b.commands[i]...)
}

func TestRematchAfterServerDropResubscribes(t *testing.T) {
	backend := newWSBackend(t)
	bus := realtime.New(realtime.Options{URL: backend.url()})
	defer bus.Close()

	api := newFakeAPI()
	api.search = func() (core.SearchResult, error) { return core.SearchResult{Peer: peer42, RoomID: "r1"}, nil }
	mock := clock.NewMock()
	c := New(Config{LocalUserID: localID, AutoRematch: true, RematchDelay: 2 * time.Second}, api, bus, mock)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.StartSearch(ctx, domain.DefaultFilter()))
	require.Equal(t, Matched, c.State().Kind)
	require.Eventually(t, func() bool { return len(backend.sent(0)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"subscribe user.7", "subscribe room.r1"}, backend.sent(0))

	require.NoError(t, c.Reject(ctx))
	require.Equal(t, Rejected, c.State().Kind)
	require.Eventually(t, func() bool { return len(backend.sent(0)) == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, backend.conn(0).Close())
	require.Eventually(t, func() bool { return !bus.Connected() }, time.Second, 5*time.Millisecond)

	api.search = func() (core.SearchResult, error) { return core.SearchResult{}, nil }
	mock.Add(2 * time.Second)

	require.Eventually(t, func() bool {
		return len(backend.sent(1)) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"subscribe user.7"}, backend.sent(1))
	require.Eventually(t, func() bool { return api.searchCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Searching, c.State().Kind)

	// a match published on the personal channel now reaches the coordinator
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.Run(runCtx)
	require.NoError(t, backend.conn(1).WriteMessage(websocket.TextMessage,
		[]byte(`{"channel":"user.7","event":{"type":"matched","actor_user_id":"99","room_id":"r2","peer":{"id":"99"}}}`)))
	require.Eventually(t, func() bool { return c.State().Kind == Matched }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.RoomID("r2"), c.State().RoomID)
}
