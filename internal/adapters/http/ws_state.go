package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamViews pushes the current view and then every change until the
// client goes away or ctx ends.
func streamViews(ctx context.Context, c *gin.Context, ctl Controller) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	defer ws.Close()

	views, cancel := ctl.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return false
		}
		if err := ws.WriteJSON(v); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("ws state write")
			return false
		}
		return true
	}

	if !write(ctl.View()) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case v, ok := <-views:
			if !ok || !write(v) {
				return
			}
		}
	}
}
