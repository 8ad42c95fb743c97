package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var opsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth already ran; the feed is same-origin or token-bearing
	// dashboards, so origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	opsWriteWait  = 10 * time.Second
	opsPingPeriod = 30 * time.Second
	opsBuffer     = 64
)

// handleOpsEvents upgrades to WebSocket and relays bus events as JSON
// messages until the client disconnects. Slow clients miss events
// rather than backpressuring the bus.
func (s *Server) handleOpsEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := opsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ops feed upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(opsBuffer)
	defer s.bus.Unsubscribe(sub)

	s.logger.Debug("ops feed connected", "remote", conn.RemoteAddr())

	// Reader goroutine: we never expect inbound messages, but reading
	// is required to notice close frames and pongs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(opsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(opsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("ops feed write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(opsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
