package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// The UI is served from other origins during development.
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamEvents upgrades to a websocket and writes every tracker event as a
// JSON text message until the client goes away. Client messages are ignored.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so the client sees every event
	// published once it is connected.
	bus := s.t.Bus()
	id, events := bus.Subscribe()
	defer bus.Unsubscribe(id)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// The read loop only services control frames and notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "tracker stopped"),
					time.Now().Add(wsWriteWait))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				monitoring.Logf("api: encode %s event: %v", ev.Kind, err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
