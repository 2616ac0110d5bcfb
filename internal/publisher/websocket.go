package publisher

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eaobservatory/ocsqueue/internal/events"
)

const (
	monitorWriteWait  = 10 * time.Second
	monitorPingPeriod = 30 * time.Second
	monitorSubBuffer  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The monitor feed is read by operator consoles on the observatory's
	// own network; origin checking is left to the surrounding reverse
	// proxy rather than duplicated here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MonitorHandler upgrades an HTTP request to a WebSocket connection and
// streams every events.Event published from here on, one JSON object per
// message, until the client disconnects.
func (p *Publisher) MonitorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			p.logger.Error("monitor websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ch := p.bus.Subscribe(monitorSubBuffer)
		defer p.bus.Unsubscribe(ch)

		p.logger.Info("monitor client connected", "remote", r.RemoteAddr)
		defer p.logger.Info("monitor client disconnected", "remote", r.RemoteAddr)

		if err := p.sendSnapshot(conn); err != nil {
			return
		}

		ticker := time.NewTicker(monitorPingPeriod)
		defer ticker.Stop()

		// readPump drains and discards client frames (none are expected)
		// so the connection notices a client-initiated close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
				if err := conn.WriteJSON(evt); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}
}

// sendSnapshot sends the current parameter state as a synthetic burst of
// events so a freshly-connected client doesn't have to wait for the next
// mutation to learn STATUS/INDEX/etc.
func (p *Publisher) sendSnapshot(conn *websocket.Conn) error {
	snap := p.Snapshot()
	now := time.Now()

	frames := []events.Event{
		{Timestamp: now, Source: events.SourceServer, Kind: events.KindStatus, Data: map[string]any{"status": snap.Status}},
		{Timestamp: now, Source: events.SourceServer, Kind: events.KindAlert, Data: map[string]any{"code": snap.Alert}},
		{Timestamp: now, Source: events.SourceQueue, Kind: events.KindIndex, Data: map[string]any{"index": snap.Index}},
		{Timestamp: now, Source: events.SourceQueue, Kind: events.KindTimeOnQueue, Data: map[string]any{"minutes": snap.TimeOnQueueMinutes}},
		{Timestamp: now, Source: events.SourceQueue, Kind: events.KindCurrent, Data: map[string]any{"summary": snap.Current}},
		{Timestamp: now, Source: events.SourceQueue, Kind: events.KindContents, Data: map[string]any{"lines": snap.Contents}},
	}
	for _, f := range frames {
		conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
		if err := conn.WriteJSON(f); err != nil {
			return err
		}
	}
	return nil
}
