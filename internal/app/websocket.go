package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hubo/api/internal/events"
	"hubo/api/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	evaluateWait   = 5 * time.Second
)

type watchMessage struct {
	Type        string      `json:"type"`
	ProjectID   string      `json:"projectId"`
	Event       events.Type `json:"event,omitempty"`
	Data        any         `json:"data,omitempty"`
	Eligibility any         `json:"eligibility,omitempty"`
	Time        time.Time   `json:"time"`
}

// handleWatch streams the project's eligibility: once on connect and again
// after every project event. Clients only ever read; anything they send
// besides control frames is ignored.
func (s *HTTPServer) handleWatch(w http.ResponseWriter, r *http.Request, projectID string) {
	initial, err := s.service.EvaluateProgression(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("app: websocket upgrade for project %s failed: %v", projectID, err)
		return
	}
	metrics.WatcherOpened()
	defer metrics.WatcherClosed()

	broker := s.service.Broker()
	updates := broker.Subscribe(projectID)
	defer broker.Unsubscribe(projectID, updates)

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	if err := writeWatch(conn, watchMessage{
		Type:        "eligibility",
		ProjectID:   projectID,
		Eligibility: initial,
		Time:        time.Now().UTC(),
	}); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			msg := watchMessage{
				Type:      "event",
				ProjectID: projectID,
				Event:     event.Type,
				Data:      event.Data,
				Time:      event.Time,
			}
			ctx, cancel := context.WithTimeout(context.Background(), evaluateWait)
			eligibility, err := s.service.EvaluateProgression(ctx, projectID)
			cancel()
			if err == nil {
				msg.Eligibility = eligibility
			}
			if err := writeWatch(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("app: websocket read error: %v", err)
			}
			return
		}
	}
}

func writeWatch(conn *websocket.Conn, msg watchMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
