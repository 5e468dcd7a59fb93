package httpapi

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mnemo-ai/mnemo/internal/protocol"
)

const (
	eventBuffer     = 64
	eventWriteWait  = 5 * time.Second
	eventPingPeriod = 30 * time.Second
)

// EventHub fans lifecycle events out to websocket observers. Publish never
// blocks; a consumer that cannot keep up loses events and eventually the
// connection.
type EventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan protocol.Event
}

func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*websocket.Conn]chan protocol.Event)}
}

// Publish delivers an event to every connected observer.
func (h *EventHub) Publish(evt protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- evt:
		default:
			// Slow consumer: drop it rather than stall the stores.
			close(ch)
			delete(h.clients, conn)
		}
	}
}

// Close disconnects all observers.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		close(ch)
		delete(h.clients, conn)
	}
}

func (h *EventHub) serve(conn *websocket.Conn) {
	ch := make(chan protocol.Event, eventBuffer)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	// Reader only watches for the peer closing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(conn)
		conn.Close()
	}()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				log.Printf("httpapi: event write failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *EventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
}
