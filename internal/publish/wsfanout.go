package publish

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/rankmatch/internal/rmlog"
	"github.com/dreamware/rankmatch/internal/ticket"
)

// WSFanout is a Publisher that pushes every MatchEvent to all currently
// connected websocket clients — a best-effort live feed for dashboards
// and load generators watching match throughput, with no replay and no
// per-client backpressure: a slow client is disconnected rather than
// allowed to stall the broadcast.
type WSFanout struct {
	upgrader websocket.Upgrader
	log      *rmlog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan MatchEvent
}

// NewWSFanout creates an empty WSFanout. Register it at an HTTP route with
// ServeHTTP, and hand it to a worker (or a publish.Multi) as a Publisher.
func NewWSFanout(log *rmlog.Logger) *WSFanout {
	if log == nil {
		log = rmlog.Nop()
	}
	return &WSFanout{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan MatchEvent),
		log:     log,
	}
}

// ServeHTTP upgrades the connection and registers it as a fanout target
// until the client disconnects or a write fails.
func (f *WSFanout) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("websocket upgrade failed")
		return
	}

	ch := make(chan MatchEvent, 32)
	f.mu.Lock()
	f.clients[conn] = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	// Drain incoming frames so a client-side close is noticed even when no
	// match is being written.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// PublishMatch implements worker.Publisher, fanning the match out to every
// connected client without blocking on any one of them.
func (f *WSFanout) PublishMatch(a, b ticket.Ticket) {
	ev := MatchEvent{A: a, B: b}
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, ch := range f.clients {
		select {
		case ch <- ev:
		default:
			// client's buffer is full; drop it from the fanout rather than
			// block match processing on a slow reader.
			delete(f.clients, conn)
			close(ch)
		}
	}
}

// ClientCount reports how many websocket clients are currently attached,
// for the node's /info admin endpoint.
func (f *WSFanout) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}
