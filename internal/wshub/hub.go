// Package wshub is the push surface for external dashboards: a
// broadcast hub that fans out quote/signal/trade/notification/balance
// events to every connected WebSocket client. Renamed and repurposed
// from the teacher's internal/websocket (itself renamed to avoid
// clashing with internal/exchange's own use of gorilla/websocket).
package wshub

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"spotarb/pkg/utils"
)

// byteSlicePool reuses the []byte buffer Broadcast copies marshaled JSON
// into; each pushed event still gets its own freshly allocated frame
// before it is queued.
var byteSlicePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 512)
		return &b
	},
}

const broadcastBufferSize = 1024

// Hub fans out messages to every registered Client. One Hub per process;
// Run must be started in its own goroutine before any client connects.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}

	mu      sync.RWMutex
	dropped int64

	logger *utils.Logger
}

// NewHub builds an unstarted Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     utils.L().WithComponent("wshub"),
	}
}

// Run is the hub's single-writer event loop. Call as `go hub.Run()`;
// returns once Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", utils.Int("total_clients", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", utils.Int("total_clients", count))

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver fans message out to every client, dropping it for clients whose
// send buffer is full instead of blocking the hub's single writer loop.
func (h *Hub) deliver(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range clients {
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
			atomic.AddInt64(&h.dropped, 1)
		}
	}

	if len(slow) > 0 {
		h.mu.Lock()
		for _, c := range slow {
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		}
		count := len(h.clients)
		h.mu.Unlock()
		h.logger.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("total_clients", count))
	}
}

// Stop shuts down the hub's event loop and closes every client's send
// channel. Run returns shortly after.
func (h *Hub) Stop() {
	close(h.stop)
}

// Broadcast marshals message to JSON and pushes it to every connected
// client. Non-blocking: if the hub's internal broadcast buffer is full,
// the message is dropped and counted rather than stalling the caller
// (the caller is typically the detection/execution hot path).
func (h *Hub) Broadcast(message interface{}) {
	bufPtr := byteSlicePool.Get().(*[]byte)
	buf := (*bufPtr)[:0]

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Warn("broadcast marshal failed", utils.Err(err))
		byteSlicePool.Put(bufPtr)
		return
	}
	buf = append(buf, data...)
	*bufPtr = buf

	msgCopy := make([]byte, len(buf))
	copy(msgCopy, buf)
	byteSlicePool.Put(bufPtr)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw pushes an already-serialized frame, skipping the
// marshal step for callers that pre-encode (e.g. replaying a stored
// notification verbatim).
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// DroppedMessages returns the cumulative count of messages dropped
// because the broadcast buffer or a client's send buffer was full.
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastQuote pushes a quote update.
func (h *Hub) BroadcastQuote(q *QuoteMessage) { h.Broadcast(q) }

// BroadcastSignal pushes a detected signal.
func (h *Hub) BroadcastSignal(s *SignalMessage) { h.Broadcast(s) }

// BroadcastTrade pushes a trade lifecycle update.
func (h *Hub) BroadcastTrade(t *TradeMessage) { h.Broadcast(t) }

// BroadcastNotification pushes a notification event.
func (h *Hub) BroadcastNotification(n *NotificationMessage) { h.Broadcast(n) }

// BroadcastBalance pushes a balance snapshot.
func (h *Hub) BroadcastBalance(b *BalanceMessage) { h.Broadcast(b) }
