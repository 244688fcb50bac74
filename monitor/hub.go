package monitor

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sarchlab/parallax/distexec"
	"github.com/sarchlab/parallax/klog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// roundMessage is the JSON frame pushed to every connected client after a
// RoundReport arrives.
type roundMessage struct {
	Type           string `json:"type"`
	RunID          string `json:"run_id,omitempty"`
	Rank           uint32 `json:"rank"`
	TotRx          uint32 `json:"tot_rx"`
	TotTx          uint32 `json:"tot_tx"`
	SmallestTime   int64  `json:"smallest_time"`
	GlobalFinished bool   `json:"global_finished"`
	DurationMS     int64  `json:"duration_ms"`
}

// safeConn wraps a websocket connection with a mutex, since Hub.broadcast
// may write concurrently with any per-connection read loop.
type safeConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (sc *safeConn) writeJSON(v interface{}) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.WriteJSON(v)
}

// Hub is a websocket fan-out server: it implements distexec.RoundObserver,
// and every RoundReport it receives is pushed as JSON to every client
// currently connected at its ServeHTTP endpoint. There is no replay buffer;
// a client connecting mid-run only sees rounds that complete after it
// joins.
type Hub struct {
	mu      sync.Mutex
	clients map[*safeConn]struct{}
}

// NewHub returns an empty Hub ready to register with http.Handle and attach
// to an executor via SetObserver.
func NewHub() *Hub {
	return &Hub{clients: make(map[*safeConn]struct{})}
}

var _ distexec.RoundObserver = (*Hub)(nil)

// ObserveRound implements distexec.RoundObserver by broadcasting r to every
// connected client.
func (h *Hub) ObserveRound(r distexec.RoundReport) {
	msg := roundMessage{
		Type: "round", RunID: r.RunID, Rank: r.Rank, TotRx: r.TotRx, TotTx: r.TotTx,
		SmallestTime: r.SmallestTime, GlobalFinished: r.GlobalFinished,
		DurationMS: r.Duration.Milliseconds(),
	}

	h.mu.Lock()
	targets := make([]*safeConn, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(msg); err != nil {
			klog.TransportError(err, klog.Fields{"stage": "monitor_broadcast"})
			h.remove(c)
		}
	}
}

func (h *Hub) add(c *safeConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *safeConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.Close()
	}
}

// ServeHTTP upgrades r to a websocket connection and registers it to
// receive every subsequent round broadcast until the client disconnects or
// a write fails. Mount it at a path such as "/ws" via http.Handle.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.TransportError(err, klog.Fields{"stage": "monitor_upgrade"})
		return
	}

	sc := &safeConn{Conn: conn}
	h.add(sc)

	// A client that sends nothing meaningful still needs its reads
	// drained so the kernel notices a close frame; discard the payload.
	go func() {
		defer h.remove(sc)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(
					err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				) {
					klog.TransportError(err, klog.Fields{"stage": "monitor_read"})
				}
				return
			}
		}
	}()
}
