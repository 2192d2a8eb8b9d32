package chat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
)

// State is where a connection is in its lifecycle. Rejected is terminal and
// never follows Joined.
type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateJoined
	StateActive
	StateClosing
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Client is one websocket bound to one room and one participant.
type Client struct {
	id   string
	conn *websocket.Conn
	// Buffered channel of outbound messages. Never closed; the write pump
	// stops on ctx.
	send chan []byte
	room Room
	who  Participant
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	// Until the history is out, deliveries wait in backlog.
	mu      sync.Mutex
	live    bool
	backlog []pendingDelivery

	closeOnce   sync.Once
	closeCode   int
	closeReason string
	writerDone  chan struct{}
}

type pendingDelivery struct {
	payload []byte
	hdr     EventHeader
}

func newClient(parent context.Context, conn *websocket.Conn, sendBuffer int, log *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}
	c.log = log.With("conn", c.id)
	return c
}

func (c *Client) SubscriberID() string {
	return c.id
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	c.log.Debug("connection state", "from", prev.String(), "to", s.String())
}

// Deliver is called from the hub's fan-out loop and never blocks.
func (c *Client) Deliver(_ string, payload []byte, hdr EventHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live {
		c.backlog = append(c.backlog, pendingDelivery{payload: payload, hdr: hdr})
		return
	}
	c.enqueueLocked(payload)
}

// goLive queues the history event and then whatever was broadcast while the
// history was being read, minus messages the history already contains.
func (c *Client) goLive(history []byte, seen map[int64]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enqueueLocked(history)
	for _, p := range c.backlog {
		if p.hdr.Type == KindMessage {
			if _, dup := seen[p.hdr.ID]; dup {
				continue
			}
		}
		c.enqueueLocked(p.payload)
	}
	c.backlog = nil
	c.live = true
}

// sendEvent writes to this client only.
func (c *Client) sendEvent(ev ServerEvent) {
	payload, err := EncodeServerEvent(ev)
	if err != nil {
		c.log.Error("encode event", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(payload)
}

func (c *Client) enqueueLocked(payload []byte) {
	if c.ctx.Err() != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		// A client this far behind recovers through history on reconnect.
		c.log.Warn("send buffer full, dropping connection", "room", c.room.Key)
		c.shutdown(websocket.CloseTryAgainLater, "too slow")
	}
}

// shutdown records the close frame to send and stops both pumps. Only the
// first call wins.
func (c *Client) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.cancel()
	})
}

// reject closes a connection that never joined. Nothing but the close frame
// reaches the peer.
func (c *Client) reject(code int, reason string) {
	c.setState(StateRejected)
	c.shutdown(code, reason)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// readPump pumps messages from the websocket connection to onEvent. It
// returns when the peer goes away or the connection is shut down.
func (c *Client) readPump(maxMessageSize int64, onEvent func(data []byte)) {
	c.conn.SetReadLimit(maxMessageSize)

	// Heartbeat logic (Keep-Alive)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Info("connection lost", "error", err)
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		onEvent(message)
	}
}

// writePump pumps messages from the send channel to the websocket connection.
// It is the only writer once the client has joined.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case <-c.ctx.Done():
			// No-op when a close reason was already recorded.
			c.shutdown(websocket.CloseGoingAway, "server shutting down")
			code, reason := c.closeCode, c.closeReason
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Info("write failed", "error", err)
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}
